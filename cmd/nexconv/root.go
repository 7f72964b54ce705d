package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	configPath   string
	manifestPath string
	logLevel     string
	jsonLogs     bool
	debug        bool

	rootCmd = &cobra.Command{
		Use:   "nexconv",
		Short: "Converge repository manager configuration",
		Long: `nexconv - repository manager convergence

nexconv keeps hosted repositories and scheduled tasks on one or more
repository managers in the state a manifest declares. Every change is
made by a small versioned script the tool installs on the server
before running it; scripts already installed are never overwritten.`,
		Version:      version,
		SilenceUsage: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`nexconv {{.Version}}
`)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "nexconv.toml", "Tool configuration file (TOML)")
	flags.StringVarP(&manifestPath, "manifest", "m", "nexconv.yaml", "Manifest of desired objects (YAML or JSON)")
	flags.StringVar(&logLevel, "log-level", "", "Log level; overrides [log] level from the config")
	flags.BoolVar(&jsonLogs, "json-logs", false, "Write logs as JSON lines instead of console text")
	flags.BoolVar(&debug, "debug", false, "Shorthand for --log-level debug")
}
