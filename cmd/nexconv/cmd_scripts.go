package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/nexconv/client"
	"github.com/yairfalse/nexconv/scripts"
)

var scriptServers []string

var scriptsCmd = &cobra.Command{
	Use:   "scripts",
	Short: "List the scripts nexconv installs on servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		printScripts(cmd.OutOrStdout(), scripts.All())
		return nil
	},
}

var scriptsInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install every script on the configured servers",
	Long: `Install every script on the configured servers ahead of the first
apply. Scripts already present with the same body are left alone; a
script present with a different body is reported as a conflict and
never overwritten.`,
	Example: `  nexconv scripts install
  nexconv scripts install --server prod`,
	RunE: runScriptsInstall,
}

func init() {
	rootCmd.AddCommand(scriptsCmd)
	scriptsCmd.AddCommand(scriptsInstallCmd)

	scriptsInstallCmd.Flags().StringSliceVar(&scriptServers, "server", nil, "Server names to install on (default: all)")
}

func printScripts(w io.Writer, defs []scripts.Definition) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tLANGUAGE\tSHA256")
	for _, def := range defs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", def.Name(), def.Language, def.Hash()[:12])
	}
	_ = tw.Flush()
}

func runScriptsInstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close(ctx)

	names := scriptServers
	if len(names) == 0 {
		names = a.cfg.ServerNames()
	}

	out := cmd.OutOrStdout()
	var failed int
	for _, name := range names {
		server, ok := a.servers[name]
		if !ok {
			return fmt.Errorf("unknown server %q", name)
		}
		runner, err := a.connector.Runner(server)
		if err != nil {
			return err
		}

		statuses, err := runner.EnsureAll(ctx)
		printInstall(out, name, statuses)
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(out, "%s: %v\n", name, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("script install failed on %d of %d servers", failed, len(names))
	}
	return nil
}

func printInstall(w io.Writer, server string, statuses map[string]client.RegisterStatus) {
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "%s: %s %s\n", server, name, statuses[name])
	}
}
