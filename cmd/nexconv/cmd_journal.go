package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	appconfig "github.com/yairfalse/nexconv/internal/config"
	"github.com/yairfalse/nexconv/wal"
)

var (
	journalSince    time.Duration
	journalResource string
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recorded convergence steps",
	Long: `Print entries from the journal directory configured under [journal],
oldest first. Each convergence run records what it observed, what it
decided and whether the change was executed, skipped or failed.`,
	Example: `  nexconv journal --since 24h
  nexconv journal --resource releases@https://nexus.example.com/service/rest`,
	RunE: runJournal,
}

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.Flags().DurationVar(&journalSince, "since", 24*time.Hour, "Only show entries newer than this")
	journalCmd.Flags().StringVar(&journalResource, "resource", "", "Only show entries for this object")
}

func runJournal(cmd *cobra.Command, args []string) error {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Journal.Dir == "" {
		return fmt.Errorf("no journal configured: set [journal] dir in %s", configPath)
	}
	return printJournal(cmd.OutOrStdout(), cfg.Journal.Dir, time.Now().Add(-journalSince), journalResource)
}

func printJournal(w io.Writer, dir string, since time.Time, resource string) error {
	return wal.Replay(dir, since, func(e *wal.Entry) error {
		if resource != "" && e.ResourceID != resource {
			return nil
		}
		line := fmt.Sprintf("%s %6d %-9s %s", e.Timestamp.Format(time.RFC3339), e.Sequence, e.Type, e.ResourceID)
		if e.Error != "" {
			line += " error=" + e.Error
		}
		_, err := fmt.Fprintln(w, line)
		return err
	})
}
