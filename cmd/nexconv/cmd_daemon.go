package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/nexconv/internal/daemon"
	"github.com/yairfalse/nexconv/orchestrator"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Converge the manifest continuously",
	Long: `Run nexconv as a daemon that converges the manifest on every
[daemon] interval. The manifest is re-read each cycle, so edits take
effect without a restart.

The daemon serves Prometheus metrics on /metrics and a JSON health
report on /healthz at [daemon] metrics_addr, prunes journal files past
[journal] retention_days, and stops on SIGINT or SIGTERM.`,
	Example: `  nexconv daemon -c /etc/nexconv/nexconv.toml -m /etc/nexconv/manifest.yaml --json-logs`,
	RunE:    runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	orch := a.orchestrator(false)
	cycle := func(ctx context.Context) (*orchestrator.CycleResult, error) {
		manifest, err := a.loadManifest()
		if err != nil {
			return nil, err
		}
		return orch.RunCycle(ctx, manifest)
	}

	d, err := daemon.NewDaemon(daemon.Config{
		Interval:      a.cfg.Daemon.Interval,
		MetricsAddr:   a.cfg.Daemon.MetricsAddr,
		JournalDir:    a.cfg.Journal.Dir,
		RetentionDays: a.cfg.Journal.RetentionDays,
	}, cycle, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	a.logger.Info().
		Dur("interval", a.cfg.Daemon.Interval).
		Str("metrics_addr", a.cfg.Daemon.MetricsAddr).
		Strs("servers", a.cfg.ServerNames()).
		Str("manifest", manifestPath).
		Msg("nexconv daemon starting")

	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}
	a.logger.Info().Int64("cycles", d.CycleCount()).Msg("nexconv daemon stopped")
	return nil
}
