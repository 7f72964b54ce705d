package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/nexconv/internal/filter"
	"github.com/yairfalse/nexconv/orchestrator"
	"github.com/yairfalse/nexconv/reconciler"
	"github.com/yairfalse/nexconv/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Converge every object in the manifest once",
	Long: `Converge every object in the manifest once.

Objects are processed in manifest order, repositories first, and can
be narrowed with --kind, --server and --name. A failure
on one object is reported and the rest are still converged; the command
exits non-zero if any object failed.`,
	Example: `  nexconv apply
  nexconv apply -c prod.toml -m repos.yaml
  nexconv apply --kind repository --name 'maven-*'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCycle(cmd, false)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what apply would change without changing anything",
	Long: `Read every object in the manifest and report the action apply would
take. Scripts are still installed when missing, but no object is
created, updated or deleted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCycle(cmd, true)
	},
}

var (
	onlyKinds   []string
	onlyServers []string
	onlyNames   []string
)

func init() {
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(planCmd)

	for _, c := range []*cobra.Command{applyCmd, planCmd} {
		c.Flags().StringSliceVar(&onlyKinds, "kind", nil, "Only converge objects of these kinds (repository, task)")
		c.Flags().StringSliceVar(&onlyServers, "server", nil, "Only converge objects on these servers")
		c.Flags().StringSliceVar(&onlyNames, "name", nil, "Only converge objects whose name matches these globs")
	}
}

func runCycle(cmd *cobra.Command, dryRun bool) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close(ctx)

	manifest, err := a.loadManifest()
	if err != nil {
		return err
	}

	f, err := filter.New(onlyKinds, onlyServers, onlyNames)
	if err != nil {
		return err
	}

	result, err := a.orchestrator(dryRun).RunEntries(ctx, f.Entries(manifest.Entries()))
	if result != nil {
		printCycle(cmd.OutOrStdout(), result, dryRun)
	}
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%d of %d objects failed", result.Failed, result.Entries)
	}
	return nil
}

func printCycle(w io.Writer, result *orchestrator.CycleResult, dryRun bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KIND\tOBJECT\tACTION\tOUTCOME\tDETAIL")
	for _, res := range result.Results {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			res.Kind, res.Resource, res.Action, res.Outcome, detail(res))
	}
	_ = tw.Flush()

	changed, unchanged := result.Changed, result.Unchanged
	verb := "changed"
	if dryRun {
		changed = pending(result)
		unchanged -= changed
		verb = "to change"
	}
	_, _ = fmt.Fprintf(w, "\n%d objects: %d %s, %d unchanged, %d failed (%s)\n",
		result.Entries, changed, verb, unchanged, result.Failed, result.Duration.Round(time.Millisecond))
}

// detail is the error for failed objects, otherwise the changed fields.
func detail(res reconciler.Result) string {
	if res.Error != "" {
		return res.Error
	}
	if len(res.Changes) == 0 {
		return "-"
	}
	fields := make([]string, 0, len(res.Changes))
	for _, c := range res.Changes {
		fields = append(fields, c.Field)
	}
	sort.Strings(fields)
	return strings.Join(fields, ",")
}

// pending counts dry-run results whose action would mutate the server.
// A dry run reports them as unchanged.
func pending(result *orchestrator.CycleResult) int {
	n := 0
	for _, res := range result.Results {
		if res.Outcome != types.OutcomeError && res.Action != types.ActionNoop {
			n++
		}
	}
	return n
}
