package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/icysupport/bridgewatch/internal/export"
	"github.com/icysupport/bridgewatch/internal/journal"
	"github.com/icysupport/bridgewatch/internal/storage"
	"github.com/icysupport/bridgewatch/internal/ui"
)

var historyFlags struct {
	limit  int
	action string
	trace  string
}

var pruneFlags struct {
	keep int
	days int
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent scan runs from the local journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyFlags.limit < 0 {
			return argErr(errors.New("--limit must be >= 0"))
		}
		return runHistory(cmd.Context(), newApp(cmd), historyFlags.action, historyFlags.trace, historyFlags.limit)
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old scan runs from the local journal",
	Long: `Deletes scan runs beyond the newest --keep runs and runs older than
--days days. Without flags the retention section of the config applies.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc := cfg.Retention
		if cmd.Flags().Changed("keep") || cmd.Flags().Changed("days") {
			rc.KeepRuns = pruneFlags.keep
			rc.KeepDays = pruneFlags.days
		}
		if rc.KeepRuns < 0 || rc.KeepDays < 0 {
			return argErr(errors.New("--keep and --days must be >= 0"))
		}
		if rc.KeepRuns == 0 && rc.KeepDays == 0 {
			return argErr(errors.New("must specify either --keep or --days"))
		}
		return runPrune(cmd.Context(), newApp(cmd), rc)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyFlags.limit, "limit", 20, "runs to show")
	historyCmd.Flags().StringVar(&historyFlags.action, "action", "", "only runs of this command, e.g. all or pollall")
	historyCmd.Flags().StringVar(&historyFlags.trace, "trace", "", "show the per-schema outcomes of one run")

	historyPruneCmd.Flags().IntVar(&pruneFlags.keep, "keep", 0, "keep the newest N runs")
	historyPruneCmd.Flags().IntVar(&pruneFlags.days, "days", 0, "keep runs of the last N days")

	historyCmd.AddCommand(historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}

func (a *app) openStore(ctx context.Context) (*storage.Storage, error) {
	if a.cfg.Storage.Path == "" {
		return nil, argErr(errors.New("storage.path is not set; the scan journal is disabled"))
	}
	return storage.Open(ctx, a.cfg.Storage)
}

func runHistory(ctx context.Context, a *app, action, trace string, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.QueryScanRuns(ctx, storage.RunQuery{Action: action, TraceID: trace, Limit: limit, Desc: true})
	if err != nil {
		return err
	}
	ui.PrintTable(a.out, "Scan runs", runTable(runs))

	if trace == "" {
		return nil
	}
	if len(runs) == 0 {
		return argErr(fmt.Errorf("no run with trace id %s", trace))
	}
	outcomes, err := store.QuerySourceOutcomes(ctx, runs[0].ID)
	if err != nil {
		return err
	}
	ui.PrintTable(a.out, "Schemas", outcomeTable(outcomes))
	return nil
}

func runPrune(ctx context.Context, a *app, rc journal.RetentionConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := journal.NewRetention(rc, store)
	if err != nil {
		return err
	}
	n, err := r.RunOnce(ctx, a.now().UTC())
	if err != nil {
		return err
	}
	ui.Info(a.out, "Prune completed. Deleted %d runs.", n)
	return nil
}

func runTable(runs []storage.ScanRun) export.Table {
	t := export.Table{
		Name:    "runs",
		Columns: []string{"trace_id", "action", "status", "sources", "scanned", "skipped", "failed", "flagged", "started_at", "finished_at", "error"},
		Rows:    make([][]any, 0, len(runs)),
	}
	for _, r := range runs {
		t.Rows = append(t.Rows, []any{
			r.TraceID, r.Action, r.Status, r.Sources, r.Scanned, r.Skipped, r.Failed, r.Flagged,
			r.StartedAt, r.FinishedAt, r.ErrorMessage,
		})
	}
	return t
}

func outcomeTable(outcomes []storage.SourceOutcome) export.Table {
	t := export.Table{
		Name:    "outcomes",
		Columns: []string{"host", "schema", "status", "rows", "elapsed_ms", "error"},
		Rows:    make([][]any, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		t.Rows = append(t.Rows, []any{o.Host, o.Schema, o.Status, o.Rows, o.ElapsedMS, o.ErrorMessage})
	}
	return t
}
