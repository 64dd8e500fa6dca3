package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/icysupport/bridgewatch/internal/config"
	"github.com/icysupport/bridgewatch/internal/export"
	"github.com/icysupport/bridgewatch/internal/fleet"
	"github.com/icysupport/bridgewatch/internal/ui"
)

// SplitReportPrefix names the per-source CSVs written by --split; combine
// picks them up again.
const SplitReportPrefix = "bridge_health_report_"

type healthOptions struct {
	action   string
	db       string
	analysis config.AnalysisConfig
	prefix   string
	formats  []export.Format
	split    bool
}

var (
	analyzeFlags struct {
		db       string
		split    bool
		analysis analysisFlags
		export   exportFlags
	}
	allFlags struct {
		split    bool
		analysis analysisFlags
		export   exportFlags
	}
	listFlags struct {
		db     string
		export exportFlags
	}
	restartFlags struct {
		db     string
		bridge int64
		limit  int
		export exportFlags
	}
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Flag bridges with too many restarts or long gaps in one schema, or in all of them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		an, err := analyzeFlags.analysis.resolve(cmd, cfg.Analysis)
		if err != nil {
			return err
		}
		formats, err := analyzeFlags.export.resolve(cmd, cfg.Export)
		if err != nil {
			return err
		}
		action := "analyze"
		if analyzeFlags.db == "" {
			action = "all"
		}
		return runHealth(cmd.Context(), newApp(cmd), healthOptions{
			action:   action,
			db:       analyzeFlags.db,
			analysis: an,
			prefix:   analyzeFlags.export.prefix,
			formats:  formats,
			split:    analyzeFlags.split,
		})
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Analyze every eligible schema and print the combined flagged table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		an, err := allFlags.analysis.resolve(cmd, cfg.Analysis)
		if err != nil {
			return err
		}
		formats, err := allFlags.export.resolve(cmd, cfg.Export)
		if err != nil {
			return err
		}
		return runHealth(cmd.Context(), newApp(cmd), healthOptions{
			action:   "all",
			analysis: an,
			prefix:   allFlags.export.prefix,
			formats:  formats,
			split:    allFlags.split,
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the bridges of one schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listFlags.db == "" {
			return argErr(errors.New("--db is required"))
		}
		formats, err := listFlags.export.resolve(cmd, cfg.Export)
		if err != nil {
			return err
		}
		return runList(cmd.Context(), newApp(cmd), listFlags.db, listFlags.export.prefix, formats)
	},
}

var restartsCmd = &cobra.Command{
	Use:   "restarts",
	Short: "Decode the latest reconnect frames of one bridge",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if restartFlags.db == "" {
			return argErr(errors.New("--db is required"))
		}
		if restartFlags.bridge <= 0 {
			return argErr(errors.New("--bridge must be a positive inbridgeid"))
		}
		if restartFlags.limit < 0 {
			return argErr(errors.New("--limit must be >= 0"))
		}
		formats, err := restartFlags.export.resolve(cmd, cfg.Export)
		if err != nil {
			return err
		}
		return runRestarts(cmd.Context(), newApp(cmd), restartFlags.db, restartFlags.bridge, restartFlags.limit, restartFlags.export.prefix, formats)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeFlags.db, "db", "", "schema to analyze; all schemas when empty")
	analyzeCmd.Flags().BoolVar(&analyzeFlags.split, "split", false, "also write one "+SplitReportPrefix+"<db>.csv per schema next to the export")
	analyzeFlags.analysis.register(analyzeCmd)
	analyzeFlags.export.register(analyzeCmd, "bridge_health_report")

	allCmd.Flags().BoolVar(&allFlags.split, "split", false, "also write one "+SplitReportPrefix+"<db>.csv per schema next to the export")
	allFlags.analysis.register(allCmd)
	allFlags.export.register(allCmd, "bridge_health_report")

	listCmd.Flags().StringVar(&listFlags.db, "db", "", "schema to list")
	listFlags.export.register(listCmd, "bridges")

	restartsCmd.Flags().StringVar(&restartFlags.db, "db", "", "schema holding the bridge")
	restartsCmd.Flags().Int64Var(&restartFlags.bridge, "bridge", 0, "inbridgeid to inspect")
	restartsCmd.Flags().IntVar(&restartFlags.limit, "limit", 100, "most recent frames to decode")
	restartFlags.export.register(restartsCmd, "restarts")

	rootCmd.AddCommand(analyzeCmd, allCmd, listCmd, restartsCmd)
}

func runHealth(ctx context.Context, a *app, opts healthOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, m, err := a.scanner(opts.analysis)
	if err != nil {
		return err
	}

	rec, closeJournal := a.openJournal(ctx)
	defer closeJournal()
	run := rec.Begin(ctx, opts.action, map[string]any{
		"db":       opts.db,
		"analysis": opts.analysis.Thresholds(),
		"limit":    opts.analysis.Limit,
		"order":    opts.analysis.FetchOrder,
		"export":   opts.prefix,
	})

	var sources []fleet.Source
	if opts.db != "" {
		sources = []fleet.Source{{Schema: opts.db}}
	} else {
		sources, err = fleet.ListSources(ctx, m)
		if err != nil {
			run.Finish(ctx, nil, 0, err)
			return fmt.Errorf("enumerate schemas: %w", err)
		}
	}

	rep := s.Scan(ctx, sources)
	ui.PrintTable(a.out, "Flagged bridges", fleet.HealthTable("FlaggedBridges", rep.Rows))
	a.printOutcomes(rep.Outcomes)

	if high := fleet.HighPollFailure(rep.Rows, a.cfg.Poll.ReportPercent); len(high) > 0 {
		title := fmt.Sprintf("Flagged bridges above %.0f%% poll failure", a.cfg.Poll.ReportPercent)
		ui.PrintTable(a.out, title, fleet.HealthTable("HighPollFailure", high))
	}

	var runErr error
	if opts.db != "" && len(rep.Outcomes) == 1 {
		if o := rep.Outcomes[0]; o.Status == fleet.StatusUnreachable || o.Status == fleet.StatusFailed {
			runErr = o.Err
		}
	}

	if runErr == nil && opts.formats != nil {
		runErr = a.exportHealth(rep.Rows, opts)
	}

	run.Finish(ctx, fleetOutcomes(rep.Outcomes), len(rep.Rows), runErr)
	if opts.db == "" {
		a.publish(a.summary(run, rep.Outcomes, len(rep.Rows), rep.Rows))
	}
	return runErr
}

func (a *app) exportHealth(rows []fleet.Row, opts healthOptions) error {
	exp := a.exporter()
	paths, err := exp.Export(opts.prefix, opts.formats, fleet.HealthTable("FlaggedBridges", rows))
	a.printWritten(paths)
	if err != nil || !opts.split {
		return err
	}

	dir, _, err := export.PreparePrefix(opts.prefix)
	if err != nil {
		return err
	}
	order, groups := fleet.RowsBySource(rows)
	var errs []error
	for _, db := range order {
		path := filepath.Join(dir, SplitReportPrefix+export.FileSafe(db)+".csv")
		p, err := exp.WriteCSV(path, fleet.HealthTable(db, groups[db]))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		a.printWritten([]string{p})
	}
	return errors.Join(errs...)
}

func runList(ctx context.Context, a *app, db, prefix string, formats []export.Format) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, _, err := a.scanner(a.cfg.Analysis)
	if err != nil {
		return err
	}
	bridges, err := s.Bridges(ctx, fleet.Source{Schema: db})
	if err != nil {
		return err
	}
	t := fleet.BridgeTable(db, bridges)
	ui.PrintTable(a.out, fmt.Sprintf("Bridges in %s", db), t)
	if formats == nil {
		return nil
	}
	paths, err := a.exporter().Export(prefix, formats, t)
	a.printWritten(paths)
	return err
}

func runRestarts(ctx context.Context, a *app, db string, bridgeID int64, limit int, prefix string, formats []export.Format) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, _, err := a.scanner(a.cfg.Analysis)
	if err != nil {
		return err
	}
	details, err := s.Restarts(ctx, fleet.Source{Schema: db}, bridgeID, limit)
	if err != nil {
		return err
	}
	t := fleet.RestartTable(fmt.Sprintf("%s bridge %d", db, bridgeID), details)
	ui.PrintTable(a.out, fmt.Sprintf("Reconnects of bridge %d in %s", bridgeID, db), t)
	if formats == nil {
		return nil
	}
	paths, err := a.exporter().Export(prefix, formats, t)
	a.printWritten(paths)
	return err
}
