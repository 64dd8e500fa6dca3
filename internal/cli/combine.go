package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/icysupport/bridgewatch/internal/export"
	"github.com/icysupport/bridgewatch/internal/ui"
)

var combineFlags struct {
	dir         string
	pattern     string
	out         string
	keepSources bool
}

var combineCmd = &cobra.Command{
	Use:   "combine",
	Short: "Merge per-schema health CSVs into one CSV and one workbook",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := export.DefaultCombineOptions()
		if combineFlags.dir != "" {
			opts.Dir = combineFlags.dir
		}
		if combineFlags.pattern != "" {
			opts.Pattern = combineFlags.pattern
		}
		if combineFlags.out != "" {
			opts.OutPrefix = combineFlags.out
		}
		opts.KeepSources = combineFlags.keepSources
		return runCombine(newApp(cmd), opts)
	},
}

func init() {
	combineCmd.Flags().StringVar(&combineFlags.dir, "dir", "", "directory holding the reports (default .)")
	combineCmd.Flags().StringVar(&combineFlags.pattern, "pattern", "", "glob of the input reports (default "+SplitReportPrefix+"*.csv)")
	combineCmd.Flags().StringVar(&combineFlags.out, "out", "", "output name without extension (default bridge_health_report_combined)")
	combineCmd.Flags().BoolVar(&combineFlags.keepSources, "keep-sources", false, "keep the input CSVs after combining")
	rootCmd.AddCommand(combineCmd)
}

func runCombine(a *app, opts export.CombineOptions) error {
	res, err := a.exporter().Combine(opts)
	if errors.Is(err, export.ErrNoReports) {
		ui.Info(a.out, "no reports matching %s in %s", opts.Pattern, opts.Dir)
		return nil
	}
	for _, s := range res.Skipped {
		ui.Notice(a.out, "skipped unreadable report %s", s)
	}
	a.printWritten(res.Written)
	if len(res.Removed) > 0 {
		ui.Info(a.out, "removed %d source reports", len(res.Removed))
	}
	return err
}
