package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/icysupport/bridgewatch/internal/config"
	"github.com/icysupport/bridgewatch/internal/export"
)

// analysisFlags override the analysis section of the config for one run.
type analysisFlags struct {
	gapMinutes             float64
	restartThreshold       int
	limit                  int
	minRestartDays         int
	windowDays             int
	restartWindowThreshold int
	fetchOrder             string
}

func (f *analysisFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.Float64Var(&f.gapMinutes, "gap-minutes", 0, "gap length in minutes that counts and flags (config default 15)")
	fs.IntVar(&f.restartThreshold, "restart-threshold", 0, "restarts per day at which a day counts as over (config default 3)")
	fs.IntVar(&f.limit, "limit", 0, "maximum communicationlog rows read per schema (config default 100000)")
	fs.IntVar(&f.minRestartDays, "min-restart-days", 0, "days over the restart threshold that mark a bridge recurring, 0 disables (config default 2)")
	fs.IntVar(&f.windowDays, "window-days", 0, "trailing window in days for recent restarts (config default 4)")
	fs.IntVar(&f.restartWindowThreshold, "restart-window-threshold", 0, "restarts in the window above which a bridge is flagged (config default 20)")
	fs.StringVar(&f.fetchOrder, "fetch-order", "", "ascending (oldest rows first) or recent (newest rows under the limit)")
}

// resolve applies the flags that were set on top of base and validates the
// result.
func (f *analysisFlags) resolve(cmd *cobra.Command, base config.AnalysisConfig) (config.AnalysisConfig, error) {
	fs := cmd.Flags()
	an := base
	if fs.Changed("gap-minutes") {
		an.GapMinutes = f.gapMinutes
	}
	if fs.Changed("restart-threshold") {
		an.RestartThreshold = f.restartThreshold
	}
	if fs.Changed("limit") {
		an.Limit = f.limit
	}
	if fs.Changed("min-restart-days") {
		an.MinRestartDays = f.minRestartDays
	}
	if fs.Changed("window-days") {
		an.WindowDays = f.windowDays
	}
	if fs.Changed("restart-window-threshold") {
		an.RestartWindowThreshold = f.restartWindowThreshold
	}
	if fs.Changed("fetch-order") {
		an.FetchOrder = f.fetchOrder
	}
	if err := an.Validate(); err != nil {
		return an, argErr(err)
	}
	return an, nil
}

type pollFlags struct {
	threshold  int64
	recentDays int
}

func (f *pollFlags) register(cmd *cobra.Command, withThreshold bool) {
	if withThreshold {
		cmd.Flags().Int64Var(&f.threshold, "threshold", 0, "poll failures a bridge has to exceed (config default 10)")
	}
	cmd.Flags().IntVar(&f.recentDays, "recent-days", 0, "admit non-OPEN bridges changed within this many days (config default 1)")
}

func (f *pollFlags) resolve(cmd *cobra.Command, base config.PollConfig) (config.PollConfig, error) {
	fs := cmd.Flags()
	p := base
	if fs.Lookup("threshold") != nil && fs.Changed("threshold") {
		p.Threshold = f.threshold
	}
	if fs.Changed("recent-days") {
		p.RecentDays = f.recentDays
	}
	if p.Threshold < 0 {
		return p, argErr(errors.New("--threshold must be >= 0"))
	}
	if p.RecentDays < 0 {
		return p, argErr(errors.New("--recent-days must be >= 0"))
	}
	return p, nil
}

type exportFlags struct {
	prefix  string
	formats string
}

func (f *exportFlags) register(cmd *cobra.Command, what string) {
	cmd.Flags().StringVar(&f.prefix, "export", "", "export path prefix for "+what+", e.g. ./reports/"+what)
	cmd.Flags().StringVar(&f.formats, "format", "", "comma separated export formats: xlsx, csv, json (config default xlsx,csv)")
}

// resolve returns the formats to write, or nil when no export was asked for.
func (f *exportFlags) resolve(cmd *cobra.Command, base config.ExportConfig) ([]export.Format, error) {
	spec := base.Formats
	if cmd.Flags().Changed("format") {
		spec = f.formats
	}
	formats, err := export.ParseFormats(spec)
	if err != nil {
		return nil, argErr(err)
	}
	if f.prefix == "" {
		return nil, nil
	}
	return formats, nil
}
