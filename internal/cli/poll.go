package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/icysupport/bridgewatch/internal/config"
	"github.com/icysupport/bridgewatch/internal/export"
	"github.com/icysupport/bridgewatch/internal/fleet"
	"github.com/icysupport/bridgewatch/internal/pollfail"
	"github.com/icysupport/bridgewatch/internal/ui"
)

type pollMode int

const (
	modePollFailure pollMode = iota
	modeOpenRecent
)

type pollOptions struct {
	action  string
	mode    pollMode
	db      string
	poll    config.PollConfig
	prefix  string
	formats []export.Format
}

var (
	pollCmdFlags struct {
		db     string
		poll   pollFlags
		export exportFlags
	}
	pollAllFlags struct {
		poll   pollFlags
		export exportFlags
	}
	openRecentFlags struct {
		poll   pollFlags
		export exportFlags
	}
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Rank poll failures of one schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pollCmdFlags.db == "" {
			return argErr(errors.New("--db is required"))
		}
		p, err := pollCmdFlags.poll.resolve(cmd, cfg.Poll)
		if err != nil {
			return err
		}
		formats, err := pollCmdFlags.export.resolve(cmd, cfg.Export)
		if err != nil {
			return err
		}
		return runPoll(cmd.Context(), newApp(cmd), pollOptions{
			action:  "poll",
			db:      pollCmdFlags.db,
			poll:    p,
			prefix:  pollCmdFlags.export.prefix,
			formats: formats,
		})
	},
}

var pollAllCmd = &cobra.Command{
	Use:   "pollall",
	Short: "Rank poll failures across all schemas",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pollAllFlags.poll.resolve(cmd, cfg.Poll)
		if err != nil {
			return err
		}
		formats, err := pollAllFlags.export.resolve(cmd, cfg.Export)
		if err != nil {
			return err
		}
		return runPoll(cmd.Context(), newApp(cmd), pollOptions{
			action:  "pollall",
			poll:    p,
			prefix:  pollAllFlags.export.prefix,
			formats: formats,
		})
	},
}

var openRecentCmd = &cobra.Command{
	Use:   "openrecent",
	Short: "List bridges that are OPEN or changed recently, across all schemas",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openRecentFlags.poll.resolve(cmd, cfg.Poll)
		if err != nil {
			return err
		}
		formats, err := openRecentFlags.export.resolve(cmd, cfg.Export)
		if err != nil {
			return err
		}
		return runPoll(cmd.Context(), newApp(cmd), pollOptions{
			action:  "openrecent",
			mode:    modeOpenRecent,
			poll:    p,
			prefix:  openRecentFlags.export.prefix,
			formats: formats,
		})
	},
}

func init() {
	pollCmd.Flags().StringVar(&pollCmdFlags.db, "db", "", "schema to check")
	pollCmdFlags.poll.register(pollCmd, true)
	pollCmdFlags.export.register(pollCmd, "pollfail")

	pollAllFlags.poll.register(pollAllCmd, true)
	pollAllFlags.export.register(pollAllCmd, "pollfail")

	openRecentFlags.poll.register(openRecentCmd, false)
	openRecentFlags.export.register(openRecentCmd, "openrecent")

	rootCmd.AddCommand(pollCmd, pollAllCmd, openRecentCmd)
}

func runPoll(ctx context.Context, a *app, opts pollOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, m, err := a.scanner(a.cfg.Analysis)
	if err != nil {
		return err
	}

	rec, closeJournal := a.openJournal(ctx)
	defer closeJournal()
	run := rec.Begin(ctx, opts.action, map[string]any{
		"db":          opts.db,
		"threshold":   opts.poll.Threshold,
		"recent_days": opts.poll.RecentDays,
		"export":      opts.prefix,
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

	var rep fleet.PollReport
	title := "Poll failures"
	switch opts.mode {
	case modeOpenRecent:
		rep = s.OpenRecentScan(ctx, sources, opts.poll.RecentDays)
		title = fmt.Sprintf("Bridges %s or changed within %d days", pollfail.StateOpen, opts.poll.RecentDays)
	default:
		rep = s.PollScan(ctx, sources, opts.poll.Criteria())
	}
	ui.PrintTable(a.out, title, fleet.PollTable(opts.action, rep.Rows))
	a.printOutcomes(rep.Outcomes)

	var runErr error
	if opts.db != "" && len(rep.Outcomes) == 1 {
		if o := rep.Outcomes[0]; o.Status == fleet.StatusUnreachable || o.Status == fleet.StatusFailed {
			runErr = o.Err
		}
	}

	if runErr == nil && opts.formats != nil {
		if len(rep.Rows) == 0 {
			ui.Info(a.out, "nothing to export")
		} else {
			paths, err := a.exporter().Export(opts.prefix, opts.formats, fleet.PollTablesBySource(rep.Rows)...)
			a.printWritten(paths)
			runErr = err
		}
	}

	run.Finish(ctx, fleetOutcomes(rep.Outcomes), len(rep.Rows), runErr)
	if opts.db == "" {
		a.publish(a.summary(run, rep.Outcomes, len(rep.Rows), rep.Rows))
	}
	return runErr
}
