package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/icysupport/bridgewatch/internal/ui"
	"github.com/icysupport/bridgewatch/internal/watch"
)

var watchFlags struct {
	interval     time.Duration
	pollInterval time.Duration
	stopOnError  bool
	analysis     analysisFlags
	poll         pollFlags
	export       exportFlags
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run the fleet health scan on an interval until interrupted",
	Long: `Runs the same scan as "all" every watch.interval, and the "pollall"
ranking every watch.poll_interval when that is set. Every run is recorded in
the scan journal and published to NATS when nats.url is configured.
Stop with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wc := cfg.Watch
		if cmd.Flags().Changed("interval") {
			wc.Interval = watchFlags.interval
		}
		if cmd.Flags().Changed("poll-interval") {
			wc.PollInterval = watchFlags.pollInterval
		}
		if cmd.Flags().Changed("stop-on-error") {
			wc.StopOnError = watchFlags.stopOnError
		}
		if err := wc.Validate(); err != nil {
			return argErr(err)
		}

		an, err := watchFlags.analysis.resolve(cmd, cfg.Analysis)
		if err != nil {
			return err
		}
		p, err := watchFlags.poll.resolve(cmd, cfg.Poll)
		if err != nil {
			return err
		}
		formats, err := watchFlags.export.resolve(cmd, cfg.Export)
		if err != nil {
			return err
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		return runWatch(cmd.Context(), newApp(cmd), wc,
			healthOptions{action: "all", analysis: an, prefix: watchFlags.export.prefix, formats: formats},
			pollOptions{action: "pollall", poll: p},
			sigChan)
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchFlags.interval, "interval", 0, "time between health scans, e.g. 15m (config watch.interval)")
	watchCmd.Flags().DurationVar(&watchFlags.pollInterval, "poll-interval", 0, "time between poll failure scans, 0 disables (config watch.poll_interval)")
	watchCmd.Flags().BoolVar(&watchFlags.stopOnError, "stop-on-error", false, "stop at the first failed scan")
	watchFlags.analysis.register(watchCmd)
	watchFlags.poll.register(watchCmd, true)
	watchFlags.export.register(watchCmd, "bridge_health_report")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(ctx context.Context, a *app, wc watch.Config, health healthOptions, poll pollOptions, signals <-chan os.Signal) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// fail fast on connection settings before the first tick
	if _, err := a.connector(); err != nil {
		return err
	}

	mgr := watch.NewManager(wc.StopOnError, a.log).
		Add(watch.Job{Name: health.action, Interval: wc.Interval, Run: func(ctx context.Context) error {
			return runHealth(ctx, a, health)
		}}).
		OnError(func(job string, err error) {
			ui.Notice(a.out, "%s run failed: %v", job, err)
		})
	if wc.PollInterval > 0 {
		mgr.Add(watch.Job{Name: poll.action, Interval: wc.PollInterval, Run: func(ctx context.Context) error {
			return runPoll(ctx, a, poll)
		}})
	}

	ui.Info(a.out, "watching every %s. Press Ctrl+C to stop.", wc.Interval)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- mgr.Wait() }()

	select {
	case sig := <-signals:
		ui.Info(a.out, "received %s, shutting down", sig)
	case <-ctx.Done():
	case err := <-done:
		return err
	}

	mgr.Stop()
	return <-done
}
