package cli

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/icysupport/bridgewatch/internal/bridgedb"
	"github.com/icysupport/bridgewatch/internal/bridgelog"
	"github.com/icysupport/bridgewatch/internal/bulk"
	"github.com/icysupport/bridgewatch/internal/config"
	"github.com/icysupport/bridgewatch/internal/dbconn"
	"github.com/icysupport/bridgewatch/internal/eventbus"
	"github.com/icysupport/bridgewatch/internal/export"
	"github.com/icysupport/bridgewatch/internal/fleet"
	"github.com/icysupport/bridgewatch/internal/journal"
	"github.com/icysupport/bridgewatch/internal/storage"
	"github.com/icysupport/bridgewatch/internal/ui"
)

// app carries what every command needs. Commands build it from the loaded
// config; tests build it directly.
type app struct {
	cfg *config.Config
	log *slog.Logger
	out io.Writer
	in  io.Reader
	now func() time.Time
}

func newApp(cmd *cobra.Command) *app {
	l := logger
	if l == nil {
		l = slog.Default()
	}
	return &app{
		cfg: cfg,
		log: l,
		out: cmd.OutOrStdout(),
		in:  cmd.InOrStdin(),
		now: time.Now,
	}
}

func (a *app) connector() (*dbconn.Manager, error) {
	if err := a.cfg.RequireDatabase(); err != nil {
		return nil, argErr(err)
	}
	return dbconn.NewManagerFromConfig(a.cfg.DB, a.log)
}

// scanner builds a fleet scanner for an already validated analysis config.
func (a *app) scanner(an config.AnalysisConfig) (*fleet.Scanner, *dbconn.Manager, error) {
	m, err := a.connector()
	if err != nil {
		return nil, nil, err
	}
	classifier, err := bridgelog.NewClassifier(an.RestartPattern, an.ActivityPattern)
	if err != nil {
		return nil, nil, argErr(err)
	}
	loc, err := an.Location()
	if err != nil {
		return nil, nil, argErr(err)
	}
	order, err := bridgedb.ParseFetchOrder(an.FetchOrder)
	if err != nil {
		return nil, nil, argErr(err)
	}
	analyzer := bridgelog.NewAnalyzer(classifier, an.Thresholds()).
		WithClock(a.now).
		WithLocation(loc)
	s := fleet.NewScanner(m, analyzer, a.log).
		WithQuery(bridgedb.EventQuery{Limit: an.Limit, Order: order}).
		WithClock(a.now)
	return s, m, nil
}

func (a *app) exporter() *export.Exporter {
	p := export.DefaultPolicy()
	p.MaxRetries = a.cfg.Export.MaxRetries
	if a.cfg.Export.Interactive {
		prompt := &ui.LockPrompt{In: a.in, Out: a.out}
		p.BeforeRetry = prompt.ConfirmRetry
	}
	return export.New(p, a.log).WithClock(a.now)
}

// openJournal opens the scan journal. The returned close function applies the
// retention policy and releases the store. Without a usable store the
// recorder still hands out trace ids.
func (a *app) openJournal(ctx context.Context) (*journal.Recorder, func()) {
	if a.cfg.Storage.Path == "" {
		return journal.NewRecorder(nil, a.log), func() {}
	}
	store, err := storage.Open(ctx, a.cfg.Storage)
	if err != nil {
		a.log.Warn("scan journal unavailable", "path", a.cfg.Storage.Path, "err", err)
		return journal.NewRecorder(nil, a.log), func() {}
	}
	rec := journal.NewRecorder(store, a.log).WithClock(func() time.Time { return a.now().UTC() })
	return rec, func() {
		a.prune(ctx, store, a.cfg.Retention)
		_ = store.Close()
	}
}

func (a *app) prune(ctx context.Context, store *storage.Storage, rc journal.RetentionConfig) int64 {
	r, err := journal.NewRetention(rc, store)
	if err != nil {
		return 0
	}
	n, err := r.RunOnce(ctx, a.now().UTC())
	if err != nil {
		a.log.Warn("journal retention failed", "err", err)
	}
	if n > 0 {
		a.log.Debug("pruned scan runs", "deleted", n)
	}
	return n
}

// publish sends the run summary when NATS is configured. Failures are logged.
func (a *app) publish(s eventbus.Summary) {
	if !a.cfg.NATS.Enabled() {
		return
	}
	p, err := eventbus.NewPublisher(a.cfg.NATS, a.log)
	if err != nil {
		a.log.Warn("nats unavailable", "url", a.cfg.NATS.URL, "err", err)
		return
	}
	defer p.Close()
	if err := p.PublishSummary(s); err != nil {
		a.log.Warn("publish scan summary failed", "subject", p.Subject(), "err", err)
	}
}

func (a *app) summary(run *journal.Run, outcomes []fleet.Outcome, flagged int, rows any) eventbus.Summary {
	s := eventbus.Summary{
		TraceID:     run.TraceID(),
		Action:      run.Action(),
		GeneratedAt: a.now().UTC(),
		Sources:     len(outcomes),
		Flagged:     flagged,
		Rows:        rows,
	}
	for _, o := range outcomes {
		switch {
		case o.Status == fleet.StatusFailed:
			s.Failed++
		case o.Skipped():
			s.Skipped++
		default:
			s.Scanned++
		}
	}
	return s
}

func fleetOutcomes(outcomes []fleet.Outcome) []journal.Outcome {
	out := make([]journal.Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, journal.Outcome{
			Host:    o.Source.Host,
			Schema:  o.Source.Schema,
			Status:  string(o.Status),
			Rows:    o.Rows,
			Skipped: o.Skipped(),
			Failed:  o.Status == fleet.StatusFailed,
			Err:     o.Err,
			Elapsed: o.Elapsed,
		})
	}
	return out
}

func bulkOutcomes(results []bulk.Result) []journal.Outcome {
	out := make([]journal.Outcome, 0, len(results))
	for _, r := range results {
		st := r.Status()
		out = append(out, journal.Outcome{
			Host:    r.Host,
			Schema:  r.Customer,
			Status:  st,
			Rows:    r.Rows,
			Skipped: st == "skipped-unreachable",
			Failed:  st == "failed",
			Err:     r.Err,
			Elapsed: r.Elapsed,
		})
	}
	return out
}

// printOutcomes reports sources that were not scanned.
func (a *app) printOutcomes(outcomes []fleet.Outcome) {
	var scanned, skipped, failed int
	for _, o := range outcomes {
		switch {
		case o.Status == fleet.StatusFailed:
			failed++
			ui.Notice(a.out, "%s failed: %v", o.Source, o.Err)
		case o.Status == fleet.StatusUnreachable:
			skipped++
			ui.Notice(a.out, "%s skipped: no host reachable", o.Source)
		case o.Skipped():
			skipped++
		default:
			scanned++
		}
	}
	ui.Info(a.out, "%d sources scanned, %d skipped, %d failed", scanned, skipped, failed)
}

func (a *app) printWritten(paths []string) {
	for _, p := range paths {
		ui.Info(a.out, "wrote %s", p)
	}
}
