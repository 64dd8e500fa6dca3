// Package journal records scan runs in the local storage and prunes them.
// A failing journal never fails the scan it describes.
package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/icysupport/bridgewatch/internal/storage"
)

const truncateLimit = 2048

// Store is the subset of *storage.Storage the recorder writes to.
type Store interface {
	InsertScanRun(ctx context.Context, run *storage.ScanRun) error
	UpdateScanRun(ctx context.Context, id uint64, up storage.RunUpdate) error
	InsertSourceOutcomes(ctx context.Context, outcomes []storage.SourceOutcome) error
}

// Outcome is one source's result as the journal sees it.
type Outcome struct {
	Host    string
	Schema  string
	Status  string
	Rows    int
	Skipped bool
	Failed  bool
	Err     error
	Elapsed time.Duration
}

type Recorder struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// NewRecorder returns a recorder. A nil store gives a recorder that only
// hands out trace ids.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, log: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	if now != nil {
		r.now = now
	}
	return r
}

// Run is an open journal entry.
type Run struct {
	rec     *Recorder
	id      uint64
	traceID string
	action  string
}

func (r *Run) TraceID() string { return r.traceID }

func (r *Run) Action() string { return r.action }

// Begin opens a running entry for action. params is stored as JSON.
func (r *Recorder) Begin(ctx context.Context, action string, params any) *Run {
	run := &Run{rec: r, traceID: uuid.NewString(), action: action}
	if r.store == nil {
		return run
	}

	paramsJSON := ""
	if params != nil {
		if b, err := json.Marshal(params); err == nil {
			paramsJSON = truncate(string(b), truncateLimit)
		}
	}
	rec := &storage.ScanRun{
		TraceID:    run.traceID,
		Action:     action,
		ParamsJSON: paramsJSON,
		Status:     storage.StatusRunning,
		StartedAt:  r.now(),
	}
	if err := r.store.InsertScanRun(ctx, rec); err != nil {
		r.log.Warn("failed to insert scan run", "action", action, "trace_id", run.traceID, "err", err)
		return run
	}
	run.id = rec.ID
	return run
}

// Finish closes the entry with the per-source outcomes, the flagged row count
// and the command's error, if any.
func (run *Run) Finish(ctx context.Context, outcomes []Outcome, flagged int, runErr error) {
	if run == nil || run.rec.store == nil || run.id == 0 {
		return
	}
	r := run.rec
	finished := r.now()

	rows := make([]storage.SourceOutcome, 0, len(outcomes))
	var scanned, skipped, failed int
	for _, o := range outcomes {
		switch {
		case o.Failed:
			failed++
		case o.Skipped:
			skipped++
		default:
			scanned++
		}
		msg := ""
		if o.Err != nil {
			msg = truncate(o.Err.Error(), truncateLimit)
		}
		rows = append(rows, storage.SourceOutcome{
			RunID:        run.id,
			Host:         o.Host,
			Schema:       o.Schema,
			Status:       o.Status,
			Rows:         o.Rows,
			ErrorMessage: msg,
			ElapsedMS:    o.Elapsed.Milliseconds(),
		})
	}
	if err := r.store.InsertSourceOutcomes(ctx, rows); err != nil {
		r.log.Warn("failed to insert source outcomes", "trace_id", run.traceID, "err", err)
	}

	status := storage.StatusSuccess
	var errMsg *string
	if runErr != nil {
		status = storage.StatusFailed
		e := truncate(runErr.Error(), truncateLimit)
		errMsg = &e
	}
	sources := len(outcomes)
	up := storage.RunUpdate{
		Status:       &status,
		Sources:      &sources,
		Scanned:      &scanned,
		Skipped:      &skipped,
		Failed:       &failed,
		Flagged:      &flagged,
		ErrorMessage: errMsg,
		FinishedAt:   &finished,
	}
	if err := r.store.UpdateScanRun(ctx, run.id, up); err != nil {
		r.log.Warn("failed to update scan run", "trace_id", run.traceID, "err", err)
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}
