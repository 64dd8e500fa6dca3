package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icysupport/bridgewatch/internal/storage"
)

var journalNow = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "journal.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRecorderBeginFinish(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	rec := NewRecorder(s, quiet()).WithClock(func() time.Time { return journalNow })

	run := rec.Begin(ctx, "all", map[string]any{"gap_minutes": 15})
	require.NotEmpty(t, run.TraceID())

	run.Finish(ctx, []Outcome{
		{Host: "db1", Schema: "klant_a", Status: "scanned", Rows: 2, Elapsed: 1500 * time.Millisecond},
		{Host: "db1", Schema: "klant_b", Status: "skipped-ineligible", Skipped: true, Err: errors.New("no table")},
		{Schema: "klant_c", Status: "failed", Failed: true, Err: errors.New("boom")},
	}, 2, nil)

	runs, err := s.QueryScanRuns(ctx, storage.RunQuery{TraceID: run.TraceID()})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	got := runs[0]
	assert.Equal(t, "all", got.Action)
	assert.Equal(t, storage.StatusSuccess, got.Status)
	assert.JSONEq(t, `{"gap_minutes":15}`, got.ParamsJSON)
	assert.Equal(t, 3, got.Sources)
	assert.Equal(t, 1, got.Scanned)
	assert.Equal(t, 1, got.Skipped)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, 2, got.Flagged)

	outcomes, err := s.QuerySourceOutcomes(ctx, got.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, int64(1500), outcomes[0].ElapsedMS)
	assert.Equal(t, "no table", outcomes[1].ErrorMessage)
}

func TestRecorderFailedRun(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	run := NewRecorder(s, quiet()).Begin(ctx, "pollall", nil)
	run.Finish(ctx, nil, 0, errors.New("no host reachable"))

	runs, err := s.QueryScanRuns(ctx, storage.RunQuery{Action: "pollall"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.StatusFailed, runs[0].Status)
	assert.Equal(t, "no host reachable", runs[0].ErrorMessage)
}

type brokenStore struct{ calls int }

func (b *brokenStore) InsertScanRun(context.Context, *storage.ScanRun) error {
	b.calls++
	return errors.New("database is locked")
}
func (b *brokenStore) UpdateScanRun(context.Context, uint64, storage.RunUpdate) error {
	b.calls++
	return nil
}
func (b *brokenStore) InsertSourceOutcomes(context.Context, []storage.SourceOutcome) error {
	b.calls++
	return nil
}

func TestRecorderToleratesStoreFailure(t *testing.T) {
	store := &brokenStore{}
	run := NewRecorder(store, quiet()).Begin(context.Background(), "all", nil)
	assert.NotEmpty(t, run.TraceID())
	run.Finish(context.Background(), []Outcome{{Schema: "klant_a"}}, 0, nil)
	assert.Equal(t, 1, store.calls, "finish is skipped when the run was never stored")
}

func TestRecorderWithoutStore(t *testing.T) {
	run := NewRecorder(nil, nil).Begin(context.Background(), "all", nil)
	assert.NotEmpty(t, run.TraceID())
	run.Finish(context.Background(), nil, 0, nil)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...(truncated)", truncate("abcdef", 2))
}

func TestRetentionRunOnce(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, s.InsertScanRun(ctx, &storage.ScanRun{
			Action:    "all",
			StartedAt: journalNow.AddDate(0, 0, -i*10),
		}))
	}

	r, err := NewRetention(RetentionConfig{KeepDays: 35, BatchRows: 1}, s)
	require.NoError(t, err)
	n, err := r.RunOnce(ctx, journalNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "runs 40 and 50 days old go")

	r, err = NewRetention(RetentionConfig{KeepRuns: 3}, s)
	require.NoError(t, err)
	n, err = r.RunOnce(ctx, journalNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.QueryScanRuns(ctx, storage.RunQuery{Desc: true})
	require.NoError(t, err)
	require.Len(t, left, 3)
	assert.True(t, left[0].StartedAt.Equal(journalNow))
}

func TestRetentionDisabled(t *testing.T) {
	r, err := NewRetention(RetentionConfig{}, openStore(t))
	require.NoError(t, err)
	n, err := r.RunOnce(context.Background(), journalNow)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = NewRetention(RetentionConfig{}, nil)
	assert.Error(t, err)
}

func TestRetentionCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, err := NewRetention(RetentionConfig{KeepRuns: 1}, openStore(t))
	require.NoError(t, err)
	_, err = r.RunOnce(ctx, journalNow)
	assert.ErrorIs(t, err, context.Canceled)
}
