package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/icysupport/bridgewatch/internal/bridgedb"
	"github.com/icysupport/bridgewatch/internal/config"
	"github.com/icysupport/bridgewatch/internal/dbconn"
	"github.com/icysupport/bridgewatch/internal/export"
	"github.com/icysupport/bridgewatch/internal/journal"
	"github.com/icysupport/bridgewatch/internal/storage"
	"github.com/icysupport/bridgewatch/internal/watch"
)

const reconnectFrame = "ab abab 55 5555 30 434f4e4e0a0000010000abcd"

var cliNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func writeSchema(t *testing.T, dir, name string, events []bridgedb.CommunicationLog, bridges []bridgedb.InBridge) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, name+".db")), &gorm.Config{})
	require.NoError(t, err)
	if events != nil {
		require.NoError(t, db.AutoMigrate(&bridgedb.CommunicationLog{}))
		if len(events) > 0 {
			require.NoError(t, db.Create(&events).Error)
		}
	}
	require.NoError(t, db.AutoMigrate(&bridgedb.InBridge{}))
	if len(bridges) > 0 {
		require.NoError(t, db.Create(&bridges).Error)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

// fixture writes klant_a, with a bridge that restarts 25 times today, and
// klant_b, which has no communicationlog table.
func fixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	day := time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)

	var events []bridgedb.CommunicationLog
	for i := 0; i < 25; i++ {
		events = append(events, bridgedb.CommunicationLog{
			ID:        int64(i + 1),
			BridgeID:  ptr(int64(1)),
			Comment:   reconnectFrame,
			Timestamp: day.Add(time.Duration(i) * 10 * time.Minute),
		})
	}
	writeSchema(t, dir, "klant_a", events, []bridgedb.InBridge{
		{ID: 1, Hostname: ptr("brug-1"), State: ptr("OPEN"), Polling: ptr(int64(100)), PollFailure: ptr(int64(20))},
	})
	writeSchema(t, dir, "klant_b", nil, []bridgedb.InBridge{
		{ID: 5, Hostname: ptr("brug-5"), State: ptr("OPEN"), Polling: ptr(int64(10)), PollFailure: ptr(int64(11))},
	})
	return dir
}

func testApp(t *testing.T, dbDir string) (*app, *bytes.Buffer) {
	t.Helper()
	c := config.DefaultConfig()
	c.DB = dbconn.Config{Driver: dbconn.DriverSQLite, Hosts: []string{dbDir}, RetryDelay: time.Millisecond}
	c.Analysis.Timezone = "UTC"
	c.Storage.Path = filepath.Join(t.TempDir(), "journal.db")
	c.Export.Interactive = false

	out := &bytes.Buffer{}
	return &app{
		cfg: &c,
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
		out: out,
		in:  bytes.NewReader(nil),
		now: func() time.Time { return cliNow },
	}, out
}

func journalRuns(t *testing.T, a *app) []storage.ScanRun {
	t.Helper()
	store, err := storage.Open(context.Background(), a.cfg.Storage)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.QueryScanRuns(context.Background(), storage.RunQuery{})
	require.NoError(t, err)
	return runs
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{errors.New("boom"), ExitUnexpected},
		{argErr(errors.New("bad flag")), ExitArgument},
		{fmt.Errorf("scan: %w", dbconn.ErrUnavailable), ExitUnavailable},
		{dbconn.ErrNoHosts, ExitUnavailable},
		{&export.WriteError{Path: "x.csv", Err: errors.New("locked")}, ExitWrite},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ExitCode(c.err), "%v", c.err)
	}
	assert.Nil(t, argErr(nil))
}

func TestAnalysisFlagsResolve(t *testing.T) {
	base := config.DefaultConfig().Analysis

	var f analysisFlags
	cmd := &cobra.Command{Use: "analyze"}
	f.register(cmd)
	require.NoError(t, cmd.Flags().Set("gap-minutes", "30"))
	require.NoError(t, cmd.Flags().Set("fetch-order", "recent"))

	an, err := f.resolve(cmd, base)
	require.NoError(t, err)
	assert.Equal(t, 30.0, an.GapMinutes)
	assert.Equal(t, "recent", an.FetchOrder)
	assert.Equal(t, base.RestartThreshold, an.RestartThreshold, "unset flags keep the config value")

	var bad analysisFlags
	cmd = &cobra.Command{Use: "analyze"}
	bad.register(cmd)
	require.NoError(t, cmd.Flags().Set("window-days", "-1"))
	_, err = bad.resolve(cmd, base)
	assert.Equal(t, ExitArgument, ExitCode(err))
}

func TestPollFlagsResolve(t *testing.T) {
	base := config.DefaultConfig().Poll

	var f pollFlags
	cmd := &cobra.Command{Use: "openrecent"}
	f.register(cmd, false)
	require.NoError(t, cmd.Flags().Set("recent-days", "7"))
	p, err := f.resolve(cmd, base)
	require.NoError(t, err)
	assert.Equal(t, 7, p.RecentDays)
	assert.Equal(t, base.Threshold, p.Threshold)
	assert.Nil(t, cmd.Flags().Lookup("threshold"))
}

func TestExportFlagsResolve(t *testing.T) {
	base := config.DefaultConfig().Export

	var f exportFlags
	cmd := &cobra.Command{Use: "all"}
	f.register(cmd, "report")
	formats, err := f.resolve(cmd, base)
	require.NoError(t, err)
	assert.Nil(t, formats, "no prefix means no export")

	require.NoError(t, cmd.Flags().Set("export", "out/report"))
	require.NoError(t, cmd.Flags().Set("format", "csv,json"))
	formats, err = f.resolve(cmd, base)
	require.NoError(t, err)
	assert.Equal(t, []export.Format{export.FormatCSV, export.FormatJSON}, formats)

	require.NoError(t, cmd.Flags().Set("format", "pdf"))
	_, err = f.resolve(cmd, base)
	assert.Equal(t, ExitArgument, ExitCode(err))
}

func TestRunHealthAll(t *testing.T) {
	a, out := testApp(t, fixture(t))

	err := runHealth(context.Background(), a, healthOptions{action: "all", analysis: a.cfg.Analysis})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "brug-1")
	assert.Contains(t, out.String(), "1 sources scanned, 1 skipped, 0 failed")

	runs := journalRuns(t, a)
	require.Len(t, runs, 1)
	assert.Equal(t, "all", runs[0].Action)
	assert.Equal(t, storage.StatusSuccess, runs[0].Status)
	assert.Equal(t, 2, runs[0].Sources)
	assert.Equal(t, 1, runs[0].Scanned)
	assert.Equal(t, 1, runs[0].Skipped)
	assert.Equal(t, 1, runs[0].Flagged)
}

func TestRunHealthExportSplit(t *testing.T) {
	a, out := testApp(t, fixture(t))
	outDir := t.TempDir()

	err := runHealth(context.Background(), a, healthOptions{
		action:   "all",
		analysis: a.cfg.Analysis,
		prefix:   filepath.Join(outDir, "report.csv"),
		formats:  []export.Format{export.FormatCSV},
		split:    true,
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(outDir, "report.csv"))
	assert.FileExists(t, filepath.Join(outDir, SplitReportPrefix+"klant_a.csv"))
	assert.NoFileExists(t, filepath.Join(outDir, SplitReportPrefix+"klant_b.csv"))
	assert.Contains(t, out.String(), "wrote ")
}

func TestRunHealthUnknownSchema(t *testing.T) {
	a, _ := testApp(t, fixture(t))

	err := runHealth(context.Background(), a, healthOptions{action: "analyze", db: "ghost", analysis: a.cfg.Analysis})
	require.Error(t, err)
	assert.Equal(t, ExitUnavailable, ExitCode(err))

	runs := journalRuns(t, a)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.StatusFailed, runs[0].Status)
}

func TestRunHealthWithoutHosts(t *testing.T) {
	a, _ := testApp(t, fixture(t))
	a.cfg.DB.Hosts = nil

	err := runHealth(context.Background(), a, healthOptions{action: "all", analysis: a.cfg.Analysis})
	assert.Equal(t, ExitArgument, ExitCode(err))
}

func TestRunPollAll(t *testing.T) {
	a, out := testApp(t, fixture(t))

	err := runPoll(context.Background(), a, pollOptions{action: "pollall", poll: a.cfg.Poll})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "brug-5")
	assert.Contains(t, out.String(), "brug-1")
}

func TestRunPollExportNothing(t *testing.T) {
	a, out := testApp(t, fixture(t))
	p := a.cfg.Poll
	p.Threshold = 1000

	err := runPoll(context.Background(), a, pollOptions{
		action:  "poll",
		db:      "klant_a",
		poll:    p,
		prefix:  filepath.Join(t.TempDir(), "pollfail"),
		formats: []export.Format{export.FormatCSV},
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "nothing to export")
}

func TestRunList(t *testing.T) {
	a, out := testApp(t, fixture(t))

	require.NoError(t, runList(context.Background(), a, "klant_b", "", nil))
	assert.Contains(t, out.String(), "brug-5")
}

func TestRunCombineNoReports(t *testing.T) {
	a, out := testApp(t, t.TempDir())
	opts := export.DefaultCombineOptions()
	opts.Dir = t.TempDir()

	require.NoError(t, runCombine(a, opts))
	assert.Contains(t, out.String(), "no reports matching")
}

func TestRunHistoryAndPrune(t *testing.T) {
	a, _ := testApp(t, fixture(t))
	ctx := context.Background()

	require.NoError(t, runHealth(ctx, a, healthOptions{action: "all", analysis: a.cfg.Analysis}))
	a.now = func() time.Time { return cliNow.Add(time.Minute) }
	require.NoError(t, runPoll(ctx, a, pollOptions{action: "pollall", poll: a.cfg.Poll}))

	runs := journalRuns(t, a)
	require.Len(t, runs, 2)

	out := &bytes.Buffer{}
	a.out = out
	require.NoError(t, runHistory(ctx, a, "", runs[0].TraceID, 10))
	assert.Contains(t, out.String(), runs[0].TraceID)
	assert.Contains(t, out.String(), "klant_a")

	err := runHistory(ctx, a, "", "no-such-trace", 10)
	assert.Equal(t, ExitArgument, ExitCode(err))

	out.Reset()
	require.NoError(t, runPrune(ctx, a, journal.RetentionConfig{KeepRuns: 1}))
	assert.Contains(t, out.String(), "Deleted 1 runs.")

	runs = journalRuns(t, a)
	require.Len(t, runs, 1)
	assert.Equal(t, "pollall", runs[0].Action)
}

func TestHistoryWithoutStorage(t *testing.T) {
	a, _ := testApp(t, t.TempDir())
	a.cfg.Storage.Path = ""
	err := runHistory(context.Background(), a, "", "", 10)
	assert.Equal(t, ExitArgument, ExitCode(err))
}

func TestRunExportCustomers(t *testing.T) {
	a, out := testApp(t, fixture(t))
	bc := a.cfg.Bulk
	bc.Workers = 2
	bc.Dir = t.TempDir()

	require.NoError(t, runExportCustomers(context.Background(), a, bc, []string{"klant_a", "klant_b"}, false))
	assert.FileExists(t, filepath.Join(bc.Dir, "export_summary_2026-10-18.csv"))
	assert.Contains(t, out.String(), "klant_b")

	runs := journalRuns(t, a)
	require.Len(t, runs, 1)
	assert.Equal(t, "export-customers", runs[0].Action)
	assert.Equal(t, 2, runs[0].Sources)
}

func TestRunExportCustomersFromFile(t *testing.T) {
	a, out := testApp(t, fixture(t))
	bc := a.cfg.Bulk
	bc.Dir = t.TempDir()
	bc.CustomersFile = filepath.Join(t.TempDir(), "klanten.txt")

	err := runExportCustomers(context.Background(), a, bc, nil, false)
	assert.Equal(t, ExitArgument, ExitCode(err), "missing customers file")

	require.NoError(t, os.WriteFile(bc.CustomersFile, []byte("\n"), 0o644))
	require.NoError(t, runExportCustomers(context.Background(), a, bc, nil, false))
	assert.Contains(t, out.String(), "no customers to export")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("warn", &buf)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	assert.True(t, newLogger("bogus", io.Discard).Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, newLogger("bogus", io.Discard).Enabled(context.Background(), slog.LevelDebug))
}

// lockedBuffer lets watch jobs and the test goroutine share the output.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunWatchStopsOnError(t *testing.T) {
	a, _ := testApp(t, fixture(t))
	out := &lockedBuffer{}
	a.out = out

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	wc := watch.Config{Interval: time.Hour, StopOnError: true}
	health := healthOptions{
		action:   "all",
		analysis: a.cfg.Analysis,
		prefix:   filepath.Join(blocker, "report.csv"),
		formats:  []export.Format{export.FormatCSV},
	}
	err := runWatch(context.Background(), a, wc, health, pollOptions{action: "pollall", poll: a.cfg.Poll}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create export dir")
	assert.Contains(t, out.String(), "all run failed")

	runs := journalRuns(t, a)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.StatusFailed, runs[0].Status)
}

func TestRunWatchSignal(t *testing.T) {
	a, _ := testApp(t, fixture(t))
	out := &lockedBuffer{}
	a.out = out

	sigs := make(chan os.Signal, 1)
	sigs <- os.Interrupt
	wc := watch.Config{Interval: time.Hour, PollInterval: time.Hour}
	err := runWatch(context.Background(), a, wc,
		healthOptions{action: "all", analysis: a.cfg.Analysis},
		pollOptions{action: "pollall", poll: a.cfg.Poll},
		sigs)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "received interrupt")
}

func TestRunWatchNeedsDatabase(t *testing.T) {
	a, _ := testApp(t, fixture(t))
	a.cfg.DB.Hosts = nil
	err := runWatch(context.Background(), a, watch.DefaultConfig(), healthOptions{action: "all"}, pollOptions{action: "pollall"}, nil)
	assert.Equal(t, ExitArgument, ExitCode(err))
}
