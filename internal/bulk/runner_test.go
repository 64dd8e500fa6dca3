package bulk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/icysupport/bridgewatch/internal/bridgedb"
	"github.com/icysupport/bridgewatch/internal/dbconn"
	"github.com/icysupport/bridgewatch/internal/export"
)

var bulkNow = time.Date(2026, 10, 18, 7, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeCustomer(t *testing.T, dir, name string, hosts ...string) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, name+".db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&bridgedb.InBridge{}))
	for i, h := range hosts {
		host := h
		require.NoError(t, db.Create(&bridgedb.InBridge{ID: int64(i + 1), Hostname: &host}).Error)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func inbridgeQuery(t *testing.T) Query {
	t.Helper()
	for _, q := range DefaultQueries() {
		if q.Name == "Inbridge data" {
			return q
		}
	}
	t.Fatalf("inbridge query missing")
	return Query{}
}

func TestRun(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	writeCustomer(t, srcDir, "klant_a", "brug-1", "brug-2")
	writeCustomer(t, srcDir, "klant_b", "brug-9")

	m, err := dbconn.NewManagerFromConfig(dbconn.Config{Driver: dbconn.DriverSQLite, Hosts: []string{srcDir}}, quietLogger())
	require.NoError(t, err)
	exp := export.New(export.DefaultPolicy(), quietLogger())

	r, err := NewRunner(Config{
		Workers: 2,
		Dir:     outDir,
		Queries: []Query{inbridgeQuery(t), {Name: "Broken", SQL: "SELECT * FROM device"}},
	}, m, exp, quietLogger())
	require.NoError(t, err)
	r.WithClock(func() time.Time { return bulkNow })

	results := r.Run(context.Background(), []string{"klant_b", "ghost", "klant_a"})
	require.Len(t, results, 3)

	a, ghost, b := results[0], results[1], results[2]
	assert.Equal(t, "klant_a", a.Customer)
	assert.Equal(t, "exported", a.Status())
	assert.Equal(t, filepath.Join(outDir, "klant_a_2026-10-18.xlsx"), a.Path)
	assert.Equal(t, 1, a.Sheets)
	assert.Equal(t, 2, a.Rows)
	assert.Equal(t, []string{"Broken"}, a.FailedQueries)
	assert.Equal(t, srcDir, a.Host)

	assert.Equal(t, "ghost", ghost.Customer)
	assert.Equal(t, "skipped-unreachable", ghost.Status())
	assert.ErrorIs(t, ghost.Err, dbconn.ErrUnavailable)
	assert.Empty(t, ghost.Path)

	assert.Equal(t, 1, b.Rows)

	f, err := excelize.OpenFile(a.Path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Inbridge data"}, f.GetSheetList())
	v, err := f.GetCellValue("Inbridge data", "A1")
	require.NoError(t, err)
	assert.Equal(t, "hostname", v)

	summary := SummaryTable(results)
	require.Len(t, summary.Rows, 3)
	assert.Equal(t, "skipped-unreachable", summary.Rows[1][2])
}

func TestRun_EmptyCustomers(t *testing.T) {
	m, err := dbconn.NewManagerFromConfig(dbconn.Config{Driver: dbconn.DriverSQLite, Hosts: []string{t.TempDir()}}, quietLogger())
	require.NoError(t, err)
	r, err := NewRunner(Config{}, m, export.New(export.DefaultPolicy(), quietLogger()), quietLogger())
	require.NoError(t, err)
	assert.Empty(t, r.Run(context.Background(), nil))
}

func TestConfigWorkerCeiling(t *testing.T) {
	assert.Equal(t, MaxWorkers, Config{Workers: 50}.withDefaults().Workers)
	assert.Equal(t, MaxWorkers, Config{}.withDefaults().Workers)
	assert.Equal(t, 3, Config{Workers: 3}.withDefaults().Workers)
	assert.Len(t, Config{}.withDefaults().Queries, 5)
}

func TestCollectorConcurrentAdd(t *testing.T) {
	var c Collector
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Add(Result{Customer: fmt.Sprintf("klant_%02d", i)})
		}(i)
	}
	wg.Wait()

	got := c.Results()
	require.Len(t, got, 50)
	assert.Equal(t, "klant_00", got[0].Customer)
	assert.Equal(t, "klant_49", got[49].Customer)
}

func TestReadCustomers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "klanten.txt")
	require.NoError(t, os.WriteFile(path, []byte("\ufeffklant_a\n\n# retired\nklant_b \r\nklant_a\n"), 0o644))

	got, err := ReadCustomers(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"klant_a", "klant_b"}, got)

	_, err = ReadCustomers(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestWorkbookName(t *testing.T) {
	assert.Equal(t, "klant_a_2026-10-18.xlsx", WorkbookName("klant_a", bulkNow))
}
