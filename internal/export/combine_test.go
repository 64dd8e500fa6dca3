package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeReport(t *testing.T, e *Exporter, dir, name string, tbl Table) string {
	t.Helper()
	p, err := e.WriteCSV(filepath.Join(dir, name), tbl)
	require.NoError(t, err)
	return p
}

func TestCombine(t *testing.T) {
	dir := t.TempDir()
	e := newTestExporter(DefaultPolicy())

	a := writeReport(t, e, dir, "bridge_health_report_klant_a.csv", Table{
		Columns: []string{"inbridgeid", "max_gap_min"},
		Rows:    [][]any{{int64(1), 40.0}},
	})
	b := writeReport(t, e, dir, "bridge_health_report_klant_b.csv", Table{
		Columns: []string{"inbridgeid", "hostname"},
		Rows:    [][]any{{int64(7), "brug-7"}, {int64(8), "brug-8"}},
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.csv"), []byte("x"), 0o644))

	res, err := e.Combine(CombineOptions{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, res.Inputs)
	assert.Equal(t, []string{a, b}, res.Removed)
	assert.NoFileExists(t, a)
	assert.FileExists(t, filepath.Join(dir, "notes.csv"))

	combined, err := ReadCSV(filepath.Join(dir, "bridge_health_report_combined.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{"inbridgeid", "max_gap_min", "hostname", SourceColumn}, combined.Columns)
	require.Len(t, combined.Rows, 3)
	assert.Equal(t, []any{"1", "40", "", "bridge_health_report_klant_a.csv"}, combined.Rows[0])
	assert.Equal(t, []any{"8", "", "brug-8", "bridge_health_report_klant_b.csv"}, combined.Rows[2])

	f, err := excelize.OpenFile(filepath.Join(dir, "bridge_health_report_combined.xlsx"))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"bridge_health_report_klant_a", "bridge_health_report_klant_b"}, f.GetSheetList())
}

func TestCombine_KeepSourcesAndIgnoresPreviousOutput(t *testing.T) {
	dir := t.TempDir()
	e := newTestExporter(DefaultPolicy())
	a := writeReport(t, e, dir, "bridge_health_report_klant_a.csv", Table{Columns: []string{"x"}, Rows: [][]any{{"1"}}})

	_, err := e.Combine(CombineOptions{Dir: dir, KeepSources: true})
	require.NoError(t, err)
	assert.FileExists(t, a)

	res, err := e.Combine(CombineOptions{Dir: dir, KeepSources: true})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, res.Inputs, "the combined output matches the pattern but is not an input")
}

func TestCombine_IgnoresCombinedFallbacks(t *testing.T) {
	dir := t.TempDir()
	e := newTestExporter(DefaultPolicy())
	a := writeReport(t, e, dir, "bridge_health_report_klant_a.csv", Table{Columns: []string{"x"}, Rows: [][]any{{"1"}}})
	fallback := writeReport(t, e, dir, "bridge_health_report_combined_20261018_120000.csv", Table{
		Columns: []string{"x", SourceColumn},
		Rows:    [][]any{{"1", "bridge_health_report_klant_a.csv"}},
	})
	numbered := writeReport(t, e, dir, "bridge_health_report_combined_20261018_120000_1.csv", Table{Columns: []string{"x"}})

	res, err := e.Combine(CombineOptions{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, res.Inputs)
	assert.Equal(t, []string{a}, res.Removed)
	assert.FileExists(t, fallback, "an earlier fallback is never consumed or deleted")
	assert.FileExists(t, numbered)

	combined, err := ReadCSV(filepath.Join(dir, "bridge_health_report_combined.csv"))
	require.NoError(t, err)
	assert.Len(t, combined.Rows, 1)
}

func TestCombine_NoReports(t *testing.T) {
	_, err := newTestExporter(DefaultPolicy()).Combine(CombineOptions{Dir: t.TempDir()})
	assert.ErrorIs(t, err, ErrNoReports)
}

func TestReadCSV_CommaFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644))
	tbl, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tbl.Columns)
	assert.Equal(t, []any{"1", "2"}, tbl.Rows[0])
}
