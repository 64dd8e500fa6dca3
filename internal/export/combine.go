package export

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SourceColumn names the column Combine adds to record each row's report file.
const SourceColumn = "source_db_report"

type CombineOptions struct {
	Dir         string
	Pattern     string
	OutPrefix   string
	KeepSources bool
}

func DefaultCombineOptions() CombineOptions {
	return CombineOptions{
		Dir:       ".",
		Pattern:   "bridge_health_report_*.csv",
		OutPrefix: "bridge_health_report_combined",
	}
}

type CombineResult struct {
	Inputs  []string
	Written []string
	Removed []string
	// Skipped lists inputs that could not be read.
	Skipped []string
}

// Combine merges per-source semicolon CSV reports into one CSV and one
// workbook holding a sheet per source. Inputs are removed after both outputs
// were written unless KeepSources is set.
func (e *Exporter) Combine(opts CombineOptions) (CombineResult, error) {
	var res CombineResult
	def := DefaultCombineOptions()
	if opts.Dir == "" {
		opts.Dir = def.Dir
	}
	if opts.Pattern == "" {
		opts.Pattern = def.Pattern
	}
	if opts.OutPrefix == "" {
		opts.OutPrefix = def.OutPrefix
	}

	matches, err := filepath.Glob(filepath.Join(opts.Dir, opts.Pattern))
	if err != nil {
		return res, fmt.Errorf("glob %s: %w", opts.Pattern, err)
	}
	sort.Strings(matches)

	csvOut := filepath.Join(opts.Dir, opts.OutPrefix+".csv")
	xlsxOut := filepath.Join(opts.Dir, opts.OutPrefix+".xlsx")
	for _, m := range matches {
		if isCombinedOutput(m, opts.OutPrefix) {
			continue
		}
		res.Inputs = append(res.Inputs, m)
	}
	if len(res.Inputs) == 0 {
		return res, ErrNoReports
	}

	var sheets []Table
	var read []string
	for _, in := range res.Inputs {
		t, err := ReadCSV(in)
		if err != nil {
			e.log.Warn("skipping unreadable report", "path", in, "err", err)
			res.Skipped = append(res.Skipped, in)
			continue
		}
		sheets = append(sheets, t)
		read = append(read, in)
	}
	if len(sheets) == 0 {
		return res, fmt.Errorf("%w: none of %d inputs readable", ErrNoReports, len(res.Inputs))
	}

	combined := mergeTables(opts.OutPrefix, sheets, read)

	var errs []error
	if p, err := e.WriteXLSX(xlsxOut, sheets...); err != nil {
		errs = append(errs, err)
	} else {
		res.Written = append(res.Written, p)
	}
	if p, err := e.WriteCSV(csvOut, combined); err != nil {
		errs = append(errs, err)
	} else {
		res.Written = append(res.Written, p)
	}
	if err := errors.Join(errs...); err != nil {
		return res, err
	}

	if !opts.KeepSources {
		for _, in := range read {
			if err := os.Remove(in); err != nil {
				e.log.Warn("remove source report", "path", in, "err", err)
				continue
			}
			res.Removed = append(res.Removed, in)
		}
	}
	return res, nil
}

// ReadCSV reads a semicolon report written by WriteCSV. A file without
// semicolons in its header is read as comma separated.
func ReadCSV(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, err
	}
	data = bytes.TrimPrefix(data, []byte(utf8BOM))

	comma := ';'
	if line, _, _ := bufio.NewReader(bytes.NewReader(data)).ReadLine(); !bytes.ContainsRune(line, ';') && bytes.ContainsRune(line, ',') {
		comma = ','
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Table{}, fmt.Errorf("%s: empty report", path)
		}
		return Table{}, fmt.Errorf("%s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	t := Table{Name: name, Columns: header}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("%s: %w", path, err)
		}
		row := make([]any, len(rec))
		for i, v := range rec {
			row[i] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// mergeTables unions the columns of tables in first-seen order and appends
// SourceColumn.
func mergeTables(name string, tables []Table, sources []string) Table {
	var cols []string
	index := make(map[string]int)
	for _, t := range tables {
		for _, c := range t.Columns {
			if _, ok := index[c]; !ok {
				index[c] = len(cols)
				cols = append(cols, c)
			}
		}
	}
	srcIdx := len(cols)
	cols = append(cols, SourceColumn)

	out := Table{Name: name, Columns: cols}
	for ti, t := range tables {
		src := filepath.Base(sources[ti])
		for _, row := range t.Rows {
			merged := make([]any, len(cols))
			for ci, c := range t.Columns {
				if ci < len(row) {
					merged[index[c]] = row[ci]
				}
			}
			merged[srcIdx] = src
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}

// isCombinedOutput reports whether path is a previous combined report, either
// <prefix>.csv or one of its lock fallbacks <prefix>_<timestamp>[_n].csv.
func isCombinedOutput(path, prefix string) bool {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix = filepath.Base(prefix)
	return stem == prefix || strings.HasPrefix(stem, prefix+"_")
}
