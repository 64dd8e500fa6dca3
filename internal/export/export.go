// Package export writes result tables as semicolon CSV, xlsx workbooks and
// JSON records, falling back to an alternate name when the destination is
// locked.
package export

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

var DefaultFormats = []Format{FormatXLSX, FormatCSV}

// ParseFormats parses a comma separated list such as "xlsx,csv".
func ParseFormats(s string) ([]Format, error) {
	var out []Format
	seen := make(map[Format]bool)
	for _, part := range strings.Split(s, ",") {
		f := Format(strings.ToLower(strings.TrimSpace(part)))
		if f == "" {
			continue
		}
		switch f {
		case FormatCSV, FormatXLSX, FormatJSON:
		default:
			return nil, fmt.Errorf("unknown export format %q (csv|xlsx|json)", part)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no export format given")
	}
	return out, nil
}

// Table is one logical result set. Rows hold cell values in Columns order.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

const maxFallbackSuffix = 100

type openFunc func(name string, flag int, perm os.FileMode) (*os.File, error)

// Exporter is not safe for concurrent writes to the same destination; the
// combined artifact is written once, after every producer has finished.
type Exporter struct {
	policy   Policy
	log      *slog.Logger
	now      func() time.Time
	openFile openFunc
}

func New(policy Policy, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		policy:   policy.withDefaults(),
		log:      logger,
		now:      time.Now,
		openFile: os.OpenFile,
	}
}

func (e *Exporter) WithClock(now func() time.Time) *Exporter {
	if now != nil {
		e.now = now
	}
	return e
}

// PreparePrefix splits an export prefix into its directory and file stem and
// creates the directory. "out/report.csv" writes out/report.<ext>; a prefix
// without extension is a directory and lends its name to the stem, so
// "out/report" writes out/report/report.<ext>.
func PreparePrefix(prefix string) (string, string, error) {
	clean := filepath.Clean(prefix)
	var dir, stem string
	if ext := filepath.Ext(clean); ext != "" {
		dir = filepath.Dir(clean)
		stem = strings.TrimSuffix(filepath.Base(clean), ext)
	} else {
		dir = clean
		stem = filepath.Base(clean)
	}
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "export"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create export dir %s: %w", dir, err)
	}
	return dir, stem, nil
}

// Export writes tables under prefix in every requested format and returns the
// paths actually written. CSV gets one file per table; xlsx and JSON hold all
// tables in one artifact. Failures of one format do not stop the others.
func (e *Exporter) Export(prefix string, formats []Format, tables ...Table) ([]string, error) {
	dir, stem, err := PreparePrefix(prefix)
	if err != nil {
		return nil, err
	}
	if len(formats) == 0 {
		formats = DefaultFormats
	}

	var written []string
	var errs []error
	record := func(path string, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		written = append(written, path)
	}

	for _, f := range formats {
		switch f {
		case FormatCSV:
			for _, t := range tables {
				name := stem
				if len(tables) > 1 {
					name = stem + "_" + FileSafe(t.Name)
				}
				record(e.WriteCSV(filepath.Join(dir, name+".csv"), t))
			}
		case FormatXLSX:
			record(e.WriteXLSX(filepath.Join(dir, stem+".xlsx"), tables...))
		case FormatJSON:
			record(e.WriteJSON(filepath.Join(dir, stem+".json"), tables...))
		default:
			errs = append(errs, fmt.Errorf("unknown export format %q", f))
		}
	}
	return written, errors.Join(errs...)
}

// write runs fn against path, applying the lock policy.
func (e *Exporter) write(path string, fn func(io.Writer) error) (string, error) {
	f, err := e.openFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	for attempt := 1; err != nil && IsLocked(err) && attempt <= e.policy.MaxRetries; attempt++ {
		if e.policy.BeforeRetry != nil && !e.policy.BeforeRetry(path, attempt) {
			break
		}
		e.log.Debug("retrying locked destination", "path", path, "attempt", attempt)
		f, err = e.openFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	}
	if err == nil {
		if err := writeAndClose(f, fn); err != nil {
			return "", &WriteError{Path: path, Err: err}
		}
		return path, nil
	}
	if !IsLocked(err) {
		return "", &WriteError{Path: path, Err: err}
	}

	alt, name, err := e.createFallback(path)
	if err != nil {
		return "", &WriteError{Path: path, Fallback: name, Err: err}
	}
	if err := writeAndClose(alt, fn); err != nil {
		return "", &WriteError{Path: path, Fallback: name, Err: err}
	}
	e.log.Warn("destination locked, wrote fallback", "path", path, "fallback", name)
	return name, nil
}

// createFallback creates the alternate file exclusively so that an earlier
// fallback is never overwritten.
func (e *Exporter) createFallback(path string) (*os.File, string, error) {
	alt := e.policy.Naming(path, e.now())
	ext := filepath.Ext(alt)
	stem := strings.TrimSuffix(alt, ext)
	for i := 0; i < maxFallbackSuffix; i++ {
		name := alt
		if i > 0 {
			name = stem + "_" + strconv.Itoa(i) + ext
		}
		f, err := e.openFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, name, err
		}
	}
	return nil, alt, fmt.Errorf("no free fallback name for %s", path)
}

func writeAndClose(f *os.File, fn func(io.Writer) error) error {
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// FormatCell renders v the way CSV cells and column widths see it.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format(time.DateTime)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// FileSafe maps name to something usable inside a file name.
func FileSafe(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "table"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}
