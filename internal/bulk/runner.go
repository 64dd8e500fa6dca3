// Package bulk exports a fixed set of report queries for every customer
// schema into one workbook per customer, using a bounded worker pool.
package bulk

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/icysupport/bridgewatch/internal/dbconn"
	"github.com/icysupport/bridgewatch/internal/export"
)

// MaxWorkers is the ceiling on concurrent customer tasks.
const MaxWorkers = 10

type Config struct {
	Workers int     `mapstructure:"workers"`
	Dir     string  `mapstructure:"dir"`
	Queries []Query `mapstructure:"queries"`
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 || c.Workers > MaxWorkers {
		c.Workers = MaxWorkers
	}
	if c.Dir == "" {
		c.Dir = "."
	}
	if len(c.Queries) == 0 {
		c.Queries = DefaultQueries()
	}
	return c
}

// Connector opens a schema-scoped connection. *dbconn.Manager satisfies it.
type Connector interface {
	Connect(ctx context.Context, schema string) (*dbconn.Conn, error)
}

// Result is what one customer task produced.
type Result struct {
	Customer string
	Host     string
	Path     string
	Sheets   int
	Rows     int
	// FailedQueries names queries that errored; the others were still written.
	FailedQueries []string
	Err           error
	Elapsed       time.Duration
}

func (r Result) Status() string {
	switch {
	case r.Err != nil && errors.Is(r.Err, dbconn.ErrUnavailable):
		return "skipped-unreachable"
	case r.Err != nil:
		return "failed"
	case r.Path == "":
		return "empty"
	default:
		return "exported"
	}
}

// Collector is an append-only result sink shared by the workers.
type Collector struct {
	mu      sync.Mutex
	results []Result
}

func (c *Collector) Add(r Result) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}

// Results returns a copy ordered by customer.
func (c *Collector) Results() []Result {
	c.mu.Lock()
	out := make([]Result, len(c.results))
	copy(out, c.results)
	c.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Customer < out[j].Customer })
	return out
}

type Runner struct {
	cfg      Config
	conns    Connector
	exporter *export.Exporter
	log      *slog.Logger
	now      func() time.Time
}

func NewRunner(cfg Config, conns Connector, exporter *export.Exporter, logger *slog.Logger) (*Runner, error) {
	if conns == nil {
		return nil, errors.New("connector is required")
	}
	if exporter == nil {
		return nil, errors.New("exporter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg.withDefaults(), conns: conns, exporter: exporter, log: logger, now: time.Now}, nil
}

func (r *Runner) WithClock(now func() time.Time) *Runner {
	if now != nil {
		r.now = now
	}
	return r
}

// Run exports every customer and returns once all tasks have finished. Each
// task owns its connection from acquire to release; tasks share nothing but
// the collector. A failing customer never stops the others.
func (r *Runner) Run(ctx context.Context, customers []string) []Result {
	workers := r.cfg.Workers
	if workers > len(customers) {
		workers = len(customers)
	}
	if workers <= 0 {
		workers = 1
	}

	var col Collector
	jobs := make(chan string)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for customer := range jobs {
				col.Add(r.exportCustomer(ctx, customer))
			}
		}()
	}

	for _, c := range customers {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return col.Results()
		case jobs <- c:
		}
	}
	close(jobs)
	wg.Wait()
	return col.Results()
}

// WorkbookName is <customer>_<YYYY-MM-DD>.xlsx.
func WorkbookName(customer string, day time.Time) string {
	return fmt.Sprintf("%s_%s.xlsx", customer, day.Format(time.DateOnly))
}

func (r *Runner) exportCustomer(ctx context.Context, customer string) (res Result) {
	start := r.now()
	res = Result{Customer: customer}
	defer func() { res.Elapsed = r.now().Sub(start) }()

	tables, host, failed, err := r.queryCustomer(ctx, customer)
	res.Host = host
	res.FailedQueries = failed
	if err != nil {
		res.Err = err
		r.log.Warn("skipping customer", "customer", customer, "err", err)
		return res
	}
	if len(tables) == 0 {
		r.log.Info("no data retrieved, skipping workbook", "customer", customer)
		return res
	}

	path, err := r.exporter.WriteXLSX(filepath.Join(r.cfg.Dir, WorkbookName(customer, r.now())), tables...)
	if err != nil {
		res.Err = err
		return res
	}
	res.Path = path
	res.Sheets = len(tables)
	for _, t := range tables {
		res.Rows += len(t.Rows)
	}
	r.log.Info("export complete", "customer", customer, "path", path)
	return res
}

func (r *Runner) queryCustomer(ctx context.Context, customer string) ([]export.Table, string, []string, error) {
	conn, err := r.conns.Connect(ctx, customer)
	if err != nil {
		return nil, "", nil, err
	}
	defer conn.Close()

	var tables []export.Table
	var failed []string
	for _, q := range r.cfg.Queries {
		t, err := QueryTable(ctx, conn.DB, q)
		if err != nil {
			r.log.Warn("query failed", "customer", customer, "query", q.Name, "err", err)
			failed = append(failed, q.Name)
			continue
		}
		r.log.Debug("executed query", "customer", customer, "query", q.Name, "rows", len(t.Rows))
		tables = append(tables, t)
	}
	return tables, conn.Host, failed, nil
}

// QueryTable runs q and keeps the result columns in select order.
func QueryTable(ctx context.Context, db *gorm.DB, q Query) (export.Table, error) {
	rows, err := db.WithContext(ctx).Raw(q.SQL).Rows()
	if err != nil {
		return export.Table{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return export.Table{}, err
	}
	t := export.Table{Name: q.Name, Columns: cols, Rows: make([][]any, 0)}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return export.Table{}, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		t.Rows = append(t.Rows, vals)
	}
	return t, rows.Err()
}

// SummaryTable lists every customer task for the run-level artifact.
func SummaryTable(results []Result) export.Table {
	t := export.Table{
		Name:    "Bulk export",
		Columns: []string{"customer", "host", "status", "sheets", "rows", "failed_queries", "path", "error", "elapsed_ms"},
		Rows:    make([][]any, 0, len(results)),
	}
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		t.Rows = append(t.Rows, []any{
			r.Customer, r.Host, r.Status(), r.Sheets, r.Rows,
			strings.Join(r.FailedQueries, ", "), r.Path, errText, r.Elapsed.Milliseconds(),
		})
	}
	return t
}

// ReadCustomers reads one schema name per line, skipping blanks and # comments.
func ReadCustomers(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open customers file: %w", err)
	}
	defer f.Close()

	var out []string
	seen := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read customers file: %w", err)
	}
	return out, nil
}
