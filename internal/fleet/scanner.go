// Package fleet walks every eligible customer schema, analyzes its bridges
// and aggregates the flagged ones into one combined table.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/icysupport/bridgewatch/internal/bridgedb"
	"github.com/icysupport/bridgewatch/internal/bridgelog"
	"github.com/icysupport/bridgewatch/internal/dbconn"
	"github.com/icysupport/bridgewatch/internal/pollfail"
)

// Connector is the part of dbconn.Manager the scanner needs.
type Connector interface {
	ConnectPreferring(ctx context.Context, host, schema string) (*dbconn.Conn, error)
	Schemas(ctx context.Context) ([]string, string, error)
}

// Source is one customer schema on the host it was enumerated from.
type Source struct {
	Host   string `json:"host"`
	Schema string `json:"schema"`
}

func (s Source) String() string {
	if s.Host == "" {
		return s.Schema
	}
	return s.Schema + "@" + s.Host
}

// ListSources enumerates the non-system schemas of the first reachable host.
func ListSources(ctx context.Context, c Connector) ([]Source, error) {
	names, host, err := c.Schemas(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Source, 0, len(names))
	for _, n := range names {
		out = append(out, Source{Host: host, Schema: n})
	}
	return out, nil
}

type Status string

const (
	StatusScanned     Status = "scanned"
	StatusUnreachable Status = "skipped-unreachable"
	StatusIneligible  Status = "skipped-ineligible"
	StatusFailed      Status = "failed"
)

// Outcome records what happened to one source during a scan.
type Outcome struct {
	Source  Source
	Status  Status
	Bridges int
	Rows    int
	Err     error
	Elapsed time.Duration
}

// Skipped reports whether the source was left out without being scanned.
func (o Outcome) Skipped() bool {
	return o.Status == StatusUnreachable || o.Status == StatusIneligible
}

// Row is a flagged HealthRecord joined with display metadata and tagged with
// its source schema.
type Row struct {
	Database   string `json:"database"`
	Hostname   string `json:"hostname"`
	BridgeType string `json:"bridgetype"`
	State      string `json:"bridgestate"`
	Comment    string `json:"comment"`
	bridgelog.HealthRecord
}

// PollRow is a poll-failure row tagged with its source schema.
type PollRow struct {
	Database string `json:"database"`
	pollfail.Row
}

type Report struct {
	Rows     []Row
	Outcomes []Outcome
}

type PollReport struct {
	Rows     []PollRow
	Outcomes []Outcome
}

func countStatus(outcomes []Outcome, st Status) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == st {
			n++
		}
	}
	return n
}

func (r Report) Count(st Status) int     { return countStatus(r.Outcomes, st) }
func (r PollReport) Count(st Status) int { return countStatus(r.Outcomes, st) }

type Scanner struct {
	conns    Connector
	analyzer *bridgelog.Analyzer
	query    bridgedb.EventQuery
	log      *slog.Logger
	now      func() time.Time
}

func NewScanner(conns Connector, analyzer *bridgelog.Analyzer, logger *slog.Logger) *Scanner {
	if analyzer == nil {
		analyzer = bridgelog.NewAnalyzer(nil, bridgelog.DefaultThresholds())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		conns:    conns,
		analyzer: analyzer,
		query:    bridgedb.EventQuery{Limit: bridgedb.DefaultEventLimit, Order: bridgedb.OrderAscending},
		log:      logger,
		now:      time.Now,
	}
}

// WithQuery sets the event fetch limit and order used for every source.
func (s *Scanner) WithQuery(q bridgedb.EventQuery) *Scanner {
	s.query = q
	return s
}

// WithClock overrides the clock used for poll recency and timings.
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	if now != nil {
		s.now = now
	}
	return s
}

// Scan analyzes sources one at a time. A source that cannot be reached, lacks
// the event table or fails mid-read is recorded in Outcomes and skipped; it
// never aborts the scan. Rows are ordered by restarts in window, then max gap,
// both descending.
func (s *Scanner) Scan(ctx context.Context, sources []Source) Report {
	rep := Report{Rows: make([]Row, 0), Outcomes: make([]Outcome, 0, len(sources))}
	for _, src := range sources {
		rows, out := s.ScanSource(ctx, src)
		rep.Rows = append(rep.Rows, rows...)
		rep.Outcomes = append(rep.Outcomes, out)
	}
	SortRows(rep.Rows)
	return rep
}

// ScanSource analyzes every bridge of one source and returns the flagged rows.
func (s *Scanner) ScanSource(ctx context.Context, src Source) (rows []Row, out Outcome) {
	start := s.now()
	out = Outcome{Source: src}
	defer func() { out.Elapsed = s.now().Sub(start) }()

	err := s.withSource(ctx, src, bridgedb.EventTable, func(repo *bridgedb.Repository) error {
		events, err := repo.Events(ctx, s.query)
		if err != nil {
			return err
		}

		// metadata is optional for the health scan; rows keep empty display fields without it
		var meta map[int64]bridgelog.Bridge
		if err := repo.Probe(ctx, bridgedb.MetadataTable); err == nil {
			bridges, err := repo.Bridges(ctx)
			if err != nil {
				s.log.Warn("bridge metadata unavailable", "source", src.String(), "err", err)
			} else {
				meta = bridgedb.BridgeIndex(bridges)
			}
		}

		order, groups := bridgelog.GroupByBridge(events)
		out.Bridges = len(order)
		for _, id := range order {
			rec := s.analyzer.Analyze(id, groups[id])
			if !rec.Flagged {
				continue
			}
			row := Row{Database: src.Schema, HealthRecord: rec}
			if b, ok := meta[id]; ok {
				row.Hostname = b.Hostname
				row.BridgeType = b.BridgeType
				row.State = b.State
				row.Comment = b.Comment
				row.PollFailPercent = pollfail.Percent(b.PollingCount, b.PollFailureCount)
			}
			rows = append(rows, row)
		}
		return nil
	})
	s.settle(&out, err)
	out.Rows = len(rows)
	if err != nil {
		return nil, out
	}
	SortRows(rows)
	return rows, out
}

// PollScan runs the poll-failure evaluation over every source.
func (s *Scanner) PollScan(ctx context.Context, sources []Source, c pollfail.Criteria) PollReport {
	return s.bridgeScan(ctx, sources, func(bridges []bridgelog.Bridge) []pollfail.Row {
		return pollfail.Evaluate(bridges, c, s.now())
	})
}

// PollSource evaluates poll failures for one source.
func (s *Scanner) PollSource(ctx context.Context, src Source, c pollfail.Criteria) ([]PollRow, Outcome) {
	return s.bridgeSource(ctx, src, func(bridges []bridgelog.Bridge) []pollfail.Row {
		return pollfail.Evaluate(bridges, c, s.now())
	})
}

// OpenRecentScan collects bridges that are OPEN or changed within days.
func (s *Scanner) OpenRecentScan(ctx context.Context, sources []Source, days int) PollReport {
	return s.bridgeScan(ctx, sources, func(bridges []bridgelog.Bridge) []pollfail.Row {
		return pollfail.OpenOrRecent(bridges, days, s.now())
	})
}

// Bridges reads the metadata table of one source.
func (s *Scanner) Bridges(ctx context.Context, src Source) ([]bridgelog.Bridge, error) {
	var out []bridgelog.Bridge
	err := s.withSource(ctx, src, bridgedb.MetadataTable, func(repo *bridgedb.Repository) error {
		var err error
		out, err = repo.Bridges(ctx)
		return err
	})
	return out, err
}

// Restarts decodes the newest reconnect frames of one bridge.
func (s *Scanner) Restarts(ctx context.Context, src Source, bridgeID int64, limit int) ([]bridgelog.RestartDetail, error) {
	var out []bridgelog.RestartDetail
	err := s.withSource(ctx, src, bridgedb.EventTable, func(repo *bridgedb.Repository) error {
		events, err := repo.RestartFrames(ctx, bridgeID, limit)
		if err != nil {
			return err
		}
		out = make([]bridgelog.RestartDetail, 0, len(events))
		for _, ev := range events {
			if d, ok := bridgelog.ParseRestartFrame(ev); ok {
				out = append(out, d)
			}
		}
		return nil
	})
	return out, err
}

type bridgeFilter func([]bridgelog.Bridge) []pollfail.Row

func (s *Scanner) bridgeScan(ctx context.Context, sources []Source, filter bridgeFilter) PollReport {
	rep := PollReport{Rows: make([]PollRow, 0), Outcomes: make([]Outcome, 0, len(sources))}
	for _, src := range sources {
		rows, out := s.bridgeSource(ctx, src, filter)
		rep.Rows = append(rep.Rows, rows...)
		rep.Outcomes = append(rep.Outcomes, out)
	}
	sort.SliceStable(rep.Rows, func(i, j int) bool {
		return rep.Rows[i].PollFailPercent > rep.Rows[j].PollFailPercent
	})
	return rep
}

func (s *Scanner) bridgeSource(ctx context.Context, src Source, filter bridgeFilter) (rows []PollRow, out Outcome) {
	start := s.now()
	out = Outcome{Source: src}
	defer func() { out.Elapsed = s.now().Sub(start) }()

	err := s.withSource(ctx, src, bridgedb.MetadataTable, func(repo *bridgedb.Repository) error {
		bridges, err := repo.Bridges(ctx)
		if err != nil {
			return err
		}
		out.Bridges = len(bridges)
		for _, r := range filter(bridges) {
			rows = append(rows, PollRow{Database: src.Schema, Row: r})
		}
		return nil
	})
	s.settle(&out, err)
	out.Rows = len(rows)
	if err != nil {
		return nil, out
	}
	return rows, out
}

// withSource opens src, verifies table is readable and runs fn. The
// connection is released on every path.
func (s *Scanner) withSource(ctx context.Context, src Source, table string, fn func(*bridgedb.Repository) error) error {
	conn, err := s.conns.ConnectPreferring(ctx, src.Host, src.Schema)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			s.log.Debug("close connection", "source", src.String(), "err", cerr)
		}
	}()

	repo := bridgedb.New(conn.DB)
	if err := repo.Probe(ctx, table); err != nil {
		return &IneligibleError{Source: src, Table: table, Err: err}
	}
	if err := fn(repo); err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}
	return nil
}

func (s *Scanner) settle(out *Outcome, err error) {
	out.Err = err
	switch {
	case err == nil:
		out.Status = StatusScanned
	case errors.Is(err, dbconn.ErrUnavailable):
		out.Status = StatusUnreachable
		s.log.Info("skipping source: cannot connect", "source", out.Source.String())
	case errors.Is(err, ErrSchemaIneligible):
		out.Status = StatusIneligible
		s.log.Debug("skipping source: schema ineligible", "source", out.Source.String(), "err", err)
	default:
		out.Status = StatusFailed
		s.log.Warn("source failed", "source", out.Source.String(), "err", err)
	}
}

// SortRows orders rows by RestartsInWindow then MaxGapMinutes, both
// descending. Equal keys keep their relative order.
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].RestartsInWindow != rows[j].RestartsInWindow {
			return rows[i].RestartsInWindow > rows[j].RestartsInWindow
		}
		return rows[i].MaxGapMinutes > rows[j].MaxGapMinutes
	})
}

// HighPollFailure returns the rows whose poll failure percentage exceeds
// percent, in input order.
func HighPollFailure(rows []Row, percent float64) []Row {
	out := make([]Row, 0)
	for _, r := range rows {
		if r.PollFailPercent > percent {
			out = append(out, r)
		}
	}
	return out
}
