package bridgedb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/icysupport/bridgewatch/internal/bridgelog"
)

const (
	DefaultEventLimit = 100000
	MaxEventLimit     = 1000000
)

// FetchOrder decides which rows survive the event limit.
type FetchOrder string

const (
	// OrderAscending reads ORDER BY inbridgeid, timestamp ASC with the limit
	// applied last. Under the cap the newest rows of the highest bridge ids
	// are the ones dropped, so very busy fleets under-represent recent activity.
	OrderAscending FetchOrder = "ascending"
	// OrderRecent keeps the most recent Limit rows across all bridges and
	// returns them oldest first.
	OrderRecent FetchOrder = "recent"
)

func ParseFetchOrder(s string) (FetchOrder, error) {
	switch FetchOrder(s) {
	case "", OrderAscending:
		return OrderAscending, nil
	case OrderRecent:
		return OrderRecent, nil
	}
	return "", fmt.Errorf("unknown fetch order %q (ascending|recent)", s)
}

type EventQuery struct {
	// Limit caps the rows read; <=0 uses DefaultEventLimit.
	Limit int
	Order FetchOrder
}

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Probe checks that table exists and is readable.
func (r *Repository) Probe(ctx context.Context, table string) error {
	if r == nil || r.db == nil {
		return errors.New("repository not initialized")
	}
	if table != EventTable && table != MetadataTable {
		return fmt.Errorf("probe: unexpected table %q", table)
	}
	rows, err := r.db.WithContext(ctx).Raw("SELECT 1 FROM " + table + " LIMIT 1").Rows()
	if err != nil {
		return fmt.Errorf("probe %s: %w", table, err)
	}
	return rows.Close()
}

// Events reads communicationlog rows that carry a bridge id.
func (r *Repository) Events(ctx context.Context, q EventQuery) ([]bridgelog.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("repository not initialized")
	}

	limit := normalizeLimit(q.Limit)
	db := r.db.WithContext(ctx).Model(&CommunicationLog{}).Where("inbridgeid IS NOT NULL")
	switch q.Order {
	case OrderRecent:
		db = db.Order("timestamp DESC").Order("communicationlogid DESC")
	default:
		db = db.Order("inbridgeid ASC").Order("timestamp ASC")
	}

	var rows []CommunicationLog
	if err := db.Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query communicationlog: %w", err)
	}

	out := make([]bridgelog.Event, 0, len(rows))
	for _, row := range rows {
		if row.BridgeID == nil {
			continue
		}
		out = append(out, bridgelog.Event{
			ID:        row.ID,
			BridgeID:  *row.BridgeID,
			Timestamp: row.Timestamp,
			Comment:   row.Comment,
		})
	}
	if q.Order == OrderRecent {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Timestamp.Before(out[j].Timestamp)
		})
	}
	return out, nil
}

// RestartFrames returns the newest reconnect frames logged by one bridge,
// newest first.
func (r *Repository) RestartFrames(ctx context.Context, bridgeID int64, limit int) ([]bridgelog.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("repository not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	var rows []CommunicationLog
	err := r.db.WithContext(ctx).
		Where("comment LIKE ?", bridgelog.RestartFramePrefix+strings.Repeat("_", 16)).
		Where("inbridgeid = ?", bridgeID).
		Order("communicationlogid DESC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query restart frames: %w", err)
	}
	out := make([]bridgelog.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, bridgelog.Event{ID: row.ID, BridgeID: bridgeID, Timestamp: row.Timestamp, Comment: row.Comment})
	}
	return out, nil
}

// Bridges reads the full inbridge table ordered by id.
func (r *Repository) Bridges(ctx context.Context) ([]bridgelog.Bridge, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("repository not initialized")
	}
	var rows []InBridge
	if err := r.db.WithContext(ctx).Order("inbridgeid ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query inbridge: %w", err)
	}
	out := make([]bridgelog.Bridge, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToBridge())
	}
	return out, nil
}

// BridgeIndex keys bridges by id.
func BridgeIndex(bridges []bridgelog.Bridge) map[int64]bridgelog.Bridge {
	idx := make(map[int64]bridgelog.Bridge, len(bridges))
	for _, b := range bridges {
		idx[b.BridgeID] = b
	}
	return idx
}

func (b InBridge) ToBridge() bridgelog.Bridge {
	out := bridgelog.Bridge{
		BridgeID:         b.ID,
		Hostname:         deref(b.Hostname),
		BridgeType:       deref(b.BridgeType),
		SWVersion:        deref(b.SWVersion),
		State:            deref(b.State),
		PollingCount:     derefInt(b.Polling),
		PollFailureCount: derefInt(b.PollFailure),
		Comment:          deref(b.Comment),
		ErrorText:        deref(b.ErrorText),
		LocalIP:          deref(b.LocalIP),
	}
	if b.ChangeTimestamp != nil {
		out.LastChanged = *b.ChangeTimestamp
	}
	return out
}

func normalizeLimit(v int) int {
	if v <= 0 {
		return DefaultEventLimit
	}
	if v > MaxEventLimit {
		return MaxEventLimit
	}
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
