package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	defaultLimit = 200
	maxLimit     = 5000

	defaultDeleteLimit = 500
	maxDeleteLimit     = 900
)

var errNotInitialized = errors.New("storage not initialized")

func (s *Storage) InsertScanRun(ctx context.Context, run *ScanRun) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if run == nil {
		return errors.New("scan run is nil")
	}
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("insert scan run: %w", err)
	}
	return nil
}

// RunUpdate carries the fields written when a run finishes. Nil fields are
// left as they are.
type RunUpdate struct {
	Status       *string
	Sources      *int
	Scanned      *int
	Skipped      *int
	Failed       *int
	Flagged      *int
	ErrorMessage *string
	FinishedAt   *time.Time
}

func (s *Storage) UpdateScanRun(ctx context.Context, id uint64, up RunUpdate) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}

	updates := make(map[string]interface{})
	if up.Status != nil {
		updates["status"] = *up.Status
	}
	if up.Sources != nil {
		updates["sources"] = *up.Sources
	}
	if up.Scanned != nil {
		updates["scanned"] = *up.Scanned
	}
	if up.Skipped != nil {
		updates["skipped"] = *up.Skipped
	}
	if up.Failed != nil {
		updates["failed"] = *up.Failed
	}
	if up.Flagged != nil {
		updates["flagged"] = *up.Flagged
	}
	if up.ErrorMessage != nil {
		updates["error_message"] = *up.ErrorMessage
	}
	if up.FinishedAt != nil {
		updates["finished_at"] = *up.FinishedAt
	}
	if len(updates) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&ScanRun{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update scan run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gormNotFoundError("scan run", id)
	}
	return nil
}

func (s *Storage) InsertSourceOutcomes(ctx context.Context, outcomes []SourceOutcome) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if len(outcomes) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(outcomes, 200).Error; err != nil {
		return fmt.Errorf("insert source outcomes: %w", err)
	}
	return nil
}

type RunQuery struct {
	TraceID string
	Action  string
	Status  string
	// From/To filter StartedAt, both ends inclusive.
	From  *time.Time
	To    *time.Time
	Limit int
	Desc  bool
}

func (s *Storage) QueryScanRuns(ctx context.Context, q RunQuery) ([]ScanRun, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	limit := normalizeLimit(q.Limit)
	db := s.db.WithContext(ctx).Model(&ScanRun{})
	if q.TraceID != "" {
		db = db.Where("trace_id = ?", q.TraceID)
	}
	if q.Action != "" {
		db = db.Where("action = ?", q.Action)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.From != nil {
		db = db.Where("started_at >= ?", *q.From)
	}
	if q.To != nil {
		db = db.Where("started_at <= ?", *q.To)
	}
	if q.Desc {
		db = db.Order("started_at DESC").Order("id DESC")
	} else {
		db = db.Order("started_at ASC").Order("id ASC")
	}
	db = db.Limit(limit)

	var out []ScanRun
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query scan runs: %w", err)
	}
	return out, nil
}

func (s *Storage) QuerySourceOutcomes(ctx context.Context, runID uint64) ([]SourceOutcome, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var out []SourceOutcome
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query source outcomes: %w", err)
	}
	return out, nil
}

// DeleteScanRunsBeforeLimited removes at most limit runs started before the
// cutoff, together with their outcomes.
func (s *Storage) DeleteScanRunsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}

	var ids []uint64
	db := s.db.WithContext(ctx).Model(&ScanRun{}).
		Select("id").
		Where("started_at < ?", before).
		Order("id ASC").
		Limit(normalizeDeleteLimit(limit))
	if err := db.Find(&ids).Error; err != nil {
		return 0, fmt.Errorf("select scan run ids: %w", err)
	}
	return s.deleteRuns(ctx, ids)
}

// DeleteScanRunsBeyondLimited keeps the newest keep runs and removes at most
// limit of the older ones.
func (s *Storage) DeleteScanRunsBeyondLimited(ctx context.Context, keep int, limit int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	if keep < 0 {
		keep = 0
	}

	var ids []uint64
	db := s.db.WithContext(ctx).Model(&ScanRun{}).
		Select("id").
		Order("started_at DESC").
		Order("id DESC").
		Offset(keep).
		Limit(normalizeDeleteLimit(limit))
	if err := db.Find(&ids).Error; err != nil {
		return 0, fmt.Errorf("select scan run ids: %w", err)
	}
	return s.deleteRuns(ctx, ids)
}

func (s *Storage) deleteRuns(ctx context.Context, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id IN ?", ids).Delete(&SourceOutcome{}).Error; err != nil {
			return fmt.Errorf("delete source outcomes: %w", err)
		}
		res := tx.Where("id IN ?", ids).Delete(&ScanRun{})
		if res.Error != nil {
			return fmt.Errorf("delete scan runs: %w", res.Error)
		}
		affected = res.RowsAffected
		return nil
	})
	return affected, err
}

func normalizeLimit(v int) int {
	if v <= 0 {
		return defaultLimit
	}
	if v > maxLimit {
		return maxLimit
	}
	return v
}

func normalizeDeleteLimit(v int) int {
	if v <= 0 {
		return defaultDeleteLimit
	}
	if v > maxDeleteLimit {
		return maxDeleteLimit
	}
	return v
}

type notFoundError struct {
	Entity string
	ID     uint64
}

func (e notFoundError) Error() string {
	return fmt.Sprintf("%s not found: %d", e.Entity, e.ID)
}

func gormNotFoundError(entity string, id uint64) error {
	return notFoundError{Entity: entity, ID: id}
}
