package storage

import "time"

const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ScanRun records one invocation of a scan command. It is a local journal of
// what was checked and when; the remote schemas stay the only source of
// health data.
type ScanRun struct {
	ID uint64 `gorm:"primaryKey"`
	// TraceID ties the run to its log lines and published summary.
	TraceID string `gorm:"size:64;index"`
	// Action is the command name, e.g. all, pollall, export-customers.
	Action string `gorm:"size:64;not null;index"`
	// ParamsJSON holds thresholds and flags as given.
	ParamsJSON string `gorm:"type:text"`
	Status     string `gorm:"size:32;not null;index"`

	Sources int `gorm:"not null;default:0"`
	Scanned int `gorm:"not null;default:0"`
	Skipped int `gorm:"not null;default:0"`
	Failed  int `gorm:"not null;default:0"`
	Flagged int `gorm:"not null;default:0"`

	ErrorMessage string    `gorm:"type:text"`
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   time.Time `gorm:"index"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime;index"`
}

// SourceOutcome is what happened to a single schema within a run.
type SourceOutcome struct {
	ID           uint64 `gorm:"primaryKey"`
	RunID        uint64 `gorm:"not null;index"`
	Host         string `gorm:"size:255"`
	Schema       string `gorm:"size:255;not null;index"`
	Status       string `gorm:"size:32;not null"`
	Rows         int    `gorm:"not null;default:0"`
	ErrorMessage string `gorm:"type:text"`
	ElapsedMS    int64
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
}
