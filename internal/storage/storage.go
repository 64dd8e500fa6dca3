// Package storage is the local SQLite scan journal.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultBusyTimeout = 5 * time.Second

// Config locates the journal. Several commands may hold it open at once
// (watch runs health and poll jobs side by side), so every pooled connection
// waits BusyTimeout for the write lock instead of failing with SQLITE_BUSY.
type Config struct {
	Path string `mapstructure:"path"`
	// InMemory keeps the journal in a single private connection; tests only.
	InMemory     bool          `mapstructure:"in_memory"`
	EnableWAL    bool          `mapstructure:"enable_wal"`
	BusyTimeout  time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
}

type Storage struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

func Open(ctx context.Context, cfg Config) (*Storage, error) {
	dsn, err := journalDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", cfg.Path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("journal sql db: %w", err)
	}

	switch {
	case cfg.InMemory:
		// each connection to :memory: is its own database
		sqlDB.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	s := &Storage{db: db, sqlDB: sqlDB}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// journalDSN puts the pragmas on the DSN so the driver applies them to every
// new connection, not only the first one.
func journalDSN(cfg Config) (string, error) {
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = defaultBusyTimeout
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", timeout.Milliseconds()))

	if cfg.InMemory {
		return "file::memory:?" + q.Encode(), nil
	}
	if cfg.Path == "" {
		return "", errors.New("storage.path is required")
	}
	if cfg.EnableWAL {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	return "file:" + cfg.Path + "?" + q.Encode(), nil
}

func (s *Storage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Storage) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&ScanRun{}, &SourceOutcome{}); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

// pragma reads one connection setting; used to check what the driver applied.
func (s *Storage) pragma(ctx context.Context, name string) (string, error) {
	if s == nil || s.db == nil {
		return "", errNotInitialized
	}
	var v string
	if err := s.db.WithContext(ctx).Raw("PRAGMA " + name).Row().Scan(&v); err != nil {
		return "", fmt.Errorf("pragma %s: %w", name, err)
	}
	return v, nil
}
