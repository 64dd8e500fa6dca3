// Package dbconn resolves an ordered list of candidate hosts plus credentials
// into one live, schema-scoped connection.
package dbconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config is the resolved credential and retry policy. It is built once by
// the config layer and handed to NewManager.
type Config struct {
	Driver         string        `mapstructure:"driver"`
	Hosts          []string      `mapstructure:"hosts"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	IncludeSystem  bool          `mapstructure:"include_system"`
}

func DefaultConfig() Config {
	return Config{
		Driver:         DriverMySQL,
		MaxAttempts:    3,
		RetryDelay:     time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverMySQL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// Dialer opens a handle to one host, optionally scoped to a schema, and
// enumerates schemas through an open connection.
type Dialer interface {
	Dial(ctx context.Context, host, schema string) (*gorm.DB, error)
	Schemas(ctx context.Context, conn *Conn) ([]string, error)
}

// Conn is a verified-live connection. Callers own Close.
type Conn struct {
	Host   string
	Schema string
	DB     *gorm.DB

	sqlDB *sql.DB
}

func (c *Conn) Close() error {
	if c == nil || c.sqlDB == nil {
		return nil
	}
	return c.sqlDB.Close()
}

type Manager struct {
	cfg    Config
	dialer Dialer
	log    *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewManager(cfg Config, dialer Dialer, logger *slog.Logger) (*Manager, error) {
	if dialer == nil {
		return nil, errors.New("dialer is required")
	}
	cfg = cfg.withDefaults()
	if len(cfg.Hosts) == 0 {
		return nil, ErrNoHosts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, dialer: dialer, log: logger, sleep: sleepCtx}, nil
}

// NewManagerFromConfig picks the dialer that matches cfg.Driver.
func NewManagerFromConfig(cfg Config, logger *slog.Logger) (*Manager, error) {
	cfg = cfg.withDefaults()
	var d Dialer
	switch cfg.Driver {
	case DriverMySQL:
		d = &MySQLDialer{User: cfg.User, Password: cfg.Password, Timeout: cfg.ConnectTimeout}
	case DriverSQLite:
		d = &SQLiteDialer{}
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
	return NewManager(cfg, d, logger)
}

func (m *Manager) Config() Config { return m.cfg }

// Connect tries the configured hosts in order.
func (m *Manager) Connect(ctx context.Context, schema string) (*Conn, error) {
	return m.ConnectHosts(ctx, m.cfg.Hosts, schema)
}

// ConnectPreferring tries host first, then the remaining configured hosts.
func (m *Manager) ConnectPreferring(ctx context.Context, host, schema string) (*Conn, error) {
	if host == "" {
		return m.Connect(ctx, schema)
	}
	hosts := []string{host}
	for _, h := range m.cfg.Hosts {
		if h != host {
			hosts = append(hosts, h)
		}
	}
	return m.ConnectHosts(ctx, hosts, schema)
}

// ConnectHosts tries each host up to MaxAttempts times, RetryDelay apart, and
// returns the first connection that answers a ping. An unknown schema ends
// the attempts on that host early.
func (m *Manager) ConnectHosts(ctx context.Context, hosts []string, schema string) (*Conn, error) {
	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}

	var last error
	attempts := 0
	for _, host := range hosts {
		for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
			if attempts > 0 && m.cfg.RetryDelay > 0 {
				if err := m.sleep(ctx, m.cfg.RetryDelay); err != nil {
					return nil, err
				}
			}
			attempts++

			conn, err := m.dialOnce(ctx, host, schema)
			if err == nil {
				m.log.Debug("connected", "host", host, "schema", schema, "attempt", attempt)
				return conn, nil
			}
			last = err
			m.log.Debug("connection attempt failed", "host", host, "schema", schema, "attempt", attempt, "err", err)
			if errors.Is(err, ErrUnknownSchema) {
				break
			}
		}
	}

	uerr := &UnavailableError{Schema: schema, Hosts: hosts, Attempts: attempts, Last: last}
	m.log.Warn("connection unavailable", "schema", schema, "err", uerr)
	return nil, uerr
}

func (m *Manager) dialOnce(ctx context.Context, host, schema string) (*Conn, error) {
	db, err := m.dialer.Dial(ctx, host, schema)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotLive, err)
	}
	return &Conn{Host: host, Schema: schema, DB: db, sqlDB: sqlDB}, nil
}

var systemSchemas = map[string]bool{
	"mysql":              true,
	"information_schema": true,
	"performance_schema": true,
	"sys":                true,
}

// IsSystemSchema reports whether name is one of the server's own schemas.
func IsSystemSchema(name string) bool { return systemSchemas[name] }

// Schemas lists the schemas visible on the first reachable host and returns
// that host alongside them.
func (m *Manager) Schemas(ctx context.Context) ([]string, string, error) {
	conn, err := m.Connect(ctx, "")
	if err != nil {
		return nil, "", err
	}
	defer conn.Close()

	names, err := m.dialer.Schemas(ctx, conn)
	if err != nil {
		return nil, conn.Host, fmt.Errorf("list schemas on %s: %w", conn.Host, err)
	}
	out := names[:0]
	for _, n := range names {
		if !m.cfg.IncludeSystem && IsSystemSchema(n) {
			continue
		}
		out = append(out, n)
	}
	return out, conn.Host, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
