package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/icysupport/bridgewatch/internal/bridgedb"
	"github.com/icysupport/bridgewatch/internal/bridgelog"
	"github.com/icysupport/bridgewatch/internal/bulk"
	"github.com/icysupport/bridgewatch/internal/dbconn"
	"github.com/icysupport/bridgewatch/internal/eventbus"
	"github.com/icysupport/bridgewatch/internal/export"
	"github.com/icysupport/bridgewatch/internal/journal"
	"github.com/icysupport/bridgewatch/internal/pollfail"
	"github.com/icysupport/bridgewatch/internal/storage"
	"github.com/icysupport/bridgewatch/internal/watch"
)

type AnalysisConfig struct {
	GapMinutes             float64 `mapstructure:"gap_minutes"`
	RestartThreshold       int     `mapstructure:"restart_threshold"`
	Limit                  int     `mapstructure:"limit"`
	FetchOrder             string  `mapstructure:"fetch_order"`
	MinRestartDays         int     `mapstructure:"min_restart_days"`
	WindowDays             int     `mapstructure:"window_days"`
	RestartWindowThreshold int     `mapstructure:"restart_window_threshold"`
	RestartPattern         string  `mapstructure:"restart_pattern"`
	ActivityPattern        string  `mapstructure:"activity_pattern"`
	// Timezone buckets events into calendar days. Empty or Local uses the
	// machine zone, which is what the event timestamps are written in.
	Timezone string `mapstructure:"timezone"`
}

func (a AnalysisConfig) Thresholds() bridgelog.Thresholds {
	return bridgelog.Thresholds{
		GapMinutes:             a.GapMinutes,
		RestartDayThreshold:    a.RestartThreshold,
		WindowDays:             a.WindowDays,
		RestartWindowThreshold: a.RestartWindowThreshold,
		MinRestartDays:         a.MinRestartDays,
	}
}

func (a AnalysisConfig) Location() (*time.Location, error) {
	if a.Timezone == "" || strings.EqualFold(a.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(a.Timezone)
}

type PollConfig struct {
	Threshold  int64 `mapstructure:"threshold"`
	RecentDays int   `mapstructure:"recent_days"`
	// ReportPercent is the poll failure percentage above which flagged
	// bridges get their own listing after analyze.
	ReportPercent float64 `mapstructure:"report_percent"`
}

func (p PollConfig) Criteria() pollfail.Criteria {
	return pollfail.Criteria{Threshold: p.Threshold, RecencyDays: p.RecentDays}
}

type ExportConfig struct {
	Dir         string `mapstructure:"dir"`
	Formats     string `mapstructure:"formats"`
	MaxRetries  int    `mapstructure:"max_retries"`
	Interactive bool   `mapstructure:"interactive"`
}

type BulkConfig struct {
	Workers       int          `mapstructure:"workers"`
	CustomersFile string       `mapstructure:"customers_file"`
	Dir           string       `mapstructure:"dir"`
	Queries       []bulk.Query `mapstructure:"queries"`
}

func (b BulkConfig) Runner() bulk.Config {
	return bulk.Config{Workers: b.Workers, Dir: b.Dir, Queries: b.Queries}
}

type Config struct {
	LogLevel  string                  `mapstructure:"log_level"`
	DB        dbconn.Config           `mapstructure:"db"`
	Analysis  AnalysisConfig          `mapstructure:"analysis"`
	Poll      PollConfig              `mapstructure:"poll"`
	Export    ExportConfig            `mapstructure:"export"`
	Bulk      BulkConfig              `mapstructure:"bulk"`
	Storage   storage.Config          `mapstructure:"storage"`
	Retention journal.RetentionConfig `mapstructure:"retention"`
	NATS      eventbus.Config         `mapstructure:"nats"`
	Watch     watch.Config            `mapstructure:"watch"`
}

// envFiles are tried in order; the first one found wins. Variables already
// in the environment are never overridden.
var envFiles = []string{".env", "../.env"}

func Load(cfgFile string) (*Config, error) {
	loadDotEnv()

	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.bridgewatch")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("BRIDGEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.DB.Hosts) == 0 {
		cfg.DB.Hosts = legacyHosts()
	}
	cfg.DB.Hosts = compact(cfg.DB.Hosts)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv() {
	for _, path := range envFiles {
		if err := godotenv.Load(path); err == nil {
			return
		}
	}
}

// bindLegacyEnv lets the variable names of the older scripts keep working
// next to the BRIDGEWATCH_ ones.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("db.user", "BRIDGEWATCH_DB_USER", "DB_USER")
	_ = v.BindEnv("db.password", "BRIDGEWATCH_DB_PASSWORD", "DB_PASSWORD")
	_ = v.BindEnv("nats.url", "BRIDGEWATCH_NATS_URL", "NATS_URL")
}

// legacyHosts reads DB_HOST then DB_HOST2, the primary and secondary host.
func legacyHosts() []string {
	var hosts []string
	for _, k := range []string{"DB_HOST", "DB_HOST2"} {
		if h := strings.TrimSpace(os.Getenv(k)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func compact(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	seen := make(map[string]bool)
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// Validate checks everything that does not need a database. Commands that
// connect also call RequireDatabase.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	if err := c.Analysis.Validate(); err != nil {
		return err
	}
	if c.Poll.Threshold < 0 {
		return errors.New("poll.threshold must be >= 0")
	}
	if c.Poll.RecentDays < 0 {
		return errors.New("poll.recent_days must be >= 0")
	}
	if c.Poll.ReportPercent < 0 {
		return errors.New("poll.report_percent must be >= 0")
	}
	if _, err := export.ParseFormats(c.Export.Formats); err != nil {
		return fmt.Errorf("export.formats: %w", err)
	}
	if c.Export.MaxRetries < 0 {
		return errors.New("export.max_retries must be >= 0")
	}
	if c.Bulk.Workers < 0 || c.Bulk.Workers > bulk.MaxWorkers {
		return fmt.Errorf("bulk.workers must be between 1 and %d", bulk.MaxWorkers)
	}
	if c.Retention.KeepDays < 0 || c.Retention.KeepRuns < 0 {
		return errors.New("retention.keep_days and retention.keep_runs must be >= 0")
	}
	if c.Storage.BusyTimeout < 0 || c.Storage.MaxOpenConns < 0 {
		return errors.New("storage.busy_timeout and storage.max_open_conns must be >= 0")
	}
	if err := c.Watch.Validate(); err != nil {
		return err
	}
	return nil
}

func (a AnalysisConfig) Validate() error {
	if a.GapMinutes <= 0 {
		return errors.New("analysis.gap_minutes must be > 0")
	}
	if a.RestartThreshold < 1 {
		return errors.New("analysis.restart_threshold must be >= 1")
	}
	if a.Limit < 1 || a.Limit > bridgedb.MaxEventLimit {
		return fmt.Errorf("analysis.limit must be between 1 and %d", bridgedb.MaxEventLimit)
	}
	if a.MinRestartDays < 0 {
		return errors.New("analysis.min_restart_days must be >= 0")
	}
	if a.WindowDays < 0 {
		return errors.New("analysis.window_days must be >= 0")
	}
	if a.RestartWindowThreshold < 0 {
		return errors.New("analysis.restart_window_threshold must be >= 0")
	}
	if _, err := bridgedb.ParseFetchOrder(a.FetchOrder); err != nil {
		return fmt.Errorf("analysis.fetch_order: %w", err)
	}
	if _, err := bridgelog.NewClassifier(a.RestartPattern, a.ActivityPattern); err != nil {
		return fmt.Errorf("analysis patterns: %w", err)
	}
	if _, err := a.Location(); err != nil {
		return fmt.Errorf("analysis.timezone: %w", err)
	}
	return nil
}

// RequireDatabase checks the connection settings.
func (c *Config) RequireDatabase() error {
	switch c.DB.Driver {
	case dbconn.DriverMySQL, dbconn.DriverSQLite:
	default:
		return fmt.Errorf("db.driver must be %s or %s (got %q)", dbconn.DriverMySQL, dbconn.DriverSQLite, c.DB.Driver)
	}
	if len(c.DB.Hosts) == 0 {
		return errors.New("db.hosts is required (or set DB_HOST / DB_HOST2)")
	}
	if c.DB.Driver == dbconn.DriverMySQL && c.DB.User == "" {
		return errors.New("db.user is required (or set DB_USER)")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("db.driver", d.DB.Driver)
	v.SetDefault("db.hosts", []string{})
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.max_attempts", d.DB.MaxAttempts)
	v.SetDefault("db.retry_delay", d.DB.RetryDelay)
	v.SetDefault("db.connect_timeout", d.DB.ConnectTimeout)
	v.SetDefault("db.include_system", d.DB.IncludeSystem)

	v.SetDefault("analysis.gap_minutes", d.Analysis.GapMinutes)
	v.SetDefault("analysis.restart_threshold", d.Analysis.RestartThreshold)
	v.SetDefault("analysis.limit", d.Analysis.Limit)
	v.SetDefault("analysis.fetch_order", d.Analysis.FetchOrder)
	v.SetDefault("analysis.min_restart_days", d.Analysis.MinRestartDays)
	v.SetDefault("analysis.window_days", d.Analysis.WindowDays)
	v.SetDefault("analysis.restart_window_threshold", d.Analysis.RestartWindowThreshold)
	v.SetDefault("analysis.restart_pattern", d.Analysis.RestartPattern)
	v.SetDefault("analysis.activity_pattern", d.Analysis.ActivityPattern)
	v.SetDefault("analysis.timezone", d.Analysis.Timezone)

	v.SetDefault("poll.threshold", d.Poll.Threshold)
	v.SetDefault("poll.recent_days", d.Poll.RecentDays)
	v.SetDefault("poll.report_percent", d.Poll.ReportPercent)

	v.SetDefault("export.dir", d.Export.Dir)
	v.SetDefault("export.formats", d.Export.Formats)
	v.SetDefault("export.max_retries", d.Export.MaxRetries)
	v.SetDefault("export.interactive", d.Export.Interactive)

	v.SetDefault("bulk.workers", d.Bulk.Workers)
	v.SetDefault("bulk.customers_file", d.Bulk.CustomersFile)
	v.SetDefault("bulk.dir", d.Bulk.Dir)

	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.busy_timeout", d.Storage.BusyTimeout)
	v.SetDefault("storage.enable_wal", d.Storage.EnableWAL)
	v.SetDefault("storage.max_open_conns", d.Storage.MaxOpenConns)

	v.SetDefault("retention.keep_days", d.Retention.KeepDays)
	v.SetDefault("retention.keep_runs", d.Retention.KeepRuns)
	v.SetDefault("retention.batch_rows", d.Retention.BatchRows)
	v.SetDefault("retention.idle_sleep", d.Retention.IdleSleep)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", d.NATS.Subject)

	v.SetDefault("watch.interval", d.Watch.Interval)
	v.SetDefault("watch.poll_interval", d.Watch.PollInterval)
	v.SetDefault("watch.stop_on_error", d.Watch.StopOnError)
}

func DefaultConfig() Config {
	th := bridgelog.DefaultThresholds()
	crit := pollfail.DefaultCriteria()
	return Config{
		LogLevel: "info",
		DB:       dbconn.DefaultConfig(),
		Analysis: AnalysisConfig{
			GapMinutes:             th.GapMinutes,
			RestartThreshold:       th.RestartDayThreshold,
			Limit:                  bridgedb.DefaultEventLimit,
			FetchOrder:             string(bridgedb.OrderAscending),
			MinRestartDays:         th.MinRestartDays,
			WindowDays:             th.WindowDays,
			RestartWindowThreshold: th.RestartWindowThreshold,
			RestartPattern:         bridgelog.DefaultRestartPattern,
			ActivityPattern:        bridgelog.DefaultActivityPattern,
			Timezone:               "Local",
		},
		Poll: PollConfig{
			Threshold:     crit.Threshold,
			RecentDays:    crit.RecencyDays,
			ReportPercent: 15,
		},
		Export: ExportConfig{
			Dir:        ".",
			Formats:    "xlsx,csv",
			MaxRetries: 3,
		},
		Bulk: BulkConfig{
			Workers:       bulk.MaxWorkers,
			CustomersFile: "klanten.txt",
			Dir:           ".",
		},
		Storage: storage.Config{
			Path:         "bridgewatch.db",
			EnableWAL:    true,
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 4,
		},
		Retention: journal.RetentionConfig{
			KeepDays:  90,
			KeepRuns:  500,
			BatchRows: 500,
		},
		NATS:  eventbus.Config{Subject: eventbus.DefaultSubject},
		Watch: watch.DefaultConfig(),
	}
}
