// Package watch runs scan jobs on a fixed interval until stopped.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	// Interval between full health scans.
	Interval time.Duration `mapstructure:"interval"`
	// PollInterval between poll failure scans. Zero disables them.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// StopOnError ends the watch at the first failing job instead of logging
	// and waiting for the next tick.
	StopOnError bool `mapstructure:"stop_on_error"`
}

func DefaultConfig() Config {
	return Config{Interval: 15 * time.Minute}
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("watch.interval must be > 0")
	}
	if c.PollInterval < 0 {
		return errors.New("watch.poll_interval must be >= 0")
	}
	return nil
}

// Job is one periodic task. Run is called once at start and then on every
// tick; a slow run delays the next tick instead of overlapping it.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type ErrorHandler func(job string, err error)

type Manager struct {
	jobs        []Job
	stopOnError bool
	onError     ErrorHandler
	log         *slog.Logger

	started atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	runErrMu sync.Mutex
	runErr   error
}

func NewManager(stopOnError bool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{stopOnError: stopOnError, log: logger}
}

func (m *Manager) Add(job Job) *Manager {
	if m == nil {
		return nil
	}
	m.jobs = append(m.jobs, job)
	return m
}

// OnError is called for every failed run, also when the manager keeps going.
func (m *Manager) OnError(fn ErrorHandler) *Manager {
	if m == nil {
		return nil
	}
	m.onError = fn
	return m
}

func (m *Manager) Start(ctx context.Context) error {
	if m == nil {
		return errors.New("manager is nil")
	}
	if len(m.jobs) == 0 {
		return errors.New("no jobs to run")
	}
	for _, j := range m.jobs {
		if j.Run == nil || j.Interval <= 0 {
			return fmt.Errorf("job %q needs a run function and a positive interval", j.Name)
		}
	}
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("manager already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, j := range m.jobs {
		m.wg.Add(1)
		go func(j Job) {
			defer m.wg.Done()
			m.loop(runCtx, j)
		}(j)
	}
	return nil
}

func (m *Manager) loop(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		if !m.runOnce(ctx, j) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runOnce reports whether the loop should continue.
func (m *Manager) runOnce(ctx context.Context, j Job) bool {
	start := time.Now()
	err := j.Run(ctx)
	if ctx.Err() != nil {
		return false
	}
	if err == nil {
		m.log.Debug("watch job done", "job", j.Name, "elapsed", time.Since(start))
		return true
	}

	m.log.Warn("watch job failed", "job", j.Name, "err", err)
	if m.onError != nil {
		m.onError(j.Name, err)
	}
	if !m.stopOnError {
		return true
	}
	m.runErrMu.Lock()
	if m.runErr == nil {
		m.runErr = fmt.Errorf("%s: %w", j.Name, err)
	}
	m.runErrMu.Unlock()
	m.cancel()
	return false
}

func (m *Manager) Stop() {
	if m == nil || m.cancel == nil {
		return
	}
	m.cancel()
}

// Wait blocks until every job loop has returned and yields the error that
// stopped the manager, if any.
func (m *Manager) Wait() error {
	if m == nil {
		return nil
	}
	m.wg.Wait()
	m.runErrMu.Lock()
	defer m.runErrMu.Unlock()
	return m.runErr
}
