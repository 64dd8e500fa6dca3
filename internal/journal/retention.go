package journal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type RetentionConfig struct {
	// KeepDays drops runs started more than this many days ago; 0 disables.
	KeepDays int `mapstructure:"keep_days"`
	// KeepRuns keeps only the newest runs; 0 disables.
	KeepRuns  int           `mapstructure:"keep_runs"`
	BatchRows int           `mapstructure:"batch_rows"`
	IdleSleep time.Duration `mapstructure:"idle_sleep"`
	// Workers runs the prune tasks concurrently. SQLite serializes writers,
	// so more than one mostly adds lock waits.
	Workers int `mapstructure:"workers"`
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.BatchRows <= 0 {
		c.BatchRows = 500
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c
}

// Pruner is the subset of *storage.Storage retention deletes through.
type Pruner interface {
	DeleteScanRunsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
	DeleteScanRunsBeyondLimited(ctx context.Context, keep int, limit int) (int64, error)
}

type Retention struct {
	cfg   RetentionConfig
	store Pruner
}

func NewRetention(cfg RetentionConfig, store Pruner) (*Retention, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	return &Retention{cfg: cfg.withDefaults(), store: store}, nil
}

// RunOnce prunes by age and by count, and returns how many runs went.
func (r *Retention) RunOnce(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var deleted atomic.Int64
	var tasks []func(context.Context) error

	if r.cfg.KeepDays > 0 {
		cut := now.AddDate(0, 0, -r.cfg.KeepDays)
		tasks = append(tasks, func(ctx context.Context) error {
			return r.drain(ctx, &deleted, func(ctx context.Context) (int64, error) {
				return r.store.DeleteScanRunsBeforeLimited(ctx, cut, r.cfg.BatchRows)
			})
		})
	}
	if r.cfg.KeepRuns > 0 {
		tasks = append(tasks, func(ctx context.Context) error {
			return r.drain(ctx, &deleted, func(ctx context.Context) (int64, error) {
				return r.store.DeleteScanRunsBeyondLimited(ctx, r.cfg.KeepRuns, r.cfg.BatchRows)
			})
		})
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	workers := r.cfg.Workers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	jobs := make(chan func(context.Context) error)
	errs := make(chan error, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
					errs <- err
				}
			}
		}()
	}

	for _, t := range tasks {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			close(errs)
			return deleted.Load(), ctx.Err()
		case jobs <- t:
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return deleted.Load(), err
		}
	}
	return deleted.Load(), nil
}

// drain repeats one limited delete until it removes nothing.
func (r *Retention) drain(ctx context.Context, total *atomic.Int64, step func(context.Context) (int64, error)) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		affected, err := step(ctx)
		if err != nil {
			return err
		}
		total.Add(affected)
		if affected == 0 {
			return nil
		}
		if err := r.sleepIdle(ctx); err != nil {
			return err
		}
	}
}

func (r *Retention) sleepIdle(ctx context.Context) error {
	if r.cfg.IdleSleep <= 0 {
		return nil
	}
	timer := time.NewTimer(r.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
