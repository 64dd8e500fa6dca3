package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestManagerRunsJobsUntilStopped(t *testing.T) {
	var scans, polls atomic.Int32
	m := NewManager(false, quiet()).
		Add(Job{Name: "all", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			scans.Add(1)
			return nil
		}}).
		Add(Job{Name: "pollall", Interval: time.Hour, Run: func(context.Context) error {
			polls.Add(1)
			return nil
		}})

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool { return scans.Load() >= 3 }, 2*time.Second, time.Millisecond)
	m.Stop()
	require.NoError(t, m.Wait())

	assert.Equal(t, int32(1), polls.Load(), "runs once at start, then waits for its tick")
	assert.Error(t, m.Start(context.Background()), "second start")
}

func TestManagerKeepsGoingOnError(t *testing.T) {
	var calls atomic.Int32
	var reported atomic.Int32
	m := NewManager(false, quiet()).
		Add(Job{Name: "all", Interval: time.Millisecond, Run: func(context.Context) error {
			calls.Add(1)
			return errors.New("schema listing failed")
		}}).
		OnError(func(job string, err error) {
			assert.Equal(t, "all", job)
			reported.Add(1)
		})

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool { return reported.Load() >= 2 }, 2*time.Second, time.Millisecond)
	m.Stop()
	assert.NoError(t, m.Wait())
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestManagerStopOnError(t *testing.T) {
	boom := errors.New("boom")
	var other atomic.Int32
	m := NewManager(true, quiet()).
		Add(Job{Name: "all", Interval: time.Millisecond, Run: func(context.Context) error { return boom }}).
		Add(Job{Name: "pollall", Interval: time.Hour, Run: func(context.Context) error {
			other.Add(1)
			return nil
		}})

	require.NoError(t, m.Start(context.Background()))
	err := m.Wait()
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "all")
}

func TestManagerParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(true, quiet()).
		Add(Job{Name: "all", Interval: time.Hour, Run: func(ctx context.Context) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}})
	require.NoError(t, m.Start(ctx))
	assert.NoError(t, m.Wait(), "cancellation is not a job failure")
}

func TestManagerRejectsBadJobs(t *testing.T) {
	assert.Error(t, NewManager(false, nil).Start(context.Background()))
	assert.Error(t, NewManager(false, nil).Add(Job{Name: "x"}).Start(context.Background()))

	var m *Manager
	assert.Error(t, m.Start(context.Background()))
	assert.NoError(t, m.Wait())
	m.Stop()
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Interval: time.Minute, PollInterval: -1}.Validate())
}
