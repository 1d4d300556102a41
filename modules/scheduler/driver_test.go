package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Deepreo/jobsys/core"
	"github.com/Deepreo/jobsys/modules/jobsystem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newDriver(t *testing.T, system core.JobSystem) *Driver {
	t.Helper()
	d, err := NewDriver(system, Config{Interval: 5 * time.Millisecond, Budget: time.Millisecond}, discard)
	require.NoError(t, err)
	d.Start()
	t.Cleanup(func() { _ = d.Shutdown() })
	return d
}

func TestDriver_PumpsJobSystem(t *testing.T) {
	sys, err := jobsystem.Create(jobsystem.DefaultParams(), jobsystem.WithLogger(discard))
	require.NoError(t, err)
	// Cleanups run last-in first-out, so the driver stops before Destroy.
	t.Cleanup(sys.Destroy)

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		h := sys.CreateJob(core.Job{
			Callback: func(core.JobSystem, core.Handle, core.Status, any, any, int32) { done.Add(1) },
		})
		require.NoError(t, sys.PushJob(h))
	}

	newDriver(t, sys)
	assert.Eventually(t, func() bool { return done.Load() == 10 }, 2*time.Second, 5*time.Millisecond)
}

func TestDriver_Every(t *testing.T) {
	d := newDriver(t, nil)

	done := make(chan bool, 1)
	err := d.Every("test-task", 50*time.Millisecond, func(ctx context.Context) error {
		select {
		case done <- true:
		default:
		}
		return nil
	})
	assert.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run in time")
	}

	err = d.Every("test-task", time.Second, func(ctx context.Context) error { return nil })
	assert.Error(t, err, "names are unique")
}

func TestDriver_Cron(t *testing.T) {
	d := newDriver(t, nil)

	done := make(chan bool, 1)
	err := d.Cron("cron-task", "* * * * * *", func(ctx context.Context) error {
		select {
		case done <- true:
		default:
		}
		return nil
	})
	assert.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cron task did not run in time")
	}

	assert.Error(t, d.Cron("bad", "not a cron", func(ctx context.Context) error { return nil }))
}

func TestDriver_Remove(t *testing.T) {
	d := newDriver(t, nil)

	var runs atomic.Int32
	err := d.Every("remove-task", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, d.Remove("remove-task"))

	time.Sleep(30 * time.Millisecond)
	current := runs.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, current, runs.Load(), "task should not run after removal")

	assert.Error(t, d.Remove("remove-task"))
}

func TestDriver_Clear(t *testing.T) {
	d := newDriver(t, nil)

	assert.NoError(t, d.Every("task1", time.Second, func(ctx context.Context) error { return nil }))
	assert.NoError(t, d.Every("task2", time.Second, func(ctx context.Context) error { return nil }))
	assert.ElementsMatch(t, []string{"task1", "task2"}, d.Tasks())

	assert.NoError(t, d.Clear())
	assert.Empty(t, d.Tasks())
	assert.Error(t, d.Remove("task1"), "task should be gone")
}

func TestDriver_Middleware(t *testing.T) {
	d := newDriver(t, nil)

	var middlewareCalled atomic.Bool
	d.Use(func(next core.TaskFunc) core.TaskFunc {
		return func(ctx context.Context) error {
			middlewareCalled.Store(true)
			return next(ctx)
		}
	})

	done := make(chan bool, 1)
	err := d.Every("middleware-task", 50*time.Millisecond, func(ctx context.Context) error {
		select {
		case done <- true:
		default:
		}
		return nil
	})
	assert.NoError(t, err)

	select {
	case <-done:
		assert.True(t, middlewareCalled.Load(), "middleware should have been called")
	case <-time.After(time.Second):
		t.Fatal("task did not run in time")
	}
}

func TestConfig_Validate(t *testing.T) {
	_, err := NewDriver(nil, Config{Interval: -time.Second}, discard)
	assert.Error(t, err)

	cfg := Config{Interval: time.Millisecond, Budget: -1}
	assert.Error(t, cfg.Validate())
}
