package jobsystem_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Deepreo/jobsys/core"
	"github.com/Deepreo/jobsys/modules/jobsystem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var workerCounts = []int{0, 4}

func newSystem(t *testing.T, threads int, mutate ...func(*jobsystem.Params)) *jobsystem.System {
	t.Helper()
	params := jobsystem.DefaultParams()
	params.ThreadCount = threads
	for _, m := range mutate {
		m(&params)
	}
	sys, err := jobsystem.Create(params, jobsystem.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(sys.Destroy)
	return sys
}

// updateUntil drives Update until cond holds.
func updateUntil(t *testing.T, sys *jobsystem.System, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for jobs")
		}
		sys.Update(time.Millisecond)
		if sys.WorkerCount() > 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

func forEachMode(t *testing.T, fn func(t *testing.T, threads int)) {
	for _, threads := range workerCounts {
		t.Run(fmt.Sprintf("workers=%d", threads), func(t *testing.T) {
			fn(t, threads)
		})
	}
}

func TestCreate(t *testing.T) {
	t.Run("worker count", func(t *testing.T) {
		assert.Equal(t, 0, newSystem(t, 0).WorkerCount())
		assert.Equal(t, 4, newSystem(t, 4).WorkerCount())
		assert.Equal(t, jobsystem.MaxThreadCount, newSystem(t, 1000).WorkerCount())
	})

	t.Run("invalid params", func(t *testing.T) {
		params := jobsystem.DefaultParams()
		params.ThreadCount = -1
		_, err := jobsystem.Create(params)
		require.Error(t, err)

		params = jobsystem.DefaultParams()
		params.QueueOrder = "random"
		_, err = jobsystem.Create(params)
		require.Error(t, err)

		params = jobsystem.DefaultParams()
		params.InitialCapacity = 10
		params.MaxCapacity = 5
		_, err = jobsystem.Create(params)
		require.Error(t, err)
	})

	t.Run("ids are unique", func(t *testing.T) {
		assert.NotEqual(t, newSystem(t, 0).ID(), newSystem(t, 0).ID())
	})
}

func TestUserDataAndContext(t *testing.T) {
	forEachMode(t, func(t *testing.T, threads int) {
		sys := newSystem(t, threads)
		ctxValue, dataValue := &struct{ n int }{1}, &struct{ n int }{2}

		var called atomic.Bool
		h := sys.CreateJob(core.Job{
			Process: func(_ context.Context, js core.JobSystem, job core.Handle, userContext, userData any) int32 {
				if userContext == ctxValue && userData == dataValue && js.UserData(job) == dataValue {
					return 1
				}
				return 0
			},
			Callback: func(_ core.JobSystem, _ core.Handle, status core.Status, userContext, userData any, result int32) {
				assert.Equal(t, core.StatusFinished, status)
				assert.Same(t, ctxValue, userContext)
				assert.Same(t, dataValue, userData)
				assert.Equal(t, int32(1), result)
				called.Store(true)
			},
			Context: ctxValue,
			Data:    dataValue,
		})
		require.NotEqual(t, core.InvalidHandle, h)
		assert.Same(t, ctxValue, sys.UserContext(h))
		assert.Same(t, dataValue, sys.UserData(h))

		require.NoError(t, sys.PushJob(h))
		updateUntil(t, sys, called.Load)

		assert.Nil(t, sys.UserData(h), "drained handle is stale")
		assert.Nil(t, sys.UserContext(h))
		assert.Equal(t, core.StatusFree, sys.Status(h))

		h2 := sys.CreateJob(core.Job{Data: "second"})
		assert.Equal(t, h.Index(), h2.Index())
		assert.NotEqual(t, h.Generation(), h2.Generation())
		assert.Nil(t, sys.UserData(h))
		assert.Equal(t, "second", sys.UserData(h2))
	})
}

func TestCreateJob_Capacity(t *testing.T) {
	t.Run("exhausted then recovers", func(t *testing.T) {
		sys := newSystem(t, 0, func(p *jobsystem.Params) {
			p.InitialCapacity = 2
			p.MaxCapacity = 2
		})
		h1 := sys.CreateJob(core.Job{})
		h2 := sys.CreateJob(core.Job{})
		require.NotEqual(t, core.InvalidHandle, h1)
		require.NotEqual(t, core.InvalidHandle, h2)
		assert.Equal(t, core.InvalidHandle, sys.CreateJob(core.Job{}))

		assert.Equal(t, core.ResultCanceled, sys.CancelJob(h1))
		sys.Update(time.Hour)
		assert.NotEqual(t, core.InvalidHandle, sys.CreateJob(core.Job{}))
	})

	t.Run("grows on demand", func(t *testing.T) {
		sys := newSystem(t, 0, func(p *jobsystem.Params) {
			p.InitialCapacity = 1
			p.GrowBy = 4
		})
		var handles []core.Handle
		for i := 0; i < 10; i++ {
			h := sys.CreateJob(core.Job{Data: i})
			require.NotEqual(t, core.InvalidHandle, h)
			handles = append(handles, h)
		}
		assert.Equal(t, 13, sys.Stats().Capacity)
		assert.Equal(t, 10, sys.Stats().Live)
		for i, h := range handles {
			assert.Equal(t, i, sys.UserData(h))
		}
	})
}

func TestUpdate_Inline(t *testing.T) {
	setup := func(t *testing.T, n int) (*jobsystem.System, *atomic.Int32, *int) {
		sys := newSystem(t, 0)
		var processed atomic.Int32
		callbacks := new(int)
		for i := 0; i < n; i++ {
			h := sys.CreateJob(core.Job{
				Process: func(context.Context, core.JobSystem, core.Handle, any, any) int32 {
					processed.Add(1)
					return 0
				},
				Callback: func(core.JobSystem, core.Handle, core.Status, any, any, int32) { *callbacks++ },
			})
			require.NoError(t, sys.PushJob(h))
		}
		return sys, &processed, callbacks
	}

	t.Run("zero limit runs one job", func(t *testing.T) {
		sys, processed, callbacks := setup(t, 3)
		sys.Update(0)
		assert.Equal(t, int32(1), processed.Load())
		assert.Equal(t, 1, *callbacks)
		sys.Update(0)
		assert.Equal(t, int32(2), processed.Load())
		sys.Update(time.Hour)
		assert.Equal(t, int32(3), processed.Load())
		assert.Equal(t, 3, *callbacks)
	})

	t.Run("large limit drains everything", func(t *testing.T) {
		sys, processed, callbacks := setup(t, 5)
		sys.Update(time.Hour)
		assert.Equal(t, int32(5), processed.Load())
		assert.Equal(t, 5, *callbacks)
		assert.Equal(t, 0, sys.Stats().Live)
	})

	t.Run("lifo order", func(t *testing.T) {
		sys := newSystem(t, 0, func(p *jobsystem.Params) { p.QueueOrder = jobsystem.QueueLIFO })
		var order []int
		for i := 0; i < 3; i++ {
			h := sys.CreateJob(core.Job{
				Process: func(_ context.Context, _ core.JobSystem, _ core.Handle, _, data any) int32 {
					order = append(order, data.(int))
					return 0
				},
				Data: i,
			})
			require.NoError(t, sys.PushJob(h))
		}
		sys.Update(time.Hour)
		assert.Equal(t, []int{2, 1, 0}, order)
	})
}

func TestPushJobs(t *testing.T) {
	forEachMode(t, func(t *testing.T, threads int) {
		sys := newSystem(t, threads)
		const n = 200
		var processed atomic.Int32
		finished := 0
		for i := 0; i < n; i++ {
			h := sys.CreateJob(core.Job{
				Process: func(_ context.Context, _ core.JobSystem, _ core.Handle, _, data any) int32 {
					processed.Add(1)
					return int32(data.(int))
				},
				Callback: func(_ core.JobSystem, _ core.Handle, status core.Status, _, data any, result int32) {
					if status == core.StatusFinished && result == int32(data.(int)) {
						finished++
					}
				},
				Data: i,
			})
			require.NotEqual(t, core.InvalidHandle, h)
			require.NoError(t, sys.PushJob(h))
		}
		updateUntil(t, sys, func() bool { return finished == n })
		assert.Equal(t, int32(n), processed.Load())
		assert.Equal(t, 0, sys.Stats().Live)
	})
}

func TestPushJob_Errors(t *testing.T) {
	sys := newSystem(t, 0)
	h := sys.CreateJob(core.Job{})
	require.NoError(t, sys.PushJob(h))

	err := sys.PushJob(h)
	require.ErrorIs(t, err, jobsystem.ErrAlreadyPushed)
	assert.Equal(t, core.ResultError, jobsystem.ResultOf(err))

	err = sys.PushJob(core.MakeHandle(99, h.Index()))
	require.ErrorIs(t, err, jobsystem.ErrInvalidHandle)
	assert.Equal(t, core.ResultInvalidHandle, jobsystem.ResultOf(err))

	sys.Destroy()
	err = sys.PushJob(h)
	require.ErrorIs(t, err, jobsystem.ErrShutdown)
	assert.Equal(t, core.InvalidHandle, sys.CreateJob(core.Job{}))
}

func TestPanicRecovered(t *testing.T) {
	forEachMode(t, func(t *testing.T, threads int) {
		sys := newSystem(t, threads)
		var got *int32
		h := sys.CreateJob(core.Job{
			Process: func(context.Context, core.JobSystem, core.Handle, any, any) int32 {
				panic("boom")
			},
			Callback: func(_ core.JobSystem, _ core.Handle, status core.Status, _, _ any, result int32) {
				assert.Equal(t, core.StatusFinished, status)
				got = &result
			},
		})
		require.NoError(t, sys.PushJob(h))
		updateUntil(t, sys, func() bool { return got != nil })
		assert.Equal(t, jobsystem.PanicResult, *got)
	})
}

func TestNilProcessIsJoin(t *testing.T) {
	sys := newSystem(t, 0)
	var status core.Status
	h := sys.CreateJob(core.Job{
		Callback: func(_ core.JobSystem, _ core.Handle, s core.Status, _, _ any, _ int32) { status = s },
	})
	require.NoError(t, sys.PushJob(h))
	sys.Update(time.Hour)
	assert.Equal(t, core.StatusFinished, status)
}

func TestUpdate_Reentrant(t *testing.T) {
	sys := newSystem(t, 0)
	calls := 0
	for i := 0; i < 3; i++ {
		h := sys.CreateJob(core.Job{
			Callback: func(js core.JobSystem, _ core.Handle, _ core.Status, _, _ any, _ int32) {
				calls++
				js.Update(time.Hour)
			},
		})
		require.NoError(t, sys.PushJob(h))
	}
	sys.Update(time.Hour)
	assert.Equal(t, 3, calls)
}

func TestDestroy_FlushesCallbacks(t *testing.T) {
	forEachMode(t, func(t *testing.T, threads int) {
		params := jobsystem.DefaultParams()
		params.ThreadCount = threads
		sys, err := jobsystem.Create(params, jobsystem.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		require.NoError(t, err)

		var order []string
		record := func(name string) core.CallbackFunc {
			return func(_ core.JobSystem, _ core.Handle, status core.Status, _, _ any, _ int32) {
				order = append(order, fmt.Sprintf("%s:%s", name, status))
			}
		}

		loose := sys.CreateJob(core.Job{Callback: record("loose")})
		parent := sys.CreateJob(core.Job{Callback: record("parent")})
		child := sys.CreateJob(core.Job{Callback: record("child")})
		require.NoError(t, sys.SetParent(child, parent))
		require.NoError(t, sys.PushJob(parent))

		sys.Destroy()
		assert.ElementsMatch(t, []string{"loose:canceled", "parent:canceled", "child:canceled"}, order)
		assert.Less(t, indexOf(order, "child:canceled"), indexOf(order, "parent:canceled"))
		assert.Equal(t, core.StatusFree, sys.Status(loose))

		sys.Destroy()
		assert.Len(t, order, 3, "second destroy is a no-op")
	})
}

func TestMiddleware(t *testing.T) {
	var mu sync.Mutex
	var trail []string
	mark := func(name string) core.ProcessMiddleware {
		return func(next core.ProcessFunc) core.ProcessFunc {
			return func(ctx context.Context, js core.JobSystem, h core.Handle, c, d any) int32 {
				mu.Lock()
				trail = append(trail, name)
				mu.Unlock()
				return next(ctx, js, h, c, d)
			}
		}
	}

	params := jobsystem.DefaultParams()
	sys, err := jobsystem.Create(params,
		jobsystem.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		jobsystem.WithMiddleware(mark("outer")),
	)
	require.NoError(t, err)
	t.Cleanup(sys.Destroy)
	sys.Use(mark("inner"), jobsystem.TracingMiddleware("jobsys-test"), jobsystem.LoggingMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil))))

	var result int32
	h := sys.CreateJob(core.Job{
		Process: func(context.Context, core.JobSystem, core.Handle, any, any) int32 {
			mu.Lock()
			trail = append(trail, "process")
			mu.Unlock()
			return 42
		},
		Callback: func(_ core.JobSystem, _ core.Handle, _ core.Status, _, _ any, r int32) { result = r },
	})
	require.NoError(t, sys.PushJob(h))
	sys.Update(time.Hour)

	assert.Equal(t, []string{"outer", "inner", "process"}, trail)
	assert.Equal(t, int32(42), result)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []core.JobEvent
}

func (o *recordingObserver) JobSettled(e core.JobEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func TestObserver(t *testing.T) {
	obs := &recordingObserver{}
	params := jobsystem.DefaultParams()
	sys, err := jobsystem.Create(params,
		jobsystem.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		jobsystem.WithObserver(obs),
	)
	require.NoError(t, err)
	t.Cleanup(sys.Destroy)

	parent := sys.CreateJob(core.Job{})
	child := sys.CreateJob(core.Job{
		Process: func(context.Context, core.JobSystem, core.Handle, any, any) int32 { return 3 },
	})
	require.NoError(t, sys.SetParent(child, parent))
	require.NoError(t, sys.PushJob(child))
	require.NoError(t, sys.PushJob(parent))
	updateUntil(t, sys, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.events) == 2
	})

	require.Len(t, obs.events, 2)
	assert.Equal(t, child, obs.events[0].Job)
	assert.Equal(t, parent, obs.events[0].Parent)
	assert.Equal(t, int32(3), obs.events[0].Result)
	assert.Equal(t, core.StatusFinished, obs.events[0].Status)
	assert.Equal(t, parent, obs.events[1].Job)
	assert.Equal(t, core.InvalidHandle, obs.events[1].Parent)
}

func TestStatsAndSnapshot(t *testing.T) {
	sys := newSystem(t, 0)
	parent := sys.CreateJob(core.Job{})
	child := sys.CreateJob(core.Job{})
	loose := sys.CreateJob(core.Job{})
	require.NoError(t, sys.SetParent(child, parent))
	require.NoError(t, sys.PushJob(parent))
	require.NoError(t, sys.PushJob(loose))

	st := sys.Stats()
	assert.Equal(t, 3, st.Live)
	assert.Equal(t, 1, st.Created)
	assert.Equal(t, 2, st.Queued)
	assert.Equal(t, 1, st.Blocked)
	assert.Equal(t, 1, st.WorkQueue)
	assert.Equal(t, 0, st.Workers)

	snap := sys.Snapshot()
	require.Len(t, snap.Jobs, 3)
	assert.Equal(t, []core.Handle{loose}, snap.WorkQueue)
	for _, j := range snap.Jobs {
		if j.Handle == parent {
			assert.True(t, j.Blocked)
			assert.Equal(t, int32(1), j.Pending)
			assert.Equal(t, []core.Handle{child}, j.Children)
			assert.Equal(t, "queued", j.Status)
		}
	}
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
