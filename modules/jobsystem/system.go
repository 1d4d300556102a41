// Package jobsystem schedules short jobs on worker goroutines, or inline
// inside Update when created without workers, and delivers their callbacks
// from Update only.
//
// Jobs are addressed by generation-checked handles. A job may depend on
// children through SetParent; it is not claimed before every child has been
// drained by Update. Cancellation is immediate for jobs that have not started
// and cooperative for running ones.
package jobsystem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Deepreo/jobsys/core"
	"github.com/google/uuid"
)

// System is a job system context.
type System struct {
	id     string
	params Params
	logger *slog.Logger

	// mu guards the handle table, the dependency graph and middlewares.
	mu          sync.Mutex
	table       *table
	middlewares []core.ProcessMiddleware

	work *workQueue
	done *doneQueue
	exec executor

	obsMu     sync.RWMutex
	observers []core.JobObserver

	ctx    context.Context
	cancel context.CancelFunc

	alive       atomic.Bool
	dispatching atomic.Bool
}

var _ core.JobSystem = (*System)(nil)

// Create builds a job system and starts its workers.
func Create(params Params, opts ...Option) (*System, error) {
	if params.ThreadNamePrefix == "" {
		params.ThreadNamePrefix = DefaultThreadNamePrefix
	}
	if params.GrowBy == 0 {
		params.GrowBy = DefaultGrowBy
	}
	if params.QueueOrder == "" {
		params.QueueOrder = QueueFIFO
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	s := &System{
		id:     uuid.NewString(),
		logger: slog.Default(),
		table:  newTable(params.InitialCapacity, params.GrowBy, params.MaxCapacity),
		work:   newWorkQueue(params.QueueOrder),
		done:   &doneQueue{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "jobsystem", "system_id", s.id)

	if params.ThreadCount > MaxThreadCount {
		s.logger.Warn("thread count clamped", "requested", params.ThreadCount, "max", MaxThreadCount)
		params.ThreadCount = MaxThreadCount
	}
	s.params = params
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if params.ThreadCount > 0 {
		s.exec = newPool(s, params.ThreadNamePrefix, params.ThreadCount)
	} else {
		s.exec = &inline{sys: s}
	}
	s.alive.Store(true)
	s.exec.start()

	s.logger.Info("job system created",
		"workers", params.ThreadCount,
		"capacity", s.table.capacity(),
		"max_capacity", params.MaxCapacity,
		"queue_order", params.QueueOrder,
	)
	return s, nil
}

// ID returns the identifier of this job system.
func (s *System) ID() string { return s.id }

// WorkerCount returns the number of worker goroutines.
func (s *System) WorkerCount() int { return s.exec.workers() }

// Use appends process middleware. It applies to jobs created afterwards.
func (s *System) Use(middleware ...core.ProcessMiddleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, middleware...)
}

// Observe registers observers notified from Update after each job's callback.
func (s *System) Observe(observers ...core.JobObserver) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, observers...)
}

// chain wraps fn with the recover middleware and the registered middlewares,
// outermost first. Caller holds s.mu.
func (s *System) chain(fn core.ProcessFunc) core.ProcessFunc {
	wrapped := RecoverMiddleware(s.logger)(fn)
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		wrapped = s.middlewares[i](wrapped)
	}
	return wrapped
}

func noopProcess(context.Context, core.JobSystem, core.Handle, any, any) int32 { return 0 }

// CreateJob reserves a slot for job and returns its handle, or
// core.InvalidHandle when the table is at max capacity or the system has
// been destroyed. A nil Process is allowed and makes a pure join job.
func (s *System) CreateJob(job core.Job) core.Handle {
	if !s.alive.Load() {
		return core.InvalidHandle
	}
	if job.Process == nil {
		job.Process = noopProcess
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.table.capacity()
	h, sl, ok := s.table.alloc()
	if !ok {
		s.logger.Warn("job table exhausted", "capacity", s.table.capacity())
		return core.InvalidHandle
	}
	if grown := s.table.capacity(); grown != before {
		s.logger.Debug("job table grown", "from", before, "to", grown)
	}
	job.Process = s.chain(job.Process)
	sl.job = job
	sl.created = time.Now()
	return h
}

// SetParent makes parent wait for child. The parent must not have become
// runnable yet: it has to be either not pushed, or pushed and still blocked
// on other children. The child may be in any live state but can only have
// one parent.
func (s *System) SetParent(child, parent core.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.table.get(child)
	if c == nil {
		return jobError(ErrInvalidHandle, child)
	}
	p := s.table.get(parent)
	if p == nil {
		return jobError(ErrInvalidHandle, parent)
	}
	if c.parent != core.InvalidHandle {
		return jobError(ErrAlreadyParented, child)
	}
	if !acceptsChildren(p) {
		return jobError(ErrParentStarted, parent)
	}
	if s.table.isAncestor(child, parent) {
		return jobError(ErrCycle, child)
	}
	s.table.attach(child, c, parent, p)
	return nil
}

// PushJob makes a created job eligible to run. A job with pending children
// is held back until the last child has been drained.
func (s *System) PushJob(h core.Handle) error {
	if !s.alive.Load() {
		return jobError(ErrShutdown, h)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.table.get(h)
	if sl == nil {
		return jobError(ErrInvalidHandle, h)
	}
	switch sl.status {
	case core.StatusCreated:
	case core.StatusCanceled:
		return jobError(ErrCanceled, h)
	default:
		return jobError(ErrAlreadyPushed, h)
	}

	sl.status = core.StatusQueued
	if sl.pending > 0 {
		sl.blocked = true
		return nil
	}
	s.work.push(h)
	return nil
}

// UserContext returns the context value given to CreateJob, or nil for a stale handle.
func (s *System) UserContext(h core.Handle) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.table.get(h)
	if sl == nil {
		return nil
	}
	return sl.job.Context
}

// UserData returns the data value given to CreateJob, or nil for a stale handle.
func (s *System) UserData(h core.Handle) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.table.get(h)
	if sl == nil {
		return nil
	}
	return sl.job.Data
}

// Status returns the current status of h, or core.StatusFree for a stale handle.
func (s *System) Status(h core.Handle) core.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.table.get(h)
	if sl == nil {
		return core.StatusFree
	}
	return sl.status
}

// Update runs ready jobs when the system has no workers, then invokes the
// callbacks of settled jobs and releases their slots. timeLimit bounds the
// inline work; at least one job and one callback are always processed.
// Calls made while another Update is running return immediately.
func (s *System) Update(timeLimit time.Duration) {
	if !s.alive.Load() {
		return
	}
	if !s.dispatching.CompareAndSwap(false, true) {
		s.logger.Warn("update already in progress")
		return
	}
	defer s.dispatching.Store(false)
	s.exec.update(timeLimit)
}

// Destroy cancels every unsettled job, stops the workers once their current
// job returns, and flushes all remaining callbacks with StatusCanceled.
// It must be called from the goroutine that drives Update.
func (s *System) Destroy() {
	if !s.alive.CompareAndSwap(true, false) {
		return
	}
	start := time.Now()
	s.cancel()
	s.exec.stop()

	s.mu.Lock()
	var roots []core.Handle
	s.table.each(func(h core.Handle, sl *slot) {
		if sl.parent == core.InvalidHandle {
			roots = append(roots, h)
		}
	})
	canceled := 0
	for _, h := range roots {
		canceled += s.teardown(h)
	}
	s.mu.Unlock()

	flushed := 0
	for {
		items := s.done.drain()
		if len(items) == 0 {
			break
		}
		for _, h := range items {
			s.dispatch(h)
			flushed++
		}
	}

	s.logger.Info("job system destroyed",
		"canceled", canceled,
		"flushed", flushed,
		"duration", time.Since(start),
	)
}

// teardown settles the subtree of h, children first, and returns how many
// jobs were canceled. Caller holds s.mu.
func (s *System) teardown(h core.Handle) int {
	sl := s.table.get(h)
	if sl == nil {
		return 0
	}
	n := 0
	for _, child := range append([]core.Handle(nil), sl.children...) {
		n += s.teardown(child)
	}
	sl = s.table.get(h)
	if !sl.status.Settled() {
		sl.status = core.StatusCanceled
		sl.blocked = false
		n++
	}
	s.settle(h, sl)
	return n
}

func (s *System) String() string {
	return fmt.Sprintf("jobsystem(%s, workers=%d)", s.id, s.WorkerCount())
}
