package jobsystem

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/Deepreo/jobsys/core"
)

// executor is the execution strategy picked at Create: a worker pool, or
// inline execution inside Update when there are no workers.
type executor interface {
	start()
	stop()
	update(timeLimit time.Duration)
	workers() int
}

// claim moves a queued job to processing. It fails for stale handles and for
// jobs canceled after they were queued.
func (s *System) claim(h core.Handle) (core.Job, context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.table.get(h)
	if sl == nil || sl.status != core.StatusQueued || sl.blocked {
		return core.Job{}, nil, false
	}
	ctx, cancel := context.WithCancel(s.ctx)
	sl.status = core.StatusProcessing
	sl.cancel = cancel
	sl.started = time.Now()
	return sl.job, ctx, true
}

// complete records the result of a processed job and settles it. A cancel
// requested while the job ran turns the outcome into StatusCanceled.
func (s *System) complete(h core.Handle, result int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.table.get(h)
	if sl == nil {
		return
	}
	if sl.cancel != nil {
		sl.cancel()
		sl.cancel = nil
	}
	if sl.cancelRequested {
		sl.status = core.StatusCanceled
		sl.result = 0
	} else {
		sl.status = core.StatusFinished
		sl.result = result
	}
	s.settle(h, sl)
}

// runJob claims h and runs its process function without holding any lock.
func (s *System) runJob(h core.Handle) bool {
	job, ctx, ok := s.claim(h)
	if !ok {
		return false
	}
	result := job.Process(ctx, s, h, job.Context, job.Data)
	s.complete(h, result)
	return true
}

type pool struct {
	sys    *System
	names  []string
	wg     sync.WaitGroup
	logger *slog.Logger
}

func newPool(sys *System, prefix string, count int) *pool {
	names := make([]string, count)
	for i := range names {
		names[i] = fmt.Sprintf("%s_%d", prefix, i)
	}
	return &pool{
		sys:    sys,
		names:  names,
		logger: sys.logger.With("executor", "pool"),
	}
}

func (p *pool) workers() int { return len(p.names) }

func (p *pool) start() {
	for _, name := range p.names {
		p.wg.Add(1)
		go p.loop(name)
	}
}

func (p *pool) loop(name string) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker", name)
	pprof.Do(context.Background(), pprof.Labels("worker", name), func(context.Context) {
		for {
			h, ok := p.sys.work.pop()
			if !ok {
				break
			}
			p.sys.runJob(h)
		}
	})
	p.logger.Debug("worker stopped", "worker", name)
}

// stop closes the work queue and waits for in-flight jobs to return.
func (p *pool) stop() {
	p.sys.work.close()
	p.wg.Wait()
}

// update only dispatches; workers run the jobs. Everything completed so far
// is drained regardless of the time limit.
func (p *pool) update(time.Duration) {
	for _, h := range p.sys.done.drain() {
		p.sys.dispatch(h)
	}
}

// inline runs jobs on the goroutine calling Update.
type inline struct {
	sys *System
}

func (e *inline) workers() int { return 0 }
func (e *inline) start()       {}
func (e *inline) stop()        { e.sys.work.close() }

// update runs ready jobs and then dispatches settled ones. Each phase handles
// at least one item and stops once timeLimit has elapsed since the start of
// the call; a zero limit handles exactly one.
func (e *inline) update(timeLimit time.Duration) {
	start := time.Now()
	for {
		h, ok := e.sys.work.tryPop()
		if !ok {
			break
		}
		if !e.sys.runJob(h) {
			continue // canceled or stale entry
		}
		if timeLimit == 0 || time.Since(start) > timeLimit {
			break
		}
	}
	for {
		h, ok := e.sys.done.pop()
		if !ok {
			return
		}
		e.sys.dispatch(h)
		if timeLimit == 0 || time.Since(start) > timeLimit {
			return
		}
	}
}
