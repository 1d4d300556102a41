package jobsystem

import (
	"time"

	"github.com/Deepreo/jobsys/core"
)

// dispatch delivers the callback of one settled job, notifies observers and
// the parent, then frees the slot. No lock is held while user code runs.
func (s *System) dispatch(h core.Handle) {
	s.mu.Lock()
	sl := s.table.get(h)
	if sl == nil {
		s.mu.Unlock()
		return
	}
	job := sl.job
	status := sl.status
	result := sl.result
	parent := sl.parent
	var took time.Duration
	if !sl.started.IsZero() {
		took = time.Since(sl.started)
	}
	s.mu.Unlock()

	if status == core.StatusCanceled {
		result = 0
	}
	if job.Callback != nil {
		job.Callback(s, h, status, job.Context, job.Data, result)
	}

	s.notify(core.JobEvent{
		Job:      h,
		Status:   status,
		Result:   result,
		Parent:   parent,
		Duration: took,
		At:       time.Now(),
	})

	s.mu.Lock()
	if sl := s.table.get(h); sl != nil {
		s.childDrained(h, sl)
		s.table.release(h)
	}
	s.mu.Unlock()
}

func (s *System) notify(event core.JobEvent) {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	for _, o := range s.observers {
		o.JobSettled(event)
	}
}
