package jobsystem

import "github.com/Deepreo/jobsys/core"

// CancelJob cancels h and every descendant that has not started. It returns
// core.ResultPending while any part of the subtree is still running, in which
// case callers are expected to poll again. Finished jobs are left alone and
// report core.ResultOK; a drained or unknown handle reports
// core.ResultInvalidHandle. Running jobs are never interrupted, their context
// is canceled and their outcome becomes core.StatusCanceled.
func (s *System) CancelJob(h core.Handle) core.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelTree(h)
}

// Caller holds s.mu.
func (s *System) cancelTree(h core.Handle) core.Result {
	sl := s.table.get(h)
	if sl == nil {
		return core.ResultInvalidHandle
	}
	switch sl.status {
	case core.StatusFinished:
		return core.ResultOK
	case core.StatusProcessing:
		if !sl.cancelRequested {
			sl.cancelRequested = true
			if sl.cancel != nil {
				sl.cancel()
			}
			s.logger.Debug("cancel requested for running job", "job", h.String())
		}
		return core.ResultPending
	}

	result := core.ResultCanceled
	// Children are only removed by the dispatcher, never by the recursion.
	for _, child := range sl.children {
		if s.cancelTree(child) == core.ResultPending {
			result = core.ResultPending
		}
	}

	sl = s.table.get(h)
	if sl.status != core.StatusCanceled {
		sl.status = core.StatusCanceled
		sl.blocked = false
		sl.cancelRequested = true
	}
	if sl.pending == 0 {
		s.settle(h, sl)
	}
	return result
}

// CancelRequested reports whether h has been asked to cancel. Long-running
// process functions may poll it, or watch their context instead.
func (s *System) CancelRequested(h core.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.table.get(h)
	if sl == nil {
		return false
	}
	return sl.cancelRequested
}
