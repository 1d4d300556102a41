package jobsystem

import (
	"time"

	"github.com/Deepreo/jobsys/core"
)

// JobInfo describes one live slot.
type JobInfo struct {
	Handle          core.Handle   `json:"handle"`
	Name            string        `json:"name"`
	Status          string        `json:"status"`
	Parent          core.Handle   `json:"parent,omitempty"`
	Children        []core.Handle `json:"children,omitempty"`
	Pending         int32         `json:"pending"`
	Blocked         bool          `json:"blocked"`
	CancelRequested bool          `json:"cancel_requested"`
	Age             time.Duration `json:"age"`
}

// Snapshot is a consistent listing of the job system for debugging.
type Snapshot struct {
	core.Stats
	Jobs      []JobInfo     `json:"jobs"`
	WorkQueue []core.Handle `json:"work_queue"`
	DoneQueue []core.Handle `json:"done_queue"`
}

// Stats counts slots per state and the length of both queues.
func (s *System) Stats() core.Stats {
	st := core.Stats{
		Workers:   s.WorkerCount(),
		WorkQueue: s.work.len(),
		DoneQueue: s.done.len(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st.Capacity = s.table.capacity()
	st.Live = s.table.live()
	s.table.each(func(_ core.Handle, sl *slot) {
		switch sl.status {
		case core.StatusCreated:
			st.Created++
		case core.StatusQueued:
			st.Queued++
			if sl.blocked {
				st.Blocked++
			}
		case core.StatusProcessing:
			st.Processing++
		case core.StatusFinished, core.StatusCanceled:
			st.Settled++
		}
	})
	return st
}

// Snapshot lists every live job along with both queues.
func (s *System) Snapshot() Snapshot {
	snap := Snapshot{
		Stats:     s.Stats(),
		WorkQueue: s.work.snapshot(),
		DoneQueue: s.done.snapshot(),
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table.each(func(h core.Handle, sl *slot) {
		snap.Jobs = append(snap.Jobs, JobInfo{
			Handle:          h,
			Name:            h.String(),
			Status:          sl.status.String(),
			Parent:          sl.parent,
			Children:        append([]core.Handle(nil), sl.children...),
			Pending:         sl.pending,
			Blocked:         sl.blocked,
			CancelRequested: sl.cancelRequested,
			Age:             now.Sub(sl.created),
		})
	})
	return snap
}
