package jobsystem

import (
	"context"
	"time"

	"github.com/Deepreo/jobsys/core"
)

// slot is one entry of the handle table. All fields are guarded by System.mu.
// Pointers to slots are only valid until the table grows, so they must never
// be kept once the lock is released.
type slot struct {
	generation uint32
	status     core.Status
	job        core.Job

	parent   core.Handle
	children []core.Handle
	pending  int32

	result          int32
	cancelRequested bool
	blocked         bool // queued, waiting for pending children
	settled         bool // on the completion queue
	cancel          context.CancelFunc

	created time.Time
	started time.Time
}

// table maps handles to slots. Free slots are recycled through a stack and
// each allocation takes a fresh generation, so a stale handle never matches
// the next occupant of its slot.
type table struct {
	slots       []slot
	free        []uint32
	generation  uint32
	growBy      int
	maxCapacity int
}

func newTable(initial, growBy, maxCapacity int) *table {
	t := &table{
		growBy:      growBy,
		maxCapacity: maxCapacity,
	}
	t.grow(initial)
	return t
}

func (t *table) capacity() int { return len(t.slots) }

func (t *table) live() int { return len(t.slots) - len(t.free) }

// grow appends up to n slots and reports how many were added.
func (t *table) grow(n int) int {
	if t.maxCapacity > 0 && len(t.slots)+n > t.maxCapacity {
		n = t.maxCapacity - len(t.slots)
	}
	if n <= 0 {
		return 0
	}
	first := len(t.slots)
	t.slots = append(t.slots, make([]slot, n)...)
	// Push in reverse so the lowest index is handed out first.
	for i := first + n - 1; i >= first; i-- {
		t.free = append(t.free, uint32(i))
	}
	return n
}

func (t *table) nextGeneration() uint32 {
	t.generation++
	if t.generation == 0 {
		t.generation = 1
	}
	return t.generation
}

// alloc reserves a slot, growing the table when it is full.
func (t *table) alloc() (core.Handle, *slot, bool) {
	if len(t.free) == 0 && t.grow(t.growBy) == 0 {
		return core.InvalidHandle, nil, false
	}
	index := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	generation := t.nextGeneration()
	s := &t.slots[index]
	children := s.children[:0]
	*s = slot{
		generation: generation,
		status:     core.StatusCreated,
		children:   children,
	}
	return core.MakeHandle(generation, index), s, true
}

// get returns the slot for h, or nil when h is stale or was never issued.
func (t *table) get(h core.Handle) *slot {
	if h == core.InvalidHandle {
		return nil
	}
	index := h.Index()
	if int(index) >= len(t.slots) {
		return nil
	}
	s := &t.slots[index]
	if s.status == core.StatusFree || s.generation != h.Generation() {
		return nil
	}
	return s
}

// release returns the slot of h to the free stack.
func (t *table) release(h core.Handle) {
	s := t.get(h)
	if s == nil {
		return
	}
	children := s.children[:0]
	*s = slot{children: children}
	t.free = append(t.free, h.Index())
}

// each calls fn for every live slot.
func (t *table) each(fn func(h core.Handle, s *slot)) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.status == core.StatusFree {
			continue
		}
		fn(core.MakeHandle(s.generation, uint32(i)), s)
	}
}
