package jobsystem

import (
	"sync"

	"github.com/Deepreo/jobsys/core"
)

const (
	QueueFIFO = "fifo"
	QueueLIFO = "lifo"
)

// ring is a growable circular buffer.
type ring[T any] struct {
	items []T
	head  int
	size  int
}

func (r *ring[T]) len() int { return r.size }

func (r *ring[T]) pushBack(v T) {
	if r.size == len(r.items) {
		r.resize()
	}
	r.items[(r.head+r.size)%len(r.items)] = v
	r.size++
}

func (r *ring[T]) popFront() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return v, true
}

func (r *ring[T]) popBack() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	i := (r.head + r.size - 1) % len(r.items)
	v := r.items[i]
	r.items[i] = zero
	r.size--
	return v, true
}

func (r *ring[T]) at(i int) T {
	return r.items[(r.head+i)%len(r.items)]
}

func (r *ring[T]) slice() []T {
	out := make([]T, r.size)
	for i := range out {
		out[i] = r.at(i)
	}
	return out
}

func (r *ring[T]) clear() {
	r.items = nil
	r.head = 0
	r.size = 0
}

func (r *ring[T]) resize() {
	n := len(r.items) * 2
	if n < 16 {
		n = 16
	}
	items := make([]T, n)
	for i := 0; i < r.size; i++ {
		items[i] = r.at(i)
	}
	r.items = items
	r.head = 0
}

// workQueue holds runnable handles. Entries may go stale when a queued job
// is canceled; consumers re-validate every handle when claiming it.
type workQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  ring[core.Handle]
	lifo   bool
	closed bool
}

func newWorkQueue(order string) *workQueue {
	q := &workQueue{lifo: order == QueueLIFO}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *workQueue) push(h core.Handle) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items.pushBack(h)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *workQueue) take() (core.Handle, bool) {
	if q.lifo {
		return q.items.popBack()
	}
	return q.items.popFront()
}

// pop blocks until a handle is available. It returns false once the queue
// has been closed.
func (q *workQueue) pop() (core.Handle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return core.InvalidHandle, false
	}
	return q.take()
}

// tryPop returns immediately when the queue is empty.
func (q *workQueue) tryPop() (core.Handle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return core.InvalidHandle, false
	}
	return q.take()
}

// close drops pending entries and wakes every waiting consumer.
func (q *workQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items.clear()
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *workQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.len()
}

func (q *workQueue) snapshot() []core.Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.slice()
}

// doneQueue holds settled handles in completion order. Many goroutines push,
// only the dispatcher pops.
type doneQueue struct {
	mu    sync.Mutex
	items ring[core.Handle]
}

func (q *doneQueue) push(h core.Handle) {
	q.mu.Lock()
	q.items.pushBack(h)
	q.mu.Unlock()
}

func (q *doneQueue) pop() (core.Handle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.popFront()
}

// drain removes and returns everything currently queued.
func (q *doneQueue) drain() []core.Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items.slice()
	q.items.clear()
	return out
}

func (q *doneQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.len()
}

func (q *doneQueue) snapshot() []core.Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.slice()
}
