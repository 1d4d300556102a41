package core

import (
	"context"
	"fmt"
	"time"
)

// Handle identifies a job slot. The upper 32 bits carry the slot generation,
// the lower 32 bits the slot index. Generations start at 1, so 0 is never
// issued.
type Handle uint64

// InvalidHandle is returned by CreateJob when no slot could be reserved.
const InvalidHandle Handle = 0

// Index returns the slot index encoded in the handle.
func (h Handle) Index() uint32 { return uint32(h & 0xFFFFFFFF) }

// Generation returns the generation encoded in the handle.
func (h Handle) Generation() uint32 { return uint32(h >> 32) }

func (h Handle) String() string {
	return fmt.Sprintf("job(%d:%d)", h.Index(), h.Generation())
}

// MakeHandle packs a generation and a slot index.
func MakeHandle(generation, index uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

// Status is the lifecycle state of a job slot.
type Status int

const (
	StatusFree Status = iota
	StatusCreated
	StatusQueued
	StatusProcessing
	StatusFinished
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusFree:
		return "free"
	case StatusCreated:
		return "created"
	case StatusQueued:
		return "queued"
	case StatusProcessing:
		return "processing"
	case StatusFinished:
		return "finished"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Settled reports whether the status is terminal.
func (s Status) Settled() bool {
	return s == StatusFinished || s == StatusCanceled
}

// Result is the outcome code of a job system operation.
type Result int

const (
	ResultOK Result = iota
	ResultError
	ResultInvalidHandle
	ResultCanceled
	ResultPending // still in flight
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultError:
		return "error"
	case ResultInvalidHandle:
		return "invalid_handle"
	case ResultCanceled:
		return "canceled"
	case ResultPending:
		return "pending"
	default:
		return "unknown"
	}
}

// ProcessFunc performs the work of a job. It may run on any worker goroutine.
// ctx is canceled when the job is canceled while running or when the system
// is destroyed.
type ProcessFunc func(ctx context.Context, sys JobSystem, job Handle, userContext, userData any) int32

// CallbackFunc is invoked from Update once the job is settled. result is the
// value returned by the ProcessFunc, or 0 when status is StatusCanceled.
type CallbackFunc func(sys JobSystem, job Handle, status Status, userContext, userData any, result int32)

// ProcessMiddleware wraps a ProcessFunc to add cross-cutting concerns.
type ProcessMiddleware func(next ProcessFunc) ProcessFunc

// Job holds the parameters of a new job. It is copied by CreateJob.
type Job struct {
	Process  ProcessFunc
	Callback CallbackFunc
	Context  any
	Data     any
}

// JobSystem is the scheduling surface handed to process functions and callbacks.
type JobSystem interface {
	CreateJob(job Job) Handle
	SetParent(child, parent Handle) error
	PushJob(job Handle) error
	CancelJob(job Handle) Result
	CancelRequested(job Handle) bool
	UserContext(job Handle) any
	UserData(job Handle) any
	Status(job Handle) Status
	Update(timeLimit time.Duration)
	WorkerCount() int
	Stats() Stats
}

// Stats is a point-in-time view of the job system.
type Stats struct {
	Workers    int `json:"workers"`
	Capacity   int `json:"capacity"`
	Live       int `json:"live"`
	Created    int `json:"created"`
	Queued     int `json:"queued"`
	Blocked    int `json:"blocked"`
	Processing int `json:"processing"`
	Settled    int `json:"settled"`
	WorkQueue  int `json:"work_queue"`
	DoneQueue  int `json:"done_queue"`
}

// JobEvent describes a job drained by the dispatcher.
type JobEvent struct {
	Job      Handle
	Status   Status
	Result   int32
	Parent   Handle
	Duration time.Duration
	At       time.Time
}

// JobObserver is notified from Update after each job's callback.
// Implementations run on the dispatch goroutine and must not block.
type JobObserver interface {
	JobSettled(event JobEvent)
}
