package jobsystem

import (
	"fmt"
	"log/slog"

	"github.com/Deepreo/jobsys/core"
	"github.com/Deepreo/jobsys/errors"
)

const (
	DefaultThreadNamePrefix = "jobsys"
	DefaultInitialCapacity  = 64
	DefaultGrowBy           = 64
	MaxThreadCount          = 64
)

// Params configures a job system at creation time.
type Params struct {
	ThreadNamePrefix string `mapstructure:"thread_name_prefix" json:"thread_name_prefix"`
	// ThreadCount is the number of worker goroutines. 0 runs every job
	// inside Update on the calling goroutine.
	ThreadCount     int    `mapstructure:"thread_count" json:"thread_count"`
	InitialCapacity int    `mapstructure:"initial_capacity" json:"initial_capacity"`
	MaxCapacity     int    `mapstructure:"max_capacity" json:"max_capacity"` // 0 = unbounded
	GrowBy          int    `mapstructure:"grow_by" json:"grow_by"`
	QueueOrder      string `mapstructure:"queue_order" json:"queue_order"`
}

// DefaultParams returns single-threaded parameters with an unbounded table.
func DefaultParams() Params {
	return Params{
		ThreadNamePrefix: DefaultThreadNamePrefix,
		ThreadCount:      0,
		InitialCapacity:  DefaultInitialCapacity,
		GrowBy:           DefaultGrowBy,
		QueueOrder:       QueueFIFO,
	}
}

func (p *Params) Validate() error {
	if p.ThreadCount < 0 {
		return errors.ValidationError(fmt.Errorf("thread_count must not be negative, got %d", p.ThreadCount))
	}
	if p.InitialCapacity < 0 {
		return errors.ValidationError(fmt.Errorf("initial_capacity must not be negative, got %d", p.InitialCapacity))
	}
	if p.MaxCapacity < 0 {
		return errors.ValidationError(fmt.Errorf("max_capacity must not be negative, got %d", p.MaxCapacity))
	}
	if p.MaxCapacity > 0 && p.InitialCapacity > p.MaxCapacity {
		return errors.ValidationError(fmt.Errorf("initial_capacity %d exceeds max_capacity %d", p.InitialCapacity, p.MaxCapacity))
	}
	if p.GrowBy <= 0 {
		return errors.ValidationError(fmt.Errorf("grow_by must be positive, got %d", p.GrowBy))
	}
	switch p.QueueOrder {
	case "", QueueFIFO, QueueLIFO:
	default:
		return errors.ValidationError(fmt.Errorf("queue_order must be %q or %q, got %q", QueueFIFO, QueueLIFO, p.QueueOrder))
	}
	return nil
}

// Option configures optional collaborators of a System.
type Option func(*System)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *System) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithID sets the identifier attached to log records and events.
func WithID(id string) Option {
	return func(s *System) { s.id = id }
}

// WithMiddleware wraps every process function created afterwards.
func WithMiddleware(middleware ...core.ProcessMiddleware) Option {
	return func(s *System) { s.middlewares = append(s.middlewares, middleware...) }
}

// WithObserver registers observers notified after each dispatched job.
func WithObserver(observers ...core.JobObserver) Option {
	return func(s *System) { s.observers = append(s.observers, observers...) }
}
