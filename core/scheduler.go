package core

import (
	"context"
	"time"
)

// TaskFunc is the function signature for periodic tasks run by a Scheduler,
// typically producers that create and push jobs.
type TaskFunc func(ctx context.Context) error

// SchedulerMiddleware wraps a TaskFunc to add cross-cutting concerns.
type SchedulerMiddleware func(next TaskFunc) TaskFunc

// Scheduler drives a JobSystem: it calls Update once per frame and runs
// registered periodic tasks.
type Scheduler interface {
	Start()
	Shutdown() error
	Every(name string, interval time.Duration, fn TaskFunc) error
	Cron(name string, cronExpr string, fn TaskFunc) error
	Remove(name string) error
	Clear() error
	Use(middleware ...SchedulerMiddleware)
}
