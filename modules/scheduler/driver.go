package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Deepreo/jobsys/core"
	"github.com/Deepreo/jobsys/errors"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

const (
	DefaultInterval = 16 * time.Millisecond
	DefaultBudget   = 4 * time.Millisecond
)

// Config controls the frame loop that pumps the job system.
type Config struct {
	// Interval between two Update calls.
	Interval time.Duration `mapstructure:"interval" json:"interval"`
	// Budget is the time limit handed to Update.
	Budget time.Duration `mapstructure:"budget" json:"budget"`
}

func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return errors.ValidationError(fmt.Errorf("frame interval must be positive, got %s", c.Interval))
	}
	if c.Budget < 0 {
		return errors.ValidationError(fmt.Errorf("frame budget must not be negative, got %s", c.Budget))
	}
	return nil
}

// Driver calls Update on a job system once per frame and runs periodic
// producer tasks next to it. The frame task runs in singleton mode, so the
// job system only ever sees one dispatching goroutine at a time.
type Driver struct {
	scheduler   gocron.Scheduler
	system      core.JobSystem
	cfg         Config
	logger      *slog.Logger
	frame       uuid.UUID
	jobs        map[string]uuid.UUID
	middlewares []core.SchedulerMiddleware
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.RWMutex
}

var _ core.Scheduler = (*Driver)(nil)

// NewDriver creates a driver for system. A nil system gives a plain task
// scheduler without a frame loop.
func NewDriver(system core.JobSystem, cfg Config, logger *slog.Logger) (*Driver, error) {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.InfraError(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		scheduler: s,
		system:    system,
		cfg:       cfg,
		logger:    logger.With("component", "scheduler"),
		jobs:      make(map[string]uuid.UUID),
		ctx:       ctx,
		cancel:    cancel,
	}

	if system != nil {
		job, err := s.NewJob(
			gocron.DurationJob(cfg.Interval),
			gocron.NewTask(d.tick),
			gocron.WithName("jobsystem.update"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			cancel()
			_ = s.Shutdown()
			return nil, errors.InfraError(err)
		}
		d.frame = job.ID()
	}
	return d, nil
}

func (d *Driver) tick() {
	d.system.Update(d.cfg.Budget)
}

func (d *Driver) Start() {
	d.logger.Info("scheduler started", "interval", d.cfg.Interval, "budget", d.cfg.Budget)
	d.scheduler.Start()
}

// Shutdown stops the frame loop and waits for running tasks.
func (d *Driver) Shutdown() error {
	d.cancel()
	if err := d.scheduler.Shutdown(); err != nil {
		return errors.InfraError(err)
	}
	d.logger.Info("scheduler stopped")
	return nil
}

func (d *Driver) Use(middleware ...core.SchedulerMiddleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, middleware...)
}

func (d *Driver) applyMiddlewares(fn core.TaskFunc) core.TaskFunc {
	chain := fn
	for i := len(d.middlewares) - 1; i >= 0; i-- {
		chain = d.middlewares[i](chain)
	}
	return chain
}

func (d *Driver) task(name string, fn core.TaskFunc) gocron.Task {
	wrapped := d.applyMiddlewares(fn)
	return gocron.NewTask(func() {
		if err := wrapped(d.ctx); err != nil {
			d.logger.Error("task failed", "task", name, "error", err)
		}
	})
}

// Every runs fn at a fixed interval.
func (d *Driver) Every(name string, interval time.Duration, fn core.TaskFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.jobs[name]; exists {
		return errors.ValidationError(fmt.Errorf("task with name %s already exists", name))
	}

	job, err := d.scheduler.NewJob(
		gocron.DurationJob(interval),
		d.task(name, fn),
		gocron.WithName(name),
	)
	if err != nil {
		return errors.InfraError(err)
	}

	d.jobs[name] = job.ID()
	return nil
}

// Cron runs fn on a cron schedule. Six fields include seconds.
func (d *Driver) Cron(name string, cronExpr string, fn core.TaskFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.jobs[name]; exists {
		return errors.ValidationError(fmt.Errorf("task with name %s already exists", name))
	}

	withSeconds := len(strings.Fields(cronExpr)) == 6

	job, err := d.scheduler.NewJob(
		gocron.CronJob(cronExpr, withSeconds),
		d.task(name, fn),
		gocron.WithName(name),
	)
	if err != nil {
		return errors.ValidationError(err)
	}

	d.jobs[name] = job.ID()
	return nil
}

func (d *Driver) Remove(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, exists := d.jobs[name]
	if !exists {
		return errors.ValidationError(fmt.Errorf("task with name %s not found", name))
	}

	if err := d.scheduler.RemoveJob(id); err != nil {
		return errors.InfraError(err)
	}

	delete(d.jobs, name)
	return nil
}

// Clear removes every task. The frame loop keeps running.
func (d *Driver) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for name, id := range d.jobs {
		if err := d.scheduler.RemoveJob(id); err != nil {
			return errors.InfraError(fmt.Errorf("failed to remove task %s: %w", name, err))
		}
		delete(d.jobs, name)
	}
	return nil
}

// Tasks returns the names of the registered tasks.
func (d *Driver) Tasks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.jobs))
	for name := range d.jobs {
		names = append(names, name)
	}
	return names
}
