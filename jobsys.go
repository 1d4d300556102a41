// Package jobsys wires a job system together with its frame driver, event
// bus, metrics and debug server.
package jobsys

import (
	"context"
	"log/slog"

	"github.com/Deepreo/jobsys/config"
	"github.com/Deepreo/jobsys/core"
	"github.com/Deepreo/jobsys/errors"
	"github.com/Deepreo/jobsys/modules/event"
	"github.com/Deepreo/jobsys/modules/jobsystem"
	"github.com/Deepreo/jobsys/modules/metrics"
	"github.com/Deepreo/jobsys/modules/scheduler"
	"github.com/Deepreo/jobsys/modules/servers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Application struct {
	system   *jobsystem.System
	driver   *scheduler.Driver
	eventBus *event.Bus
	registry *prometheus.Registry
	server   core.Server
	logger   *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}

	bus, err := event.NewBus(logger)
	if err != nil {
		return nil, err
	}
	bus.Use(event.OTelMiddleware)
	if err := core.SubscribeEvent[*event.JobSettledEvent](bus, &event.LogHandler{Logger: logger}); err != nil {
		return nil, err
	}

	middlewares := []core.ProcessMiddleware{jobsystem.LoggingMiddleware(logger)}
	if cfg.Tracing.Enabled {
		middlewares = append(middlewares, jobsystem.TracingMiddleware(cfg.Tracing.TracerName))
	}
	system, err := jobsystem.Create(cfg.JobSystem,
		jobsystem.WithLogger(logger),
		jobsystem.WithMiddleware(middlewares...),
	)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(system, system.ID())
	if err := collector.Register(registry); err != nil {
		system.Destroy()
		return nil, err
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	system.Observe(collector, event.NewPublisher(bus, system.ID(), logger))

	driver, err := scheduler.NewDriver(system, cfg.Frame, logger)
	if err != nil {
		system.Destroy()
		return nil, err
	}

	app := &Application{
		system:   system,
		driver:   driver,
		eventBus: bus,
		registry: registry,
		logger:   logger,
	}
	if cfg.Debug.Enabled {
		server, err := servers.NewDebugServer(system, registry, logger, servers.WithConfig(&cfg.Debug))
		if err != nil {
			_ = driver.Shutdown()
			system.Destroy()
			return nil, err
		}
		app.server = server
	}
	return app, nil
}

func (app *Application) System() *jobsystem.System { return app.system }

func (app *Application) Scheduler() *scheduler.Driver { return app.driver }

func (app *Application) Registry() *prometheus.Registry { return app.registry }

// Run starts every component and blocks until ctx is done or the debug server fails.
func (app *Application) Run(ctx context.Context) error {
	busErr := make(chan error, 1)
	go func() {
		busErr <- app.eventBus.Run(ctx)
	}()
	select {
	case <-app.eventBus.Running():
	case err := <-busErr:
		return errors.InfraError(err)
	case <-ctx.Done():
		return nil
	}

	app.driver.Start()

	serverErr := make(chan error, 1)
	if app.server != nil {
		go func() {
			serverErr <- app.server.Run()
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErr:
		app.logger.Error("debug server failed", "error", err)
		return errors.InfraError(err)
	case err := <-busErr:
		if err != nil {
			app.logger.Error("event bus failed", "error", err)
			return errors.InfraError(err)
		}
		return nil
	}
}

// Shutdown stops the frame loop first so that Destroy can flush the
// remaining callbacks, then stops the outer surfaces.
func (app *Application) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := app.driver.Shutdown(); err != nil {
		firstErr = err
	}
	app.system.Destroy()
	if app.server != nil {
		if err := app.server.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := app.eventBus.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
