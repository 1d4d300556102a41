package servers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Deepreo/jobsys/core"
	"github.com/Deepreo/jobsys/errors"
	"github.com/Deepreo/jobsys/modules/auth"
	"github.com/Deepreo/jobsys/modules/jobsystem"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/etag"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.elastic.co/apm/module/apmfiber/v2"
	"go.elastic.co/apm/v2"
)

const (
	DefaultReadTimeout    = 3 * time.Second
	DefaultWriteTimeout   = 3 * time.Second
	DefaultServerHeader   = "jobsys"
	DefaultPort           = "6060"
	DefaultHost           = "localhost"
	DefaultAllowedOrigins = "*"
	DefaultMetricsPath    = "/metrics"
)

// Inspector is the part of the job system the debug server reads from.
type Inspector interface {
	Stats() core.Stats
	Snapshot() jobsystem.Snapshot
	CancelJob(h core.Handle) core.Result
}

// DebugServer exposes job system state over HTTP.
type DebugServer struct {
	app    *fiber.App
	cfg    *DebugServerConfig
	logger *slog.Logger
}

var _ core.Server = (*DebugServer)(nil)

type DebugServerConfig struct {
	Enabled        bool        `mapstructure:"enabled"`
	ReadTimeout    string      `mapstructure:"read_timeout"`
	WriteTimeout   string      `mapstructure:"write_timeout"`
	ServerHeader   string      `mapstructure:"server_header"`
	Port           string      `mapstructure:"port"`
	Host           string      `mapstructure:"host"`
	AllowedOrigins string      `mapstructure:"allowed_origins"`
	Features       Features    `mapstructure:"features"`
	Auth           auth.Config `mapstructure:"auth"`
}

type Features struct {
	RequestID   RequestID   `mapstructure:"request_id"`
	RateLimit   RateLimit   `mapstructure:"rate_limit"`
	HealthCheck HealthCheck `mapstructure:"health_check"`
	Etag        Etag        `mapstructure:"etag"`
	ElasticAPM  ElasticAPM  `mapstructure:"elastic_apm"`
	Metrics     Metrics     `mapstructure:"metrics"`
}

type Etag struct {
	Enabled bool `mapstructure:"enabled"`
}

type ElasticAPM struct {
	Enabled bool `mapstructure:"enabled"`
}

type RequestID struct {
	Enabled bool `mapstructure:"enabled"`
}

type RateLimit struct {
	Enabled    bool   `mapstructure:"enabled"`
	Max        int    `mapstructure:"max"`
	Expiration string `mapstructure:"expiration"`
}

type HealthCheck struct {
	Enabled bool `mapstructure:"enabled"`
}

type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func (c *DebugServerConfig) Validate() error {
	if _, err := time.ParseDuration(c.ReadTimeout); c.ReadTimeout != "" && err != nil {
		return errors.ValidationError(fmt.Errorf("invalid read_timeout: %s", c.ReadTimeout))
	}
	if _, err := time.ParseDuration(c.WriteTimeout); c.WriteTimeout != "" && err != nil {
		return errors.ValidationError(fmt.Errorf("invalid write_timeout: %s", c.WriteTimeout))
	}
	if c.Port != "" {
		if _, err := strconv.Atoi(c.Port); err != nil {
			return errors.ValidationError(fmt.Errorf("invalid port: %s", c.Port))
		}
	}
	return c.Auth.Validate()
}

func WithConfig(cfg *DebugServerConfig) func(*DebugServerConfig) {
	return func(s *DebugServerConfig) {
		if cfg.ReadTimeout != "" {
			s.ReadTimeout = cfg.ReadTimeout
		}
		if cfg.WriteTimeout != "" {
			s.WriteTimeout = cfg.WriteTimeout
		}
		if cfg.ServerHeader != "" {
			s.ServerHeader = cfg.ServerHeader
		}
		if cfg.Port != "" {
			s.Port = cfg.Port
		}
		if cfg.Host != "" {
			s.Host = cfg.Host
		}
		if cfg.AllowedOrigins != "" {
			s.AllowedOrigins = cfg.AllowedOrigins
		}
		s.Enabled = cfg.Enabled
		s.Features = cfg.Features
		s.Auth = cfg.Auth
		if s.Features.Metrics.Path == "" {
			s.Features.Metrics.Path = DefaultMetricsPath
		}
	}
}

// NewDebugServer builds the debug server. gatherer may be nil when metrics
// are disabled.
func NewDebugServer(inspector Inspector, gatherer prometheus.Gatherer, logger *slog.Logger, options ...func(*DebugServerConfig)) (*DebugServer, error) {
	cfg := &DebugServerConfig{
		ReadTimeout:    DefaultReadTimeout.String(),
		WriteTimeout:   DefaultWriteTimeout.String(),
		ServerHeader:   DefaultServerHeader,
		Port:           DefaultPort,
		Host:           DefaultHost,
		AllowedOrigins: DefaultAllowedOrigins,
	}
	for _, option := range options {
		option(cfg)
	}
	if logger == nil {
		logger = slog.Default()
	}

	fiberConfig, err := buildFiberConfig(cfg)
	if err != nil {
		return nil, errors.ValidationError(fmt.Errorf("invalid server configuration: %w", err))
	}

	server := &DebugServer{
		cfg:    cfg,
		logger: logger.With("component", "debug_server"),
	}
	fiberConfig.ErrorHandler = server.handleError
	server.app = fiber.New(fiberConfig)

	var tokens *auth.TokenProvider
	if cfg.Auth.Enabled {
		tokens, err = auth.NewTokenProvider(cfg.Auth)
		if err != nil {
			return nil, err
		}
	}

	server.applyMiddlewares()
	server.routes(inspector, gatherer, tokens)
	return server, nil
}

func (s *DebugServer) applyMiddlewares() {
	s.app.Use(recover.New())
	s.app.Use(helmet.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:  s.cfg.AllowedOrigins,
		AllowMethods:  "GET,DELETE,OPTIONS",
		AllowHeaders:  "Accept, Authorization, Content-Type",
		ExposeHeaders: "Content-Length, X-Request-ID",
		MaxAge:        300,
	}))
	if s.cfg.Features.RequestID.Enabled {
		s.app.Use(requestid.New())
	}
	if s.cfg.Features.RateLimit.Enabled {
		expiration := time.Minute
		if s.cfg.Features.RateLimit.Expiration != "" {
			if d, err := time.ParseDuration(s.cfg.Features.RateLimit.Expiration); err == nil {
				expiration = d
			} else {
				s.logger.Warn("invalid rate limit expiration, using default",
					"expiration", s.cfg.Features.RateLimit.Expiration, "default", expiration)
			}
		}
		s.app.Use(limiter.New(limiter.Config{
			Max:        s.cfg.Features.RateLimit.Max,
			Expiration: expiration,
		}))
	}
	if s.cfg.Features.HealthCheck.Enabled {
		s.app.Use(healthcheck.New())
	}
	if s.cfg.Features.Etag.Enabled {
		s.app.Use(etag.New())
	}
	if s.cfg.Features.ElasticAPM.Enabled {
		s.app.Use(apmfiber.Middleware())
	}
}

// routes registers the debug endpoints. With tokens set, reads need the
// read scope and cancellation the cancel scope.
func (s *DebugServer) routes(inspector Inspector, gatherer prometheus.Gatherer, tokens *auth.TokenProvider) {
	guard := func(string) fiber.Handler {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	if tokens != nil {
		guard = func(scope string) fiber.Handler { return auth.RequireScope(tokens, scope) }
	}

	debug := s.app.Group("/debug")
	debug.Get("/stats", guard(auth.ScopeRead), func(c *fiber.Ctx) error {
		return c.JSON(core.OK(inspector.Stats()))
	})
	debug.Get("/jobs", guard(auth.ScopeRead), func(c *fiber.Ctx) error {
		return c.JSON(core.OK(inspector.Snapshot()))
	})
	debug.Delete("/jobs/:handle", guard(auth.ScopeCancel), func(c *fiber.Ctx) error {
		raw, err := strconv.ParseUint(c.Params("handle"), 10, 64)
		if err != nil {
			return errors.ValidationError(fmt.Errorf("invalid handle %q", c.Params("handle"))).
				WithCode("INVALID_HANDLE")
		}
		h := core.Handle(raw)
		result := inspector.CancelJob(h)
		if claims := auth.ClaimsFrom(c); claims != nil {
			s.logger.Info("job cancel requested", "job", h.String(), "subject", claims.Subject, "result", result.String())
		}
		if result == core.ResultInvalidHandle {
			return errors.DomainError(jobsystem.ErrInvalidHandle).
				WithCode("JOB_NOT_FOUND").
				WithMetadata("job", h.String())
		}
		return c.JSON(core.OK(fiber.Map{"job": h.String(), "result": result.String()}))
	})

	if s.cfg.Features.Metrics.Enabled && gatherer != nil {
		path := s.cfg.Features.Metrics.Path
		if path == "" {
			path = DefaultMetricsPath
		}
		s.app.Get(path, adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// handleError maps ExtendError levels onto HTTP statuses.
func (s *DebugServer) handleError(c *fiber.Ctx, err error) error {
	var traceID string
	if tx := apm.TransactionFromContext(c.UserContext()); tx != nil {
		traceID = tx.TraceContext().Trace.String()
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(core.Fail("", fiberErr.Message))
	}

	resp := core.Fail(errors.GetCode(err), err.Error())
	resp.Error.Details = errors.GetMetadata(err)

	switch {
	case errors.IsValidationError(err):
		return c.Status(fiber.StatusBadRequest).JSON(resp)
	case errors.IsDomainError(err):
		if errors.Is(jobsystem.ErrInvalidHandle, err) {
			return c.Status(fiber.StatusNotFound).JSON(resp)
		}
		return c.Status(fiber.StatusConflict).JSON(resp)
	default:
		s.logger.Error("debug request failed", "path", c.Path(), "error", err, "trace_id", traceID)
		resp.Error.Message = "Internal Server Error"
		resp.Error.TraceID = traceID
		return c.Status(fiber.StatusInternalServerError).JSON(resp)
	}
}

func (s *DebugServer) GetApp() *fiber.App {
	return s.app
}

func (s *DebugServer) Addr() string {
	return fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
}

func (s *DebugServer) Run() error {
	s.logger.Info("debug server listening", "addr", s.Addr())
	return s.app.Listen(s.Addr())
}

func (s *DebugServer) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func buildFiberConfig(cfg *DebugServerConfig) (fiber.Config, error) {
	config := fiber.Config{
		ReadTimeout:           DefaultReadTimeout,
		WriteTimeout:          DefaultWriteTimeout,
		ServerHeader:          DefaultServerHeader,
		DisableStartupMessage: true,
	}
	if cfg.ReadTimeout != "" {
		readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
		if err != nil {
			return fiber.Config{}, fmt.Errorf("invalid read_timeout: %s", cfg.ReadTimeout)
		}
		config.ReadTimeout = readTimeout
	}
	if cfg.WriteTimeout != "" {
		writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
		if err != nil {
			return fiber.Config{}, fmt.Errorf("invalid write_timeout: %s", cfg.WriteTimeout)
		}
		config.WriteTimeout = writeTimeout
	}
	if cfg.ServerHeader != "" {
		config.ServerHeader = cfg.ServerHeader
	}
	return config, nil
}
