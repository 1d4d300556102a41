package jobsystem

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Deepreo/jobsys/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PanicResult is reported for a process function that panicked.
const PanicResult int32 = -1

// RecoverMiddleware turns a panic in a process function into PanicResult.
// Every job is wrapped with it.
func RecoverMiddleware(logger *slog.Logger) core.ProcessMiddleware {
	return func(next core.ProcessFunc) core.ProcessFunc {
		return func(ctx context.Context, sys core.JobSystem, job core.Handle, userContext, userData any) (result int32) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("job process panicked",
						"job", job.String(),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					result = PanicResult
				}
			}()
			return next(ctx, sys, job, userContext, userData)
		}
	}
}

// LoggingMiddleware logs the start and end of every process function at debug level.
func LoggingMiddleware(logger *slog.Logger) core.ProcessMiddleware {
	return func(next core.ProcessFunc) core.ProcessFunc {
		return func(ctx context.Context, sys core.JobSystem, job core.Handle, userContext, userData any) int32 {
			start := time.Now()
			logger.DebugContext(ctx, "job process started", "job", job.String())
			result := next(ctx, sys, job, userContext, userData)
			logger.DebugContext(ctx, "job process returned",
				"job", job.String(),
				"result", result,
				"duration", time.Since(start),
			)
			return result
		}
	}
}

// TracingMiddleware runs every process function inside an OpenTelemetry span.
func TracingMiddleware(tracerName string) core.ProcessMiddleware {
	return func(next core.ProcessFunc) core.ProcessFunc {
		return func(ctx context.Context, sys core.JobSystem, job core.Handle, userContext, userData any) int32 {
			tracer := otel.Tracer(tracerName)
			ctx, span := tracer.Start(ctx, "job.process",
				trace.WithAttributes(
					attribute.Int64("job.index", int64(job.Index())),
					attribute.Int64("job.generation", int64(job.Generation())),
				),
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			result := next(ctx, sys, job, userContext, userData)
			span.SetAttributes(
				attribute.Int("job.result", int(result)),
				attribute.Bool("job.cancel_requested", sys.CancelRequested(job)),
			)
			return result
		}
	}
}
