// Package obs wires structured logging and OpenTelemetry instrumentation
// around Instance lifecycle events: run/resume/reset spans, fault and
// termination counters, and debug/warn logging of signal-state and
// kill-switch transitions (SPEC_FULL.md "Observability component" /
// "Logging component"). It costs nothing when the embedder hasn't
// configured OTel: the global tracer/meter providers default to no-ops.
package obs

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/aotwasm/sandboxrt"

var (
	once      sync.Once
	tracer    trace.Tracer
	faultCtr  metric.Int64Counter
	killCtr   metric.Int64Counter
	runCtr    metric.Int64Counter
	logger    *slog.Logger
)

func lazyInit() {
	once.Do(func() {
		tracer = otel.Tracer(instrumentationName)
		meter := otel.Meter(instrumentationName)
		faultCtr, _ = meter.Int64Counter("sandboxrt.faults", metric.WithDescription("guest faults observed, labeled by trap code"))
		killCtr, _ = meter.Int64Counter("sandboxrt.terminations", metric.WithDescription("instance terminations, labeled by cause"))
		runCtr, _ = meter.Int64Counter("sandboxrt.runs", metric.WithDescription("run/resume invocations"))
		logger = slog.Default().With("component", "sandboxrt")
	})
}

// Logger returns the package-wide structured logger.
func Logger() *slog.Logger {
	lazyInit()
	return logger
}

// StartRun opens a span named sandboxrt.run around one Instance.run/resume
// invocation (resumes use the same span name), tagged with the instance id and
// entrypoint, and records the sandboxrt.runs counter.
func StartRun(ctx context.Context, instanceID, entrypoint string) (context.Context, trace.Span) {
	lazyInit()
	runCtr.Add(ctx, 1, metric.WithAttributes(attribute.String("entrypoint", entrypoint)))
	return tracer.Start(ctx, "sandboxrt.run", trace.WithAttributes(
		attribute.String("instance.id", instanceID),
		attribute.String("entrypoint", entrypoint),
	))
}

// RecordFault records a fault against the sandboxrt.faults counter and logs
// it at Warn.
func RecordFault(ctx context.Context, instanceID string, trapCode string, fatal bool) {
	lazyInit()
	faultCtr.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trap_code", trapCode),
		attribute.Bool("fatal", fatal),
	))
	logger.Warn("guest fault", "instance", instanceID, "trap_code", trapCode, "fatal", fatal)
}

// RecordTermination records a termination against the sandboxrt.terminations
// counter and logs it at Warn.
func RecordTermination(ctx context.Context, instanceID, cause string) {
	lazyInit()
	killCtr.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
	logger.Warn("instance terminated", "instance", instanceID, "cause", cause)
}

// Debugf logs a Debug-level lifecycle event through the package logger. No
// package in this module calls it yet.
func Debugf(msg string, args ...any) {
	lazyInit()
	logger.Debug(msg, args...)
}
