// Package telemetry defines the logging, metrics, and tracing interfaces used
// throughout the gateway. Every phase and service accepts these interfaces
// rather than reaching for a global logger, so composition roots can wire in
// Clue/OpenTelemetry in production and no-ops in tests.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging for the turn pipeline. Implementations
// typically delegate to Clue but the interface stays small so tests can
// provide lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter/timer/gauge helpers for phase- and component-scoped
// instrumentation (cache hit rate, breaker trips, token budgets, etc.).
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so phase code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// CallTelemetry captures observability metadata gathered during an LLM or
// tool invocation. Common fields cover the usual metrics; Extra carries
// provider/tool-specific data.
type CallTelemetry struct {
	// DurationMs is the wall-clock execution time in milliseconds.
	DurationMs int64
	// TokensUsed tracks the total tokens consumed (zero for non-LLM calls).
	TokensUsed int
	// Component identifies what was called (model endpoint name, tool name).
	Component string
	// Extra holds call-specific metadata not captured by the common fields.
	Extra map[string]any
}

// Bundle groups the three telemetry facets so they can be threaded through
// constructors as a single argument.
type Bundle struct {
	Logger  Logger
	Metrics Metrics
	Tracer  Tracer
}

// Noop returns a Bundle whose members discard everything. Useful as a safe
// default when callers don't wire observability explicitly.
func Noop() Bundle {
	return Bundle{Logger: NewNoopLogger(), Metrics: NewNoopMetrics(), Tracer: NewNoopTracer()}
}
