package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Wardline tracer.
const tracerName = "github.com/wardline/wardline"

// Tracer returns the Wardline [trace.Tracer] from the globally registered
// provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the Wardline tracer. Screening, index, and
// corpus operations call this at their entry points; the caller must call
// span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// activeSpan returns the span context from ctx if it carries a valid trace ID.
func activeSpan(ctx context.Context) (trace.SpanContext, bool) {
	sc := trace.SpanContextFromContext(ctx)
	return sc, sc.HasTraceID()
}

// CorrelationID returns the active trace ID, or the empty string when ctx has
// no span. The trace ID is the correlation identifier stamped on log lines,
// the X-Correlation-ID response header, and incident records, so one scam
// call can be followed across all three.
func CorrelationID(ctx context.Context) string {
	if sc, ok := activeSpan(ctx); ok {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default [slog.Logger] enriched with trace_id and
// span_id from ctx. Without an active span it returns the default logger
// unchanged.
func Logger(ctx context.Context) *slog.Logger {
	sc, ok := activeSpan(ctx)
	if !ok {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
