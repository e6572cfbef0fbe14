// Package observe provides application-wide observability primitives for
// Wardline: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Wardline metrics.
const meterName = "github.com/wardline/wardline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ScreeningDuration tracks end-to-end latency of one transcript update,
	// from normalization through the decision.
	ScreeningDuration metric.Float64Histogram

	// EmbedDuration tracks embedding-provider latency.
	EmbedDuration metric.Float64Histogram

	// IndexQueryDuration tracks nearest-neighbor query latency.
	IndexQueryDuration metric.Float64Histogram

	// IndexRebuildDuration tracks full corpus rebuild latency.
	IndexRebuildDuration metric.Float64Histogram

	// --- Counters ---

	// Decisions counts screening decisions. Use with attributes:
	//   attribute.String("action", ...), attribute.String("category", ...)
	Decisions metric.Int64Counter

	// Incidents counts escalation incidents handed to the alert sink. Use
	// with attribute: attribute.String("action", ...)
	Incidents metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// IngestWarnings counts corpus sources skipped as malformed. Use with
	// attribute: attribute.String("source", ...)
	IngestWarnings metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live call sessions.
	ActiveCalls metric.Int64UpDownCounter

	// IndexedPatterns tracks the number of records in the active index.
	IndexedPatterns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for in-call decision latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ScreeningDuration, err = m.Float64Histogram("wardline.screening.duration",
		metric.WithDescription("End-to-end latency of one transcript update."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbedDuration, err = m.Float64Histogram("wardline.embed.duration",
		metric.WithDescription("Latency of embedding-provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IndexQueryDuration, err = m.Float64Histogram("wardline.index.query.duration",
		metric.WithDescription("Latency of nearest-neighbor pattern queries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IndexRebuildDuration, err = m.Float64Histogram("wardline.index.rebuild.duration",
		metric.WithDescription("Latency of full corpus index rebuilds."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Decisions, err = m.Int64Counter("wardline.decisions",
		metric.WithDescription("Total screening decisions by action and category."),
	); err != nil {
		return nil, err
	}
	if met.Incidents, err = m.Int64Counter("wardline.incidents",
		metric.WithDescription("Total escalation incidents by action."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("wardline.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.IngestWarnings, err = m.Int64Counter("wardline.ingest.warnings",
		metric.WithDescription("Total corpus sources skipped as malformed."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("wardline.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("wardline.active_calls",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}
	if met.IndexedPatterns, err = m.Int64UpDownCounter("wardline.indexed_patterns",
		metric.WithDescription("Number of records in the active pattern index."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("wardline.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDecision is a convenience method that records a screening decision
// counter increment with the standard attribute set.
func (m *Metrics) RecordDecision(ctx context.Context, action, category string) {
	m.Decisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("category", category),
		),
	)
}

// RecordIncident is a convenience method that records an escalation incident
// counter increment.
func (m *Metrics) RecordIncident(ctx context.Context, action string) {
	m.Incidents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("action", action)),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
