// Package observe provides application-wide observability primitives for
// sedabot: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all sedabot metrics.
const meterName = "github.com/sedabot/sedabot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks per-engine synthesis latency. Use with
	// attributes:
	//   attribute.String("engine", ...), attribute.String("status", ...)
	SynthesisDuration metric.Float64Histogram

	// RequestDuration tracks end-to-end TTS request handling latency, from
	// inbound message to delivered voice note.
	RequestDuration metric.Float64Histogram

	// --- Counters ---

	// MessagesProcessed counts inbound messages. Use with attribute:
	//   attribute.String("kind", ...)
	MessagesProcessed metric.Int64Counter

	// SynthesisRequests counts router invocations. Use with attribute:
	//   attribute.String("lang", ...)
	SynthesisRequests metric.Int64Counter

	// CacheLookups counts audio-cache lookups. Use with attribute:
	//   attribute.String("result", ...) — "hit" or "miss"
	CacheLookups metric.Int64Counter

	// --- Error counters ---

	// EngineErrors counts per-engine synthesis failures. Use with attribute:
	//   attribute.String("engine", ...)
	EngineErrors metric.Int64Counter

	// AdapterErrors counts transport send/receive errors. Use with attribute:
	//   attribute.String("adapter", ...)
	AdapterErrors metric.Int64Counter

	// --- Gauges ---

	// InFlightRequests tracks TTS requests currently being processed.
	InFlightRequests metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for synthesis latencies: local engines answer in tens of milliseconds,
// remote ones in single-digit seconds.
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
	if met.SynthesisDuration, err = m.Float64Histogram("sedabot.synthesis.duration",
		metric.WithDescription("Latency of a single engine synthesis attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RequestDuration, err = m.Float64Histogram("sedabot.request.duration",
		metric.WithDescription("End-to-end TTS request handling latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.MessagesProcessed, err = m.Int64Counter("sedabot.messages.processed",
		metric.WithDescription("Total inbound messages by kind."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisRequests, err = m.Int64Counter("sedabot.synthesis.requests",
		metric.WithDescription("Total router synthesis invocations by language."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("sedabot.cache.lookups",
		metric.WithDescription("Total audio-cache lookups by result."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.EngineErrors, err = m.Int64Counter("sedabot.engine.errors",
		metric.WithDescription("Total synthesis failures by engine."),
	); err != nil {
		return nil, err
	}
	if met.AdapterErrors, err = m.Int64Counter("sedabot.adapter.errors",
		metric.WithDescription("Total transport errors by adapter."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.InFlightRequests, err = m.Int64UpDownCounter("sedabot.requests.in_flight",
		metric.WithDescription("Number of TTS requests currently being processed."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("sedabot.http.request.duration",
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

// RecordSynthesis records one engine synthesis attempt: its latency histogram
// sample and, on failure, the per-engine error counter.
func (m *Metrics) RecordSynthesis(ctx context.Context, engine string, seconds float64, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.SynthesisDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("status", status),
		),
	)
	if !ok {
		m.EngineErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("engine", engine)),
		)
	}
}

// RecordCacheLookup records one audio-cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordMessage records one inbound message of the given kind.
func (m *Metrics) RecordMessage(ctx context.Context, kind string) {
	m.MessagesProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordAdapterError records one transport error for the named adapter.
func (m *Metrics) RecordAdapterError(ctx context.Context, adapter string) {
	m.AdapterErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("adapter", adapter)),
	)
}

// RecordHTTPRequest records one operational-endpoint request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, seconds float64) {
	m.HTTPRequestDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
			attribute.Int("status", status),
		),
	)
}

// TrackRequest marks one TTS request as in flight and returns the completion
// func: it decrements the gauge and records the end-to-end duration. Callers
// defer the returned func.
func (m *Metrics) TrackRequest(ctx context.Context) func() {
	start := time.Now()
	m.InFlightRequests.Add(ctx, 1)
	return func() {
		m.InFlightRequests.Add(ctx, -1)
		m.RequestDuration.Record(ctx, time.Since(start).Seconds())
	}
}
