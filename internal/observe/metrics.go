// Package observe provides application-wide observability primitives for
// the tutor: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all tutor metrics.
const meterName = "github.com/MrWong99/misssmart"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use. The OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TTSDuration tracks one-shot speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// LessonDuration tracks lesson script generation latency.
	LessonDuration metric.Float64Histogram

	// S2SConnectDuration tracks how long a realtime session takes from dial
	// to setup acknowledgement.
	S2SConnectDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// FramesSent counts microphone frames sent to realtime sessions.
	FramesSent metric.Int64Counter

	// FramesReceived counts audio frames received from realtime sessions.
	FramesReceived metric.Int64Counter

	// ChunksScheduled counts chunks placed on a playback timeline. Use with
	// attribute.String("source", "narration"|"live").
	ChunksScheduled metric.Int64Counter

	// PlaybackInterruptions counts barge-ins that cut off playback.
	PlaybackInterruptions metric.Int64Counter

	// CircuitTransitions counts breaker state changes. Use with attributes:
	//   attribute.String("name", ...), attribute.String("to", ...)
	CircuitTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveClassrooms tracks the number of connected classroom sockets.
	ActiveClassrooms metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for speech service latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TTSDuration, err = m.Float64Histogram("misssmart.tts.duration",
		metric.WithDescription("Latency of one-shot speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LessonDuration, err = m.Float64Histogram("misssmart.lesson.duration",
		metric.WithDescription("Latency of lesson script generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.S2SConnectDuration, err = m.Float64Histogram("misssmart.s2s.connect.duration",
		metric.WithDescription("Time from dialling a realtime session to setup acknowledgement."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("misssmart.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("misssmart.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("misssmart.frames.sent",
		metric.WithDescription("Microphone frames sent to realtime sessions."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("misssmart.frames.received",
		metric.WithDescription("Audio frames received from realtime sessions."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("misssmart.chunks.scheduled",
		metric.WithDescription("Audio chunks placed on a playback timeline by source."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackInterruptions, err = m.Int64Counter("misssmart.playback.interruptions",
		metric.WithDescription("Barge-ins that cut off teacher playback."),
	); err != nil {
		return nil, err
	}
	if met.CircuitTransitions, err = m.Int64Counter("misssmart.circuit.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("misssmart.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveClassrooms, err = m.Int64UpDownCounter("misssmart.active_classrooms",
		metric.WithDescription("Number of connected classroom sockets."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("misssmart.http.request.duration",
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordChunk records one scheduled playback chunk from source.
func (m *Metrics) RecordChunk(ctx context.Context, source string) {
	m.ChunksScheduled.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordCircuitTransition records a breaker moving to state to.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, name, to string) {
	m.CircuitTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("name", name),
			attribute.String("to", to),
		),
	)
}
