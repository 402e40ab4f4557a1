// Package observe provides application-wide observability primitives for
// liplink: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all liplink metrics.
const meterName = "github.com/mentorverse/liplink"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ASRDuration tracks speech recognition latency per utterance.
	ASRDuration metric.Float64Histogram

	// LLMDuration tracks tutor reply generation latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency per fragment.
	TTSDuration metric.Float64Histogram

	// FeatureDuration tracks audio feature extraction latency per window.
	FeatureDuration metric.Float64Histogram

	// InferenceDuration tracks neural face generation latency per batch.
	InferenceDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// TutorReplies counts completed tutor responses. Use with attribute:
	//   attribute.String("tutor_id", ...)
	TutorReplies metric.Int64Counter

	// FramesGenerated counts synthesised video frames. Use with attribute:
	//   attribute.String("tutor_id", ...)
	FramesGenerated metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of registered sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConnections tracks the number of open websocket connections.
	ActiveConnections metric.Int64UpDownCounter

	// LoadedEngines tracks the number of tutor engines resident in the cache.
	LoadedEngines metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// realtime media-pipeline latencies.
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
	if met.ASRDuration, err = m.Float64Histogram("liplink.asr.duration",
		metric.WithDescription("Latency of speech recognition per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("liplink.llm.duration",
		metric.WithDescription("Latency of tutor reply generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("liplink.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis per fragment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FeatureDuration, err = m.Float64Histogram("liplink.feature.duration",
		metric.WithDescription("Latency of audio feature extraction per window."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InferenceDuration, err = m.Float64Histogram("liplink.inference.duration",
		metric.WithDescription("Latency of neural face generation per batch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("liplink.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.TutorReplies, err = m.Int64Counter("liplink.tutor.replies",
		metric.WithDescription("Total completed tutor responses by tutor ID."),
	); err != nil {
		return nil, err
	}
	if met.FramesGenerated, err = m.Int64Counter("liplink.frames.generated",
		metric.WithDescription("Total synthesised video frames by tutor ID."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("liplink.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("liplink.active_sessions",
		metric.WithDescription("Number of registered sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("liplink.active_connections",
		metric.WithDescription("Number of open websocket connections."),
	); err != nil {
		return nil, err
	}
	if met.LoadedEngines, err = m.Int64UpDownCounter("liplink.loaded_engines",
		metric.WithDescription("Number of tutor engines resident in the cache."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("liplink.http.request.duration",
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

// RecordTutorReply is a convenience method that records a completed tutor
// response.
func (m *Metrics) RecordTutorReply(ctx context.Context, tutorID int) {
	m.TutorReplies.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tutor_id", strconv.Itoa(tutorID))),
	)
}

// RecordFrames is a convenience method that records n synthesised frames.
func (m *Metrics) RecordFrames(ctx context.Context, tutorID int, n int64) {
	m.FramesGenerated.Add(ctx, n,
		metric.WithAttributes(attribute.String("tutor_id", strconv.Itoa(tutorID))),
	)
}
