// Package observe carries the service's telemetry: OpenTelemetry metrics
// scraped through Prometheus, spans tagged with the interview session and
// transcript conversation they serve, and request middleware that ties both
// to the structured logs.
//
// Tests should build [Metrics] with [NewMetrics] and their own
// [metric.MeterProvider] rather than use [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/nwang783/just-in-case"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text latency from end of speech to final
	// transcript.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks time to the first streamed token of the interviewer.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech time to first audio.
	TTSDuration metric.Float64Histogram

	// AnalysisDuration tracks post-call transcript analysis latency.
	AnalysisDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Analyses counts finished analyses. Use with attribute:
	//   attribute.String("status", ...)
	Analyses metric.Int64Counter

	// EngagementEvents counts emitted vision events. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("reason", ...)
	EngagementEvents metric.Int64Counter

	// SessionTransitions counts session status changes. Use with attribute:
	//   attribute.String("status", ...)
	SessionTransitions metric.Int64Counter

	// Utterances counts transcript messages. Use with attribute:
	//   attribute.String("role", ...)
	Utterances metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of running interview bots.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveParticipants tracks the number of connected candidates across
	// all rooms.
	ActiveParticipants metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// analysisBuckets covers structured-output completions, which take tens of
// seconds.
var analysisBuckets = []float64{
	1, 2.5, 5, 10, 20, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("casecoach.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("casecoach.llm.duration",
		metric.WithDescription("Latency of the interviewer LLM to first token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("casecoach.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis to first audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("casecoach.analysis.duration",
		metric.WithDescription("Latency of post-call transcript analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(analysisBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("casecoach.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Analyses, err = m.Int64Counter("casecoach.analyses",
		metric.WithDescription("Total transcript analyses by status."),
	); err != nil {
		return nil, err
	}
	if met.EngagementEvents, err = m.Int64Counter("casecoach.engagement.events",
		metric.WithDescription("Total vision engagement events by kind and reason."),
	); err != nil {
		return nil, err
	}
	if met.SessionTransitions, err = m.Int64Counter("casecoach.session.transitions",
		metric.WithDescription("Total session status transitions by target status."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("casecoach.utterances",
		metric.WithDescription("Total transcript messages by role."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("casecoach.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("casecoach.active_sessions",
		metric.WithDescription("Number of running interview bots."),
	); err != nil {
		return nil, err
	}
	if met.ActiveParticipants, err = m.Int64UpDownCounter("casecoach.active_participants",
		metric.WithDescription("Number of connected candidates across all rooms."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("casecoach.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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

// RecordAnalysis records one finished analysis and its latency.
func (m *Metrics) RecordAnalysis(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Analyses.Add(ctx, 1, attrs)
	m.AnalysisDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordEngagementEvent counts one vision event. reason is empty for
// attention regained and smile events.
func (m *Metrics) RecordEngagementEvent(ctx context.Context, kind, reason string) {
	m.EngagementEvents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("reason", reason),
		),
	)
}

// RecordSessionStatus counts a session entering status.
func (m *Metrics) RecordSessionStatus(ctx context.Context, status string) {
	m.SessionTransitions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordUtterance counts one transcript message by role.
func (m *Metrics) RecordUtterance(ctx context.Context, role string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("role", role)),
	)
}
