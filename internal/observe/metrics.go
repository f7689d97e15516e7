// Package observe provides application-wide observability primitives for
// InterVue-X: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all InterVue-X metrics.
const meterName = "github.com/Sangini-spec/InterVue-X"

// Capture frame outcomes recorded on [Metrics.CaptureFrames].
const (
	FrameSent    = "sent"
	FrameMuted   = "muted"
	FrameDropped = "dropped"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Session lifecycle ---

	// SessionTransitions counts state machine transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	SessionTransitions metric.Int64Counter

	// ActiveSessions tracks sessions between Connecting and a terminal state.
	ActiveSessions metric.Int64UpDownCounter

	// --- Audio path ---

	// CaptureFrames counts outbound microphone frames by outcome
	// (sent, muted, dropped).
	CaptureFrames metric.Int64Counter

	// PlaybackSegments counts agent audio segments placed on the timeline.
	PlaybackSegments metric.Int64Counter

	// PlaybackInterruptions counts hard stops of agent playback.
	PlaybackInterruptions metric.Int64Counter

	// CodecErrors counts malformed payloads that were dropped. Use with
	// attribute.String("direction", "inbound"|"outbound").
	CodecErrors metric.Int64Counter

	// --- Latency ---

	// HandshakeDuration tracks transport connect plus handshake latency.
	HandshakeDuration metric.Float64Histogram

	// AnalysisDuration tracks post-session transcript analysis latency.
	AnalysisDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// handshake and analysis latencies, which range from tens of milliseconds to
// tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Session lifecycle.
	if met.SessionTransitions, err = m.Int64Counter("intervue.session.transitions",
		metric.WithDescription("Interview session state transitions by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("intervue.sessions.active",
		metric.WithDescription("Number of interview sessions holding a transport connection."),
	); err != nil {
		return nil, err
	}

	// Audio path.
	if met.CaptureFrames, err = m.Int64Counter("intervue.capture.frames",
		metric.WithDescription("Outbound microphone frames by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackSegments, err = m.Int64Counter("intervue.playback.segments",
		metric.WithDescription("Agent audio segments scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackInterruptions, err = m.Int64Counter("intervue.playback.interruptions",
		metric.WithDescription("Hard stops of agent playback."),
	); err != nil {
		return nil, err
	}
	if met.CodecErrors, err = m.Int64Counter("intervue.codec.errors",
		metric.WithDescription("Malformed audio payloads dropped by direction."),
	); err != nil {
		return nil, err
	}

	// Latency.
	if met.HandshakeDuration, err = m.Float64Histogram("intervue.transport.handshake.duration",
		metric.WithDescription("Latency of transport connect and handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("intervue.analysis.duration",
		metric.WithDescription("Latency of post-session transcript analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("intervue.http.request.duration",
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

// RecordTransition records a session state transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.SessionTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordCaptureFrame records one outbound frame with the given outcome.
func (m *Metrics) RecordCaptureFrame(ctx context.Context, outcome string) {
	m.CaptureFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCodecError records a dropped malformed payload.
func (m *Metrics) RecordCodecError(ctx context.Context, direction string) {
	m.CodecErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordHandshake records a handshake latency with its outcome.
func (m *Metrics) RecordHandshake(ctx context.Context, provider string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.HandshakeDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}
