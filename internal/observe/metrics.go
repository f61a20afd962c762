// Package observe provides application-wide observability primitives for
// Ringdown: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Ringdown metrics.
const meterName = "github.com/bellwetherlabs/ringdown"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// EncodeDuration tracks Opus frame encode latency.
	EncodeDuration metric.Float64Histogram

	// SessionConnectDuration tracks the time from the first handshake
	// message to an established peer session.
	SessionConnectDuration metric.Float64Histogram

	// --- Counters ---

	// CallsPlaced counts outgoing calls. Use with attribute:
	//   attribute.String("number", ...)
	CallsPlaced metric.Int64Counter

	// DialsCoerced counts dialed numbers rejected and coerced to the
	// operator number.
	DialsCoerced metric.Int64Counter

	// RelayReconnects counts relay reconnection attempts. Use with attribute:
	//   attribute.String("channel", "control"|"discovery")
	RelayReconnects metric.Int64Counter

	// FramesEncoded counts encoded audio frames. Use with attribute:
	//   attribute.String("class", ...)
	FramesEncoded metric.Int64Counter

	// FramesDropped counts audio frames discarded before playback or send.
	// Use with attribute:
	//   attribute.String("reason", "mixer_backlog"|"transport"|"decode")
	FramesDropped metric.Int64Counter

	// Datagrams counts voice datagrams on the peer transport. Use with
	// attribute:
	//   attribute.String("direction", "in"|"out")
	Datagrams metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live peer sessions.
	ActiveSessions metric.Int64UpDownCounter

	// MixerChannels tracks the number of open mixer channels.
	MixerChannels metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EncodeDuration, err = m.Float64Histogram("ringdown.audio.encode.duration",
		metric.WithDescription("Latency of Opus frame encoding."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionConnectDuration, err = m.Float64Histogram("ringdown.session.connect.duration",
		metric.WithDescription("Time from handshake start to established peer session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CallsPlaced, err = m.Int64Counter("ringdown.calls.placed",
		metric.WithDescription("Total outgoing calls by dialed number."),
	); err != nil {
		return nil, err
	}
	if met.DialsCoerced, err = m.Int64Counter("ringdown.dials.coerced",
		metric.WithDescription("Total dialed numbers coerced to the operator number."),
	); err != nil {
		return nil, err
	}
	if met.RelayReconnects, err = m.Int64Counter("ringdown.relay.reconnects",
		metric.WithDescription("Total relay reconnection attempts by channel."),
	); err != nil {
		return nil, err
	}
	if met.FramesEncoded, err = m.Int64Counter("ringdown.audio.frames.encoded",
		metric.WithDescription("Total encoded audio frames by frame class."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("ringdown.audio.frames.dropped",
		metric.WithDescription("Total audio frames discarded by reason."),
	); err != nil {
		return nil, err
	}
	if met.Datagrams, err = m.Int64Counter("ringdown.session.datagrams",
		metric.WithDescription("Total voice datagrams by direction."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("ringdown.sessions.active",
		metric.WithDescription("Number of live peer sessions."),
	); err != nil {
		return nil, err
	}
	if met.MixerChannels, err = m.Int64UpDownCounter("ringdown.mixer.channels",
		metric.WithDescription("Number of open mixer channels."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("ringdown.http.request.duration",
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

// RecordCallPlaced records an outgoing call counter increment.
func (m *Metrics) RecordCallPlaced(ctx context.Context, number string) {
	m.CallsPlaced.Add(ctx, 1,
		metric.WithAttributes(attribute.String("number", number)),
	)
}

// RecordRelayReconnect records a relay reconnection attempt for the named
// channel ("control" or "discovery").
func (m *Metrics) RecordRelayReconnect(ctx context.Context, channel string) {
	m.RelayReconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("channel", channel)),
	)
}

// RecordFrameEncoded records an encoded audio frame increment for the given
// frame class label.
func (m *Metrics) RecordFrameEncoded(ctx context.Context, class string) {
	m.FramesEncoded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("class", class)),
	)
}

// RecordFrameDropped records a dropped audio frame increment with the given
// reason.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
