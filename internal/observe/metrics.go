// Package observe provides application-wide observability primitives for
// voicepipe: OpenTelemetry metrics, tracing helpers, and structured-logging
// glue.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all voicepipe metrics.
const meterName = "github.com/soniclarity/voicepipe"

// Stage labels used on stage duration and error metrics.
const (
	StageRecording = "recording"
	StageSTT       = "stt"
	StageRespond   = "respond"
	StageTTS       = "tts"
	StagePlayback  = "playback"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// StageDuration tracks per-stage pipeline latency. Use with attribute:
	//   attribute.String("stage", ...) — one of the Stage* constants.
	StageDuration metric.Float64Histogram

	// InteractionDuration tracks end-to-end latency from activation to the
	// end of playback.
	InteractionDuration metric.Float64Histogram

	// WakeConfidence tracks the match confidence of accepted activations.
	WakeConfidence metric.Float64Histogram

	// Activations counts accepted wake-phrase detections.
	Activations metric.Int64Counter

	// StageErrors counts stage failures. Use with attribute:
	//   attribute.String("stage", ...)
	StageErrors metric.Int64Counter

	// Interactions counts completed interaction cycles. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"no_speech")
	Interactions metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// confidenceBuckets covers the [0, 1] match-confidence range.
var confidenceBuckets = []float64{
	0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("voicepipe.stage.duration",
		metric.WithDescription("Latency of one pipeline stage, by stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InteractionDuration, err = m.Float64Histogram("voicepipe.interaction.duration",
		metric.WithDescription("End-to-end latency from activation to end of playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WakeConfidence, err = m.Float64Histogram("voicepipe.wake.confidence",
		metric.WithDescription("Match confidence of accepted activations."),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Activations, err = m.Int64Counter("voicepipe.wake.activations",
		metric.WithDescription("Total accepted wake-phrase detections."),
	); err != nil {
		return nil, err
	}
	if met.StageErrors, err = m.Int64Counter("voicepipe.stage.errors",
		metric.WithDescription("Total stage failures, by stage."),
	); err != nil {
		return nil, err
	}
	if met.Interactions, err = m.Int64Counter("voicepipe.interactions",
		metric.WithDescription("Total completed interaction cycles, by status."),
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

// RecordStage records one stage's latency.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordStageError counts one stage failure.
func (m *Metrics) RecordStageError(ctx context.Context, stage string) {
	m.StageErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordActivation counts one accepted detection and its confidence.
func (m *Metrics) RecordActivation(ctx context.Context, confidence float64) {
	m.Activations.Add(ctx, 1)
	m.WakeConfidence.Record(ctx, confidence)
}

// RecordInteraction records one completed cycle with its end-to-end latency.
func (m *Metrics) RecordInteraction(ctx context.Context, status string, d time.Duration) {
	m.Interactions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	m.InteractionDuration.Record(ctx, d.Seconds())
}
