package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStage(ctx, StageSTT, 120*time.Millisecond)
	m.RecordStage(ctx, StageSTT, 340*time.Millisecond)
	m.RecordStage(ctx, StageTTS, 80*time.Millisecond)

	rm := collect(t, reader)
	found := findMetric(rm, "voicepipe.stage.duration")
	if found == nil {
		t.Fatal("voicepipe.stage.duration not collected")
	}

	hist, ok := found.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T, want Histogram[float64]", found.Data)
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		stage, _ := dp.Attributes.Value(attribute.Key("stage"))
		counts[stage.AsString()] = dp.Count
	}
	if counts[StageSTT] != 2 {
		t.Errorf("stt observations = %d, want 2", counts[StageSTT])
	}
	if counts[StageTTS] != 1 {
		t.Errorf("tts observations = %d, want 1", counts[StageTTS])
	}
}

func TestRecordStageError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStageError(ctx, StageRespond)
	m.RecordStageError(ctx, StageRespond)

	rm := collect(t, reader)
	found := findMetric(rm, "voicepipe.stage.errors")
	if found == nil {
		t.Fatal("voicepipe.stage.errors not collected")
	}

	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T, want Sum[int64]", found.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("error count = %d, want 2", total)
	}
}

func TestRecordActivation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordActivation(ctx, 0.91)

	rm := collect(t, reader)
	if found := findMetric(rm, "voicepipe.wake.activations"); found == nil {
		t.Error("voicepipe.wake.activations not collected")
	}
	found := findMetric(rm, "voicepipe.wake.confidence")
	if found == nil {
		t.Fatal("voicepipe.wake.confidence not collected")
	}
	hist, ok := found.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T, want Histogram[float64]", found.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Error("confidence observation missing")
	}
}

func TestRecordInteraction(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInteraction(ctx, "ok", 2*time.Second)
	m.RecordInteraction(ctx, "error", 500*time.Millisecond)

	rm := collect(t, reader)
	found := findMetric(rm, "voicepipe.interactions")
	if found == nil {
		t.Fatal("voicepipe.interactions not collected")
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T, want Sum[int64]", found.Data)
	}

	byStatus := map[string]int64{}
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		byStatus[status.AsString()] = dp.Value
	}
	if byStatus["ok"] != 1 || byStatus["error"] != 1 {
		t.Errorf("interactions by status = %v, want ok:1 error:1", byStatus)
	}

	if found := findMetric(rm, "voicepipe.interaction.duration"); found == nil {
		t.Error("voicepipe.interaction.duration not collected")
	}
}

func TestDefaultMetricsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
