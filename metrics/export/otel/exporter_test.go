package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/keystone"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot keystone.MetricsSnapshot
	audit    uint64
	notify   uint64
}

func (f *fakeSource) MetricsSnapshot() keystone.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := keystone.MetricsSnapshot{
		Counters:      make(map[keystone.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms:    make(map[keystone.MetricID][]uint64, len(f.snapshot.Histograms)),
		HistogramSums: make(map[keystone.MetricID]float64, len(f.snapshot.HistogramSums)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	for k, v := range f.snapshot.HistogramSums {
		out.HistogramSums[k] = v
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.audit
}

func (f *fakeSource) NotificationsDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.notify
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func intValue(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	switch agg := data.(type) {
	case metricdata.Sum[int64]:
		if len(agg.DataPoints) != 1 {
			t.Fatalf("expected one data point, got %d", len(agg.DataPoints))
		}
		return agg.DataPoints[0].Value
	case metricdata.Gauge[int64]:
		if len(agg.DataPoints) != 1 {
			t.Fatalf("expected one data point, got %d", len(agg.DataPoints))
		}
		return agg.DataPoints[0].Value
	default:
		t.Fatalf("unexpected aggregation %T", data)
	}
	return 0
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: keystone.MetricsSnapshot{
			Counters: map[keystone.MetricID]uint64{
				keystone.MetricLoginSuccess: 3,
			},
			Histograms: map[keystone.MetricID][]uint64{
				keystone.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
			HistogramSums: map[keystone.MetricID]float64{
				keystone.MetricValidateLatency: 0.25,
			},
		},
		audit:  1,
		notify: 4,
	}

	exp, err := NewOTelExporterFromSource(provider.Meter("keystone-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	got := collect(t, reader)
	checks := map[string]int64{
		"keystone_login_success_total":                      3,
		"keystone_validate_latency_seconds_bucket_le_0_005": 1,
		"keystone_validate_latency_seconds_bucket_le_0_5":   7,
		"keystone_validate_latency_seconds_bucket_le_inf":   8,
		"keystone_validate_latency_seconds_count":           8,
		"keystone_audit_dropped_total":                      1,
		"keystone_notifications_dropped_total":              4,
	}
	for name, want := range checks {
		data, ok := got[name]
		if !ok {
			t.Fatalf("metric %s not collected", name)
		}
		if v := intValue(t, data); v != want {
			t.Fatalf("%s: expected %d, got %d", name, want, v)
		}
	}
	if _, ok := got["keystone_logout_total"]; ok {
		t.Fatal("counters absent from the snapshot must not be observed")
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newReader()
	if _, err := NewOTelExporterFromSource(provider.Meter("keystone-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewOTelExporter(provider.Meter("keystone-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for a nil engine, got %v", err)
	}
}

func TestExporterCloseStopsObservation(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{snapshot: keystone.MetricsSnapshot{
		Counters: map[keystone.MetricID]uint64{keystone.MetricLogout: 2},
	}}
	exp, err := NewOTelExporterFromSource(provider.Meter("keystone-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := collect(t, reader)["keystone_logout_total"]; ok {
		t.Fatal("expected no observations after Close")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: keystone.MetricsSnapshot{
			Counters: map[keystone.MetricID]uint64{keystone.MetricLoginSuccess: 1},
			Histograms: map[keystone.MetricID][]uint64{
				keystone.MetricValidateLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}
	exp, err := NewOTelExporterFromSource(provider.Meter("keystone-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[keystone.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
