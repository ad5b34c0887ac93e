package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/keystone"
)

type fakeSource struct {
	snapshot keystone.MetricsSnapshot
	audit    uint64
	notify   uint64
}

func (f fakeSource) MetricsSnapshot() keystone.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.audit }
func (f fakeSource) NotificationsDropped() uint64              { return f.notify }

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("expected text exposition, got %q", ct)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	return string(body)
}

func TestCollectorOmitsDisabledCounters(t *testing.T) {
	c := NewPrometheusExporterFromSource(fakeSource{
		snapshot: keystone.MetricsSnapshot{
			Counters:   map[keystone.MetricID]uint64{},
			Histograms: map[keystone.MetricID][]uint64{},
		},
	})
	out := scrape(t, c)
	if strings.Contains(out, "keystone_login_success_total") {
		t.Fatalf("disabled counters must not be exported:\n%s", out)
	}
	if !strings.Contains(out, "keystone_audit_dropped_total 0") {
		t.Fatalf("expected dropped counters regardless:\n%s", out)
	}
}

func TestCollectorExportsCountersAndHistogram(t *testing.T) {
	c := NewPrometheusExporterFromSource(fakeSource{
		snapshot: keystone.MetricsSnapshot{
			Counters: map[keystone.MetricID]uint64{
				keystone.MetricLoginSuccess: 7,
				keystone.MetricTokensPurged: 12,
			},
			Histograms: map[keystone.MetricID][]uint64{
				keystone.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
			HistogramSums: map[keystone.MetricID]float64{
				keystone.MetricValidateLatency: 1.5,
			},
		},
		audit:  2,
		notify: 5,
	})

	out := scrape(t, c)
	for _, want := range []string{
		"keystone_login_success_total 7",
		"keystone_tokens_purged_total 12",
		`keystone_validate_latency_seconds_bucket{le="0.005"} 1`,
		`keystone_validate_latency_seconds_bucket{le="0.5"} 28`,
		`keystone_validate_latency_seconds_bucket{le="+Inf"} 36`,
		"keystone_validate_latency_seconds_sum 1.5",
		"keystone_validate_latency_seconds_count 36",
		"keystone_audit_dropped_total 2",
		"keystone_notifications_dropped_total 5",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestCollectorReadsLiveEngine(t *testing.T) {
	src := &liveSource{metrics: keystone.NewMetrics(keystone.MetricsConfig{Enabled: true})}
	c := NewPrometheusExporterFromSource(src)

	src.metrics.Inc(keystone.MetricRefreshReuseDetected)
	if out := scrape(t, c); !strings.Contains(out, "keystone_refresh_reuse_detected_total 1") {
		t.Fatalf("expected first scrape to see 1:\n%s", out)
	}
	src.metrics.Inc(keystone.MetricRefreshReuseDetected)
	if out := scrape(t, c); !strings.Contains(out, "keystone_refresh_reuse_detected_total 2") {
		t.Fatalf("expected second scrape to see 2:\n%s", out)
	}
}

type liveSource struct {
	metrics *keystone.Metrics
}

func (l *liveSource) MetricsSnapshot() keystone.MetricsSnapshot { return l.metrics.Snapshot() }
func (l *liveSource) AuditDropped() uint64                      { return 0 }
func (l *liveSource) NotificationsDropped() uint64              { return 0 }
