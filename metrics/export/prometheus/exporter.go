package prometheus

import (
	"net/http"

	"github.com/MrEthical07/keystone"
	"github.com/MrEthical07/keystone/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() keystone.MetricsSnapshot
	AuditDropped() uint64
	NotificationsDropped() uint64
}

type counterDesc struct {
	id   keystone.MetricID
	desc *prometheus.Desc
}

type histogramDesc struct {
	id   keystone.MetricID
	desc *prometheus.Desc
}

// Collector reads an engine snapshot on every scrape. Counters that were
// never enabled are not emitted.
type Collector struct {
	source       metricsSource
	counters     []counterDesc
	histograms   []histogramDesc
	auditDropped *prometheus.Desc
	notifDropped *prometheus.Desc
	registry     *prometheus.Registry
}

var _ prometheus.Collector = (*Collector)(nil)

func NewPrometheusExporter(engine *keystone.Engine) *Collector {
	return NewPrometheusExporterFromSource(engine)
}

func NewPrometheusExporterFromSource(source metricsSource) *Collector {
	c := &Collector{
		source:       source,
		counters:     make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms:   make([]histogramDesc, 0, len(internaldefs.HistogramDefs)),
		auditDropped: prometheus.NewDesc(internaldefs.AuditDropped.Name, internaldefs.AuditDropped.Help, nil, nil),
		notifDropped: prometheus.NewDesc(internaldefs.NotificationsDropped.Name, internaldefs.NotificationsDropped.Help, nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters = append(c.counters, counterDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, histogramDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}

	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(c)
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
	for _, hd := range c.histograms {
		ch <- hd.desc
	}
	ch <- c.auditDropped
	ch <- c.notifDropped
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.MetricsSnapshot()
	for _, cd := range c.counters {
		v, ok := snap.Counters[cd.id]
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, float64(v))
	}

	for _, hd := range c.histograms {
		raw, ok := snap.Histograms[hd.id]
		if !ok {
			continue
		}
		cum := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(keystone.HistogramBounds))
		for i, bound := range keystone.HistogramBounds {
			buckets[bound] = cum[i]
		}
		ch <- prometheus.MustNewConstHistogram(hd.desc, cum[len(cum)-1], snap.HistogramSums[hd.id], buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.auditDropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
	ch <- prometheus.MustNewConstMetric(c.notifDropped, prometheus.CounterValue, float64(c.source.NotificationsDropped()))
}

// Registry returns the private registry the collector is registered with,
// for callers that add their own collectors before serving.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the private registry in the text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
