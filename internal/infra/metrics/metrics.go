package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the conversion service's Prometheus collectors.
type Metrics struct {
	conversionsTotal *prometheus.CounterVec
	renderDuration   prometheus.Histogram
	sourceBytes      prometheus.Histogram
	cacheLookups     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a metrics instance on its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		conversionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adoc2html_conversions_total",
				Help: "Conversion requests by HTTP status code",
			},
			[]string{"code"},
		),
		renderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "adoc2html_render_duration_seconds",
				Help:    "Time spent inside the Asciidoc renderer",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		sourceBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "adoc2html_source_bytes",
				Help:    "Size of accepted Asciidoc sources",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adoc2html_cache_lookups_total",
				Help: "Render cache lookups by result",
			},
			[]string{"result"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.conversionsTotal,
		m.renderDuration,
		m.sourceBytes,
		m.cacheLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveConversion counts one finished conversion request.
func (m *Metrics) ObserveConversion(code int) {
	if m == nil {
		return
	}
	m.conversionsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// ObserveRender records one renderer call.
func (m *Metrics) ObserveRender(d time.Duration, sourceLen int) {
	if m == nil {
		return
	}
	m.renderDuration.Observe(d.Seconds())
	m.sourceBytes.Observe(float64(sourceLen))
}

// ObserveCache counts a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
