// Package metrics exposes request, archiver and promotion counters.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives engine and transport events.
type Recorder interface {
	ObserveRequest(route, status string, d time.Duration)
	ObserveArchiver(backend, op, outcome string, d time.Duration)
	IncPromotion(mode string)
	IncCleanupWarning(kind string)
}

// Noop implements Recorder without emitting anything.
type Noop struct{}

func (Noop) ObserveRequest(string, string, time.Duration)          {}
func (Noop) ObserveArchiver(string, string, string, time.Duration) {}
func (Noop) IncPromotion(string)                                   {}
func (Noop) IncCleanupWarning(string)                              {}

// Prom implements Recorder backed by its own Prometheus registry.
type Prom struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	archiverRuns    *prometheus.CounterVec
	archiverLatency *prometheus.HistogramVec
	promotions      *prometheus.CounterVec
	cleanupWarnings *prometheus.CounterVec
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		archiverRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archiver_invocations_total",
			Help:      "Archiver invocations by backend, operation and outcome",
		}, []string{"backend", "op", "outcome"}),
		archiverLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "archiver_duration_seconds",
			Help:      "Archiver invocation latency by backend and operation",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		}, []string{"backend", "op"}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Staged extractions promoted by mode",
		}, []string{"mode"}),
		cleanupWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_warnings_total",
			Help:      "Best-effort cleanup or manifest failures by kind",
		}, []string{"kind"}),
	}
	p.registry.MustRegister(
		p.requests, p.requestLatency,
		p.archiverRuns, p.archiverLatency,
		p.promotions, p.cleanupWarnings,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prom) ObserveRequest(route, status string, d time.Duration) {
	p.requests.WithLabelValues(route, status).Inc()
	p.requestLatency.WithLabelValues(route).Observe(d.Seconds())
}

func (p *Prom) ObserveArchiver(backend, op, outcome string, d time.Duration) {
	p.archiverRuns.WithLabelValues(backend, op, outcome).Inc()
	p.archiverLatency.WithLabelValues(backend, op).Observe(d.Seconds())
}

func (p *Prom) IncPromotion(mode string) {
	p.promotions.WithLabelValues(mode).Inc()
}

func (p *Prom) IncCleanupWarning(kind string) {
	p.cleanupWarnings.WithLabelValues(kind).Inc()
}

// Handler returns an HTTP handler for /metrics.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Outcome labels an operation result: "ok" or the lower-cased error code.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(errors.GetCode(err)))
}
