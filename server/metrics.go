package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xhad/claimcheck/internal/models"
)

// Metrics holds the server's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	extractions *prometheus.CounterVec
	comparisons *prometheus.CounterVec
	mismatches  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claimcheck_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "claimcheck_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120},
		}, []string{"route"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claimcheck_extractions_total",
			Help: "Document extractions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		comparisons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claimcheck_comparisons_total",
			Help: "AR1/NF3 comparisons by outcome.",
		}, []string{"outcome"}),
		mismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claimcheck_mismatches_total",
			Help: "Reconciliation findings by type.",
		}, []string{"type"}),
	}

	m.registry.MustRegister(m.requests, m.duration, m.extractions, m.comparisons, m.mismatches)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordExtraction(kind models.DocumentKind, err error) {
	m.extractions.WithLabelValues(string(kind), outcome(err)).Inc()
}

func (m *Metrics) RecordComparison(cmp *models.Comparison, err error) {
	m.comparisons.WithLabelValues(outcome(err)).Inc()
	if cmp == nil {
		return
	}
	for _, mm := range cmp.Report.Mismatches {
		m.mismatches.WithLabelValues(string(mm.Type)).Inc()
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isResponseError(err):
		return "parse_error"
	default:
		return "error"
	}
}
