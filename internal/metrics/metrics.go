// Package metrics exposes Prometheus collectors for the insight pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes, one per terminal state of the insight handler.
const (
	OutcomeOK               = "ok"
	OutcomeRateLimited      = "rate_limited"
	OutcomeInvalid          = "invalid"
	OutcomeMethodNotAllowed = "method_not_allowed"
	OutcomeGatewayError     = "gateway_error"
)

// Metrics owns a private registry so tests and multiple servers in one
// process never collide on the global one.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	reconcile       *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpa_insight_requests_total",
			Help: "Insight requests by terminal outcome",
		}, []string{"outcome"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gpa_insight_gateway_duration_seconds",
			Help:    "Latency of model calls",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		}, []string{"provider", "result"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpa_insight_reconcile_total",
			Help: "Reconciled model replies by tier",
		}, []string{"tier"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.gatewayDuration,
		m.reconcile,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// IncRequest counts one finished request.
func (m *Metrics) IncRequest(outcome string) {
	m.requests.WithLabelValues(outcome).Inc()
}

// IncReconcile counts one reconciled reply.
func (m *Metrics) IncReconcile(tier string) {
	m.reconcile.WithLabelValues(tier).Inc()
}

// ObserveModelCall implements gateway.Observer.
func (m *Metrics) ObserveModelCall(provider, result string, elapsed time.Duration) {
	m.gatewayDuration.WithLabelValues(provider, result).Observe(elapsed.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
