// Package metrics holds the Prometheus collectors of the passport service.
// A nil *Metrics is valid and records nothing, so components can run
// without a registry in tests and tools.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBuckets are the latency buckets (in seconds) for store-bound operations.
var DefaultBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics provides observability for the lifecycle engine, query service
// and event notifier.
type Metrics struct {
	Transitions        *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	Registrations      *prometheus.CounterVec
	QueryDuration      *prometheus.HistogramVec
	Notifications      *prometheus.CounterVec
	BreakerState       prometheus.Gauge
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_transitions_total",
			Help: "Lifecycle transition requests by transition and outcome",
		}, []string{"transition", "outcome"}),
		TransitionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "passport_transition_duration_seconds",
			Help:    "Duration of lifecycle transition transactions",
			Buckets: DefaultBuckets,
		}, []string{"transition"}),
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_registrations_total",
			Help: "Battery registrations by outcome (created, updated, failed)",
		}, []string{"outcome"}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "passport_query_duration_seconds",
			Help:    "Duration of read-only passport projections",
			Buckets: DefaultBuckets,
		}, []string{"op"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_event_notifications_total",
			Help: "Post-commit event publications by result",
		}, []string{"result"}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "passport_store_breaker_open",
			Help: "1 while the graph store circuit breaker rejects calls",
		}),
	}
}

// ObserveTransition records one transition request.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveTransition(transition, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(transition, outcome).Inc()
	m.TransitionDuration.WithLabelValues(transition).Observe(time.Since(start).Seconds())
}

// IncRegistration records a registration outcome.
func (m *Metrics) IncRegistration(outcome string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(outcome).Inc()
}

// ObserveQuery records the duration of a read projection.
func (m *Metrics) ObserveQuery(op string, start time.Time) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// IncNotification records a post-commit publish result.
func (m *Metrics) IncNotification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

// SetBreakerOpen mirrors the store breaker state.
func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerState.Set(1)
		return
	}
	m.BreakerState.Set(0)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
