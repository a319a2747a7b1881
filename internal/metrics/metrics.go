package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	Issuances         *prometheus.CounterVec
	Redemptions       *prometheus.CounterVec
	RateLimitChecks   *prometheus.CounterVec
	AuditEvents       *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Issuances: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bday_coupon_issuances_total",
			Help: "Coupon issuance attempts by outcome",
		}, []string{"outcome"}),
		Redemptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bday_coupon_redemptions_total",
			Help: "Coupon redemption attempts by outcome",
		}, []string{"outcome"}),
		RateLimitChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bday_ratelimit_checks_total",
			Help: "Rate limit checks by namespace and outcome",
		}, []string{"namespace", "outcome"}),
		AuditEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bday_audit_events_total",
			Help: "Audit events by delivery outcome",
		}, []string{"outcome"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bday_operation_duration_seconds",
			Help:    "Latency of coupon operations",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
	}
}

// ObserveRateLimit implements ratelimit.Observer.
func (m *Metrics) ObserveRateLimit(namespace, outcome string) {
	m.RateLimitChecks.WithLabelValues(namespace, outcome).Inc()
}

// ObserveIssuance records one issuance outcome.
func (m *Metrics) ObserveIssuance(outcome string) {
	m.Issuances.WithLabelValues(outcome).Inc()
}

// ObserveRedemption records one redemption outcome.
func (m *Metrics) ObserveRedemption(outcome string) {
	m.Redemptions.WithLabelValues(outcome).Inc()
}

// ObserveAudit implements audit.Observer.
func (m *Metrics) ObserveAudit(outcome string) {
	m.AuditEvents.WithLabelValues(outcome).Inc()
}

// ObserveDuration records how long operation took.
func (m *Metrics) ObserveDuration(operation string, d time.Duration) {
	m.OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
