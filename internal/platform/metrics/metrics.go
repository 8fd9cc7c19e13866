package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the access-control core.
type Metrics struct {
	RequestsSubmitted  prometheus.Counter
	GrantsIssued       prometheus.Counter
	RequestsCanceled   prometheus.Counter
	RequestsExpired    prometheus.Counter
	GrantsRevoked      prometheus.Counter
	ItemsDelivered     prometheus.Counter
	AuditDropped       prometheus.Counter
	SweepDuration      prometheus.Histogram
	CapabilityDuration prometheus.Histogram
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on the given registerer; tests pass a
// fresh registry per suite.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "heirloom_emergency_requests_submitted_total",
			Help: "Total emergency access requests submitted",
		}),
		GrantsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "heirloom_access_grants_issued_total",
			Help: "Total access grants issued after an unchallenged waiting period",
		}),
		RequestsCanceled: factory.NewCounter(prometheus.CounterOpts{
			Name: "heirloom_emergency_requests_canceled_total",
			Help: "Total emergency requests canceled by the target owner",
		}),
		RequestsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "heirloom_emergency_requests_expired_total",
			Help: "Total emergency requests expired by the sweep",
		}),
		GrantsRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "heirloom_access_grants_revoked_total",
			Help: "Total access grants revoked",
		}),
		ItemsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "heirloom_items_delivered_total",
			Help: "Total vault items delivered by the scheduler",
		}),
		AuditDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "heirloom_audit_events_dropped_total",
			Help: "Audit events that could not be persisted (operation still completed)",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "heirloom_sweep_duration_seconds",
			Help:    "Duration of expiration sweeps and delivery evaluation runs",
			Buckets: prometheus.DefBuckets,
		}),
		CapabilityDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "heirloom_capability_resolution_duration_ms",
			Help:    "Latency of capability resolutions in milliseconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		}),
	}
}
