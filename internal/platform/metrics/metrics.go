package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	PermitsSubmitted    prometheus.Counter
	ReviewDecisions     *prometheus.CounterVec
	ApprovalDecisions   *prometheus.CounterVec
	AllocationRetries   prometheus.Counter
	Scans               *prometheus.CounterVec
	TransitionLatency   prometheus.Histogram
	NotificationsFailed prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		PermitsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "permitgate_permits_submitted_total",
			Help: "Total number of permits submitted",
		}),
		ReviewDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "permitgate_review_decisions_total",
			Help: "Review decisions by outcome",
		}, []string{"outcome"}),
		ApprovalDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "permitgate_approval_decisions_total",
			Help: "Approval decisions by outcome",
		}, []string{"outcome"}),
		AllocationRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "permitgate_allocation_retries_total",
			Help: "Document number allocation retries due to counter contention",
		}),
		Scans: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "permitgate_scans_total",
			Help: "Credential scans by verdict",
		}, []string{"outcome"}),
		TransitionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "permitgate_transition_duration_seconds",
			Help:    "Latency of permit state transitions",
			Buckets: prometheus.DefBuckets,
		}),
		NotificationsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "permitgate_notifications_failed_total",
			Help: "Domain events that could not be delivered to the broker",
		}),
	}
}
