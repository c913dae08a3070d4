package webhook

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for hdpay_webhook_notifications_total.
const (
	OutcomeInvalidPayload = "invalid_payload"
	OutcomeUnauthorized   = "unauthorized"
	OutcomeIgnored        = "ignored"
	OutcomeUnresolved     = "unresolved"
	OutcomeApplied        = "applied"
	OutcomeNoop           = "noop"
	OutcomeRejected       = "rejected"
	OutcomeBusy           = "busy"
	OutcomeError          = "error"
)

// Metrics are the reconciler's Prometheus instruments.
type Metrics struct {
	notifications *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewMetrics registers the reconciler metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hdpay_webhook_notifications_total",
				Help: "Webhook notifications handled, by event kind and outcome",
			},
			[]string{"event", "outcome"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hdpay_webhook_duration_seconds",
				Help:    "Webhook handling latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event"},
		),
	}
}

func (m *Metrics) observe(kind, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, outcome).Inc()
	m.duration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}
