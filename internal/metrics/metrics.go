package metrics

import (
	"net/http"
	"time"

	"memberbilling/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the billing engine's Prometheus collectors
type Metrics struct {
	registry *prometheus.Registry

	RenewalOutcomesTotal *prometheus.CounterVec
	RenewalRunsTotal     *prometheus.CounterVec
	RenewalRunDuration   prometheus.Histogram
	RenewalRunRejected   *prometheus.CounterVec
	SweepExpiredTotal    prometheus.Counter
	SubscriptionsCreated *prometheus.CounterVec
	WebhookEventsTotal   *prometheus.CounterVec
}

// New creates and registers all collectors on registry
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		RenewalOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_renewal_outcomes_total",
				Help: "Renewal outcomes by result and reason",
			},
			[]string{"result", "reason"},
		),
		RenewalRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_renewal_runs_total",
				Help: "Completed renewal batch runs by trigger",
			},
			[]string{"trigger"},
		),
		RenewalRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billing_renewal_run_duration_seconds",
				Help:    "Renewal batch duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		RenewalRunRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_renewal_runs_rejected_total",
				Help: "Renewal runs refused because another run held the guard",
			},
			[]string{"guard"},
		),
		SweepExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_sweep_expired_total",
				Help: "Subscriptions expired by the sweeper",
			},
		),
		SubscriptionsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_subscriptions_created_total",
				Help: "Subscription creations by resulting status",
			},
			[]string{"status"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhook_events_total",
				Help: "Processor webhook events by type and handling result",
			},
			[]string{"type", "result"},
		),
	}

	registry.MustRegister(
		m.RenewalOutcomesTotal,
		m.RenewalRunsTotal,
		m.RenewalRunDuration,
		m.RenewalRunRejected,
		m.SweepExpiredTotal,
		m.SubscriptionsCreated,
		m.WebhookEventsTotal,
	)
	return m
}

// ObserveReport records a finished renewal run
func (m *Metrics) ObserveReport(report *models.RenewalJobReport) {
	m.RenewalRunsTotal.WithLabelValues(string(report.Trigger)).Inc()
	m.RenewalRunDuration.Observe(report.Duration.Seconds())
}

func (m *Metrics) ObserveOutcome(outcome models.RenewalOutcome) {
	m.RenewalOutcomesTotal.WithLabelValues(string(outcome.Result), string(outcome.Reason)).Inc()
}

func (m *Metrics) ObserveSweep(expired int, _ time.Duration) {
	m.SweepExpiredTotal.Add(float64(expired))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
