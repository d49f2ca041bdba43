package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the payment reconciliation core.
type Metrics struct {
	// Payment session metrics
	SessionsTotal       *prometheus.CounterVec
	SessionsFailedTotal *prometheus.CounterVec
	SessionDuration     *prometheus.HistogramVec

	// Webhook metrics
	WebhooksTotal          *prometheus.CounterVec
	WebhookDuplicatesTotal prometheus.Counter
	WebhookDuration        *prometheus.HistogramVec

	// Transaction state metrics
	TransitionsTotal *prometheus.CounterVec

	// Exchange rate metrics
	RateLookupsTotal  *prometheus.CounterVec
	RateCacheHits     prometheus.Counter
	RateCacheMisses   prometheus.Counter
	RateFetchDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_sessions_total",
				Help: "Total number of payment provider sessions created",
			},
			[]string{"method", "currency"},
		),
		SessionsFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_sessions_failed_total",
				Help: "Total number of failed session creation attempts",
			},
			[]string{"method", "reason"},
		),
		SessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconciler_session_duration_seconds",
				Help:    "Time taken to run the checkout pipeline end to end",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method"},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_webhooks_total",
				Help: "Total number of webhook deliveries by outcome",
			},
			[]string{"outcome"},
		),
		WebhookDuplicatesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reconciler_webhook_duplicates_total",
				Help: "Total number of webhook deliveries skipped as duplicates",
			},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconciler_webhook_duration_seconds",
				Help:    "Time taken to process a webhook delivery",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"outcome"},
		),

		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_transitions_total",
				Help: "Total number of transaction status transitions",
			},
			[]string{"from", "to"},
		),

		RateLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_rate_lookups_total",
				Help: "Total number of exchange-rate lookups by source",
			},
			[]string{"source", "outcome"},
		),
		RateCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reconciler_rate_cache_hits_total",
				Help: "Exchange-rate cache hits",
			},
		),
		RateCacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reconciler_rate_cache_misses_total",
				Help: "Exchange-rate cache misses",
			},
		),
		RateFetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconciler_rate_fetch_duration_seconds",
				Help:    "Duration of upstream exchange-rate fetches",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"source"},
		),
	}
}

// ObserveSession records a completed checkout pipeline run.
func (m *Metrics) ObserveSession(method, currency string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(method, currency).Inc()
	m.SessionDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveSessionFailure records a failed checkout pipeline run.
func (m *Metrics) ObserveSessionFailure(method, reason string) {
	if m == nil {
		return
	}
	m.SessionsFailedTotal.WithLabelValues(method, reason).Inc()
}

// ObserveWebhook records a webhook processing outcome.
func (m *Metrics) ObserveWebhook(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(outcome).Inc()
	m.WebhookDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveDuplicateWebhook records a delivery skipped by the idempotency check.
func (m *Metrics) ObserveDuplicateWebhook() {
	if m == nil {
		return
	}
	m.WebhookDuplicatesTotal.Inc()
}

// ObserveTransition records a transaction status transition.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveRateCacheHit records an exchange-rate lookup served from cache.
func (m *Metrics) ObserveRateCacheHit() {
	if m == nil {
		return
	}
	m.RateCacheHits.Inc()
}

// ObserveRateCacheMiss records an exchange-rate lookup that went upstream.
func (m *Metrics) ObserveRateCacheMiss() {
	if m == nil {
		return
	}
	m.RateCacheMisses.Inc()
}

// ObserveRateLookup records an upstream rate fetch.
func (m *Metrics) ObserveRateLookup(source, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RateLookupsTotal.WithLabelValues(source, outcome).Inc()
	m.RateFetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}
