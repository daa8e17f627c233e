package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus vectors shared across the HTTP layer and the
// use cases. It is constructed once at process start and passed explicitly.
type Metrics struct {
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	UsecaseRequests *prometheus.CounterVec
	UsecaseDuration *prometheus.HistogramVec
	WebhookEvents   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		UsecaseRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usecase_requests_total",
				Help: "Total number of use case invocations.",
			},
			[]string{"use_case", "outcome"},
		),
		UsecaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "usecase_duration_seconds",
				Help:    "Duration of use case execution in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"use_case"},
		),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_webhook_events_total",
				Help: "Count of received payment webhook events.",
			},
			[]string{"type", "outcome"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.HTTPRequests,
			m.HTTPDuration,
			m.UsecaseRequests,
			m.UsecaseDuration,
			m.WebhookEvents,
		)
	}
	return m
}

// ObserveUsecase records one use case invocation. Nil receivers are allowed
// so tests can run without a registry.
func (m *Metrics) ObserveUsecase(useCase, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UsecaseRequests.WithLabelValues(useCase, outcome).Inc()
	m.UsecaseDuration.WithLabelValues(useCase).Observe(elapsed.Seconds())
}

// ObserveWebhookEvent records one received webhook event.
func (m *Metrics) ObserveWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
}
