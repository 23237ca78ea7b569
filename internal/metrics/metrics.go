// Package metrics exposes Prometheus collectors for the storefront API.
// Each Collector owns its registry so tests and multiple servers in one
// process never collide on registration.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Collector records HTTP and payment-flow telemetry.
type Collector struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	checkouts         *prometheus.CounterVec
	verifications     *prometheus.CounterVec
	reconcileWarnings *prometheus.CounterVec
	siblingsCanceled  prometheus.Counter
	webhookEvents     *prometheus.CounterVec
}

// New creates a Collector with its own registry. Runtime and process
// collectors are included so /metrics is useful on its own.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		checkouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkout_sessions_total",
				Help:      "Checkout session attempts by outcome",
			},
			[]string{"outcome"},
		),
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_verifications_total",
				Help:      "Payment verifications by intent type and provider status",
			},
			[]string{"intent_type", "status"},
		),
		reconcileWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciliation_warnings_total",
				Help:      "Failed best-effort reconciliation steps",
			},
			[]string{"step"},
		),
		siblingsCanceled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sibling_intents_canceled_total",
				Help:      "Abandoned payment intents canceled after a confirmed payment",
			},
		),
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Provider webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.httpRequests,
		c.httpDuration,
		c.checkouts,
		c.verifications,
		c.reconcileWarnings,
		c.siblingsCanceled,
		c.webhookEvents,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRequest records latency and count for one HTTP request. route is the
// chi route pattern, never the raw path.
func (c *Collector) RecordRequest(method, route, status string, duration time.Duration) {
	c.httpRequests.WithLabelValues(route, method, status).Inc()
	c.httpDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordCheckout counts a checkout attempt.
func (c *Collector) RecordCheckout(outcome string) {
	c.checkouts.WithLabelValues(outcome).Inc()
}

// RecordVerification counts a verification by the provider status observed.
func (c *Collector) RecordVerification(intentType, status string) {
	c.verifications.WithLabelValues(intentType, status).Inc()
}

// RecordReconciliationWarning counts a failed reconciliation step.
func (c *Collector) RecordReconciliationWarning(step string) {
	c.reconcileWarnings.WithLabelValues(step).Inc()
}

// RecordSiblingsCanceled adds n canceled sibling intents.
func (c *Collector) RecordSiblingsCanceled(n int) {
	if n > 0 {
		c.siblingsCanceled.Add(float64(n))
	}
}

// RecordWebhookEvent counts a received provider event.
func (c *Collector) RecordWebhookEvent(eventType, outcome string) {
	c.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// StatusLabel formats an HTTP status code as a metric label.
func StatusLabel(code int) string {
	return strconv.Itoa(code)
}
