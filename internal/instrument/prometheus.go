// Package instrument holds the service's Prometheus metrics.
package instrument

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of collectors exported on /metrics. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	reg prometheus.Gatherer

	delivered           *prometheus.CounterVec
	rejected            *prometheus.CounterVec
	moderationProcessed prometheus.Counter
	httpDuration        *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		delivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bruh_messages_delivered_total",
				Help: "Number of stored messages by initial status",
			},
			[]string{"status"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bruh_messages_rejected_total",
				Help: "Number of rejected sends by reason",
			},
			[]string{"reason"},
		),
		moderationProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bruh_moderation_processed_total",
				Help: "Number of messages classified by the moderation worker",
			},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bruh_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "code"},
		),
	}
	reg.MustRegister(
		m.delivered,
		m.rejected,
		m.moderationProcessed,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Delivered counts a stored message.
func (m *Metrics) Delivered(status string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(status).Inc()
}

// Rejected counts a send refused by a delivery gate.
func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// ModerationProcessed counts worker classifications.
func (m *Metrics) ModerationProcessed(n int) {
	if m == nil {
		return
	}
	m.moderationProcessed.Add(float64(n))
}

// ObserveHTTP records one request's latency.
func (m *Metrics) ObserveHTTP(route, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(route, code).Observe(d.Seconds())
}
