package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/anchorkit/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anchorkit_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anchorkit_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	domainErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anchorkit_domain_errors_total",
		Help: "Domain errors returned to callers by error name.",
	}, []string{"name"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anchorkit_events_total",
		Help: "Events published by type.",
	}, []string{"type"})

	auditEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anchorkit_audit_entries_total",
		Help: "Audit entries appended since start.",
	})

	anchorsDown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anchorkit_anchors_down",
		Help: "Fallback anchors currently marked down.",
	})

	healthProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anchorkit_health_probes_total",
		Help: "Anchor endpoint probes by result.",
	}, []string{"result"})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anchorkit_webhook_deliveries_total",
		Help: "Webhook deliveries by outcome.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		requestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordHealthCheck records an anchor endpoint probe result.
func RecordHealthCheck(success bool) {
	healthProbesTotal.WithLabelValues(outcome(success)).Inc()
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	webhookDeliveriesTotal.WithLabelValues(outcome(success)).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// MetricsSink is an events.Sink that turns published events into counters.
type MetricsSink struct{}

// Publish implements events.Sink.
func (MetricsSink) Publish(_ context.Context, e events.Event) {
	eventsTotal.WithLabelValues(e.Type).Inc()
	switch e.Type {
	case events.TypeOperationLogged:
		auditEntriesTotal.Inc()
	case events.TypeAnchorDown:
		anchorsDown.Inc()
	case events.TypeAnchorRecovered:
		anchorsDown.Dec()
	}
}
