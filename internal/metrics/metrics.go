// Package metrics collects and exposes Prometheus metrics for the API server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the interface handlers and middleware record against.
type Recorder interface {
	RecordLoginSuccess()
	RecordLoginFailure(reason string)
	RecordGuardRedirect()
	RecordMessageAppended()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector implements Recorder on a Prometheus registry.
type Collector struct {
	registry        *prometheus.Registry
	loginSuccess    prometheus.Counter
	loginFailure    *prometheus.CounterVec
	guardRedirects  prometheus.Counter
	messagesTotal   prometheus.Counter
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_login_success_total",
			Help: "Completed logins.",
		}),
		loginFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_login_failure_total",
			Help: "Failed login attempts by reason.",
		}, []string{"reason"}),
		guardRedirects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_guard_redirect_total",
			Help: "Requests turned away by the session guard.",
		}),
		messagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_messages_appended_total",
			Help: "Messages appended to chat sessions.",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_http_status_total",
			Help: "Responses by HTTP status code.",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_request_latency_seconds",
			Help:    "Request handling latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		c.loginSuccess,
		c.loginFailure,
		c.guardRedirects,
		c.messagesTotal,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// Handler returns the scrape handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordLoginSuccess increments the completed-login counter.
func (c *Collector) RecordLoginSuccess() {
	c.loginSuccess.Inc()
}

// RecordLoginFailure increments the failed-login counter for the reason.
func (c *Collector) RecordLoginFailure(reason string) {
	c.loginFailure.WithLabelValues(reason).Inc()
}

// RecordGuardRedirect increments the guard rejection counter.
func (c *Collector) RecordGuardRedirect() {
	c.guardRedirects.Inc()
}

// RecordMessageAppended increments the appended-message counter.
func (c *Collector) RecordMessageAppended() {
	c.messagesTotal.Inc()
}

// RecordHTTPStatus increments the per-status response counter.
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency observes one request duration.
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}
