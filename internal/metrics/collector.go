// Package metrics exposes Prometheus instrumentation for upstream calls and
// the HTTP surface. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pixproxy"

// Collector groups the service metrics on a dedicated registry.
type Collector struct {
	registry *prometheus.Registry

	upstreamAttempts   *prometheus.CounterVec
	upstreamDuration   *prometheus.HistogramVec
	jobPolls           *prometheus.CounterVec
	generationResults  *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
	httpRequestLatency *prometheus.HistogramVec
}

// NewCollector registers all metrics on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	c := &Collector{registry: reg}

	c.upstreamAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "Upstream calls by provider, endpoint and outcome",
		},
		[]string{"provider", "endpoint", "outcome"},
	)
	c.upstreamDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_attempt_duration_seconds",
			Help:      "Upstream call latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"provider"},
	)
	c.jobPolls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_status_checks_total",
			Help:      "Deferred job status checks by observed status",
		},
		[]string{"status"},
	)
	c.generationResults = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_results_total",
			Help:      "Finished generation requests by provider and result kind",
		},
		[]string{"provider", "kind"},
	)
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	c.httpRequestLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	reg.MustRegister(collectors.NewGoCollector())
	return c
}

// Registry exposes the underlying registry for tests and custom handlers.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveAttempt records one upstream call. outcome is "ok", "retryable",
// "terminal" or "transport".
func (c *Collector) ObserveAttempt(provider, endpoint, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.upstreamAttempts.WithLabelValues(provider, endpoint, outcome).Inc()
	c.upstreamDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObservePoll records one deferred status check.
func (c *Collector) ObservePoll(status string) {
	if c == nil {
		return
	}
	c.jobPolls.WithLabelValues(status).Inc()
}

// ObserveResult records how a generation request finished. kind is empty on
// success.
func (c *Collector) ObserveResult(provider, kind string) {
	if c == nil {
		return
	}
	if kind == "" {
		kind = "success"
	}
	c.generationResults.WithLabelValues(provider, kind).Inc()
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
