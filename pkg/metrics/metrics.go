// Package metrics exposes prometheus collectors for workflow runs, node
// executions and the HTTP API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics for the application. It satisfies
// workflow.Recorder.
type Registry struct {
	// Run metrics
	RunsTotal   *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	RunsActive  prometheus.Gauge

	// Node metrics
	NodeExecutionsTotal *prometheus.CounterVec
	NodeDuration        *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewRegistry creates a registry with every collector registered, plus the
// Go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{registry: reg}
	r.initRunMetrics()
	r.initHTTPMetrics()
	return r
}

func (r *Registry) initRunMetrics() {
	r.RunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "opal_workflow_runs_total",
			Help: "Total number of workflow runs by outcome",
		},
		[]string{"status"},
	)

	r.RunDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opal_workflow_run_duration_seconds",
			Help:    "Workflow run latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	r.RunsActive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "opal_workflow_runs_active",
			Help: "Workflow runs currently executing",
		},
	)

	r.NodeExecutionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "opal_node_executions_total",
			Help: "Total number of node executions by node type and outcome",
		},
		[]string{"type", "status"},
	)

	r.NodeDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opal_node_duration_seconds",
			Help:    "Node execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)
}

func (r *Registry) initHTTPMetrics() {
	r.HTTPRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "opal_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	r.HTTPRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opal_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
}

// RunStarted marks a workflow run as in flight.
func (r *Registry) RunStarted() {
	r.RunsActive.Inc()
}

// RecordRun records a finished workflow run.
func (r *Registry) RecordRun(status string, duration time.Duration) {
	r.RunsActive.Dec()
	r.RunsTotal.WithLabelValues(status).Inc()
	r.RunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordNode records one node execution.
func (r *Registry) RecordNode(nodeType, status string, duration time.Duration) {
	r.NodeExecutionsTotal.WithLabelValues(nodeType, status).Inc()
	r.NodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
