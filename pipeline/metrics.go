package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics for graph
// evaluation, all namespaced with "pipegraph_":
//
//  1. inflight_evaluations (gauge): evaluations currently executing.
//  2. operator_invocations_total (counter): operator applications, labeled
//     by operator name and status (success/error).
//  3. node_latency_ms (histogram): operator execution duration in
//     milliseconds, labeled by operator name and status.
//  4. cache_hits_total / cache_misses_total (counters): memoization cache
//     effectiveness.
//  5. fit_duration_ms (histogram): estimator fit durations, labeled by
//     estimator name.
//
// Expose via HTTP for scraping:
//
//	registry := prometheus.NewRegistry()
//	metrics := pipeline.NewPrometheusMetrics(registry)
//	exec := pipeline.NewExecutor(pipeline.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Thread-safe: prometheus collectors handle concurrent updates internally.
type PrometheusMetrics struct {
	inflightEvaluations prometheus.Gauge
	invocations         *prometheus.CounterVec
	nodeLatency         *prometheus.HistogramVec
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	fitDuration         *prometheus.HistogramVec
}

// latencyBuckets covers typical operator execution times, 1ms to 10s.
var latencyBuckets = []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000}

// NewPrometheusMetrics creates and registers all evaluation metrics with
// the provided registry (prometheus.DefaultRegisterer when nil).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &PrometheusMetrics{
		inflightEvaluations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pipegraph",
			Name:      "inflight_evaluations",
			Help:      "Current number of graph evaluations executing concurrently",
		}),
		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipegraph",
			Name:      "operator_invocations_total",
			Help:      "Cumulative operator applications",
		}, []string{"operator", "status"}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pipegraph",
			Name:      "node_latency_ms",
			Help:      "Operator execution duration in milliseconds",
			Buckets:   latencyBuckets,
		}, []string{"operator", "status"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pipegraph",
			Name:      "cache_hits_total",
			Help:      "Node evaluations served from the memoization cache",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pipegraph",
			Name:      "cache_misses_total",
			Help:      "Node evaluations that required operator invocation",
		}),
		fitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pipegraph",
			Name:      "fit_duration_ms",
			Help:      "Estimator fit duration in milliseconds",
			Buckets:   latencyBuckets,
		}, []string{"estimator"}),
	}
}

// EvalStarted records the start of an evaluation.
func (m *PrometheusMetrics) EvalStarted() {
	if m == nil {
		return
	}
	m.inflightEvaluations.Inc()
}

// EvalFinished records the end of an evaluation.
func (m *PrometheusMetrics) EvalFinished() {
	if m == nil {
		return
	}
	m.inflightEvaluations.Dec()
}

// RecordInvocation records one operator application and its latency.
func (m *PrometheusMetrics) RecordInvocation(operator string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.invocations.WithLabelValues(operator, status).Inc()
	m.nodeLatency.WithLabelValues(operator, status).Observe(float64(d.Milliseconds()))
}

// RecordCacheHit records a memoization cache hit.
func (m *PrometheusMetrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss records a memoization cache miss.
func (m *PrometheusMetrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// RecordFit records one estimator fit and its duration.
func (m *PrometheusMetrics) RecordFit(estimator string, d time.Duration) {
	if m == nil {
		return
	}
	m.fitDuration.WithLabelValues(estimator).Observe(float64(d.Milliseconds()))
}
