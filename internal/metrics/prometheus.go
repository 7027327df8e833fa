// Package metrics wraps Prometheus collectors for the worker runtime,
// trimmed from the teacher's internal/metrics/prometheus.go (VM pool,
// autoscaler, and circuit-breaker collectors dropped — no analog in this
// domain) down to dispatch/publish/ack observability.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics wraps the Prometheus collectors this worker exposes.
type WorkerMetrics struct {
	registry *prometheus.Registry

	deliveriesTotal    *prometheus.CounterVec
	dispatchDuration   prometheus.Histogram
	publishDuration    *prometheus.HistogramVec
	publishRetries     prometheus.Counter
	ackTotal           *prometheus.CounterVec
	inflightDeliveries prometheus.Gauge
}

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

var promMetrics *WorkerMetrics

// InitPrometheus initializes the Prometheus metrics subsystem under the
// given namespace.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultDurationBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &WorkerMetrics{
		registry: registry,

		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Total deliveries dispatched, by terminal status",
			},
			[]string{"status"},
		),

		dispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Time from delivery dispatch to terminal callback",
				Buckets:   buckets,
			},
		),

		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "publish_duration_seconds",
				Help:      "Time spent publishing a callback, including confirm wait",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),

		publishRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_retries_total",
				Help:      "Total publish retry attempts due to nack or transport error",
			},
		),

		ackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ack_total",
				Help:      "Total broker ack/nack actions, by action",
			},
			[]string{"action"},
		),

		inflightDeliveries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inflight_deliveries",
				Help:      "Deliveries currently between dispatch and terminal ack",
			},
		),
	}

	registry.MustRegister(
		pm.deliveriesTotal,
		pm.dispatchDuration,
		pm.publishDuration,
		pm.publishRetries,
		pm.ackTotal,
		pm.inflightDeliveries,
	)

	promMetrics = pm
}

// RecordDelivery records one delivery reaching a terminal status.
func RecordDelivery(status string, durationSeconds float64) {
	if promMetrics == nil {
		return
	}
	promMetrics.deliveriesTotal.WithLabelValues(status).Inc()
	promMetrics.dispatchDuration.Observe(durationSeconds)
}

// RecordPublish records one publish attempt's outcome and duration.
func RecordPublish(outcome string, durationSeconds float64) {
	if promMetrics == nil {
		return
	}
	promMetrics.publishDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordPublishRetry increments the retry counter.
func RecordPublishRetry() {
	if promMetrics == nil {
		return
	}
	promMetrics.publishRetries.Inc()
}

// RecordAck records one broker ack/nack action ("ack", "nack_requeue",
// "nack_no_requeue").
func RecordAck(action string) {
	if promMetrics == nil {
		return
	}
	promMetrics.ackTotal.WithLabelValues(action).Inc()
}

// SetInflight sets the current in-flight delivery count.
func SetInflight(n int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.inflightDeliveries.Set(float64(n))
}

// Handler returns the HTTP handler serving this registry's metrics.
func Handler() http.Handler {
	if promMetrics == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry, mainly for tests.
func Registry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
