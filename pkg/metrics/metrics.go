// Package metrics exposes the Prometheus metrics emitted by every Task
// Lifecycle Engine workload.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TasksByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poiesis_tasks_by_state",
			Help: "Number of known tasks by current state",
		},
		[]string{"state"},
	)

	PhaseTransitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poiesis_phase_transition_duration_seconds",
			Help:    "Wall-clock time a phase (init/run/output) takes end to end",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	StoreOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poiesis_store_operation_duration_seconds",
			Help:    "Store driver operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	BusOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poiesis_bus_operation_duration_seconds",
			Help:    "Bus driver operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ClusterOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poiesis_cluster_operation_duration_seconds",
			Help:    "Cluster Driver operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ObjectStoreOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poiesis_objectstore_operation_duration_seconds",
			Help:    "Object Store Client operation latency by scheme",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheme", "operation"},
	)

	ExecutorDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poiesis_executor_duration_seconds",
			Help:    "Wall-clock duration of a single executor run",
			Buckets: prometheus.DefBuckets,
		},
	)

	ExecutorsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "poiesis_executors_failed_total",
			Help: "Total executors that exited non-zero",
		},
	)

	FilerBytesTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poiesis_filer_bytes_transferred_total",
			Help: "Bytes moved by the input/output filer, by direction",
		},
		[]string{"direction"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poiesis_http_request_duration_seconds",
			Help:    "API HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poiesis_http_requests_total",
			Help: "Total API HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		TasksByState,
		PhaseTransitionDuration,
		StoreOpDuration,
		BusOpDuration,
		ClusterOpDuration,
		ObjectStoreOpDuration,
		ExecutorDuration,
		ExecutorsFailedTotal,
		FilerBytesTransferred,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
