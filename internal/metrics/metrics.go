// Package metrics exposes Prometheus instruments for the pricing pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pricing"

type instruments struct {
	uploadsTotal      *prometheus.CounterVec
	recordsValidated  *prometheus.CounterVec
	rowsDropped       prometheus.Counter
	reviewTransitions *prometheus.CounterVec
	commitRecords     *prometheus.CounterVec
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationsByState *prometheus.GaugeVec
	httpRequests      *prometheus.CounterVec
	httpLatency       *prometheus.HistogramVec
}

var singleton = sync.OnceValue(func() *instruments {
	return &instruments{
		uploadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploaded price files by outcome.",
		}, []string{"result"}),
		recordsValidated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_validated_total",
			Help:      "Validated upload records by resulting status.",
		}, []string{"status"}),
		rowsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_dropped_total",
			Help:      "CSV rows dropped during parsing for missing or invalid fields.",
		}),
		reviewTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_transitions_total",
			Help:      "Reviewer decisions on flagged records.",
		}, []string{"status"}),
		commitRecords: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_records_total",
			Help:      "Records processed by commit operations.",
		}, []string{"result"}),
		operationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_finished_total",
			Help:      "Bulk operations by terminal status.",
		}, []string{"status"}),
		operationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall time of bulk operations from start to finish.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		operationsByState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operations",
			Help:      "Current number of bulk operations per status, as of the last monitor poll.",
		}, []string{"status"}),
		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
})

func get() *instruments { return singleton() }

// Handler serves the default registry.
func Handler() http.Handler {
	get()
	return promhttp.Handler()
}

func UploadAccepted()          { get().uploadsTotal.WithLabelValues("accepted").Inc() }
func UploadRejected()          { get().uploadsTotal.WithLabelValues("rejected").Inc() }
func RowsDropped(n int)        { get().rowsDropped.Add(float64(n)) }
func RecordValidated(s string) { get().recordsValidated.WithLabelValues(s).Inc() }
func ReviewDecision(s string)  { get().reviewTransitions.WithLabelValues(s).Inc() }

// CommitRecord counts one record outcome ("committed" or "failed").
func CommitRecord(result string) {
	get().commitRecords.WithLabelValues(result).Inc()
}

// OperationFinished records a terminal operation and its duration.
func OperationFinished(status string, seconds float64) {
	m := get()
	m.operationsTotal.WithLabelValues(status).Inc()
	if seconds >= 0 {
		m.operationDuration.WithLabelValues(status).Observe(seconds)
	}
}

// SetOperationCounts publishes the latest per-status counts.
func SetOperationCounts(counts map[string]int) {
	m := get()
	for status, n := range counts {
		m.operationsByState.WithLabelValues(status).Set(float64(n))
	}
}

// ObserveHTTP records one served request.
func ObserveHTTP(method, route, code string, seconds float64) {
	m := get()
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(seconds)
}
