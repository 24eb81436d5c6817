package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the compliance
// engine: HTTP traffic plus retention and privacy workflow counters.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	sweptRows       *prometheus.CounterVec
	sweepFailures   *prometheus.CounterVec
	exportJobs      *prometheus.CounterVec
	deletionTotal   *prometheus.CounterVec
}

// NewMetricsService registers the engine's Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	sweptRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retention_swept_rows_total",
		Help: "Rows removed by retention cleanup, per table",
	}, []string{"table"})

	sweepFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retention_sweep_failures_total",
		Help: "Failed per-table cleanup runs",
	}, []string{"table"})

	exportJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "privacy_export_jobs_total",
		Help: "Export job transitions, per status",
	}, []string{"status"})

	deletionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "privacy_deletion_requests_total",
		Help: "Deletion requests received, per type",
	}, []string{"type"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, sweptRows, sweepFailures, exportJobs, deletionTotal, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		sweptRows:       sweptRows,
		sweepFailures:   sweepFailures,
		exportJobs:      exportJobs,
		deletionTotal:   deletionTotal,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveSweptRows counts rows removed by a table cleanup.
func (m *MetricsService) ObserveSweptRows(table string, deleted int64) {
	if m == nil {
		return
	}
	m.sweptRows.WithLabelValues(table).Add(float64(deleted))
}

// IncSweepFailure counts a failed per-table cleanup.
func (m *MetricsService) IncSweepFailure(table string) {
	if m == nil {
		return
	}
	m.sweepFailures.WithLabelValues(table).Inc()
}

// IncExportJob counts an export job status transition.
func (m *MetricsService) IncExportJob(status string) {
	if m == nil {
		return
	}
	m.exportJobs.WithLabelValues(status).Inc()
}

// IncDeletionRequest counts a received deletion request.
func (m *MetricsService) IncDeletionRequest(requestType string) {
	if m == nil {
		return
	}
	m.deletionTotal.WithLabelValues(requestType).Inc()
}
