// Package observability holds the Prometheus metrics and OpenTelemetry
// tracing setup of the upload server.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingestion sources.
const (
	SourceStream   = "stream"
	SourceFormData = "formdata"
)

// Upload results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics wraps the ingestion counters and histograms.
type Metrics struct {
	uploads         *prometheus.CounterVec
	bytes           *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	cleanupFailures prometheus.Counter
	handler         http.Handler
}

// NewMetrics registers the ingestion metrics, plus Go runtime and process
// collectors, on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_uploads_total",
			Help: "Upload ingestions by source and result.",
		}, []string{"source", "result"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_upload_bytes_total",
			Help: "Bytes durably stored by successful ingestions.",
		}, []string{"source"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawl_upload_duration_seconds",
			Help:    "Wall time of upload ingestions.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"source"}),
		cleanupFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "crawl_upload_cleanup_failures_total",
			Help: "Best-effort object deletions that failed.",
		}),
		handler: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	}
}

// ObserveUpload records one finished ingestion. A nil Metrics is a no-op.
func (m *Metrics) ObserveUpload(source string, bytes uint64, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.uploads.WithLabelValues(source, result).Inc()
	m.duration.WithLabelValues(source).Observe(elapsed.Seconds())
	if err == nil {
		m.bytes.WithLabelValues(source).Add(float64(bytes))
	}
}

// CleanupFailed counts one failed best-effort deletion.
func (m *Metrics) CleanupFailed() {
	if m == nil {
		return
	}
	m.cleanupFailures.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}
