package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionsieve_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionsieve_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Compression pipeline metrics
	sessionsCompressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionsieve_sessions_compressed_total",
			Help: "Total number of sessions run through the compressor",
		},
		[]string{"source", "status"},
	)

	compressionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionsieve_compression_duration_seconds",
			Help:    "Decode plus parse duration per session in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	eventsDecodedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionsieve_events_decoded_total",
			Help: "Total number of canonical events produced by the decoder",
		},
		[]string{"source"},
	)

	frictionFlagsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionsieve_friction_flags_total",
			Help: "Total number of friction flags raised by the parser",
		},
		[]string{"flag"},
	)

	compressionRatio = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sessionsieve_compression_ratio",
			Help:    "Raw events per surviving log entry",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// Storage metrics
	storageRowsFlushedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionsieve_storage_rows_flushed_total",
			Help: "Total number of rows flushed to ClickHouse",
		},
		[]string{"table"},
	)

	storageFlushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionsieve_storage_flush_duration_seconds",
			Help:    "ClickHouse batch flush duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	// Vendor sync metrics
	vendorFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionsieve_vendor_fetches_total",
			Help: "Total number of vendor API fetches",
		},
		[]string{"vendor", "status"},
	)

	vendorFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionsieve_vendor_fetch_duration_seconds",
			Help:    "Vendor API fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"vendor"},
	)

	// Cohort metrics
	cohortClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionsieve_cohort_classifications_total",
			Help: "Total number of cohort classifications by verdict",
		},
		[]string{"cohort"},
	)

	initOnce sync.Once
)

// InitMetrics registers every collector with the default registry. Safe to
// call from multiple binaries; registration happens once per process.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			sessionsCompressedTotal,
			compressionDuration,
			eventsDecodedTotal,
			frictionFlagsTotal,
			compressionRatio,
			storageRowsFlushedTotal,
			storageFlushDuration,
			vendorFetchesTotal,
			vendorFetchDuration,
			cohortClassificationsTotal,
		)
	})
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCompression records one session compression attempt.
func RecordCompression(source, status string, duration time.Duration) {
	sessionsCompressedTotal.WithLabelValues(source, status).Inc()
	compressionDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordDecodedEvents records how many canonical events a payload yielded.
func RecordDecodedEvents(source string, count int) {
	eventsDecodedTotal.WithLabelValues(source).Add(float64(count))
}

// RecordFrictionFlag records one raised friction flag.
func RecordFrictionFlag(flag string) {
	frictionFlagsTotal.WithLabelValues(flag).Inc()
}

// RecordCompressionRatio records raw events per surviving narrative entry.
func RecordCompressionRatio(eventCount, logCount int) {
	if logCount <= 0 {
		return
	}
	compressionRatio.Observe(float64(eventCount) / float64(logCount))
}

// RecordStorageFlush records one ClickHouse batch flush.
func RecordStorageFlush(table string, rows int, duration time.Duration) {
	storageRowsFlushedTotal.WithLabelValues(table).Add(float64(rows))
	storageFlushDuration.WithLabelValues(table).Observe(duration.Seconds())
}

// RecordVendorFetch records one vendor API call.
func RecordVendorFetch(vendor, status string, duration time.Duration) {
	vendorFetchesTotal.WithLabelValues(vendor, status).Inc()
	vendorFetchDuration.WithLabelValues(vendor).Observe(duration.Seconds())
}

// RecordCohortClassification records one classifier verdict.
func RecordCohortClassification(cohort string) {
	cohortClassificationsTotal.WithLabelValues(cohort).Inc()
}
