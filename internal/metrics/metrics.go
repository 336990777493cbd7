// Package metrics provides Prometheus metrics for lifionfs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics (WebDAV and dev store surfaces)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifionfs_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lifionfs_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Remote document API metrics
	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifionfs_remote_requests_total",
			Help: "Total requests sent to the remote document store",
		},
		[]string{"endpoint", "status"},
	)

	remoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lifionfs_remote_request_duration_seconds",
			Help:    "Remote document store request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	remoteRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifionfs_remote_retries_total",
			Help: "Total retried remote requests",
		},
		[]string{"endpoint"},
	)

	// Directory cache metrics
	cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lifionfs_cache_entries",
			Help: "Number of display names held by the directory cache",
		},
	)

	listingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifionfs_listings_total",
			Help: "Total directory listings by outcome",
		},
		[]string{"outcome"},
	)

	cacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifionfs_cache_evictions_total",
			Help: "Total names removed from the directory cache",
		},
		[]string{"reason"},
	)

	resolutionMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lifionfs_resolution_misses_total",
			Help: "Total display names that had no known identifier",
		},
	)

	// Provider metrics
	providerOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifionfs_provider_operations_total",
			Help: "Total provider operations",
		},
		[]string{"op", "status"},
	)

	documentBytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lifionfs_document_bytes_read_total",
			Help: "Total encoded document bytes returned by ReadFile",
		},
	)
)

// Listing outcomes.
const (
	ListingOK      = "ok"
	ListingPartial = "partial"
	ListingFailed  = "failed"
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRemoteRequest records one attempt against the remote store. status is
// the HTTP status code, or 0 when no response was received.
func RecordRemoteRequest(endpoint string, status int, duration time.Duration) {
	label := strconv.Itoa(status)
	if status == 0 {
		label = "error"
	}
	remoteRequestsTotal.WithLabelValues(endpoint, label).Inc()
	remoteRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordRemoteRetry records a retried remote request.
func RecordRemoteRetry(endpoint string) {
	remoteRetriesTotal.WithLabelValues(endpoint).Inc()
}

// SetCacheEntries sets the current directory cache size.
func SetCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}

// RecordListing records a directory listing outcome.
func RecordListing(outcome string) {
	listingsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheEviction records names dropped from the cache. reason is "lru"
// or "prune".
func RecordCacheEviction(reason string, n int) {
	if n <= 0 {
		return
	}
	cacheEvictionsTotal.WithLabelValues(reason).Add(float64(n))
}

// RecordResolutionMiss records a display name that could not be resolved.
func RecordResolutionMiss() {
	resolutionMissesTotal.Inc()
}

// RecordProviderOp records a provider operation.
func RecordProviderOp(op string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	providerOpsTotal.WithLabelValues(op, status).Inc()
}

// RecordDocumentRead records bytes returned by ReadFile.
func RecordDocumentRead(bytes int) {
	documentBytesRead.Add(float64(bytes))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
