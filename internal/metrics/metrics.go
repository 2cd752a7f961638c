// Package metrics provides Prometheus metrics for mirror runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Traversal metrics
	directoriesListed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dumpftp_directories_listed_total",
			Help: "Total number of remote directory listings fetched",
		},
	)

	duplicateDirectories = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dumpftp_duplicate_directories_total",
			Help: "Directories whose listing matched one already mirrored in this run",
		},
	)

	filesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dumpftp_files_total",
			Help: "Files handled, by action (download, copy, filtered)",
		},
		[]string{"action"},
	)

	accessDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dumpftp_access_denied_total",
			Help: "Remote entries skipped because access was denied",
		},
		[]string{"kind"},
	)

	// Content transfer metrics
	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dumpftp_bytes_downloaded_total",
			Help: "Total bytes received from the remote side",
		},
	)

	bytesCopied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dumpftp_bytes_copied_total",
			Help: "Total bytes reused from duplicate directories through local copy",
		},
	)

	sizeMismatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dumpftp_size_mismatch_total",
			Help: "Transfers whose received size differed from the listed size",
		},
		[]string{"kind"},
	)

	downloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dumpftp_download_duration_seconds",
			Help:    "Duration of single file downloads",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Storage metrics
	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dumpftp_storage_operation_duration_seconds",
			Help:    "Mirror target operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dumpftp_storage_operations_total",
			Help: "Total mirror target operations",
		},
		[]string{"backend", "operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordListing records one fetched directory listing.
func RecordListing(duplicate bool) {
	directoriesListed.Inc()
	if duplicate {
		duplicateDirectories.Inc()
	}
}

// RecordDownload records a completed remote download.
func RecordDownload(duration time.Duration) {
	filesTotal.WithLabelValues("download").Inc()
	downloadDuration.Observe(duration.Seconds())
}

// AddBytesDownloaded adds the bytes of one committed download.
func AddBytesDownloaded(n uint64) {
	bytesDownloaded.Add(float64(n))
}

// RecordCopy records a file reused from a duplicate directory.
func RecordCopy(size uint64) {
	filesTotal.WithLabelValues("copy").Inc()
	bytesCopied.Add(float64(size))
}

// RecordFiltered records a file skipped by the name filter.
func RecordFiltered() {
	filesTotal.WithLabelValues("filtered").Inc()
}

// RecordAccessDenied records a skipped entry. kind is "dir" or "file".
func RecordAccessDenied(kind string) {
	accessDeniedTotal.WithLabelValues(kind).Inc()
}

// RecordSizeMismatch records a transfer size anomaly. kind is "over" or "under".
func RecordSizeMismatch(kind string) {
	sizeMismatchTotal.WithLabelValues(kind).Inc()
}

// RecordStorageOperation records a mirror target operation.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	storageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}
