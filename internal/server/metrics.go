package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload results used as the "result" label.
const (
	resultAccepted = "accepted"
	resultRejected = "rejected"
	resultFailed   = "failed"
)

var (
	// uploadsTotal counts upload requests by result.
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crashlog",
		Subsystem: "collector",
		Name:      "uploads_total",
		Help:      "Upload requests by result (accepted, rejected, failed)",
	}, []string{"result"})

	// uploadSize is the stored (decompressed) log size.
	uploadSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "crashlog",
		Subsystem: "collector",
		Name:      "upload_size_bytes",
		Help:      "Size of stored log files",
		Buckets:   prometheus.ExponentialBuckets(1<<10, 4, 8),
	})

	purgedFiles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crashlog",
		Subsystem: "collector",
		Name:      "purged_files_total",
		Help:      "Stored logs removed by the retention cleaner",
	})
)
