package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FilesScanned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "photovault",
		Name:      "files_scanned_total",
		Help:      "Total number of files examined by the change detector",
	})

	FileChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "photovault",
		Name:      "file_changes_total",
		Help:      "Detected file changes by kind",
	}, []string{"kind"})

	DuplicatesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "photovault",
		Name:      "duplicates_rejected_total",
		Help:      "Files rejected as exact content duplicates",
	})

	NearDuplicatesFlagged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "photovault",
		Name:      "near_duplicates_flagged_total",
		Help:      "Files flagged as perceptual near-duplicates",
	})

	ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "photovault",
		Name:      "extraction_duration_seconds",
		Help:      "Duration of feature extraction per capability",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"capability"})

	ExtractionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "photovault",
		Name:      "extraction_failures_total",
		Help:      "Per-capability extraction failures",
	}, []string{"capability"})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "photovault",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	})

	FacesMatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "photovault",
		Name:      "faces_matched_total",
		Help:      "Faces matched to an existing person at extraction time",
	})

	PersonsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "photovault",
		Name:      "persons_created_total",
		Help:      "Persons created by batch face clustering",
	})

	JobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "photovault",
		Name:      "jobs_started_total",
		Help:      "Jobs claimed and started by workers",
	}, []string{"type"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "photovault",
		Name:      "jobs_finished_total",
		Help:      "Jobs reaching a terminal state",
	}, []string{"type", "status"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "photovault",
		Name:      "queue_depth",
		Help:      "Number of pending job tasks in the queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "photovault",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "photovault",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
