package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	segmentsCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrecorder_segments_captured_total",
		Help: "Captures by terminal state",
	}, []string{"state"}) // state=completed|partial|failed

	captureDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "camrecorder_capture_duration_seconds",
		Help:    "Recorded duration of kept segments",
		Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
	})

	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrecorder_uploads_total",
		Help: "Upload tasks by outcome",
	}, []string{"outcome"}) // outcome=uploaded|upload_failed|skipped|abandoned

	uploadAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camrecorder_upload_attempts_total",
		Help: "Upload requests sent, including retries",
	})

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "camrecorder_upload_duration_seconds",
		Help:    "Wall time from first attempt to terminal upload outcome",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camrecorder_upload_queue_depth",
		Help: "Segments waiting for upload",
	})

	storageUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camrecorder_storage_usage_bytes",
		Help: "Bytes used by segment files after the last budget pass",
	})

	segmentsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camrecorder_segments_evicted_total",
		Help: "Segments deleted by the disk budget",
	})

	evictionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camrecorder_eviction_errors_total",
		Help: "Segment deletions that failed",
	})

	networkReady = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camrecorder_network_ready",
		Help: "Whether the upload network gate is open (1) or waiting (0)",
	})
)

// RecordCapture counts a finished capture.
func RecordCapture(state string, recorded time.Duration) {
	segmentsCaptured.WithLabelValues(state).Inc()
	if recorded > 0 {
		captureDuration.Observe(recorded.Seconds())
	}
}

// RecordUploadAttempt counts one upload request.
func RecordUploadAttempt() {
	uploadAttempts.Inc()
}

// RecordUpload counts a terminal upload outcome.
func RecordUpload(outcome string, elapsed time.Duration) {
	uploadsTotal.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		uploadDuration.Observe(elapsed.Seconds())
	}
}

// SetQueueDepth publishes the number of queued uploads.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordBudget publishes the outcome of a disk budget pass.
func RecordBudget(usage int64, removed, failed int) {
	storageUsage.Set(float64(usage))
	segmentsEvicted.Add(float64(removed))
	evictionErrors.Add(float64(failed))
}

// SetNetworkReady publishes the gate state.
func SetNetworkReady(ready bool) {
	if ready {
		networkReady.Set(1)
		return
	}
	networkReady.Set(0)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
