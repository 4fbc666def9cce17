// Package metrics provides Prometheus metrics for the posefuse pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Frame throughput
	framesWritten     *prometheus.CounterVec
	frameLatency      prometheus.Histogram
	frameErrors       *prometheus.CounterVec
	jointsProjected   *prometheus.CounterVec
	jointsUnresolved  *prometheus.CounterVec
	alignmentInvalid  *prometheus.CounterVec
	calibrationSource *prometheus.CounterVec

	// Detectors
	detectorCalls    *prometheus.CounterVec
	detectorLatency  *prometheus.HistogramVec
	detectorFailures *prometheus.CounterVec
	acceleratorInUse prometheus.Gauge
	acceleratorSlots prometheus.Gauge

	// Jobs and views
	viewStatus     *prometheus.GaugeVec
	jobsSubmitted  prometheus.Counter
	jobsRejected   prometheus.Counter
	jobsFinished   *prometheus.CounterVec
	jobDuration    prometheus.Histogram
	storeLatency   *prometheus.HistogramVec
	storeErrors    *prometheus.CounterVec
	errorsByModule *prometheus.CounterVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueue       prometheus.Counter
	queueDequeue       prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "posefuse",
		subsystem:        "pipeline",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.framesWritten = m.counterVec("frames_written_total", "Fused frames committed to the output store", "view")
	m.frameLatency = m.histogram("frame_latency_milliseconds", "End-to-end processing time of one frame")
	m.frameErrors = m.counterVec("frame_errors_total", "Recoverable errors attached to frames", "kind")
	m.jointsProjected = m.counterVec("joints_projected_total", "Keypoints lifted to 3D", "detector")
	m.jointsUnresolved = m.counterVec("joints_unresolved_total", "Keypoints left without a 3D position", "detector", "reason")
	m.alignmentInvalid = m.counterVec("alignment_invalid_total", "Color frames without a depth frame in tolerance", "view")
	m.calibrationSource = m.counterVec("calibration_resolved_total", "Resolved calibration profiles by source", "source")

	m.detectorCalls = m.counterVec("detector_calls_total", "Detector invocations by outcome", "detector", "outcome")
	m.detectorLatency = m.histogramVec("detector_latency_milliseconds", "Detector invocation latency", "detector")
	m.detectorFailures = m.counterVec("detector_failures_total", "Detector failures by kind", "detector", "kind")
	m.acceleratorInUse = m.gauge("accelerator_in_use", "Accelerator slots currently held")
	m.acceleratorSlots = m.gauge("accelerator_slots", "Accelerator slots configured")

	m.viewStatus = m.gaugeVec("views", "Views by current status", "status")
	m.jobsSubmitted = m.counter("jobs_submitted_total", "Jobs accepted for processing")
	m.jobsRejected = m.counter("jobs_rejected_total", "Job submissions rejected as duplicates or overflow")
	m.jobsFinished = m.counterVec("jobs_finished_total", "Finished jobs by outcome", "outcome")
	m.jobDuration = m.histogram("job_duration_milliseconds", "Wall time of one job run")
	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Output store operation latency", "op")
	m.storeErrors = m.counterVec("store_errors_total", "Output store operation failures", "op")
	m.errorsByModule = m.counterVec("errors_by_component_total", "Errors by component", "component", "error_type")

	m.queueSize = m.gauge("queue_size", "Jobs waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Jobs enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Failed enqueue attempts")

	m.workerCount = m.gauge("worker_count", "Workers in the job pool")
	m.workerActiveCount = m.gauge("worker_active_count", "Workers currently running a job")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Worker time per job")
	m.workerErrors = m.counter("worker_errors_total", "Jobs that ended with an error")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// RecordFrameWritten counts a committed frame and its processing time.
func RecordFrameWritten(view string, elapsed time.Duration) {
	globalManager.framesWritten.WithLabelValues(view).Inc()
	globalManager.frameLatency.Observe(ms(elapsed))
}

// RecordFrameError counts a recoverable error attached to a frame.
func RecordFrameError(kind string) {
	globalManager.frameErrors.WithLabelValues(kind).Inc()
}

// RecordJointProjected counts a keypoint lifted to 3D.
func RecordJointProjected(detector string) {
	globalManager.jointsProjected.WithLabelValues(detector).Inc()
}

// RecordJointUnresolved counts a keypoint without a 3D position.
func RecordJointUnresolved(detector, reason string) {
	globalManager.jointsUnresolved.WithLabelValues(detector, reason).Inc()
}

// RecordAlignmentInvalid counts color frames without an aligned depth frame.
func RecordAlignmentInvalid(view string, count int) {
	globalManager.alignmentInvalid.WithLabelValues(view).Add(float64(count))
}

// RecordCalibrationResolved counts a resolved profile by source.
func RecordCalibrationResolved(source string) {
	globalManager.calibrationSource.WithLabelValues(source).Inc()
}

// RecordDetectorCall records one detector invocation.
func RecordDetectorCall(detector, outcome string, elapsed time.Duration) {
	globalManager.detectorCalls.WithLabelValues(detector, outcome).Inc()
	globalManager.detectorLatency.WithLabelValues(detector).Observe(ms(elapsed))
}

// RecordDetectorFailure counts a detector failure by kind.
func RecordDetectorFailure(detector, kind string) {
	globalManager.detectorFailures.WithLabelValues(detector, kind).Inc()
}

// UpdateAcceleratorInUse sets the number of held accelerator slots.
func UpdateAcceleratorInUse(n int) {
	globalManager.acceleratorInUse.Set(float64(n))
}

// UpdateAcceleratorSlots sets the configured accelerator slot count.
func UpdateAcceleratorSlots(n int) {
	globalManager.acceleratorSlots.Set(float64(n))
}

// UpdateViewStatus moves one view from one status to another. An empty from
// registers a new view.
func UpdateViewStatus(from, to string) {
	if from == to {
		return
	}
	if from != "" {
		globalManager.viewStatus.WithLabelValues(from).Dec()
	}
	if to != "" {
		globalManager.viewStatus.WithLabelValues(to).Inc()
	}
}

// RecordJobSubmitted counts an accepted job.
func RecordJobSubmitted() {
	globalManager.jobsSubmitted.Inc()
}

// RecordJobRejected counts a rejected submission.
func RecordJobRejected() {
	globalManager.jobsRejected.Inc()
}

// RecordJobFinished counts a finished job run and its wall time.
func RecordJobFinished(outcome string, elapsed time.Duration) {
	globalManager.jobsFinished.WithLabelValues(outcome).Inc()
	globalManager.jobDuration.Observe(ms(elapsed))
}

// RecordStoreLatency records an output store operation.
func RecordStoreLatency(op string, elapsed time.Duration) {
	globalManager.storeLatency.WithLabelValues(op).Observe(ms(elapsed))
}

// RecordStoreError counts a failed output store operation.
func RecordStoreError(op string) {
	globalManager.storeErrors.WithLabelValues(op).Inc()
}

// RecordErrorByComponent counts an error by component and type.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByModule.WithLabelValues(component, errorType).Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueue.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeue.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerCount sets the pool size.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker time for one job.
func RecordWorkerProcessingLatency(elapsed time.Duration) {
	globalManager.workerProcessingLatency.Observe(ms(elapsed))
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
