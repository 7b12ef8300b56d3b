// Package metrics provides Prometheus metrics for the leadflow scoring service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Ingestion
	eventsProcessed *prometheus.CounterVec
	eventsDuplicate prometheus.Counter
	eventsRejected  *prometheus.CounterVec
	batchRows       *prometheus.CounterVec

	// Scoring
	recalculations      prometheus.Counter
	scoreChanges        prometheus.Counter
	scoreConflicts      prometheus.Counter
	recalcLatency       prometheus.Histogram
	lockWaitLatency     prometheus.Histogram
	totalLeads          prometheus.Gauge
	unprocessedEvents   prometheus.Gauge
	notifications       *prometheus.CounterVec
	notificationClients prometheus.Gauge

	// Recalculation queue and workers
	queueSize      prometheus.Gauge
	queueCapacity  prometheus.Gauge
	queueEnqueued  prometheus.Counter
	queueRejected  *prometheus.CounterVec
	workerCount    prometheus.Gauge
	workerJobs     *prometheus.CounterVec
	workerDuration prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
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
		namespace:        "leadflow",
		subsystem:        "scoring",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
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

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() {
	m.eventsProcessed = m.counterVec("events_processed_total", "Events accepted into the event log", "source")
	m.eventsDuplicate = m.counter("events_duplicate_total", "Submissions skipped because the event id was already logged")
	m.eventsRejected = m.counterVec("events_rejected_total", "Submissions rejected before any write", "reason")
	m.batchRows = m.counterVec("batch_rows_total", "Batch rows by outcome", "outcome")

	m.recalculations = m.counter("recalculations_total", "Full replays of a lead's event log")
	m.scoreChanges = m.counter("score_changes_total", "Recalculations that changed a lead's score")
	m.scoreConflicts = m.counter("score_conflicts_total", "Optimistic score writes that lost a race and were replayed")
	m.recalcLatency = m.histogram("recalculation_latency_milliseconds", "Time to replay a lead's events", m.histogramBuckets)
	m.lockWaitLatency = m.histogram("lock_wait_milliseconds", "Time spent waiting for the per-lead lock", m.histogramBuckets)
	m.totalLeads = m.gauge("leads_total", "Number of registered leads")
	m.unprocessedEvents = m.gauge("unprocessed_events", "Events found unprocessed by the last reconcile pass")
	m.notifications = m.counterVec("notifications_total", "Score notifications by outcome", "outcome")
	m.notificationClients = m.gauge("notification_clients", "Connected websocket subscribers")

	m.queueSize = m.gauge("queue_size", "Recalculation jobs waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum recalculation queue size")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Recalculation jobs enqueued")
	m.queueRejected = m.counterVec("queue_rejected_total", "Recalculation jobs rejected", "reason")
	m.workerCount = m.gauge("worker_count", "Recalculation workers running")
	m.workerJobs = m.counterVec("worker_jobs_total", "Recalculation jobs handled by workers", "outcome")
	m.workerDuration = m.histogram("worker_job_milliseconds", "Time to run a recalculation job", m.histogramBuckets)

	m.httpRequests = promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "http", Name: "requests_total", Help: "HTTP requests", ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "http", Name: "request_duration_milliseconds", Help: "HTTP request duration",
		ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordEventProcessed counts an event accepted from source ("api", "batch").
func RecordEventProcessed(source string) {
	globalManager.eventsProcessed.WithLabelValues(source).Inc()
}

// RecordEventDuplicate increments the duplicate events counter.
func RecordEventDuplicate() {
	globalManager.eventsDuplicate.Inc()
}

// RecordEventRejected counts a rejected submission.
func RecordEventRejected(reason string) {
	globalManager.eventsRejected.WithLabelValues(reason).Inc()
}

// RecordBatchRow counts one batch row outcome (processed, skipped, failed).
func RecordBatchRow(outcome string) {
	globalManager.batchRows.WithLabelValues(outcome).Inc()
}

// RecordRecalculation records one replay and its latency.
func RecordRecalculation(latencyMs float64, changed bool) {
	globalManager.recalculations.Inc()
	globalManager.recalcLatency.Observe(latencyMs)
	if changed {
		globalManager.scoreChanges.Inc()
	}
}

// RecordScoreConflict increments the optimistic write conflict counter.
func RecordScoreConflict() {
	globalManager.scoreConflicts.Inc()
}

// RecordLockWait records time spent acquiring a per-lead lock.
func RecordLockWait(latencyMs float64) {
	globalManager.lockWaitLatency.Observe(latencyMs)
}

// UpdateTotalLeads sets the registered leads gauge.
func UpdateTotalLeads(count int) {
	globalManager.totalLeads.Set(float64(count))
}

// UpdateUnprocessedEvents sets the unprocessed events gauge.
func UpdateUnprocessedEvents(count int) {
	globalManager.unprocessedEvents.Set(float64(count))
}

// RecordNotification counts a publish attempt (published, failed).
func RecordNotification(outcome string) {
	globalManager.notifications.WithLabelValues(outcome).Inc()
}

// UpdateNotificationClients sets the connected subscriber gauge.
func UpdateNotificationClients(count int) {
	globalManager.notificationClients.Set(float64(count))
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity gauge.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueued jobs counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueRejected counts a job the queue refused.
func RecordQueueRejected(reason string) {
	globalManager.queueRejected.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerJob records one job outcome (ok, error) and its duration.
func RecordWorkerJob(outcome string, latencyMs float64) {
	globalManager.workerJobs.WithLabelValues(outcome).Inc()
	globalManager.workerDuration.Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateSystemMemoryUsage sets the memory usage gauge.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
