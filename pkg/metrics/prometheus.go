// Package metrics provides Prometheus metrics for the equity audit service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the equity service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Assignment ingestion
	assignmentsReceived  prometheus.Counter
	assignmentsDuplicate prometheus.Counter
	assignmentsApplied   prometheus.Counter
	assignmentUnits      prometheus.Counter
	assignmentsRejected  *prometheus.CounterVec

	// Fairness audits
	audits       *prometheus.CounterVec
	auditLatency prometheus.Histogram
	gini         prometheus.Gauge
	hhi          prometheus.Gauge
	evenness     prometheus.Gauge
	palma        prometheus.Gauge
	auditedTotal prometheus.Gauge

	// Repository
	custodiansTotal         prometheus.Gauge
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram
	repositoryResets        prometheus.Counter

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec

	// Workers
	workerCount             prometheus.Gauge
	workerThroughput        prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

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

// NewManager creates a new metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "equity",
		subsystem:        "audit",
		histogramBuckets: prometheus.DefBuckets,
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
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	ms := m.histogramBuckets
	fine := []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}

	m.assignmentsReceived = m.counter("assignments_received_total", "Assignments accepted for processing")
	m.assignmentsDuplicate = m.counter("assignments_duplicate_total", "Assignments dropped because their ID was already seen")
	m.assignmentsApplied = m.counter("assignments_applied_total", "Assignments added to a custodian tally")
	m.assignmentUnits = m.counter("assignment_units_total", "Units added across all custodian tallies")
	m.assignmentsRejected = m.counterVec("assignments_rejected_total", "Assignments rejected, by reason", "reason")

	m.audits = m.counterVec("audits_total", "Fairness reports computed, by input source", "source")
	m.auditLatency = m.histogram("audit_latency_milliseconds", "Time to build a fairness report", fine)
	m.gini = m.gauge("gini", "Gini coefficient of the last live audit")
	m.hhi = m.gauge("hhi", "Herfindahl-Hirschman index of the last live audit")
	m.evenness = m.gauge("evenness", "Entropy divided by its maximum in the last live audit")
	m.palma = m.gauge("palma", "Palma ratio of the last live audit")
	m.auditedTotal = m.gauge("audited_custodians", "Custodians covered by the last live audit")

	m.custodiansTotal = m.gauge("custodians_total", "Custodians with at least one assignment this period")
	m.repositoryUpdateLatency = m.histogram("repository_update_latency_milliseconds", "Tally update latency", ms)
	m.repositoryQueryLatency = m.histogram("repository_query_latency_milliseconds", "Ranking query latency", ms)
	m.repositoryResets = m.counter("repository_resets_total", "Times the tallies were cleared for a new period")

	m.queueSize = m.gauge("queue_size", "Assignments waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue size divided by capacity")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Assignments enqueued")
	m.queueDequeued = m.counter("queue_dequeued_total", "Assignments dequeued")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Failed enqueues, by reason", "reason")

	m.workerCount = m.gauge("worker_count", "Workers in the pool")
	m.workerThroughput = m.gauge("worker_assignments_per_second", "Assignments applied per second across the pool")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Per-assignment processing latency", fine)
	m.workerErrors = m.counterVec("worker_errors_total", "Worker errors, by kind", "kind")

	auto := promauto.With(m.registry)
	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "http_requests_total",
		Help: "HTTP requests, by endpoint, method and status",
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: fine,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors, by component and type", "component", "error_type")
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total", "HTTP errors, by endpoint, method and type", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds", fine)
}

// Assignment metrics.

// RecordAssignmentReceived increments the accepted assignments counter.
func RecordAssignmentReceived() {
	globalManager.assignmentsReceived.Inc()
}

// RecordAssignmentDuplicate increments the duplicate assignments counter.
func RecordAssignmentDuplicate() {
	globalManager.assignmentsDuplicate.Inc()
}

// RecordAssignmentApplied counts an applied assignment and its units.
func RecordAssignmentApplied(units float64) {
	globalManager.assignmentsApplied.Inc()
	if units > 0 {
		globalManager.assignmentUnits.Add(units)
	}
}

// RecordAssignmentRejected counts a rejected assignment.
func RecordAssignmentRejected(reason string) {
	globalManager.assignmentsRejected.WithLabelValues(reason).Inc()
}

// Audit metrics.

// RecordAudit counts a report build and its latency.
func RecordAudit(source string, latencyMs float64) {
	globalManager.audits.WithLabelValues(source).Inc()
	globalManager.auditLatency.Observe(latencyMs)
}

// UpdateFairnessGauges publishes the indicators of the latest live audit.
func UpdateFairnessGauges(gini, hhi, evenness, palma float64, custodians int) {
	globalManager.gini.Set(gini)
	globalManager.hhi.Set(hhi)
	globalManager.evenness.Set(evenness)
	globalManager.palma.Set(palma)
	globalManager.auditedTotal.Set(float64(custodians))
}

// Repository metrics.

// UpdateCustodiansTotal sets the number of tracked custodians.
func UpdateCustodiansTotal(count int) {
	globalManager.custodiansTotal.Set(float64(count))
}

// RecordRepositoryUpdateLatency records tally update latency.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records ranking query latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// RecordRepositoryReset counts a period reset.
func RecordRepositoryReset() {
	globalManager.repositoryResets.Inc()
}

// Queue metrics.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// Worker metrics.

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerThroughput sets the pool-wide assignments per second.
func UpdateWorkerThroughput(rate float64) {
	globalManager.workerThroughput.Set(rate)
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError(kind string) {
	globalManager.workerErrors.WithLabelValues(kind).Inc()
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error metrics.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System metrics.

// UpdateSystemMemoryUsage sets the heap memory in use.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
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
