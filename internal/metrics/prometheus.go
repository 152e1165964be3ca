package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the trace sink
type PrometheusMetrics struct {
	// Sink metrics
	EntriesAppendedTotal prometheus.Counter
	EntriesDroppedTotal  *prometheus.CounterVec
	EntriesPersisted     prometheus.Counter
	FlushesTotal         *prometheus.CounterVec
	FlushDuration        prometheus.Histogram
	FlushBatchSize       prometheus.Histogram
	QueueLength          prometheus.Gauge

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		EntriesAppendedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dbtrace_entries_appended_total",
				Help: "Total number of log entries appended to the sink queue",
			},
		),

		EntriesDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbtrace_entries_dropped_total",
				Help: "Total number of log entries discarded without being persisted",
			},
			[]string{"reason"},
		),

		EntriesPersisted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dbtrace_entries_persisted_total",
				Help: "Total number of log entries written to the database",
			},
		),

		FlushesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbtrace_flushes_total",
				Help: "Total number of non-empty flushes by outcome",
			},
			[]string{"status"},
		),

		FlushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dbtrace_flush_duration_seconds",
				Help:    "Time spent writing one drained batch",
				Buckets: prometheus.DefBuckets,
			},
		),

		FlushBatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dbtrace_flush_batch_size",
				Help:    "Number of entries drained per flush",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),

		QueueLength: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dbtrace_queue_length",
				Help: "Number of entries waiting for the next flush",
			},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbtrace_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbtrace_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbtrace_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbtrace_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dbtrace_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dbtrace_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dbtrace_goroutines",
				Help: "Current number of goroutines",
			},
		),
	}
}

// RecordAppend records one entry entering the queue
func (m *PrometheusMetrics) RecordAppend(queueLength int) {
	m.EntriesAppendedTotal.Inc()
	m.QueueLength.Set(float64(queueLength))
}

// RecordDropped records entries discarded for reason
func (m *PrometheusMetrics) RecordDropped(reason string, count int) {
	m.EntriesDroppedTotal.WithLabelValues(reason).Add(float64(count))
}

// RecordFlush records a completed flush
func (m *PrometheusMetrics) RecordFlush(status string, batchSize, persisted int, duration time.Duration) {
	m.FlushesTotal.WithLabelValues(status).Inc()
	m.FlushBatchSize.Observe(float64(batchSize))
	m.FlushDuration.Observe(duration.Seconds())
	m.EntriesPersisted.Add(float64(persisted))
}

// UpdateQueueLength sets the queue length gauge
func (m *PrometheusMetrics) UpdateQueueLength(n int) {
	m.QueueLength.Set(float64(n))
}

// RecordDatabaseOperation records database operation metrics
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records HTTP request metrics
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates application uptime
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateMemoryUsage updates memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
