// Package observability provides logging and Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Reader metrics
	RecordsRead *prometheus.CounterVec
	BytesRead   prometheus.Counter

	// Writer metrics
	RecordsWritten prometheus.Counter
	BytesWritten   prometheus.Counter
	WriteDuration  prometheus.Histogram

	// Coordinator metrics
	QueueLength     prometheus.Gauge
	ReadingEnabled  prometheus.Gauge
	WritingEnabled  prometheus.Gauge
	GateTransitions *prometheus.CounterVec
	Buffers         *prometheus.CounterVec
	Errors          *prometheus.CounterVec

	// Storage metrics
	StorageErrors *prometheus.CounterVec
	KafkaMessages *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		RecordsRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lbuffer_records_read_total",
				Help: "Total number of records carved out of the input",
			},
			[]string{"kind"},
		),
		BytesRead: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lbuffer_bytes_read_total",
				Help: "Total number of bytes read from input sources",
			},
		),
		RecordsWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lbuffer_records_written_total",
				Help: "Total number of records written to the sink",
			},
		),
		BytesWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lbuffer_bytes_written_total",
				Help: "Total number of bytes written to the sink",
			},
		),
		WriteDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lbuffer_record_write_duration_seconds",
				Help:    "Time spent writing a single record to the sink",
				Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1.0},
			},
		),
		QueueLength: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lbuffer_queue_length",
				Help: "Current number of records in the queue",
			},
		),
		ReadingEnabled: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lbuffer_reading_enabled",
				Help: "1 when the reader may take more buffers",
			},
		),
		WritingEnabled: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lbuffer_writing_enabled",
				Help: "1 when records flow to the writer",
			},
		),
		GateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lbuffer_gate_transitions_total",
				Help: "Total number of watermark gate transitions",
			},
			[]string{"flag", "state"},
		),
		Buffers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lbuffer_buffers_total",
				Help: "Buffer recycler activity",
			},
			[]string{"event"},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lbuffer_errors_total",
				Help: "Total number of terminal errors by kind",
			},
			[]string{"kind"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lbuffer_storage_errors_total",
				Help: "Total number of storage backend errors",
			},
			[]string{"backend", "operation"},
		),
		KafkaMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lbuffer_kafka_messages_total",
				Help: "Total number of records published to Kafka",
			},
			[]string{"topic", "status"},
		),
	}
}

// IncRecordsRead increments records read counter. kind is "delimited" or "partial".
func (m *Metrics) IncRecordsRead(kind string, bytes int) {
	m.RecordsRead.WithLabelValues(kind).Inc()
	m.BytesRead.Add(float64(bytes))
}

// ObserveRecordWritten records one successful record write.
func (m *Metrics) ObserveRecordWritten(bytes int, seconds float64) {
	m.RecordsWritten.Inc()
	m.BytesWritten.Add(float64(bytes))
	m.WriteDuration.Observe(seconds)
}

// SetQueueLength sets queue length gauge.
func (m *Metrics) SetQueueLength(n int) {
	m.QueueLength.Set(float64(n))
}

// SetGate records the reading/writing flags and counts transitions.
func (m *Metrics) SetGate(flag string, enabled bool) {
	state := "disabled"
	value := 0.0
	if enabled {
		state = "enabled"
		value = 1.0
	}
	switch flag {
	case "reading":
		m.ReadingEnabled.Set(value)
	case "writing":
		m.WritingEnabled.Set(value)
	}
	m.GateTransitions.WithLabelValues(flag, state).Inc()
}

// AddBuffers adds recycler activity. event is "allocated", "reused" or "dropped".
func (m *Metrics) AddBuffers(event string, n int64) {
	if n <= 0 {
		return
	}
	m.Buffers.WithLabelValues(event).Add(float64(n))
}

// IncErrors increments errors counter.
func (m *Metrics) IncErrors(kind string) {
	m.Errors.WithLabelValues(kind).Inc()
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}

// IncKafkaMessages increments published messages counter. status is "success" or "error".
func (m *Metrics) IncKafkaMessages(topic string, status string) {
	m.KafkaMessages.WithLabelValues(topic, status).Inc()
}
