package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UploadsTotal tracks upload outcomes per backend
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_uploads_total",
			Help: "Total number of upload operations",
		},
		[]string{"backend", "result"},
	)

	// UploadBytes tracks bytes sent per backend
	UploadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_upload_bytes_total",
			Help: "Total bytes uploaded",
		},
		[]string{"backend"},
	)

	// RetryAttempts tracks retry attempts per backend
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_retry_attempts_total",
			Help: "Total number of retry attempts",
		},
		[]string{"backend"},
	)

	// BreakerState exposes the circuit breaker state per backend
	// (0=closed, 1=open, 2=half-open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediasync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"backend"},
	)

	// BreakerRejections tracks fast-failed calls per backend
	BreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_circuit_breaker_rejections_total",
			Help: "Calls rejected by an open circuit breaker",
		},
		[]string{"backend"},
	)

	// GateDecisions tracks upload gate outcomes
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_gate_decisions_total",
			Help: "Upload gate decisions",
		},
		[]string{"backend", "decision"},
	)

	// ChunksUploaded tracks successfully uploaded chunks per backend
	ChunksUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_chunks_uploaded_total",
			Help: "Total number of file chunks uploaded",
		},
		[]string{"backend"},
	)

	// TaskTransitions tracks task status transitions
	TaskTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_task_transitions_total",
			Help: "Task status transitions",
		},
		[]string{"type", "status"},
	)

	// QueueDepth tracks the number of tasks per status
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediasync_queue_depth",
			Help: "Number of tasks per status",
		},
		[]string{"status"},
	)

	// DBConnectionPoolUsage tracks connection pool utilization
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediasync_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
