package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Torale.
// Using promauto for automatic registration with default registry.
var (
	// --- Task Metrics ---

	// TasksTotal counts tasks by state.
	TasksTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "torale",
			Subsystem: "tasks",
			Name:      "total",
			Help:      "Total number of tasks by state",
		},
		[]string{"state"},
	)

	// ExecutionsTotal counts total executions by status and error category.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "torale",
			Subsystem: "executions",
			Name:      "total",
			Help:      "Total number of task executions by status",
		},
		[]string{"status", "error_category"},
	)

	// ExecutionDuration tracks one invocation's end-to-end duration,
	// including the agent call.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "torale",
			Subsystem: "executions",
			Name:      "duration_seconds",
			Help:      "Duration of task executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15), // 0.1s to ~1.8h
		},
		[]string{"status"},
	)

	// --- Scheduler Metrics ---

	// SchedulerLag measures delay between scheduled run_date and actual
	// dispatch onto the queue.
	SchedulerLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "torale",
			Subsystem: "scheduler",
			Name:      "lag_seconds",
			Help:      "Delay between scheduled run_date and actual dispatch",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
	)

	// SchedulerPolls counts scheduler poll cycles against the job store.
	SchedulerPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "torale",
			Subsystem: "scheduler",
			Name:      "polls_total",
			Help:      "Total number of scheduler poll cycles",
		},
	)

	// TasksDispatched counts tasks dispatched onto the execution queue.
	TasksDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "torale",
			Subsystem: "scheduler",
			Name:      "tasks_dispatched_total",
			Help:      "Total number of tasks dispatched",
		},
	)

	// LeaderElected reports 1 when this scheduler instance holds the lock.
	LeaderElected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "torale",
			Subsystem: "scheduler",
			Name:      "leader_elected",
			Help:      "1 if this process currently holds the scheduler leader lock",
		},
	)

	// --- Worker Metrics ---

	// WorkerExecutionsRunning tracks concurrent executions on a worker.
	WorkerExecutionsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "torale",
			Subsystem: "worker",
			Name:      "executions_running",
			Help:      "Number of currently running executions on this worker",
		},
	)

	// HeartbeatsSent counts heartbeats sent by worker processes.
	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "torale",
			Subsystem: "worker",
			Name:      "heartbeats_total",
			Help:      "Total heartbeats sent",
		},
	)

	// AgentCallDuration tracks agent round-trip time, separate from
	// ExecutionDuration so agent latency is visible on its own.
	AgentCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "torale",
			Subsystem: "agent",
			Name:      "call_duration_seconds",
			Help:      "Duration of agent client invocations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4min
		},
		[]string{"tier"},
	)

	// --- Queue Metrics ---

	// QueueDepth tracks pending executions in the dispatch queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "torale",
			Subsystem: "queue",
			Name:      "pending_executions",
			Help:      "Number of executions pending in the dispatch queue",
		},
	)

	// --- Retry / Reliability Metrics ---

	// RetriesTotal counts execution retries by error category.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "torale",
			Subsystem: "executions",
			Name:      "retries_total",
			Help:      "Total number of execution retries",
		},
		[]string{"error_category"},
	)

	// OrphansReaped counts stale "running" executions force-failed by the
	// reaper sweep.
	OrphansReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "torale",
			Subsystem: "scheduler",
			Name:      "orphans_reaped_total",
			Help:      "Total number of orphaned executions cleaned up",
		},
	)

	// WebhookDeliveriesTotal counts webhook delivery attempts by outcome.
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "torale",
			Subsystem: "webhooks",
			Name:      "deliveries_total",
			Help:      "Total number of webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordExecution records metrics for a completed execution attempt.
func RecordExecution(status, errorCategory string, durationSeconds float64) {
	ExecutionsTotal.WithLabelValues(status, errorCategory).Inc()
	ExecutionDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordDispatch records a task being dispatched onto the queue.
func RecordDispatch(lagSeconds float64) {
	TasksDispatched.Inc()
	SchedulerLag.Observe(lagSeconds)
}

// RecordAgentCall records one agent client invocation's latency.
func RecordAgentCall(tier string, durationSeconds float64) {
	AgentCallDuration.WithLabelValues(tier).Observe(durationSeconds)
}
