package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dagflow"

var (
	// RunsTotal — завершённые run по финальному статусу.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Runs that reached a terminal status.",
	}, []string{"status"})

	// ActiveRuns — run в статусах RUNNING и SUSPENDED.
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_runs",
		Help:      "Runs currently running or suspended.",
	})

	// NodeResultsTotal — результаты узлов (success, failure, late).
	NodeResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "node_results_total",
		Help:      "Node results received from executors.",
	}, []string{"outcome"})

	// DispatchTotal — попытки отправки задач по исходу.
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_total",
		Help:      "Task dispatch attempts by outcome.",
	}, []string{"outcome"})

	// DispatchDuration — длительность отправки задачи исполнителю.
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Time spent dispatching a task to an executor.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"communication_type"})

	// RetriesScheduled — отложенные повторы.
	RetriesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_scheduled_total",
		Help:      "Deferred retries inserted into the retry queue.",
	})

	// DeadLetters — задачи, исчерпавшие попытки.
	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dead_letters_total",
		Help:      "Tasks dead-lettered after exhausting retries.",
	})

	// RetryQueueDepth — размер очереди повторов после sweep.
	RetryQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "retry_queue_depth",
		Help:      "Entries waiting in the retry queue.",
	})

	// SweepDuration — длительность одного прохода по очереди повторов.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retry_sweep_duration_seconds",
		Help:      "Duration of a retry queue sweep.",
		Buckets:   prometheus.DefBuckets,
	})

	// CircuitBreakerState — 0 closed, 1 open, 2 half-open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per operation (0 closed, 1 open, 2 half-open).",
	}, []string{"name"})

	// HealthyExecutors — здоровые исполнители по типу.
	HealthyExecutors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "healthy_executors",
		Help:      "Executors with a fresh heartbeat, by executor type.",
	}, []string{"executor_type"})

	// CompensationsTotal — запуски компенсации по исходу.
	CompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compensations_total",
		Help:      "Compensation runs by outcome.",
	}, []string{"strategy", "outcome"})

	// HTTPRequestsTotal — запросы к REST API.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "API requests by method and status code.",
	}, []string{"method", "code"})
)
