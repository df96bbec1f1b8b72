package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Evaluation metrics
	ReadingsEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farm_readings_evaluated_total",
			Help: "Total number of sensor readings evaluated against thresholds",
		},
		[]string{"sensor_type"},
	)

	ThresholdViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farm_threshold_violations_total",
			Help: "Total number of threshold violations detected",
		},
		[]string{"sensor_type", "kind", "severity"},
	)

	// Automation metrics
	TasksEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "farm_automation_tasks_enqueued_total",
			Help: "Total number of automation tasks enqueued",
		},
	)

	TaskExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farm_automation_task_executions_total",
			Help: "Total number of automation task executions by result",
		},
		[]string{"result"}, // success, failed, abandoned
	)

	ClaimMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "farm_automation_claim_misses_total",
			Help: "Total number of task claims that matched no row",
		},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "farm_automation_tick_duration_seconds",
			Help:    "Duration of automation worker ticks",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	TicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "farm_automation_ticks_skipped_total",
			Help: "Total number of worker ticks skipped because the previous tick was still running",
		},
	)

	// Alert metrics
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farm_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"severity"},
	)

	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farm_alert_transitions_total",
			Help: "Total number of alert status transitions",
		},
		[]string{"status"},
	)

	NotificationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farm_notification_attempts_total",
			Help: "Total number of notification attempts by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	// Plumbing metrics
	EventBusHandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farm_eventbus_handler_failures_total",
			Help: "Total number of event handler errors and recovered panics",
		},
		[]string{"topic"},
	)

	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "farm_websocket_connections",
			Help: "Current number of dashboard websocket connections",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farm_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RetentionPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "farm_retention_alerts_pruned_total",
			Help: "Total number of resolved alerts removed by retention",
		},
	)
)
