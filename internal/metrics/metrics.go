package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook delivery metrics
var (
	// WebhookDeliveriesTotal tracks delivery attempts by outcome
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	// WebhookDeliveryDuration tracks delivery round-trip time
	WebhookDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_delivery_duration_seconds",
			Help:    "Webhook delivery round-trip time in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	// WebhookRetriesScheduled tracks scheduled retries
	WebhookRetriesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_retries_scheduled_total",
			Help: "Total number of webhook delivery retries scheduled",
		},
	)

	// WebhookRetriesCanceled tracks retries canceled before firing
	WebhookRetriesCanceled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_retries_canceled_total",
			Help: "Total number of scheduled webhook retries canceled",
		},
	)

	// WebhookEventsTotal tracks triggered events by terminal status
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of webhook events by terminal status",
		},
		[]string{"status"},
	)

	// WebhookRetryTimersActive tracks in-flight retry timers
	WebhookRetryTimersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_retry_timers_active",
			Help: "Number of webhook retry timers currently scheduled",
		},
	)
)

// Sync metrics
var (
	// SyncRunsTotal tracks sync runs by result status
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_sync_runs_total",
			Help: "Total number of integration sync runs by result",
		},
		[]string{"provider", "status"},
	)

	// SyncRunDuration tracks sync run duration
	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "integration_sync_duration_seconds",
			Help:    "Integration sync run duration in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider"},
	)

	// SyncRecordsFailed tracks per-record failures within sync runs
	SyncRecordsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_sync_records_failed_total",
			Help: "Total number of records that failed within sync runs",
		},
		[]string{"provider"},
	)
)

// Health check metrics
var (
	// HealthChecksTotal tracks health checks by resulting status
	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_health_checks_total",
			Help: "Total number of integration health checks by resulting status",
		},
		[]string{"status"},
	)

	// HealthCheckDuration tracks probe latency
	HealthCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "integration_health_check_duration_seconds",
			Help:    "Integration health probe latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	// IntegrationsConnected tracks integrations by connection status
	IntegrationsConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "integrations_by_status",
			Help: "Number of integrations by connection status",
		},
		[]string{"status"},
	)
)

// Operation metrics
var (
	// OperationsTotal tracks provider operations by result
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_operations_total",
			Help: "Total number of provider operations by result",
		},
		[]string{"provider", "operation", "status"},
	)

	// OperationDuration tracks provider operation latency
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "integration_operation_duration_seconds",
			Help:    "Provider operation latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)

	// OperationsRateLimited tracks operations rejected by the rate limiter
	OperationsRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_operations_rate_limited_total",
			Help: "Total number of operations rejected by the per-integration rate limiter",
		},
		[]string{"provider"},
	)
)
