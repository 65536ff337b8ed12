// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_events_consumed_total",
			Help: "Bus deliveries settled by the event consumer",
		},
		[]string{"queue", "event_type", "outcome"},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Notifications persisted, by type and origin",
		},
		[]string{"type", "priority", "origin"},
	)

	NotificationStatusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_status_changes_total",
			Help: "Successful status updates by requested status",
		},
		[]string{"status"},
	)

	DispatchTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dispatch_tasks_total",
			Help: "Background creation tasks by outcome",
		},
		[]string{"outcome"},
	)

	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_dispatch_queue_depth",
			Help: "Tasks waiting in the background dispatcher",
		},
	)

	CleanupDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_cleanup_deleted_total",
			Help: "Notifications removed by age-based cleanup",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_http_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
