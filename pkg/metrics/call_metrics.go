package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call metrics for monitoring the call lifecycle and its side effects
var (
	// Lifecycle
	CallsInitiatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_initiated_total",
		Help: "Total number of calls started",
	}, []string{"call_type"})

	CallsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_ended_total",
		Help: "Total number of calls ended",
	}, []string{"call_type", "reason"}) // "hangup", "declined", "left", "ring_timeout", "stale"

	CallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_duration_seconds",
		Help:    "Duration of ended calls",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
	}, []string{"call_type"})

	CallOperationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_operation_failures_total",
		Help: "Total number of failed call operations",
	}, []string{"operation", "code"})

	// Reaper
	CallReaperSweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_reaper_sweeps_total",
		Help: "Total number of reaper sweeps",
	}, []string{"result"}) // "ok", "skipped", "error"

	CallReaperTerminatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_reaper_terminated_total",
		Help: "Total number of calls terminated by the reaper",
	}, []string{"reason"})

	// Notifications
	CallNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_notifications_total",
		Help: "Total number of call notifications delivered to a sink",
	}, []string{"kind", "sink"})

	CallNotificationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_notification_failures_total",
		Help: "Total number of call notifications that failed or were dropped",
	}, []string{"kind", "sink"})

	// Realtime hub
	CallEventConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_event_websocket_connections",
		Help: "Current number of call event websocket connections",
	})

	CallEventSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_event_redis_subscriptions",
		Help: "Current number of users with a Redis call event subscription",
	})
)
