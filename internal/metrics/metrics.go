package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decisions counts verification outcomes by decision.
var Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agentwatch_decisions_total",
	Help: "Verification decisions by outcome.",
}, []string{"decision"})

// BatchItems counts processed batch items by outcome.
var BatchItems = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agentwatch_batch_items_total",
	Help: "Batch items by processing outcome.",
}, []string{"outcome"})

// Notifications counts notification publish attempts.
var Notifications = promauto.NewCounter(prometheus.CounterOpts{
	Name: "agentwatch_notifications_total",
	Help: "Notifications published for confirmed issues.",
})

// NotificationFailures counts best-effort publish failures.
var NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "agentwatch_notification_failures_total",
	Help: "Notification publish failures (advisory channel only).",
})

// CheckRetries counts transient status-check retries.
var CheckRetries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "agentwatch_check_retries_total",
	Help: "Status checks retried after a transient control-plane error.",
})

// IngestEvents counts raw state changes by intake result.
var IngestEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agentwatch_ingest_events_total",
	Help: "Raw state-change events by intake result.",
}, []string{"result"})

// CheckDuration observes status-check latency.
var CheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "agentwatch_check_duration_seconds",
	Help:    "Control-plane status check latency.",
	Buckets: prometheus.DefBuckets,
})
