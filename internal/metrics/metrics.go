// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SocketSessions is the number of open socket sessions.
	SocketSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bloodlink_socket_sessions",
		Help: "Current connected socket sessions.",
	})
	// SocketRooms is the number of non-empty rooms.
	SocketRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bloodlink_socket_rooms",
		Help: "Current rooms with at least one member.",
	})
	// SocketEvents counts inbound events. Unregistered names share the "unknown" label.
	SocketEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bloodlink_socket_events_total",
		Help: "Inbound socket events by event name and result.",
	}, []string{"event", "result"})
	// SocketBackpressure counts deliveries dropped on a full session buffer.
	SocketBackpressure = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bloodlink_socket_backpressure_total",
		Help: "Total room deliveries dropped because a session buffer was full.",
	})

	// MessagesRelayed counts chat messages saved and broadcast.
	MessagesRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bloodlink_messages_relayed_total",
		Help: "Total chat messages persisted and broadcast.",
	})
	// MessagesFailed counts chat messages that could not be saved.
	MessagesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bloodlink_messages_failed_total",
		Help: "Total chat messages dropped because persistence failed.",
	})

	// NotificationsCreated counts notification records by type.
	NotificationsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bloodlink_notifications_created_total",
		Help: "Notification records written, by notification type.",
	}, []string{"type"})
	// PushOutcomes counts per-device push results by channel and status.
	PushOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bloodlink_push_outcomes_total",
		Help: "Per-device push outcomes by channel and status.",
	}, []string{"channel", "status"})
	// DispatchDuration observes the full record-and-fan-out time of one dispatch.
	DispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bloodlink_dispatch_duration_seconds",
		Help:    "Time to record a notification and fan it out to every device.",
		Buckets: prometheus.DefBuckets,
	})
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SocketSessions, SocketRooms, SocketEvents, SocketBackpressure,
			MessagesRelayed, MessagesFailed,
			NotificationsCreated, PushOutcomes, DispatchDuration,
		)
	})
}
