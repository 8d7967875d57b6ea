package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts Redis errors by command.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingochat_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// ActiveWebSockets is the gauge of open websocket connections.
	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lingochat_websocket_connections",
		Help: "Number of open WebSocket connections",
	})

	// OnlineUsers is the gauge of users with at least one live connection.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lingochat_presence_online_users",
		Help: "Number of users with at least one live connection",
	})

	// RoomSubscriptions is the gauge of (connection, room) subscriptions by room kind.
	RoomSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lingochat_room_subscriptions",
		Help: "Number of connection subscriptions by room kind",
	}, []string{"kind"})

	// WebSocketEventsTotal counts inbound WebSocket events by type and outcome.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingochat_websocket_events_total",
		Help: "Total inbound WebSocket events by type and outcome",
	}, []string{"event_type", "outcome"})

	// DispatchedEvents counts outbound events by name and room kind.
	DispatchedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingochat_dispatched_events_total",
		Help: "Total outbound events by event name and room kind",
	}, []string{"event", "kind"})

	// MessagesSent counts persisted messages by type and whether they were idempotent replays.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingochat_messages_sent_total",
		Help: "Total messages accepted by the pipeline",
	}, []string{"message_type", "replayed"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingochat_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// AttachmentCleanupFailures counts best-effort file deletions that failed.
	AttachmentCleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lingochat_attachment_cleanup_failures_total",
		Help: "Attachment files that could not be removed on revoke",
	})
)
