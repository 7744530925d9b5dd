package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rt_connections_active",
		Help: "The current number of authenticated WebSocket connections.",
	})
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rt_rooms_active",
		Help: "The current number of live session rooms.",
	})

	// Billing metrics
	BillingTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_ticks_total",
		Help: "The total number of committed billing ticks.",
	})
	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessions_ended_total",
		Help: "The total number of ended sessions, by reason.",
	}, []string{"reason"})

	// Relay metrics
	MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_relayed_total",
		Help: "The total number of chat messages relayed to room members.",
	})
	MessagesDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_deduplicated_total",
		Help: "The total number of chat messages dropped as redeliveries.",
	})
)
