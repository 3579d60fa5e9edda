// Package metrics exposes Prometheus instrumentation for the realtime server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	connections   prometheus.Gauge
	onlineUsers   prometheus.Gauge
	droppedConns  prometheus.Counter
	messages      prometheus.Counter
	chatsCreated  prometheus.Counter
	notifications *prometheus.CounterVec
	wsEvents      *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamdesk",
			Name:      "ws_connections",
			Help:      "Live WebSocket connections.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamdesk",
			Name:      "online_users",
			Help:      "Users with at least one live connection.",
		}),
		droppedConns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamdesk",
			Name:      "ws_slow_consumers_dropped_total",
			Help:      "Connections dropped because their send buffer was full.",
		}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamdesk",
			Name:      "chat_messages_total",
			Help:      "Chat messages persisted.",
		}),
		chatsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamdesk",
			Name:      "chats_created_total",
			Help:      "Chats created.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamdesk",
			Name:      "task_notifications_total",
			Help:      "Task notifications delivered, by update type.",
		}, []string{"update_type"}),
		wsEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamdesk",
			Name:      "ws_events_total",
			Help:      "Client events handled, by event and result.",
		}, []string{"event", "result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.onlineUsers,
		m.droppedConns,
		m.messages,
		m.chatsCreated,
		m.notifications,
		m.wsEvents,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetConnections(n int) {
	if m != nil {
		m.connections.Set(float64(n))
	}
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m != nil {
		m.onlineUsers.Set(float64(n))
	}
}

func (m *Metrics) SlowConsumerDropped() {
	if m != nil {
		m.droppedConns.Inc()
	}
}

func (m *Metrics) MessagePersisted() {
	if m != nil {
		m.messages.Inc()
	}
}

func (m *Metrics) ChatCreated() {
	if m != nil {
		m.chatsCreated.Inc()
	}
}

// NotificationsDelivered adds n deliveries for updateType.
func (m *Metrics) NotificationsDelivered(updateType string, n int) {
	if m != nil && n > 0 {
		m.notifications.WithLabelValues(updateType).Add(float64(n))
	}
}

// EventHandled counts a client event; result is "ok" or an error kind.
func (m *Metrics) EventHandled(event, result string) {
	if m != nil {
		m.wsEvents.WithLabelValues(event, result).Inc()
	}
}
