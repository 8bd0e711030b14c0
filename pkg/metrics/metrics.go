// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ConversationsTotal tracks conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_conversations_total",
			Help: "Total conversations created",
		},
		[]string{"type"},
	)

	// MessagesTotal tracks messages created.
	MessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total messages created",
		},
	)

	// EventsPublishedTotal tracks domain events handed to the bus.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_published_total",
			Help: "Domain events published",
		},
		[]string{"topic", "status"},
	)

	// EventsReceivedTotal tracks events handled by listeners.
	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_received_total",
			Help: "Domain events handled by listeners",
		},
		[]string{"topic", "status"},
	)

	// VersionConflictsTotal tracks optimistic concurrency retries.
	VersionConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_version_conflicts_total",
			Help: "Conversation updates retried after a version conflict",
		},
	)

	// DefaultChannelBootstraps tracks lazy creation of the default channel.
	DefaultChannelBootstraps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_default_channel_bootstraps_total",
			Help: "Times the default channel had to be ensured",
		},
	)

	// SummaryUpdateFailures tracks swallowed last_message update errors.
	SummaryUpdateFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_summary_update_failures_total",
			Help: "Conversation summary updates that failed after a message was stored",
		},
	)

	// SSEConnections tracks active event stream connections.
	SSEConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sse_connections_active",
			Help: "Number of active event stream connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordPublish records the outcome of one event publication.
func RecordPublish(topic string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	EventsPublishedTotal.WithLabelValues(topic, status).Inc()
}

// RecordReceive records the outcome of one handled event.
func RecordReceive(topic string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	EventsReceivedTotal.WithLabelValues(topic, status).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnections.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnections.Dec()
}
