package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting engine metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Live connection counts and session lifetimes
//   - Event delivery by mode (direct push vs. offline queue)
//   - Bounded-queue evictions when recipients stay offline
//   - Content gate verdicts by surface and violation type
//   - Conversation closures
//   - HTTP request latency for the internal event API
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.EventDelivered("direct")
type Metrics struct {
	// ActiveConnections is a gauge of currently registered connections.
	ActiveConnections prometheus.Gauge

	// SessionDuration measures connection lifetime in seconds.
	// Labels: reason (close|replaced|idle|expired|error)
	// Buckets: 10s, 60s, 300s, 900s, 1800s, 3600s, 7200s
	SessionDuration *prometheus.HistogramVec

	// EventsDelivered counts realtime events by delivery mode.
	// Labels: mode (direct|queued|flushed)
	EventsDelivered *prometheus.CounterVec

	// QueueEvictions counts oldest-entry evictions from full delivery queues.
	QueueEvictions prometheus.Counter

	// GateVerdicts counts content gate evaluations.
	// Labels: surface (comment|reply|privateMessage), verdict (allowed|rejected)
	GateVerdicts *prometheus.CounterVec

	// GateViolations counts individual matched violations.
	// Labels: violation (phone|email|link|handle|profanity)
	GateViolations *prometheus.CounterVec

	// ConversationsClosed counts lifecycle closures.
	ConversationsClosed prometheus.Counter

	// NotificationsDispatched counts dispatcher sends by template.
	// Labels: template
	NotificationsDispatched *prometheus.CounterVec

	// HTTPRequestDuration measures internal API request latency.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// TransportWriteFailures counts pushes demoted to enqueue by write errors.
	TransportWriteFailures prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics with reg.
// Pass prometheus.DefaultRegisterer in production; tests use a private
// registry so parallel tests do not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_active_connections",
			Help: "Number of currently registered realtime connections",
		}),

		SessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_session_duration_seconds",
				Help:    "Connection lifetime in seconds by teardown reason",
				Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"reason"},
		),

		EventsDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_events_delivered_total",
				Help: "Realtime events delivered by mode",
			},
			[]string{"mode"},
		),

		QueueEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_queue_evictions_total",
			Help: "Oldest-entry evictions from full per-user delivery queues",
		}),

		GateVerdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_gate_verdicts_total",
				Help: "Content gate evaluations by surface and verdict",
			},
			[]string{"surface", "verdict"},
		),

		GateViolations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_gate_violations_total",
				Help: "Individual content gate violations by type",
			},
			[]string{"violation"},
		),

		ConversationsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_conversations_closed_total",
			Help: "Conversations permanently closed after mutual review",
		}),

		NotificationsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_notifications_dispatched_total",
				Help: "Notifications dispatched by template key",
			},
			[]string{"template"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_http_request_duration_seconds",
				Help:    "Internal API request latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		TransportWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_transport_write_failures_total",
			Help: "Pushes demoted to enqueue after a transport write error",
		}),
	}
}

// EventDelivered records one delivered event. Mode is "direct" for a live
// push, "queued" for an offline enqueue, "flushed" for a drain on reconnect.
func (m *Metrics) EventDelivered(mode string) {
	m.EventsDelivered.WithLabelValues(mode).Inc()
}

// GateVerdict records one content gate evaluation.
func (m *Metrics) GateVerdict(surface string, allowed bool) {
	verdict := "allowed"
	if !allowed {
		verdict = "rejected"
	}
	m.GateVerdicts.WithLabelValues(surface, verdict).Inc()
}
