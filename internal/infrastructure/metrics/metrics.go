// Package metrics defines the Prometheus collectors for the bridge service.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bridge service
type Metrics struct {
	// Session metrics
	ActiveSessions     prometheus.Gauge
	SessionReconnects  prometheus.Counter
	SessionAuthFailed  prometheus.Counter
	SessionsTerminated prometheus.Counter

	// Protocol metrics
	FramesReceived *prometheus.CounterVec
	FramesSent     *prometheus.CounterVec
	ProtocolErrors prometheus.Counter

	// Bridge metrics
	OutboundQueueDepth prometheus.Gauge
	InboundQueueDepth  prometheus.Gauge
	BridgeItemErrors   *prometheus.CounterVec
	EventsProcessed    *prometheus.CounterVec
}

// New creates a Metrics instance registered on the default registry
func New() *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "max_bridge_active_sessions",
			Help: "Number of connected MAX sessions",
		}),
		SessionReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "max_bridge_session_reconnects_total",
			Help: "Total number of session reconnect attempts",
		}),
		SessionAuthFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "max_bridge_session_auth_failures_total",
			Help: "Total number of failed authentication flows",
		}),
		SessionsTerminated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "max_bridge_sessions_terminated_total",
			Help: "Total number of sessions closed after exhausting reconnect retries",
		}),
		FramesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "max_bridge_frames_received_total",
				Help: "Total number of frames received, by opcode",
			},
			[]string{"opcode"},
		),
		FramesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "max_bridge_frames_sent_total",
				Help: "Total number of frames sent, by opcode",
			},
			[]string{"opcode"},
		),
		ProtocolErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "max_bridge_protocol_errors_total",
			Help: "Total number of error payloads received from the server",
		}),
		OutboundQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "max_bridge_outbound_queue_depth",
			Help: "Current number of items in the bot-to-protocol queue",
		}),
		InboundQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "max_bridge_inbound_queue_depth",
			Help: "Current number of items in the protocol-to-bot queue",
		}),
		BridgeItemErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "max_bridge_item_errors_total",
				Help: "Total number of failed bridge item handlings, by direction",
			},
			[]string{"direction"},
		),
		EventsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "max_bridge_events_processed_total",
				Help: "Total number of bridge events processed, by type",
			},
			[]string{"type"},
		),
	}
}

// ObserveFrameReceived records one received frame by opcode.
// Safe to call on a nil receiver so tests can run without metrics.
func (m *Metrics) ObserveFrameReceived(opcode int) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(strconv.Itoa(opcode)).Inc()
}

// ObserveFrameSent records one sent frame by opcode
func (m *Metrics) ObserveFrameSent(opcode int) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(strconv.Itoa(opcode)).Inc()
}

// ObserveProtocolError records one error payload
func (m *Metrics) ObserveProtocolError() {
	if m == nil {
		return
	}
	m.ProtocolErrors.Inc()
}

// ObserveAuthFailed records one failed login attempt
func (m *Metrics) ObserveAuthFailed() {
	if m == nil {
		return
	}
	m.SessionAuthFailed.Inc()
}

// ObserveReconnect records one reconnect attempt
func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.SessionReconnects.Inc()
}

// ObserveTerminated records one terminally failed session
func (m *Metrics) ObserveTerminated() {
	if m == nil {
		return
	}
	m.SessionsTerminated.Inc()
}

// SetActiveSessions updates the connected session gauge
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// SetQueueDepths updates both bridge queue gauges
func (m *Metrics) SetQueueDepths(outbound, inbound int) {
	if m == nil {
		return
	}
	m.OutboundQueueDepth.Set(float64(outbound))
	m.InboundQueueDepth.Set(float64(inbound))
}

// ObserveBridgeError records one failed bridge item
func (m *Metrics) ObserveBridgeError(direction string) {
	if m == nil {
		return
	}
	m.BridgeItemErrors.WithLabelValues(direction).Inc()
}

// ObserveEvent records one processed bridge event by type
func (m *Metrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsProcessed.WithLabelValues(eventType).Inc()
}
