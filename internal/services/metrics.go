package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// WebSocket metrics
	WebSocketConnections prometheus.Gauge
	WebSocketMessages    *prometheus.CounterVec

	// Session lifecycle metrics
	SessionsStarted *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Signal and alert metrics
	SignalEvents    *prometheus.CounterVec
	AlertsDelivered *prometheus.CounterVec
	AlertFailures   prometheus.Counter

	// Connection manager reference for dynamic metrics
	connManager *ConnectionManager
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics(connManager *ConnectionManager) *Metrics {
	metrics := &Metrics{
		connManager: connManager,

		// WebSocket active connections (gauge - can go up and down)
		WebSocketConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "seatcheck_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		}),

		// WebSocket messages by type (counter - only goes up)
		WebSocketMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "seatcheck_websocket_messages_total",
			Help: "Total number of WebSocket messages by type",
		}, []string{"type", "direction"}), // direction: "inbound" or "outbound"

		SessionsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "seatcheck_sessions_started_total",
			Help: "Total number of sessions started by preset",
		}, []string{"preset"}),

		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "seatcheck_sessions_ended_total",
			Help: "Total number of sessions ended by cause",
		}, []string{"cause"}),

		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "seatcheck_session_duration_seconds",
			Help:    "Elapsed session duration in seconds",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400}, // 1m to 4h
		}),

		SignalEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "seatcheck_signal_events_total",
			Help: "Total number of possible-exit events by signal source",
		}, []string{"source"}),

		AlertsDelivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "seatcheck_alerts_delivered_total",
			Help: "Total number of alerts delivered by sound tier",
		}, []string{"tier"}),

		AlertFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seatcheck_alert_failures_total",
			Help: "Total number of alerts that failed delivery after retry",
		}),
	}

	// Register a collector that updates WebSocket connections from ConnectionManager
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "seatcheck_websocket_connections_current",
			Help: "Current number of active WebSocket connections (from connection manager)",
		},
		func() float64 {
			if connManager != nil {
				return float64(connManager.ConnectionCount())
			}
			return 0
		},
	))

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordWebSocketConnect records a new WebSocket connection
func (m *Metrics) RecordWebSocketConnect() {
	m.WebSocketConnections.Inc()
}

// RecordWebSocketDisconnect records a WebSocket disconnection
func (m *Metrics) RecordWebSocketDisconnect() {
	m.WebSocketConnections.Dec()
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.WebSocketMessages.WithLabelValues(msgType, direction).Inc()
}

// RecordSessionStarted records a session start
func (m *Metrics) RecordSessionStarted(preset string) {
	m.SessionsStarted.WithLabelValues(preset).Inc()
}

// RecordSessionEnded records a session end by cause
func (m *Metrics) RecordSessionEnded(cause string) {
	m.SessionsEnded.WithLabelValues(cause).Inc()
}

// RecordSessionDuration records how long a session ran
func (m *Metrics) RecordSessionDuration(seconds float64) {
	m.SessionDuration.Observe(seconds)
}

// RecordSignalEvent records a possible-exit event from a signal source
func (m *Metrics) RecordSignalEvent(source string) {
	m.SignalEvents.WithLabelValues(source).Inc()
}

// RecordAlertDelivered records a delivered alert
func (m *Metrics) RecordAlertDelivered(tier string) {
	m.AlertsDelivered.WithLabelValues(tier).Inc()
}

// RecordAlertFailure records an alert that failed delivery after retry
func (m *Metrics) RecordAlertFailure() {
	m.AlertFailures.Inc()
}
