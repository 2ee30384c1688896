package handlers

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"seatcheck/internal/models"
	"seatcheck/internal/services"
)

// WebSocketHandler owns the device's live session channel: ticks, alerts and
// haptic pulses go out; acknowledgement actions and end/extend requests come
// back in.
type WebSocketHandler struct {
	connManager *services.ConnectionManager
	arbiter     *services.Arbiter
	escalation  *services.EscalationService
	metrics     *services.Metrics
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(connManager *services.ConnectionManager, arbiter *services.Arbiter,
	escalation *services.EscalationService, metrics *services.Metrics) *WebSocketHandler {
	return &WebSocketHandler{
		connManager: connManager,
		arbiter:     arbiter,
		escalation:  escalation,
		metrics:     metrics,
	}
}

// Handle handles a new WebSocket connection
func (h *WebSocketHandler) Handle(c *websocket.Conn) {
	connID := uuid.New().String()
	deviceID, _ := c.Locals("device_id").(string)

	// Signals the ping goroutine to stop when the read loop exits
	done := make(chan struct{})

	deviceConn := &models.DeviceConnection{
		ConnID:    connID,
		DeviceID:  deviceID,
		Conn:      c,
		CreatedAt: time.Now(),
		WriteChan: make(chan models.ServerMessage, 100),
		StopChan:  make(chan bool, 1),
	}

	h.connManager.Add(deviceConn)
	if h.metrics != nil {
		h.metrics.RecordWebSocketConnect()
	}
	defer func() {
		close(done)
		h.connManager.Remove(connID)
		if h.metrics != nil {
			h.metrics.RecordWebSocketDisconnect()
		}
	}()

	// A phone in a pocket goes quiet for long stretches; keep the read
	// deadline generous and refresh it on every pong and message.
	c.SetReadDeadline(time.Now().Add(120 * time.Second))
	c.SetPongHandler(func(appData string) error {
		c.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	go h.pingLoop(deviceConn, done)
	go h.writeLoop(deviceConn)

	deviceConn.WriteChan <- models.ServerMessage{
		Type:    "connected",
		Content: "WebSocket connected. Ready to stream session updates.",
	}

	// If a session is mid-flight, the reconnecting device needs its state back
	if session := h.arbiter.ActiveSession(); session != nil {
		now := time.Now()
		deviceConn.WriteChan <- models.ServerMessage{
			Type:      "tick",
			SessionID: session.ID,
			Remaining: session.Remaining(now).Seconds(),
			Progress:  session.Progress(now),
		}
	}

	h.readLoop(deviceConn)
}

// pingLoop sends periodic pings to keep the WebSocket connection alive
func (h *WebSocketHandler) pingLoop(deviceConn *models.DeviceConnection, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deviceConn.Mutex.Lock()
			if err := deviceConn.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				log.Printf("⚠️ Ping failed for %s: %v", deviceConn.ConnID, err)
				deviceConn.Mutex.Unlock()
				return
			}
			deviceConn.Mutex.Unlock()
		}
	}
}

// readLoop handles incoming messages from the device
func (h *WebSocketHandler) readLoop(deviceConn *models.DeviceConnection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in readLoop: %v", r)
		}
	}()

	for {
		_, msg, err := deviceConn.Conn.ReadMessage()
		if err != nil {
			log.Printf("❌ WebSocket read error for %s: %v", deviceConn.ConnID, err)
			break
		}

		deviceConn.Conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		var clientMsg models.ClientMessage
		if err := json.Unmarshal(msg, &clientMsg); err != nil {
			log.Printf("⚠️  Invalid message format from %s: %v", deviceConn.ConnID, err)
			deviceConn.WriteChan <- models.ServerMessage{
				Type:    "error",
				Content: "Invalid message format",
			}
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordWebSocketMessage(clientMsg.Type, "inbound")
		}

		switch clientMsg.Type {
		case "ping":
			deviceConn.WriteChan <- models.ServerMessage{Type: "pong"}
		case "action":
			h.handleAction(deviceConn, clientMsg)
		case "end_session":
			h.handleEndSession(deviceConn, clientMsg)
		case "extend":
			h.handleExtend(deviceConn, clientMsg)
		default:
			log.Printf("⚠️  Unknown message type: %s", clientMsg.Type)
		}
	}
}

func (h *WebSocketHandler) handleAction(deviceConn *models.DeviceConnection, clientMsg models.ClientMessage) {
	if err := h.escalation.Acknowledge(clientMsg.SessionID, clientMsg.ActionID); err != nil {
		deviceConn.WriteChan <- models.ServerMessage{
			Type:      "error",
			SessionID: clientMsg.SessionID,
			Content:   err.Error(),
		}
	}
}

func (h *WebSocketHandler) handleEndSession(deviceConn *models.DeviceConnection, clientMsg models.ClientMessage) {
	if err := h.arbiter.EndNow(clientMsg.SessionID); err != nil {
		deviceConn.WriteChan <- models.ServerMessage{
			Type:      "error",
			SessionID: clientMsg.SessionID,
			Content:   err.Error(),
		}
	}
}

func (h *WebSocketHandler) handleExtend(deviceConn *models.DeviceConnection, clientMsg models.ClientMessage) {
	d := time.Duration(clientMsg.Duration) * time.Second
	if err := h.arbiter.Extend(clientMsg.SessionID, d); err != nil {
		deviceConn.WriteChan <- models.ServerMessage{
			Type:      "error",
			SessionID: clientMsg.SessionID,
			Content:   err.Error(),
		}
	}
}

// writeLoop pushes server messages out to the device
func (h *WebSocketHandler) writeLoop(deviceConn *models.DeviceConnection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in writeLoop: %v", r)
		}
	}()

	for msg := range deviceConn.WriteChan {
		if err := deviceConn.Conn.WriteJSON(msg); err != nil {
			log.Printf("❌ WebSocket write error for %s: %v", deviceConn.ConnID, err)
			return
		}
		if h.metrics != nil {
			h.metrics.RecordWebSocketMessage(msg.Type, "outbound")
		}
	}
}
