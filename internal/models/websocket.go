package models

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// ClientMessage represents a message from the companion app over the
// session WebSocket.
type ClientMessage struct {
	Type      string `json:"type"` // "action", "ping", "end_session", "extend"
	SessionID string `json:"session_id,omitempty"`

	// Action fields (type == "action")
	ActionID string `json:"action_id,omitempty"` // "mark_all_collected", "snooze", "open_scan"

	// Extend fields (type == "extend")
	Duration int `json:"duration_seconds,omitempty"`
}

// ServerMessage represents a message pushed to the companion app.
type ServerMessage struct {
	Type      string  `json:"type"` // "connected", "tick", "alert", "notification", "haptic", "session_ended", "open_scan", "error"
	SessionID string  `json:"session_id,omitempty"`
	Remaining float64 `json:"remaining_seconds,omitempty"`
	Progress  float64 `json:"progress,omitempty"`

	// Alert fields (type == "alert" / "notification")
	AlertID    string `json:"alert_id,omitempty"`
	Title      string `json:"title,omitempty"`
	Body       string `json:"body,omitempty"`
	SoundTier  string `json:"sound_tier,omitempty"` // "standard", "prominent", "critical"
	Persistent bool   `json:"persistent,omitempty"`

	EndSignal EndSignal `json:"end_signal,omitempty"`
	Content   string    `json:"content,omitempty"`
}

// DeviceConnection tracks one connected companion-app WebSocket.
type DeviceConnection struct {
	ConnID    string
	DeviceID  string
	Conn      *websocket.Conn
	CreatedAt time.Time
	WriteChan chan ServerMessage
	StopChan  chan bool
	Mutex     sync.Mutex
}
