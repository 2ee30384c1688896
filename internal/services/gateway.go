package services

import (
	"fmt"
	"log"
	"time"

	"github.com/patrickmn/go-cache"

	"seatcheck/internal/models"
)

// Sound tiers carried on alerts; the device maps these to notification sounds.
const (
	SoundTierStandard  = "standard"
	SoundTierProminent = "prominent"
	SoundTierCritical  = "critical"
)

// Notification is what the escalation driver hands to the delivery channel.
type Notification struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	SoundTier  string `json:"sound_tier"`
	Persistent bool   `json:"persistent"`
}

// NotificationGateway is the delivery contract the escalation driver speaks.
// Implementations must be safe for concurrent use.
type NotificationGateway interface {
	Deliver(n Notification) error
}

// Broadcaster pushes server messages to every connected device.
type Broadcaster interface {
	Broadcast(msg models.ServerMessage)
}

// dedupeTTL suppresses identical notifications fired in quick succession,
// shorter than the re-alert interval so escalation repeats still go out.
const dedupeTTL = time.Second

// WebSocketGateway delivers notifications over the live websocket
// connections. When no device is connected, deliveries go to the Redis relay
// if one is configured, otherwise they fail and the escalation driver's
// retry/degrade policy takes over.
type WebSocketGateway struct {
	manager *ConnectionManager
	relay   *AlertRelay
	dedupe  *cache.Cache
}

// NewWebSocketGateway creates the gateway. relay may be nil.
func NewWebSocketGateway(manager *ConnectionManager, relay *AlertRelay) *WebSocketGateway {
	return &WebSocketGateway{
		manager: manager,
		relay:   relay,
		dedupe:  cache.New(dedupeTTL, 5*time.Minute),
	}
}

// Deliver pushes the notification to connected devices. Duplicate
// notifications inside the dedupe window are dropped silently.
func (g *WebSocketGateway) Deliver(n Notification) error {
	key := n.SessionID + "|" + n.Title + "|" + n.Body
	if _, found := g.dedupe.Get(key); found {
		return nil
	}
	g.dedupe.Set(key, true, cache.DefaultExpiration)

	msg := models.ServerMessage{
		Type:       "notification",
		SessionID:  n.SessionID,
		AlertID:    n.ID,
		Title:      n.Title,
		Body:       n.Body,
		SoundTier:  n.SoundTier,
		Persistent: n.Persistent,
	}

	if g.manager.ConnectionCount() == 0 {
		if g.relay != nil {
			if err := g.relay.Publish(n); err != nil {
				return fmt.Errorf("no device connected and relay publish failed: %w", err)
			}
			log.Printf("📡 [GATEWAY] No device connected, notification %s relayed", n.ID)
			return nil
		}
		return fmt.Errorf("no device connected")
	}

	g.manager.Broadcast(msg)
	return nil
}
