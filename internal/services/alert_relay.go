package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"seatcheck/internal/models"
)

// alertChannel is the Redis pub/sub channel notifications travel on.
const alertChannel = "seatcheck:alerts"

// AlertRelay bridges notifications across instances over Redis pub/sub. When
// the local instance has no device connected, the gateway publishes here;
// another instance that does hold the device's websocket picks the
// notification up and delivers it. Entirely optional: the service runs
// without Redis and the relay stays nil.
type AlertRelay struct {
	client     *redis.Client
	manager    *ConnectionManager
	instanceID string
	pubsub     *redis.PubSub
	ctx        context.Context
	cancel     context.CancelFunc
}

// relayEnvelope is the wire form of a relayed notification.
type relayEnvelope struct {
	InstanceID   string       `json:"instanceId"`
	Notification Notification `json:"notification"`
}

// NewAlertRelay connects to Redis and verifies the connection.
func NewAlertRelay(redisURL, instanceID string, manager *ConnectionManager) (*AlertRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Println("✅ Redis connection established")

	relayCtx, relayCancel := context.WithCancel(context.Background())
	return &AlertRelay{
		client:     client,
		manager:    manager,
		instanceID: instanceID,
		ctx:        relayCtx,
		cancel:     relayCancel,
	}, nil
}

// Start begins listening for relayed notifications from other instances.
func (r *AlertRelay) Start() error {
	r.pubsub = r.client.Subscribe(r.ctx, alertChannel)

	// Wait for subscription confirmation
	if _, err := r.pubsub.Receive(r.ctx); err != nil {
		return err
	}

	go r.processMessages()
	log.Printf("📡 [RELAY] Listening on %s (instance: %s)", alertChannel, r.instanceID)
	return nil
}

func (r *AlertRelay) processMessages() {
	ch := r.pubsub.Channel()
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handleMessage(msg)
		}
	}
}

func (r *AlertRelay) handleMessage(msg *redis.Message) {
	var envelope relayEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
		log.Printf("⚠️ [RELAY] Failed to unmarshal message: %v", err)
		return
	}

	// Skip messages from this instance (avoid loops)
	if envelope.InstanceID == r.instanceID {
		return
	}
	if r.manager.ConnectionCount() == 0 {
		return
	}

	n := envelope.Notification
	message := models.ServerMessage{
		Type:       "notification",
		SessionID:  n.SessionID,
		AlertID:    n.ID,
		Title:      n.Title,
		Body:       n.Body,
		SoundTier:  n.SoundTier,
		Persistent: n.Persistent,
	}
	r.manager.Broadcast(message)
	log.Printf("📡 [RELAY] Delivered relayed notification %s", n.ID)
}

// Publish sends a notification to other instances.
func (r *AlertRelay) Publish(n Notification) error {
	payload, err := json.Marshal(relayEnvelope{InstanceID: r.instanceID, Notification: n})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return r.client.Publish(ctx, alertChannel, payload).Err()
}

// Ping checks Redis health for the health endpoint.
func (r *AlertRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Stop shuts the relay down and closes the Redis connection.
func (r *AlertRelay) Stop() {
	r.cancel()
	if r.pubsub != nil {
		r.pubsub.Close()
	}
	if r.client != nil {
		r.client.Close()
	}
}
