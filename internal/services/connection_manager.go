package services

import (
	"log"
	"sync"

	"seatcheck/internal/models"
)

// ConnectionManager tracks all active device WebSocket connections.
type ConnectionManager struct {
	connections map[string]*models.DeviceConnection
	mutex       sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*models.DeviceConnection),
	}
}

// Add adds a new connection
func (cm *ConnectionManager) Add(conn *models.DeviceConnection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.connections[conn.ConnID] = conn
	log.Printf("✅ Connection added: %s (Total: %d)", conn.ConnID, len(cm.connections))
}

// Remove removes a connection
func (cm *ConnectionManager) Remove(connID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if conn, exists := cm.connections[connID]; exists {
		close(conn.WriteChan)
		close(conn.StopChan)
		delete(cm.connections, connID)
		log.Printf("❌ Connection removed: %s (Total: %d)", connID, len(cm.connections))
	}
}

// Get retrieves a connection by ID
func (cm *ConnectionManager) Get(connID string) (*models.DeviceConnection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	conn, exists := cm.connections[connID]
	return conn, exists
}

// ConnectionCount returns the number of active connections
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections)
}

// Broadcast fans a message out to every connected device. Sends are
// non-blocking: a device whose write buffer is full misses the message
// rather than stalling the sender.
func (cm *ConnectionManager) Broadcast(msg models.ServerMessage) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	for _, conn := range cm.connections {
		select {
		case conn.WriteChan <- msg:
		default:
			log.Printf("⚠️ Write buffer full for connection %s, dropping %s message", conn.ConnID, msg.Type)
		}
	}
}
