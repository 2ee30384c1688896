package services

import (
	"log"
	"sync"

	"seatcheck/internal/models"
)

// BluetoothSource tracks the companion devices that were connected when the
// session started and reports raw disconnect/reconnect events for them. It
// makes no end decision itself: the grace window that lets a reconnect cancel
// a candidate end belongs to the arbiter.
type BluetoothSource struct {
	sink EventSink

	mu        sync.Mutex
	auth      models.AuthorizationState
	armed     bool
	sessionID string
	connected map[string]bool // baseline device → currently connected
}

// NewBluetoothSource creates the companion-device-disconnect detector.
func NewBluetoothSource(sink EventSink) *BluetoothSource {
	return &BluetoothSource{sink: sink, auth: models.AuthNotDetermined}
}

// Kind identifies this source on the arbiter's queue.
func (s *BluetoothSource) Kind() models.SignalKind { return models.SignalBluetooth }

// Arm captures the set of connected companion devices as the baseline.
func (s *BluetoothSource) Arm(session *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.auth != models.AuthAuthorized {
		log.Printf("🎧 [BLUETOOTH] Not authorized (%s): source silent for session %s", s.auth, session.ID)
		return
	}
	if len(session.Baselines.ConnectedDevices) == 0 {
		log.Printf("🎧 [BLUETOOTH] No companion devices at start: source silent for session %s", session.ID)
		return
	}

	s.armed = true
	s.sessionID = session.ID
	s.connected = make(map[string]bool, len(session.Baselines.ConnectedDevices))
	for _, deviceID := range session.Baselines.ConnectedDevices {
		s.connected[deviceID] = true
	}
	log.Printf("🎧 [BLUETOOTH] Armed for session %s (%d devices)", session.ID, len(s.connected))
}

// Disarm stops emission for the current session.
func (s *BluetoothSource) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
	s.sessionID = ""
	s.connected = nil
}

// SetAuthorization updates the permission state, disarming on revocation.
func (s *BluetoothSource) SetAuthorization(state models.AuthorizationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = state
	if state != models.AuthAuthorized && s.armed {
		log.Printf("🎧 [BLUETOOTH] Authorization revoked mid-session, disarming")
		s.armed = false
	}
}

// Authorization returns the current permission state.
func (s *BluetoothSource) Authorization() models.AuthorizationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

// Ingest feeds one raw connect/disconnect event. Devices that were not part
// of the baseline set are ignored: a new pairing mid-session says nothing
// about the user leaving.
func (s *BluetoothSource) Ingest(reading models.BluetoothReading) {
	s.mu.Lock()

	if !s.armed || reading.SessionID != s.sessionID {
		s.mu.Unlock()
		return
	}
	wasConnected, tracked := s.connected[reading.DeviceID]
	if !tracked {
		s.mu.Unlock()
		return
	}

	sessionID := s.sessionID
	s.connected[reading.DeviceID] = reading.Connected
	s.mu.Unlock()

	switch {
	case wasConnected && !reading.Connected:
		log.Printf("🎧 [BLUETOOTH] Device %s disconnected (session %s)", reading.DeviceID, sessionID)
		s.sink.Enqueue(models.PossibleExitEvent{
			SessionID: sessionID,
			Source:    models.SignalBluetooth,
			DeviceID:  reading.DeviceID,
			At:        reading.At,
		})
	case !wasConnected && reading.Connected:
		log.Printf("🎧 [BLUETOOTH] Device %s reconnected (session %s)", reading.DeviceID, sessionID)
		s.sink.Enqueue(models.DeviceReconnectedEvent{
			SessionID: sessionID,
			DeviceID:  reading.DeviceID,
			At:        reading.At,
		})
	}
}
