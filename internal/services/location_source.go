package services

import (
	"log"
	"sync"

	"seatcheck/internal/models"
)

// exitRadiusMeters is how far from the session's start location the device
// must move before a location exit is reported.
const exitRadiusMeters = 50.0

// LocationSource detects the device leaving the session's start location.
// The threshold must be exceeded by the fix's own reported accuracy, not a
// raw radius comparison, so GPS jitter at small radii does not produce false
// positives. A crossing that already survived the accuracy margin counts as
// debounced, which is why the arbiter ends immediately on this signal.
type LocationSource struct {
	sink EventSink

	mu        sync.Mutex
	auth      models.AuthorizationState
	armed     bool
	sessionID string
	origin    *models.GeoPoint
	fired     bool
}

// NewLocationSource creates the location-exit detector.
func NewLocationSource(sink EventSink) *LocationSource {
	return &LocationSource{sink: sink, auth: models.AuthNotDetermined}
}

// Kind identifies this source on the arbiter's queue.
func (s *LocationSource) Kind() models.SignalKind { return models.SignalLocation }

// Arm captures the session's start location as the exit baseline. Without a
// granted authorization or a baseline fix the source stays silent.
func (s *LocationSource) Arm(session *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.auth != models.AuthAuthorized {
		log.Printf("📍 [LOCATION] Not authorized (%s): source silent for session %s", s.auth, session.ID)
		return
	}
	if session.Baselines.StartLocation == nil {
		log.Printf("📍 [LOCATION] No start location captured: source silent for session %s", session.ID)
		return
	}

	s.armed = true
	s.sessionID = session.ID
	s.origin = session.Baselines.StartLocation
	s.fired = false
	log.Printf("📍 [LOCATION] Armed for session %s (radius %.0fm)", session.ID, exitRadiusMeters)
}

// Disarm stops emission for the current session.
func (s *LocationSource) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
	s.sessionID = ""
	s.origin = nil
}

// SetAuthorization updates the permission state. Revocation mid-session
// disarms the source; the arbiter keeps running on the remaining sources.
func (s *LocationSource) SetAuthorization(state models.AuthorizationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = state
	if state != models.AuthAuthorized && s.armed {
		log.Printf("📍 [LOCATION] Authorization revoked mid-session, disarming")
		s.armed = false
	}
}

// Authorization returns the current permission state.
func (s *LocationSource) Authorization() models.AuthorizationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

// Ingest feeds one raw position fix from the device. Emits a single
// possible-exit once the distance from the origin exceeds the radius plus the
// fix's reported accuracy.
func (s *LocationSource) Ingest(reading models.LocationReading) {
	s.mu.Lock()

	if !s.armed || s.fired || reading.SessionID != s.sessionID {
		s.mu.Unlock()
		return
	}

	distance := haversineMeters(*s.origin, reading.Point)
	if distance <= exitRadiusMeters+reading.Point.Accuracy {
		s.mu.Unlock()
		return
	}

	s.fired = true
	sessionID := s.sessionID
	s.mu.Unlock()

	log.Printf("📍 [LOCATION] Exit detected for session %s (%.0fm out, ±%.0fm)",
		sessionID, distance, reading.Point.Accuracy)
	s.sink.Enqueue(models.PossibleExitEvent{
		SessionID: sessionID,
		Source:    models.SignalLocation,
		At:        reading.At,
	})
}
