package services

import (
	"log"
	"sync"

	"seatcheck/internal/models"
)

// MotionSource detects a transition out of the motion category that was
// active when the session started (session started "in vehicle", device now
// "walking"). Transitions between other categories, and unclassifiable
// samples, never fire.
type MotionSource struct {
	sink EventSink

	mu        sync.Mutex
	auth      models.AuthorizationState
	armed     bool
	sessionID string
	baseline  models.MotionCategory
	current   models.MotionCategory
}

// NewMotionSource creates the motion-change detector.
func NewMotionSource(sink EventSink) *MotionSource {
	return &MotionSource{sink: sink, auth: models.AuthNotDetermined}
}

// Kind identifies this source on the arbiter's queue.
func (s *MotionSource) Kind() models.SignalKind { return models.SignalMotion }

// Arm captures the session's start motion category as the baseline.
func (s *MotionSource) Arm(session *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.auth != models.AuthAuthorized {
		log.Printf("🚶 [MOTION] Not authorized (%s): source silent for session %s", s.auth, session.ID)
		return
	}
	baseline := session.Baselines.StartMotion
	if baseline == "" || baseline == models.MotionUnknown {
		log.Printf("🚶 [MOTION] No baseline category: source silent for session %s", session.ID)
		return
	}

	s.armed = true
	s.sessionID = session.ID
	s.baseline = baseline
	s.current = baseline
	log.Printf("🚶 [MOTION] Armed for session %s (baseline: %s)", session.ID, baseline)
}

// Disarm stops emission for the current session.
func (s *MotionSource) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
	s.sessionID = ""
}

// SetAuthorization updates the permission state, disarming on revocation.
func (s *MotionSource) SetAuthorization(state models.AuthorizationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = state
	if state != models.AuthAuthorized && s.armed {
		log.Printf("🚶 [MOTION] Authorization revoked mid-session, disarming")
		s.armed = false
	}
}

// Authorization returns the current permission state.
func (s *MotionSource) Authorization() models.AuthorizationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

// Ingest feeds one motion-activity sample. Emits a possible-exit on any
// transition from the baseline category to a different classifiable one.
func (s *MotionSource) Ingest(reading models.MotionReading) {
	s.mu.Lock()

	if !s.armed || reading.SessionID != s.sessionID {
		s.mu.Unlock()
		return
	}
	if reading.Category == models.MotionUnknown || reading.Category == "" {
		s.mu.Unlock()
		return
	}

	previous := s.current
	s.current = reading.Category

	if previous != s.baseline || reading.Category == s.baseline {
		s.mu.Unlock()
		return
	}

	sessionID := s.sessionID
	s.mu.Unlock()

	log.Printf("🚶 [MOTION] Transition %s → %s for session %s", previous, reading.Category, sessionID)
	s.sink.Enqueue(models.PossibleExitEvent{
		SessionID: sessionID,
		Source:    models.SignalMotion,
		At:        reading.At,
	})
}
