package models

import (
	"encoding/json"
	"time"
)

// EndSignal is the recorded cause that terminated a session.
type EndSignal string

const (
	EndSignalTimer     EndSignal = "timer"
	EndSignalLocation  EndSignal = "location"
	EndSignalMotion    EndSignal = "motion"
	EndSignalBluetooth EndSignal = "bluetooth"
	EndSignalManual    EndSignal = "manual"
)

// Priority orders end signals by decreasing certainty. When two signals are
// observed in the same processing tick, the higher priority wins.
func (s EndSignal) Priority() int {
	switch s {
	case EndSignalManual:
		return 5
	case EndSignalTimer:
		return 4
	case EndSignalLocation:
		return 3
	case EndSignalMotion:
		return 2
	case EndSignalBluetooth:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a known end signal.
func (s EndSignal) Valid() bool {
	return s.Priority() > 0
}

// Preset is the activity kind a session was started for. Presets are purely
// descriptive: they carry a default duration and an icon for display, nothing
// behavioral.
type Preset string

const (
	PresetRide      Preset = "ride"
	PresetCafe      Preset = "cafe"
	PresetClassroom Preset = "classroom"
	PresetFlight    Preset = "flight"
	PresetCustom    Preset = "custom"
)

// MotionCategory is a coarse classification of ambient device motion.
type MotionCategory string

const (
	MotionStationary MotionCategory = "stationary"
	MotionWalking    MotionCategory = "walking"
	MotionRunning    MotionCategory = "running"
	MotionCycling    MotionCategory = "cycling"
	MotionVehicle    MotionCategory = "vehicle"
	MotionUnknown    MotionCategory = "unknown"
)

// GeoPoint is a position fix with the device's own reported accuracy in meters.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// ChecklistItem is one belonging the user wants to walk out with.
type ChecklistItem struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Icon      string `json:"icon,omitempty"`
	Collected bool   `json:"collected"`
	Position  int    `json:"position"`
}

// Baselines captures the world as it looked when the session started. The
// signal sources compare live readings against these to decide whether the
// user is leaving.
type Baselines struct {
	StartLocation    *GeoPoint      `json:"start_location,omitempty"`
	StartMotion      MotionCategory `json:"start_motion,omitempty"`
	ConnectedDevices []string       `json:"connected_devices,omitempty"`
}

// Session is one timed activity instance being monitored.
//
// Exactly one of {IsActive, (CompletedAt, EndSignal) both set} holds at all
// times. The end fields are written exactly once, by the arbiter, and are
// immutable afterwards.
type Session struct {
	ID              string          `json:"id"`
	Preset          Preset          `json:"preset"`
	StartAt         time.Time       `json:"start_at"`
	PlannedDuration time.Duration   `json:"-"`
	IsActive        bool            `json:"is_active"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	EndSignal       EndSignal       `json:"end_signal,omitempty"`
	Acknowledged    bool            `json:"acknowledged"`
	Baselines       Baselines       `json:"baselines"`
	ChecklistItems  []ChecklistItem `json:"checklist_items,omitempty"`
}

// MarshalJSON emits the planned duration in whole seconds so the response
// shape matches the request DTOs, which all speak seconds.
func (s Session) MarshalJSON() ([]byte, error) {
	type alias Session
	return json.Marshal(struct {
		alias
		PlannedDurationSeconds int64 `json:"planned_duration_seconds"`
	}{
		alias:                  alias(s),
		PlannedDurationSeconds: int64(s.PlannedDuration / time.Second),
	})
}

// UnmarshalJSON accepts the same seconds-based wire shape.
func (s *Session) UnmarshalJSON(data []byte) error {
	type alias Session
	aux := struct {
		*alias
		PlannedDurationSeconds int64 `json:"planned_duration_seconds"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.PlannedDuration = time.Duration(aux.PlannedDurationSeconds) * time.Second
	return nil
}

// Ended reports whether the session has a recorded end.
func (s *Session) Ended() bool {
	return !s.IsActive && s.CompletedAt != nil && s.EndSignal != ""
}

// Elapsed returns how long the session has been running at the given instant.
// Once ended, elapsed is frozen at CompletedAt - StartAt.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.CompletedAt != nil {
		return s.CompletedAt.Sub(s.StartAt)
	}
	return now.Sub(s.StartAt)
}

// Remaining returns the time left on the planned duration, never negative.
func (s *Session) Remaining(now time.Time) time.Duration {
	remaining := s.PlannedDuration - s.Elapsed(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsExpired reports whether the planned duration has fully elapsed. Remaining
// is always recomputed from wall-clock time, so a large clock jump (process
// suspended for hours) reads as an ordinary expiry.
func (s *Session) IsExpired(now time.Time) bool {
	return s.Remaining(now) <= 0
}

// Progress returns elapsed/plannedDuration clamped to [0, 1].
func (s *Session) Progress(now time.Time) float64 {
	if s.PlannedDuration <= 0 {
		return 1
	}
	p := float64(s.Elapsed(now)) / float64(s.PlannedDuration)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// UncollectedCount returns the number of checklist items not yet collected.
func (s *Session) UncollectedCount() int {
	count := 0
	for _, item := range s.ChecklistItems {
		if !item.Collected {
			count++
		}
	}
	return count
}

// PresetInfo describes an activity preset for the catalog endpoint.
type PresetInfo struct {
	ID              Preset `json:"id"`
	DisplayName     string `json:"display_name"`
	Icon            string `json:"icon"`
	DefaultDuration int    `json:"default_duration_seconds"`
}

// DefaultPresets is the built-in catalog, used when no presets.json overrides it.
var DefaultPresets = []PresetInfo{
	{ID: PresetRide, DisplayName: "Ride", Icon: "car", DefaultDuration: 1800},
	{ID: PresetCafe, DisplayName: "Café", Icon: "cup", DefaultDuration: 3600},
	{ID: PresetClassroom, DisplayName: "Classroom", Icon: "book", DefaultDuration: 3000},
	{ID: PresetFlight, DisplayName: "Flight", Icon: "airplane", DefaultDuration: 7200},
	{ID: PresetCustom, DisplayName: "Custom", Icon: "timer", DefaultDuration: 1800},
}
