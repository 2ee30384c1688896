package models

import "time"

// SignalKind identifies one of the independent exit-signal producers.
type SignalKind string

const (
	SignalLocation  SignalKind = "location"
	SignalMotion    SignalKind = "motion"
	SignalBluetooth SignalKind = "bluetooth"
)

// AuthorizationState is the permission state of one signal source. A denied
// source degrades to permanently silent for the session; it is not an error.
type AuthorizationState string

const (
	AuthNotDetermined AuthorizationState = "not_determined"
	AuthAuthorized    AuthorizationState = "authorized"
	AuthDenied        AuthorizationState = "denied"
)

// Event is one message on the arbiter's merged queue. The set of
// implementations below is closed: every producer feeds the arbiter through
// one of these variants, and the arbiter's transition switch is exhaustive
// over them.
type Event interface {
	EventAt() time.Time
	isArbiterEvent()
}

// TickEvent is the countdown scheduler's periodic progress update.
type TickEvent struct {
	SessionID string
	Remaining time.Duration
	Progress  float64
	At        time.Time
}

// TimerExpiredEvent is the countdown scheduler's one-shot expiry.
type TimerExpiredEvent struct {
	SessionID string
	At        time.Time
}

// PossibleExitEvent is a signal source reporting that the user may be leaving.
// DeviceID is set only for bluetooth disconnects.
type PossibleExitEvent struct {
	SessionID string
	Source    SignalKind
	DeviceID  string
	At        time.Time
}

// DeviceReconnectedEvent cancels a pending bluetooth grace window when the
// same device comes back.
type DeviceReconnectedEvent struct {
	SessionID string
	DeviceID  string
	At        time.Time
}

// GraceElapsedEvent fires when a bluetooth disconnect survived the grace
// window without a matching reconnect.
type GraceElapsedEvent struct {
	SessionID string
	DeviceID  string
	At        time.Time
}

// ManualEndEvent is the user-initiated end. Done is closed once the arbiter
// has finished the transition and disarmed all producers, so the caller can
// block until no late signal can be processed.
type ManualEndEvent struct {
	SessionID string
	At        time.Time
	Done      chan struct{}
}

func (e TickEvent) EventAt() time.Time              { return e.At }
func (e TimerExpiredEvent) EventAt() time.Time      { return e.At }
func (e PossibleExitEvent) EventAt() time.Time      { return e.At }
func (e DeviceReconnectedEvent) EventAt() time.Time { return e.At }
func (e GraceElapsedEvent) EventAt() time.Time      { return e.At }
func (e ManualEndEvent) EventAt() time.Time         { return e.At }

func (TickEvent) isArbiterEvent()              {}
func (TimerExpiredEvent) isArbiterEvent()      {}
func (PossibleExitEvent) isArbiterEvent()      {}
func (DeviceReconnectedEvent) isArbiterEvent() {}
func (GraceElapsedEvent) isArbiterEvent()      {}
func (ManualEndEvent) isArbiterEvent()         {}

// LocationReading is a raw position fix pushed in from the device.
type LocationReading struct {
	SessionID string    `json:"session_id"`
	Point     GeoPoint  `json:"point"`
	At        time.Time `json:"at"`
}

// MotionReading is a raw motion-activity sample pushed in from the device.
type MotionReading struct {
	SessionID string         `json:"session_id"`
	Category  MotionCategory `json:"category"`
	At        time.Time      `json:"at"`
}

// BluetoothReading is a raw peripheral connect/disconnect event pushed in
// from the device.
type BluetoothReading struct {
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	Connected bool      `json:"connected"`
	At        time.Time `json:"at"`
}
