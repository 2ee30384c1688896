package models

// CreateSessionRequest starts a new session.
type CreateSessionRequest struct {
	Preset          string                   `json:"preset"`
	DurationSeconds int                      `json:"duration_seconds"`
	Checklist       []ChecklistItemRequest   `json:"checklist"`
	Baselines       Baselines                `json:"baselines"`
	Authorizations  map[string]string        `json:"authorizations"`
}

// ChecklistItemRequest is one belonging on the session checklist.
type ChecklistItemRequest struct {
	Title string `json:"title"`
	Icon  string `json:"icon"`
}

// ExtendSessionRequest adds time to the active session.
type ExtendSessionRequest struct {
	AdditionalSeconds int `json:"additional_seconds"`
}

// CollectItemRequest toggles one checklist item.
type CollectItemRequest struct {
	Collected bool `json:"collected"`
}

// ActionRequest is a notification action callback. DurationSeconds is only
// meaningful for the extend action.
type ActionRequest struct {
	SessionID       string `json:"session_id"`
	Action          string `json:"action"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

// AuthorizationRequest reports a signal source's permission state.
type AuthorizationRequest struct {
	Source string `json:"source"`
	State  string `json:"state"`
}

// ScanItemsRequest appends detected belongings from the scan screen.
type ScanItemsRequest struct {
	SessionID string                 `json:"session_id"`
	Items     []ChecklistItemRequest `json:"items"`
}

// PairRequest exchanges the pairing code for a device token.
type PairRequest struct {
	PairingCode string `json:"pairing_code"`
	DeviceName  string `json:"device_name"`
}
