package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEndSignalPriority(t *testing.T) {
	ordered := []EndSignal{EndSignalBluetooth, EndSignalMotion, EndSignalLocation, EndSignalTimer, EndSignalManual}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Priority() <= ordered[i-1].Priority() {
			t.Errorf("Expected %s to outrank %s", ordered[i], ordered[i-1])
		}
	}

	if EndSignal("gps").Valid() {
		t.Error("Unknown signal should not be valid")
	}
	if !EndSignalManual.Valid() {
		t.Error("manual should be valid")
	}
}

func TestSessionElapsedFrozenAfterEnd(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	completed := start.Add(10 * time.Minute)
	session := &Session{
		StartAt:         start,
		PlannedDuration: 30 * time.Minute,
		CompletedAt:     &completed,
		EndSignal:       EndSignalManual,
	}

	// Elapsed must not keep growing after the end
	later := completed.Add(2 * time.Hour)
	if got := session.Elapsed(later); got != 10*time.Minute {
		t.Errorf("Expected elapsed 10m, got %v", got)
	}
	if got := session.Remaining(later); got != 20*time.Minute {
		t.Errorf("Expected remaining 20m, got %v", got)
	}
}

func TestSessionRemainingNeverNegative(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := &Session{
		StartAt:         start,
		PlannedDuration: 5 * time.Minute,
		IsActive:        true,
	}

	now := start.Add(3 * time.Hour)
	if got := session.Remaining(now); got != 0 {
		t.Errorf("Expected remaining 0, got %v", got)
	}
	if !session.IsExpired(now) {
		t.Error("Expected session to be expired")
	}
}

func TestSessionProgressClamped(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := &Session{
		StartAt:         start,
		PlannedDuration: 10 * time.Minute,
		IsActive:        true,
	}

	if got := session.Progress(start.Add(5 * time.Minute)); got != 0.5 {
		t.Errorf("Expected progress 0.5, got %f", got)
	}
	if got := session.Progress(start.Add(1 * time.Hour)); got != 1 {
		t.Errorf("Expected progress clamped to 1, got %f", got)
	}
	if got := session.Progress(start.Add(-1 * time.Minute)); got != 0 {
		t.Errorf("Expected progress clamped to 0, got %f", got)
	}

	zero := &Session{PlannedDuration: 0}
	if got := zero.Progress(start); got != 1 {
		t.Errorf("Expected progress 1 for zero duration, got %f", got)
	}
}

func TestSessionEnded(t *testing.T) {
	session := &Session{IsActive: true}
	if session.Ended() {
		t.Error("Active session should not be ended")
	}

	completed := time.Now()
	session.IsActive = false
	session.CompletedAt = &completed
	session.EndSignal = EndSignalTimer
	if !session.Ended() {
		t.Error("Expected session to be ended")
	}
}

func TestSessionJSONSpeaksSeconds(t *testing.T) {
	session := Session{
		ID:              "s1",
		Preset:          PresetCafe,
		StartAt:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		PlannedDuration: 25 * time.Minute,
		IsActive:        true,
	}

	raw, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("Failed to marshal session: %v", err)
	}
	encoded := string(raw)
	if !strings.Contains(encoded, `"planned_duration_seconds":1500`) {
		t.Errorf("Expected planned_duration_seconds in seconds, got %s", encoded)
	}
	if strings.Contains(encoded, `"planned_duration"`) {
		t.Errorf("Expected no nanosecond duration field, got %s", encoded)
	}

	var decoded Session
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal session: %v", err)
	}
	if decoded.PlannedDuration != 25*time.Minute {
		t.Errorf("Expected planned duration 25m after round trip, got %v", decoded.PlannedDuration)
	}
}

func TestUncollectedCount(t *testing.T) {
	session := &Session{
		ChecklistItems: []ChecklistItem{
			{Title: "Laptop", Collected: true},
			{Title: "Charger"},
			{Title: "Headphones"},
		},
	}
	if got := session.UncollectedCount(); got != 2 {
		t.Errorf("Expected 2 uncollected, got %d", got)
	}
}
