package services

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"seatcheck/internal/database"
	"seatcheck/internal/models"
)

type escalationFixture struct {
	escalation  *EscalationService
	store       *database.SessionStore
	gateway     *stubGateway
	broadcaster *stubBroadcaster
}

func newEscalationFixture(t *testing.T, maxRepeats int) *escalationFixture {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := database.NewSessionStore(db)
	gateway := &stubGateway{}
	broadcaster := &stubBroadcaster{}
	escalation := NewEscalationService(store, gateway, broadcaster, nil, nil, maxRepeats)
	// Quiet by default; individual tests shorten what they exercise
	escalation.hapticEvery = time.Hour
	escalation.reAlertEvery = time.Hour
	t.Cleanup(escalation.Stop)

	return &escalationFixture{
		escalation:  escalation,
		store:       store,
		gateway:     gateway,
		broadcaster: broadcaster,
	}
}

// endedSession persists a session that has already ended so acknowledgement
// writes have a row to land on.
func (f *escalationFixture) endedSession(t *testing.T, items int) *models.Session {
	t.Helper()

	session := &models.Session{
		ID:              uuid.New().String(),
		Preset:          models.PresetCafe,
		StartAt:         time.Now().Add(-time.Hour),
		PlannedDuration: 30 * time.Minute,
		IsActive:        true,
	}
	for i := 0; i < items; i++ {
		session.ChecklistItems = append(session.ChecklistItems, models.ChecklistItem{
			ID:        uuid.New().String(),
			SessionID: session.ID,
			Title:     "Item",
			Position:  i,
		})
	}
	if err := f.store.Insert(session); err != nil {
		t.Fatalf("Failed to insert session: %v", err)
	}
	endedAt := time.Now().Add(-time.Minute)
	if _, err := f.store.MarkEnded(session.ID, endedAt, models.EndSignalTimer); err != nil {
		t.Fatalf("Failed to mark session ended: %v", err)
	}
	session.IsActive = false
	session.CompletedAt = &endedAt
	session.EndSignal = models.EndSignalTimer
	return session
}

func waitForDeliveries(t *testing.T, gateway *stubGateway, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if gateway.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d deliveries (got %d)", want, gateway.count())
}

func TestAlertWordingEscalates(t *testing.T) {
	session := &models.Session{
		Preset: models.PresetRide,
		ChecklistItems: []models.ChecklistItem{
			{Title: "Laptop"},
			{Title: "Bag", Collected: true},
		},
	}

	title0, body0, tier0 := alertWording(session, 0)
	if title0 != "Session complete" || tier0 != SoundTierProminent {
		t.Errorf("Expected prominent first alert, got %q / %s", title0, tier0)
	}
	if !strings.Contains(body0, "1 item(s)") {
		t.Errorf("Expected uncollected count in body, got %q", body0)
	}

	_, _, tier1 := alertWording(session, 1)
	if tier1 != SoundTierCritical {
		t.Errorf("Expected critical tier on repeat 1, got %s", tier1)
	}

	title2, _, tier2 := alertWording(session, 2)
	if tier2 != SoundTierCritical {
		t.Errorf("Expected critical tier on repeat 2, got %s", tier2)
	}
	if title2 == title0 {
		t.Error("Expected wording to change across repeats")
	}

	// Same tier holds for every later repeat
	_, _, tier9 := alertWording(session, 9)
	if tier9 != SoundTierCritical {
		t.Errorf("Expected critical tier on repeat 9, got %s", tier9)
	}
}

func TestEscalationReAlertsUntilFallback(t *testing.T) {
	f := newEscalationFixture(t, 2)
	f.escalation.reAlertEvery = 20 * time.Millisecond
	session := f.endedSession(t, 0)

	f.escalation.OnSessionEnded(session)

	// Initial alert, repeat 1, then the persistent fallback at the cap
	waitForDeliveries(t, f.gateway, 3)

	f.gateway.mu.Lock()
	last := f.gateway.delivered[len(f.gateway.delivered)-1]
	first := f.gateway.delivered[0]
	f.gateway.mu.Unlock()

	if first.SoundTier != SoundTierProminent {
		t.Errorf("Expected prominent tier first, got %s", first.SoundTier)
	}
	if !last.Persistent || last.SoundTier != SoundTierCritical {
		t.Errorf("Expected persistent critical fallback, got %+v", last)
	}

	// Sequence is over: no further deliveries
	time.Sleep(60 * time.Millisecond)
	if got := f.gateway.count(); got != 3 {
		t.Errorf("Expected exactly 3 deliveries after fallback, got %d", got)
	}
}

func TestEscalationHapticPulses(t *testing.T) {
	f := newEscalationFixture(t, 5)
	f.escalation.hapticEvery = 10 * time.Millisecond
	session := f.endedSession(t, 0)

	f.escalation.OnSessionEnded(session)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(f.broadcaster.byType("haptic")) < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(f.broadcaster.byType("haptic")); got < 3 {
		t.Errorf("Expected at least 3 haptic pulses, got %d", got)
	}
}

func TestEscalationAcknowledgeMarkAllCollected(t *testing.T) {
	f := newEscalationFixture(t, 5)
	session := f.endedSession(t, 2)

	var acknowledged string
	f.escalation.SetOnAcknowledged(func(sessionID string) { acknowledged = sessionID })

	f.escalation.OnSessionEnded(session)
	waitForDeliveries(t, f.gateway, 1)

	if err := f.escalation.Acknowledge(session.ID, ActionMarkAllCollected); err != nil {
		t.Fatalf("Failed to acknowledge: %v", err)
	}

	stored, err := f.store.Get(session.ID)
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	if !stored.Acknowledged {
		t.Error("Expected session acknowledged")
	}
	if stored.UncollectedCount() != 0 {
		t.Errorf("Expected all items collected, got %d uncollected", stored.UncollectedCount())
	}
	if acknowledged != session.ID {
		t.Errorf("Expected acknowledgement callback for %s, got %q", session.ID, acknowledged)
	}
}

func TestEscalationSnoozeStopsAlerts(t *testing.T) {
	f := newEscalationFixture(t, 5)
	f.escalation.reAlertEvery = 20 * time.Millisecond
	session := f.endedSession(t, 0)

	f.escalation.OnSessionEnded(session)
	waitForDeliveries(t, f.gateway, 1)

	if err := f.escalation.Acknowledge(session.ID, ActionSnooze); err != nil {
		t.Fatalf("Failed to snooze: %v", err)
	}

	before := f.gateway.count()
	time.Sleep(60 * time.Millisecond)
	if got := f.gateway.count(); got != before {
		t.Errorf("Expected no deliveries after snooze, got %d more", got-before)
	}

	stored, _ := f.store.Get(session.ID)
	if !stored.Acknowledged {
		t.Error("Expected snooze to record acknowledgement")
	}
}

func TestEscalationOpenScanKeepsAlerting(t *testing.T) {
	f := newEscalationFixture(t, 5)
	f.escalation.reAlertEvery = 20 * time.Millisecond
	session := f.endedSession(t, 1)

	f.escalation.OnSessionEnded(session)
	waitForDeliveries(t, f.gateway, 1)

	if err := f.escalation.Acknowledge(session.ID, ActionOpenScan); err != nil {
		t.Fatalf("Failed to request scan: %v", err)
	}
	if len(f.broadcaster.byType("open_scan")) != 1 {
		t.Error("Expected open_scan broadcast")
	}

	// Alerts keep escalating until a real acknowledgement
	waitForDeliveries(t, f.gateway, 2)
	stored, _ := f.store.Get(session.ID)
	if stored.Acknowledged {
		t.Error("Expected open_scan not to acknowledge the session")
	}
}

func TestEscalationRejectsUnknownSessionAndAction(t *testing.T) {
	f := newEscalationFixture(t, 5)
	session := f.endedSession(t, 0)
	f.escalation.OnSessionEnded(session)
	waitForDeliveries(t, f.gateway, 1)

	if err := f.escalation.Acknowledge("other-session", ActionSnooze); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("Expected ErrNoActiveSession for unknown session, got %v", err)
	}
	if err := f.escalation.Acknowledge(session.ID, "dismiss"); err == nil {
		t.Error("Expected error for unknown action")
	}
}

func TestEscalationDegradesToHapticOnlyAfterRetry(t *testing.T) {
	f := newEscalationFixture(t, 5)
	f.gateway.err = errors.New("apns unreachable")
	f.escalation.reAlertEvery = 20 * time.Millisecond
	session := f.endedSession(t, 0)

	f.escalation.OnSessionEnded(session)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.escalation.mu.Lock()
		degraded := f.escalation.hapticOnly
		f.escalation.mu.Unlock()
		if degraded {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.escalation.mu.Lock()
	degraded := f.escalation.hapticOnly
	f.escalation.mu.Unlock()
	if !degraded {
		t.Fatal("Expected delivery failure to degrade sequence to haptic-only")
	}

	// Websocket alerts still mirror re-alerts even while haptic-only
	waitFor := time.Now().Add(time.Second)
	for time.Now().Before(waitFor) && len(f.broadcaster.byType("alert")) < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(f.broadcaster.byType("alert")); got < 2 {
		t.Errorf("Expected websocket alerts to continue, got %d", got)
	}
	if f.gateway.count() != 0 {
		t.Errorf("Expected no gateway deliveries, got %d", f.gateway.count())
	}
}
