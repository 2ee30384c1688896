package services

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"seatcheck/internal/database"
	"seatcheck/internal/models"
)

const (
	// hapticPulseInterval drives the repeating haptic nudge after a session ends.
	hapticPulseInterval = 2 * time.Second
	// reAlertInterval spaces the escalating re-alerts.
	reAlertInterval = 10 * time.Second
	// snoozeDuration is how far out the deferred reminder lands after a snooze.
	snoozeDuration = 5 * time.Minute
)

// Acknowledgement actions a device can send for an ended session.
const (
	ActionMarkAllCollected = "mark_all_collected"
	ActionSnooze           = "snooze"
	ActionOpenScan         = "open_scan"
)

// EscalationService turns a session end into an alert sequence: an immediate
// alert, haptic pulses every two seconds, and re-alerts every ten seconds
// with escalating wording and sound tier, until the user acknowledges or the
// repeat cap is reached. At the cap it posts one persistent fallback
// notification and goes quiet.
type EscalationService struct {
	store       *database.SessionStore
	gateway     NotificationGateway
	broadcaster Broadcaster
	reminders   *ReminderScheduler
	metrics     *Metrics
	maxRepeats  int

	// Injectable for tests; production values are the constants above.
	hapticEvery  time.Duration
	reAlertEvery time.Duration

	onAcknowledged func(sessionID string)

	mu         sync.Mutex
	session    *models.Session
	running    bool
	hapticOnly bool
	stopCh     chan struct{}
	reminderID string
}

// NewEscalationService wires the alert driver. maxRepeats caps the re-alert
// sequence; zero or negative falls back to 5.
func NewEscalationService(store *database.SessionStore, gateway NotificationGateway,
	broadcaster Broadcaster, reminders *ReminderScheduler, metrics *Metrics, maxRepeats int) *EscalationService {
	if maxRepeats <= 0 {
		maxRepeats = 5
	}
	return &EscalationService{
		store:        store,
		gateway:      gateway,
		broadcaster:  broadcaster,
		reminders:    reminders,
		metrics:      metrics,
		maxRepeats:   maxRepeats,
		hapticEvery:  hapticPulseInterval,
		reAlertEvery: reAlertInterval,
	}
}

// SetOnAcknowledged registers the callback invoked once the user acknowledges
// the alerts for a session.
func (e *EscalationService) SetOnAcknowledged(fn func(sessionID string)) {
	e.onAcknowledged = fn
}

// OnSessionEnded starts the alert sequence for an ended session. A sequence
// already running for a previous session is stopped first.
func (e *EscalationService) OnSessionEnded(session *models.Session) {
	e.mu.Lock()
	if e.running {
		close(e.stopCh)
	}
	e.session = session
	e.running = true
	e.hapticOnly = false
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	log.Printf("🔔 [ESCALATION] Alert sequence started for session %s (cause: %s)",
		session.ID, session.EndSignal)
	go e.run(session, stopCh)
}

func (e *EscalationService) run(session *models.Session, stopCh chan struct{}) {
	e.deliverAlert(session, 0)

	haptic := time.NewTicker(e.hapticEvery)
	defer haptic.Stop()
	reAlert := time.NewTicker(e.reAlertEvery)
	defer reAlert.Stop()

	repeat := 0
	for {
		select {
		case <-stopCh:
			return
		case <-haptic.C:
			e.pulse(session.ID)
		case <-reAlert.C:
			repeat++
			if repeat >= e.maxRepeats {
				e.deliverFallback(session)
				return
			}
			e.deliverAlert(session, repeat)
		}
	}
}

func (e *EscalationService) pulse(sessionID string) {
	if e.broadcaster == nil {
		return
	}
	e.broadcaster.Broadcast(models.ServerMessage{Type: "haptic", SessionID: sessionID})
}

// deliverAlert sends one alert through the gateway and mirrors it over the
// websocket. A failed delivery is retried once; after the retry also fails,
// the sequence degrades to haptic pulses only.
func (e *EscalationService) deliverAlert(session *models.Session, repeat int) {
	title, body, tier := alertWording(session, repeat)

	if e.broadcaster != nil {
		e.broadcaster.Broadcast(models.ServerMessage{
			Type:      "alert",
			SessionID: session.ID,
			AlertID:   fmt.Sprintf("%s-%d", session.ID, repeat),
			Title:     title,
			Body:      body,
			SoundTier: tier,
		})
	}

	e.mu.Lock()
	skip := e.hapticOnly
	e.mu.Unlock()
	if skip {
		return
	}

	notification := Notification{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Title:     title,
		Body:      body,
		SoundTier: tier,
	}
	if err := e.gateway.Deliver(notification); err != nil {
		log.Printf("⚠️ [ESCALATION] Alert delivery failed, retrying once: %v", err)
		if err := e.gateway.Deliver(notification); err != nil {
			log.Printf("❌ [ESCALATION] Alert delivery failed twice, continuing haptic-only: %v", err)
			e.mu.Lock()
			e.hapticOnly = true
			e.mu.Unlock()
			if e.metrics != nil {
				e.metrics.RecordAlertFailure()
			}
			return
		}
	}
	if e.metrics != nil {
		e.metrics.RecordAlertDelivered(tier)
	}
}

// deliverFallback posts the single persistent notification that remains after
// the repeat cap, then ends the sequence.
func (e *EscalationService) deliverFallback(session *models.Session) {
	log.Printf("🔕 [ESCALATION] Repeat cap reached for session %s, posting persistent fallback", session.ID)
	notification := Notification{
		ID:         uuid.New().String(),
		SessionID:  session.ID,
		Title:      "Still at your seat?",
		Body:       "Your session ended a while ago. Open the app to confirm you have everything.",
		SoundTier:  SoundTierCritical,
		Persistent: true,
	}
	if err := e.gateway.Deliver(notification); err != nil {
		log.Printf("❌ [ESCALATION] Persistent fallback delivery failed: %v", err)
	}

	e.mu.Lock()
	if e.session != nil && e.session.ID == session.ID {
		e.running = false
	}
	e.mu.Unlock()
}

// alertWording escalates title, body and sound tier with the repeat count.
func alertWording(session *models.Session, repeat int) (title, body, tier string) {
	uncollected := session.UncollectedCount()

	switch {
	case repeat == 0:
		title = "Session complete"
		if uncollected > 0 {
			body = fmt.Sprintf("Your %s session has ended. %d item(s) still unchecked. Grab them before you go.",
				session.Preset, uncollected)
		} else {
			body = fmt.Sprintf("Your %s session has ended. Grab your belongings before you go.", session.Preset)
		}
		// Even the first alert cuts through ordinary notifications.
		tier = SoundTierProminent
	case repeat == 1:
		title = "Don't leave yet!"
		if uncollected > 0 {
			body = fmt.Sprintf("%d item(s) are still unchecked on your list.", uncollected)
		} else {
			body = "Double-check your seat before walking away."
		}
		tier = SoundTierCritical
	default:
		title = "⚠️ Check your seat!"
		if uncollected > 0 {
			body = fmt.Sprintf("%d item(s) may still be at your seat. Look before you leave!", uncollected)
		} else {
			body = "Something may still be at your seat. Look before you leave!"
		}
		tier = SoundTierCritical
	}
	return title, body, tier
}

// Acknowledge processes one of the alert actions. mark_all_collected and
// snooze end the alert sequence; open_scan only forwards the user to the
// scan screen and leaves the alerts running.
func (e *EscalationService) Acknowledge(sessionID, action string) error {
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()

	if session == nil || session.ID != sessionID {
		return ErrNoActiveSession
	}

	switch action {
	case ActionMarkAllCollected:
		if err := e.store.MarkAllCollected(sessionID); err != nil {
			return err
		}
		e.acknowledge(sessionID)
		log.Printf("✅ [ESCALATION] Session %s acknowledged, all items collected", sessionID)
		return nil

	case ActionSnooze:
		e.acknowledge(sessionID)
		if e.reminders != nil {
			id, err := e.reminders.ScheduleIn(snoozeDuration, func() {
				e.deliverSnoozeReminder(sessionID)
			})
			if err != nil {
				log.Printf("⚠️ [ESCALATION] Failed to schedule snooze reminder: %v", err)
			} else {
				e.mu.Lock()
				e.reminderID = id
				e.mu.Unlock()
			}
		}
		log.Printf("😴 [ESCALATION] Session %s snoozed for %s", sessionID, snoozeDuration)
		return nil

	case ActionOpenScan:
		if e.broadcaster != nil {
			e.broadcaster.Broadcast(models.ServerMessage{Type: "open_scan", SessionID: sessionID})
		}
		log.Printf("📷 [ESCALATION] Session %s: scan screen requested, alerts continue", sessionID)
		return nil

	default:
		return fmt.Errorf("unknown action: %s", action)
	}
}

// acknowledge stops the alert sequence and records the acknowledgement.
func (e *EscalationService) acknowledge(sessionID string) {
	e.mu.Lock()
	if e.running {
		close(e.stopCh)
		e.running = false
	}
	e.mu.Unlock()

	if err := e.store.SetAcknowledged(sessionID, true); err != nil {
		log.Printf("⚠️ [ESCALATION] Failed to persist acknowledgement: %v", err)
	}
	if e.onAcknowledged != nil {
		e.onAcknowledged(sessionID)
	}
}

func (e *EscalationService) deliverSnoozeReminder(sessionID string) {
	notification := Notification{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Title:     "Still have everything?",
		Body:      "Quick check: did you collect all your belongings?",
		SoundTier: SoundTierStandard,
	}
	if err := e.gateway.Deliver(notification); err != nil {
		log.Printf("⚠️ [ESCALATION] Snooze reminder delivery failed: %v", err)
		return
	}
	log.Printf("⏰ [ESCALATION] Snooze reminder delivered for session %s", sessionID)
}

// Stop ends any running alert sequence and cancels a pending snooze reminder.
func (e *EscalationService) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		close(e.stopCh)
		e.running = false
	}
	if e.reminderID != "" && e.reminders != nil {
		e.reminders.Cancel(e.reminderID)
		e.reminderID = ""
	}
}
