package services

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"seatcheck/internal/database"
	"seatcheck/internal/models"
)

// graceWindow is how long a companion-device disconnect may be outstanding
// before it becomes a final end. A reconnect of the same device inside the
// window cancels the candidate with no visible effect.
const graceWindow = 10 * time.Second

// arbiterQueueSize bounds the merged producer queue. Ticks are droppable;
// everything else is enqueued blocking, so the bound never loses a decision.
const arbiterQueueSize = 256

// ErrSessionEnded is returned for session-level operations attempted after
// the session has ended.
var ErrSessionEnded = errors.New("session has already ended")

// ErrNoActiveSession is returned when an operation targets a session the
// arbiter is not currently driving.
var ErrNoActiveSession = errors.New("no matching active session")

// ArbiterState is the arbiter's internal lifecycle state. PendingEnd
// distinguishes ended-but-unacknowledged (escalation in progress) from the
// terminal Ended.
type ArbiterState string

const (
	StateIdle       ArbiterState = "idle"
	StateActive     ArbiterState = "active"
	StatePendingEnd ArbiterState = "pending_end"
	StateEnded      ArbiterState = "ended"
)

// StartSessionRequest carries everything needed to arm the machine for a new
// session.
type StartSessionRequest struct {
	Preset         models.Preset
	Duration       time.Duration
	Checklist      []models.ChecklistItem
	Baselines      models.Baselines
	Authorizations map[models.SignalKind]models.AuthorizationState
}

// Arbiter is the single-writer state machine that reconciles competing end
// signals into one authoritative outcome. All producers (countdown scheduler,
// signal sources, the grace timer) push events onto one merged queue; a
// single goroutine evaluates transitions, so simultaneous signals can never
// both write the end fields. Events queued in the same processing tick are
// arbitrated by signal priority; across ticks, arrival order governs.
type Arbiter struct {
	store *database.SessionStore
	queue chan models.Event
	now   func() time.Time

	countdown   *CountdownService
	sources     []SignalSource
	escalation  *EscalationService
	broadcaster Broadcaster
	metrics     *Metrics

	mu          sync.Mutex
	state       ArbiterState
	session     *models.Session
	gracePeriod time.Duration
	gracePend   bool
	graceDevice string
	graceTimer  *time.Timer

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewArbiter creates the arbiter around the session store. Producers and the
// escalation driver are attached with Bind before Start.
func NewArbiter(store *database.SessionStore) *Arbiter {
	return &Arbiter{
		store:       store,
		queue:       make(chan models.Event, arbiterQueueSize),
		now:         time.Now,
		state:       StateIdle,
		gracePeriod: graceWindow,
	}
}

// Bind attaches the collaborators the arbiter drives. Separate from the
// constructor because the producers need the arbiter as their event sink.
func (a *Arbiter) Bind(countdown *CountdownService, sources []SignalSource,
	escalation *EscalationService, broadcaster Broadcaster, metrics *Metrics) {
	a.countdown = countdown
	a.sources = sources
	a.escalation = escalation
	a.broadcaster = broadcaster
	a.metrics = metrics
}

// Enqueue pushes an event onto the merged queue, blocking until accepted.
func (a *Arbiter) Enqueue(event models.Event) {
	a.queue <- event
}

// TryEnqueue pushes an event without blocking; droppable events (ticks) use
// this so a slow consumer never stalls a producer.
func (a *Arbiter) TryEnqueue(event models.Event) bool {
	select {
	case a.queue <- event:
		return true
	default:
		return false
	}
}

// Start launches the serial event loop.
func (a *Arbiter) Start() {
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.loop()
	log.Println("⚖️  [ARBITER] Event loop started")
}

// Stop terminates the event loop and disarms everything.
func (a *Arbiter) Stop() {
	close(a.stopCh)
	<-a.doneCh

	a.mu.Lock()
	a.cancelGraceLocked()
	a.mu.Unlock()
	a.countdown.Stop()
	for _, source := range a.sources {
		source.Disarm()
	}
	log.Println("⚖️  [ARBITER] Stopped")
}

func (a *Arbiter) loop() {
	defer close(a.doneCh)
	for {
		select {
		case <-a.stopCh:
			return
		case event := <-a.queue:
			batch := []models.Event{event}
		drain:
			// Everything already queued belongs to the same processing tick;
			// the priority rule arbitrates inside the batch.
			for {
				select {
				case next := <-a.queue:
					batch = append(batch, next)
				default:
					break drain
				}
			}
			a.process(batch)
		}
	}
}

type endCandidate struct {
	cause models.EndSignal
	at    time.Time
}

// process evaluates one batch of events under the state lock. Non-terminal
// events (ticks, reconnects, grace starts) apply their state effects in
// arrival order; terminal candidates are collected and the highest-priority
// one wins.
func (a *Arbiter) process(batch []models.Event) {
	a.mu.Lock()

	var best *endCandidate
	var manualDones []chan struct{}

	consider := func(cause models.EndSignal, at time.Time) {
		if best == nil || cause.Priority() > best.cause.Priority() {
			best = &endCandidate{cause: cause, at: at}
		}
	}

	for _, event := range batch {
		if manual, ok := event.(models.ManualEndEvent); ok && manual.Done != nil {
			manualDones = append(manualDones, manual.Done)
		}
		if a.session == nil || a.state != StateActive {
			continue
		}

		switch e := event.(type) {
		case models.TickEvent:
			if e.SessionID == a.session.ID {
				a.broadcastTickLocked(e)
			}
		case models.TimerExpiredEvent:
			// An expiry enqueued before an extend is stale. Remaining is
			// recomputed from the live session, never trusted from the event.
			if e.SessionID == a.session.ID && a.session.IsExpired(a.now()) {
				consider(models.EndSignalTimer, e.At)
			} else if e.SessionID == a.session.ID {
				log.Printf("⚖️  [ARBITER] Ignoring stale timer expiry for session %s (%s remaining)",
					e.SessionID, a.session.Remaining(a.now()))
			}
		case models.PossibleExitEvent:
			if e.SessionID != a.session.ID {
				continue
			}
			if a.metrics != nil {
				a.metrics.RecordSignalEvent(string(e.Source))
			}
			switch e.Source {
			case models.SignalLocation:
				consider(models.EndSignalLocation, e.At)
			case models.SignalMotion:
				consider(models.EndSignalMotion, e.At)
			case models.SignalBluetooth:
				a.startGraceLocked(e)
			}
		case models.DeviceReconnectedEvent:
			if e.SessionID == a.session.ID && a.gracePend && a.graceDevice == e.DeviceID {
				log.Printf("⚖️  [ARBITER] Device %s reconnected within grace window, candidate end cancelled", e.DeviceID)
				a.cancelGraceLocked()
			}
		case models.GraceElapsedEvent:
			if e.SessionID == a.session.ID && a.gracePend && a.graceDevice == e.DeviceID {
				a.gracePend = false
				consider(models.EndSignalBluetooth, e.At)
			}
		case models.ManualEndEvent:
			if e.SessionID == a.session.ID {
				consider(models.EndSignalManual, e.At)
			}
		}
	}

	if best != nil {
		a.endSessionLocked(best.cause, best.at)
	}
	a.mu.Unlock()

	for _, done := range manualDones {
		close(done)
	}
}

// startGraceLocked begins the bluetooth grace window. Only one candidate is
// outstanding at a time; further disconnects while one is pending change
// nothing (the session is ending unless that first device returns).
func (a *Arbiter) startGraceLocked(e models.PossibleExitEvent) {
	if a.gracePend {
		return
	}
	a.gracePend = true
	a.graceDevice = e.DeviceID

	sessionID := a.session.ID
	deviceID := e.DeviceID
	log.Printf("⚖️  [ARBITER] Grace window started for device %s (%s)", deviceID, a.gracePeriod)

	a.graceTimer = time.AfterFunc(a.gracePeriod, func() {
		// Delivered through the queue so cancellation and elapse are decided
		// by the same serial loop: no race between reconnect and expiry.
		a.Enqueue(models.GraceElapsedEvent{
			SessionID: sessionID,
			DeviceID:  deviceID,
			At:        a.now(),
		})
	})
}

func (a *Arbiter) cancelGraceLocked() {
	if a.graceTimer != nil {
		a.graceTimer.Stop()
		a.graceTimer = nil
	}
	a.gracePend = false
	a.graceDevice = ""
}

// endSessionLocked performs the one-and-only end transition. The store's
// conditional update is the final arbiter of write-once: if the row was
// already ended, this call is a silent no-op.
func (a *Arbiter) endSessionLocked(cause models.EndSignal, at time.Time) {
	if a.session == nil || a.state != StateActive {
		return
	}

	performed, err := a.store.MarkEnded(a.session.ID, at, cause)
	if err != nil {
		log.Printf("❌ [ARBITER] Failed to persist session end: %v", err)
		return
	}
	if !performed {
		return
	}

	completedAt := at
	a.session.IsActive = false
	a.session.CompletedAt = &completedAt
	a.session.EndSignal = cause
	a.state = StatePendingEnd

	a.countdown.Stop()
	for _, source := range a.sources {
		source.Disarm()
	}
	a.cancelGraceLocked()

	if a.metrics != nil {
		a.metrics.RecordSessionEnded(string(cause))
	}
	if a.broadcaster != nil {
		a.broadcaster.Broadcast(models.ServerMessage{
			Type:      "session_ended",
			SessionID: a.session.ID,
			EndSignal: cause,
		})
	}

	log.Printf("🏁 [ARBITER] Session %s ended (cause: %s, elapsed: %s)",
		a.session.ID, cause, a.session.Elapsed(at))

	snapshot := a.snapshotLocked()
	go a.escalation.OnSessionEnded(snapshot)
}

func (a *Arbiter) broadcastTickLocked(e models.TickEvent) {
	if a.broadcaster == nil {
		return
	}
	a.broadcaster.Broadcast(models.ServerMessage{
		Type:      "tick",
		SessionID: e.SessionID,
		Remaining: e.Remaining.Seconds(),
		Progress:  e.Progress,
	})
}

func (a *Arbiter) snapshotLocked() *models.Session {
	snapshot := *a.session
	snapshot.ChecklistItems = append([]models.ChecklistItem(nil), a.session.ChecklistItems...)
	return &snapshot
}

// StartSession creates, persists and arms a new session. Rejected with
// ErrSchedulerBusy while another session is being driven; the caller must end
// that one first.
func (a *Arbiter) StartSession(req StartSessionRequest) (*models.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateActive {
		return nil, ErrSchedulerBusy
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("planned duration must be positive")
	}

	session := &models.Session{
		ID:              uuid.New().String(),
		Preset:          req.Preset,
		StartAt:         a.now(),
		PlannedDuration: req.Duration,
		IsActive:        true,
		Baselines:       req.Baselines,
	}
	for i, item := range req.Checklist {
		session.ChecklistItems = append(session.ChecklistItems, models.ChecklistItem{
			ID:        uuid.New().String(),
			SessionID: session.ID,
			Title:     item.Title,
			Icon:      item.Icon,
			Position:  i,
		})
	}

	if err := a.store.Insert(session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	for _, source := range a.sources {
		if state, ok := req.Authorizations[source.Kind()]; ok {
			source.SetAuthorization(state)
		}
	}

	if err := a.countdown.Start(session); err != nil {
		return nil, err
	}
	for _, source := range a.sources {
		source.Arm(session)
	}

	a.session = session
	a.state = StateActive
	if a.metrics != nil {
		a.metrics.RecordSessionStarted(string(session.Preset))
	}

	log.Printf("▶️  [ARBITER] Session %s started (preset: %s, duration: %s, %d checklist items)",
		session.ID, session.Preset, session.PlannedDuration, len(session.ChecklistItems))

	return a.snapshotLocked(), nil
}

// EndNow is the user-initiated end. It pre-empts every other signal and does
// not return until the transition has been evaluated and all producers
// disarmed, so no late signal can be processed after the caller observes the
// session as ended. Ending an already-ended session is a no-op.
func (a *Arbiter) EndNow(sessionID string) error {
	a.mu.Lock()
	if a.session == nil || a.session.ID != sessionID || a.state != StateActive {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	done := make(chan struct{})
	a.Enqueue(models.ManualEndEvent{SessionID: sessionID, At: a.now(), Done: done})
	<-done
	return nil
}

// Extend increases the planned duration of the active session. Only increases
// are possible, and only while the session is active.
func (a *Arbiter) Extend(sessionID string, d time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if d <= 0 {
		return fmt.Errorf("extension must be positive")
	}
	if a.session != nil && a.session.ID == sessionID && a.state != StateActive {
		return ErrSessionEnded
	}
	if a.session == nil || a.session.ID != sessionID || a.state != StateActive {
		return ErrNoActiveSession
	}

	a.session.PlannedDuration += d
	if err := a.store.UpdatePlannedDuration(sessionID, a.session.PlannedDuration); err != nil {
		a.session.PlannedDuration -= d
		return err
	}
	a.countdown.Extend(d)

	log.Printf("⏩ [ARBITER] Session %s extended by %s (planned: %s)", sessionID, d, a.session.PlannedDuration)
	return nil
}

// Pause suspends tick emission for the active session.
func (a *Arbiter) Pause(sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil || a.session.ID != sessionID || a.state != StateActive {
		return ErrNoActiveSession
	}
	a.countdown.Pause()
	return nil
}

// Resume re-enables tick emission, recomputing remaining from wall clock.
func (a *Arbiter) Resume(sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil || a.session.ID != sessionID || a.state != StateActive {
		return ErrNoActiveSession
	}
	a.countdown.Resume()
	return nil
}

// OnAcknowledged moves the machine from PendingEnd to the terminal Ended
// state once the user has acknowledged the end-of-session alerts.
func (a *Arbiter) OnAcknowledged(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil && a.session.ID == sessionID && a.state == StatePendingEnd {
		a.session.Acknowledged = true
		a.state = StateEnded
	}
}

// ActiveSession returns a snapshot of the session currently driven, or nil.
func (a *Arbiter) ActiveSession() *models.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil || a.state != StateActive {
		return nil
	}
	return a.snapshotLocked()
}

// State returns the arbiter's current lifecycle state.
func (a *Arbiter) State() ArbiterState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SweepExpiry is the background safety net for wall-clock expiry: if the
// active session's deadline has passed (a suspended process misses ticker
// fires), it queues the timer-expired transition directly.
func (a *Arbiter) SweepExpiry() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil || a.state != StateActive {
		return
	}
	now := a.now()
	if a.session.IsExpired(now) {
		a.TryEnqueue(models.TimerExpiredEvent{SessionID: a.session.ID, At: now})
	}
}

// Recover rebuilds arbiter state from the store after a restart. An active
// session whose deadline already passed transitions straight to
// Ended(cause=Timer) without re-arming a timer that would fire instantly; an
// ended-but-unacknowledged session resumes escalation.
func (a *Arbiter) Recover() error {
	active, err := a.store.LoadActive()
	if err != nil {
		return fmt.Errorf("failed to load active session: %w", err)
	}

	if active != nil {
		a.mu.Lock()
		a.session = active
		a.state = StateActive
		now := a.now()

		if active.IsExpired(now) {
			log.Printf("🔁 [ARBITER] Recovered session %s already expired, ending with cause timer", active.ID)
			a.endSessionLocked(models.EndSignalTimer, now)
			a.mu.Unlock()
			return nil
		}

		log.Printf("🔁 [ARBITER] Recovered active session %s (%s remaining)", active.ID, active.Remaining(now))
		if err := a.countdown.Start(active); err != nil {
			a.mu.Unlock()
			return err
		}
		// Authorization is not persisted; sources stay silent until the
		// device re-reports its permission states.
		for _, source := range a.sources {
			source.Arm(active)
		}
		a.mu.Unlock()
		return nil
	}

	pending, err := a.store.LoadUnacknowledged()
	if err != nil {
		return fmt.Errorf("failed to load unacknowledged session: %w", err)
	}
	if pending != nil {
		a.mu.Lock()
		a.session = pending
		a.state = StatePendingEnd
		snapshot := a.snapshotLocked()
		a.mu.Unlock()

		log.Printf("🔁 [ARBITER] Resuming escalation for unacknowledged session %s", pending.ID)
		go a.escalation.OnSessionEnded(snapshot)
	}
	return nil
}
