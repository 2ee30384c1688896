package services

import (
	"errors"
	"log"
	"sync"
	"time"

	"seatcheck/internal/models"
)

// ErrSchedulerBusy is returned by Start when a different session is already
// being driven. The caller must stop that session first.
var ErrSchedulerBusy = errors.New("countdown scheduler is already driving another session")

// EventSink is where producers push events for the arbiter's serial loop.
// Enqueue blocks until accepted; TryEnqueue drops on a full queue and is used
// for high-frequency events (ticks) that are safe to lose.
type EventSink interface {
	Enqueue(event models.Event)
	TryEnqueue(event models.Event) bool
}

// ExecutionHold is the host capability that keeps minimal execution alive
// while the countdown is running. A long-lived service process never suspends
// itself, so the production implementation is a no-op; the interface exists so
// an embedded host can plug in a real keep-alive request.
type ExecutionHold interface {
	// Begin requests a hold and returns the release function.
	Begin(reason string) (release func())
}

type noopExecutionHold struct{}

func (noopExecutionHold) Begin(string) func() { return func() {} }

// NewNoopExecutionHold returns the no-op hold used by the server process.
func NewNoopExecutionHold() ExecutionHold { return noopExecutionHold{} }

// CountdownService drives the single authoritative per-second clock of the
// active session. Remaining time is always recomputed from wall clock
// (startAt + plannedDuration), never from a decrementing counter, so
// correctness survives process suspension: the first tick after any gap
// reflects reality, and a gap past the deadline reads as an ordinary expiry.
type CountdownService struct {
	sink         EventSink
	hold         ExecutionHold
	now          func() time.Time
	tickInterval time.Duration

	mu          sync.Mutex
	sessionID   string
	startAt     time.Time
	planned     time.Duration
	paused      bool
	expired     bool
	stopCh      chan struct{}
	releaseHold func()
}

// NewCountdownService creates the countdown scheduler.
func NewCountdownService(sink EventSink, hold ExecutionHold) *CountdownService {
	return &CountdownService{
		sink:         sink,
		hold:         hold,
		now:          time.Now,
		tickInterval: time.Second,
	}
}

// Start begins driving the given session at 1 Hz. It fails with
// ErrSchedulerBusy if a different session is currently driven; re-starting the
// session already being driven recomputes from wall clock and is a no-op
// otherwise.
func (c *CountdownService) Start(session *models.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID != "" {
		if c.sessionID == session.ID {
			c.paused = false
			return nil
		}
		return ErrSchedulerBusy
	}

	c.sessionID = session.ID
	c.startAt = session.StartAt
	c.planned = session.PlannedDuration
	c.paused = false
	c.expired = false
	c.stopCh = make(chan struct{})
	c.releaseHold = c.hold.Begin("session countdown")

	log.Printf("⏰ [COUNTDOWN] Driving session %s (%s planned)", session.ID, session.PlannedDuration)

	go c.run(c.stopCh)
	return nil
}

func (c *CountdownService) run(stopCh chan struct{}) {
	// Check immediately so a session that is already past its deadline when
	// the scheduler picks it up (restart after a long suspension) expires
	// without emitting a single tick.
	c.emit()

	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.emit()
		}
	}
}

// emit computes remaining from wall clock and pushes either one tick or the
// session's single expired event.
func (c *CountdownService) emit() {
	c.mu.Lock()
	if c.sessionID == "" || c.paused {
		c.mu.Unlock()
		return
	}

	sessionID := c.sessionID
	now := c.now()
	elapsed := now.Sub(c.startAt)
	remaining := c.planned - elapsed
	if remaining < 0 {
		remaining = 0
	}

	if remaining <= 0 {
		if c.expired {
			c.mu.Unlock()
			return
		}
		c.expired = true
		c.mu.Unlock()
		c.sink.Enqueue(models.TimerExpiredEvent{SessionID: sessionID, At: now})
		return
	}

	progress := float64(elapsed) / float64(c.planned)
	if progress < 0 {
		progress = 0
	}
	c.mu.Unlock()

	c.sink.TryEnqueue(models.TickEvent{
		SessionID: sessionID,
		Remaining: remaining,
		Progress:  progress,
		At:        now,
	})
}

// Pause stops tick emission but preserves the session's start time. The clock
// keeps running in the wall-clock sense; Resume recomputes from it.
func (c *CountdownService) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume re-enables tick emission. Remaining is recomputed from wall clock on
// the next tick, not resumed from a stale counter.
func (c *CountdownService) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

// Stop unconditionally stops ticking and releases ownership of the session.
func (c *CountdownService) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID == "" {
		return
	}

	close(c.stopCh)
	c.stopCh = nil
	c.sessionID = ""
	c.paused = false
	c.expired = false
	if c.releaseHold != nil {
		c.releaseHold()
		c.releaseHold = nil
	}
}

// Extend increases the planned duration of the actively driven session. It
// never touches startAt, so elapsed time is preserved and remaining grows by
// exactly the given amount.
func (c *CountdownService) Extend(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID == "" || d <= 0 {
		return
	}
	c.planned += d
	// Extending past the deadline revives the clock; the next deadline gets
	// its own single expired event.
	if c.planned > c.now().Sub(c.startAt) {
		c.expired = false
	}
}

// Driving returns the id of the session currently owned by the scheduler, or
// the empty string.
func (c *CountdownService) Driving() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}
