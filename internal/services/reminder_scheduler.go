package services

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// ReminderScheduler runs one-shot deferred jobs, currently the snooze
// reminder. Backed by gocron so deferred work survives clock adjustments and
// shares the scheduler used by the background jobs.
type ReminderScheduler struct {
	scheduler gocron.Scheduler
	mu        sync.Mutex
	jobs      map[string]gocron.Job
}

// NewReminderScheduler creates the scheduler; call Start before scheduling.
func NewReminderScheduler() (*ReminderScheduler, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &ReminderScheduler{
		scheduler: scheduler,
		jobs:      make(map[string]gocron.Job),
	}, nil
}

// Start starts the underlying scheduler.
func (r *ReminderScheduler) Start() {
	r.scheduler.Start()
	log.Println("⏰ Reminder scheduler started")
}

// ScheduleIn runs fn once after d and returns an id for cancellation.
func (r *ReminderScheduler) ScheduleIn(d time.Duration, fn func()) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New().String()
	job, err := r.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(d))),
		gocron.NewTask(func() {
			fn()
			r.mu.Lock()
			delete(r.jobs, id)
			r.mu.Unlock()
		}),
		gocron.WithName(id),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	r.jobs[id] = job
	log.Printf("📅 Reminder scheduled in %s (id: %s)", d, id)
	return id, nil
}

// Cancel removes a pending reminder. Unknown ids are a no-op.
func (r *ReminderScheduler) Cancel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return
	}
	if err := r.scheduler.RemoveJob(job.ID()); err != nil {
		log.Printf("⚠️ Failed to remove reminder %s: %v", id, err)
		return
	}
	delete(r.jobs, id)
	log.Printf("🗑️ Reminder cancelled: %s", id)
}

// Stop shuts the scheduler down, discarding pending reminders.
func (r *ReminderScheduler) Stop() {
	if err := r.scheduler.Shutdown(); err != nil {
		log.Printf("⚠️ Reminder scheduler shutdown error: %v", err)
	}
}
