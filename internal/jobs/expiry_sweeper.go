package jobs

import (
	"context"
	"time"

	"seatcheck/internal/services"
)

// ExpirySweeperJob is the wall-clock safety net for countdown expiry. If the
// process was suspended and the 1Hz ticker never fired, the sweep notices the
// passed deadline and triggers the timer end-transition.
type ExpirySweeperJob struct {
	arbiter  *services.Arbiter
	interval time.Duration
	lastRun  time.Time
}

// NewExpirySweeperJob creates the sweeper. Zero interval defaults to 30s.
func NewExpirySweeperJob(arbiter *services.Arbiter, interval time.Duration) *ExpirySweeperJob {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExpirySweeperJob{
		arbiter:  arbiter,
		interval: interval,
	}
}

// Run performs one sweep.
func (j *ExpirySweeperJob) Run(ctx context.Context) error {
	j.lastRun = time.Now()
	j.arbiter.SweepExpiry()
	return nil
}

// GetNextRunTime returns when this job should next execute.
func (j *ExpirySweeperJob) GetNextRunTime() time.Time {
	if j.lastRun.IsZero() {
		// First run: shortly after startup, once recovery has settled
		return time.Now().Add(10 * time.Second)
	}
	return j.lastRun.Add(j.interval)
}
