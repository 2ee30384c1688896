package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"seatcheck/internal/database"
)

// RetentionCleanupJob deletes ended sessions older than the retention window.
// Cadence comes from a cron expression so operators can pick a quiet hour.
type RetentionCleanupJob struct {
	store         *database.SessionStore
	retentionDays int
	schedule      cron.Schedule
}

// NewRetentionCleanupJob parses the cron expression and builds the job.
func NewRetentionCleanupJob(store *database.SessionStore, retentionDays int, cronExpr string) (*RetentionCleanupJob, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}

	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid retention cron expression %q: %w", cronExpr, err)
	}

	return &RetentionCleanupJob{
		store:         store,
		retentionDays: retentionDays,
		schedule:      schedule,
	}, nil
}

// Run deletes sessions whose completion is past the retention window.
func (j *RetentionCleanupJob) Run(ctx context.Context) error {
	log.Println("🧹 [RETENTION] Starting session retention cleanup...")
	startTime := time.Now()

	cutoff := time.Now().UTC().AddDate(0, 0, -j.retentionDays)
	deleted, err := j.store.DeleteEndedBefore(cutoff)
	if err != nil {
		log.Printf("❌ [RETENTION] Cleanup failed: %v", err)
		return err
	}

	log.Printf("🧹 [RETENTION] Cleanup complete: deleted %d sessions older than %d days in %v",
		deleted, j.retentionDays, time.Since(startTime))
	return nil
}

// GetNextRunTime returns the next fire time of the cron schedule.
func (j *RetentionCleanupJob) GetNextRunTime() time.Time {
	return j.schedule.Next(time.Now())
}
