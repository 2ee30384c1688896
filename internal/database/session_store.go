package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"seatcheck/internal/models"
)

// SessionStore is the single persistence path for sessions and their
// checklists. Every write to a session's end fields goes through MarkEnded;
// every checklist mutation goes through SetItemCollected / MarkAllCollected,
// so concurrent toggles from the UI and the escalation driver cannot lose
// updates.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a session store on top of the shared DB handle.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

// Insert persists a newly created session together with its checklist.
func (s *SessionStore) Insert(session *models.Session) error {
	baselines, err := json.Marshal(session.Baselines)
	if err != nil {
		return fmt.Errorf("failed to encode baselines: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	_, err = tx.Exec(`
		INSERT INTO sessions
		(id, preset, start_at, planned_duration_seconds, is_active, completed_at,
		 end_signal, acknowledged, baselines, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, NULL, 0, ?, ?, ?)
	`, session.ID, string(session.Preset), formatTime(session.StartAt),
		int64(session.PlannedDuration/time.Second), session.IsActive,
		string(baselines), now, now)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for _, item := range session.ChecklistItems {
		if err := insertItemTx(tx, &item); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertItemTx(tx *sql.Tx, item *models.ChecklistItem) error {
	_, err := tx.Exec(`
		INSERT INTO checklist_items (id, session_id, title, icon, collected, position)
		VALUES (?, ?, ?, ?, ?, ?)
	`, item.ID, item.SessionID, item.Title, item.Icon, item.Collected, item.Position)
	if err != nil {
		return fmt.Errorf("failed to insert checklist item: %w", err)
	}
	return nil
}

// InsertChecklistItem appends one item to a session's checklist.
func (s *SessionStore) InsertChecklistItem(item *models.ChecklistItem) error {
	_, err := s.db.Exec(`
		INSERT INTO checklist_items (id, session_id, title, icon, collected, position)
		VALUES (?, ?, ?, ?, ?, ?)
	`, item.ID, item.SessionID, item.Title, item.Icon, item.Collected, item.Position)
	if err != nil {
		return fmt.Errorf("failed to insert checklist item: %w", err)
	}
	return nil
}

// LoadActive returns the single active session, or nil when none is active.
func (s *SessionStore) LoadActive() (*models.Session, error) {
	row := s.db.QueryRow(`
		SELECT id, preset, start_at, planned_duration_seconds, is_active,
		       completed_at, end_signal, acknowledged, baselines
		FROM sessions WHERE is_active = 1 LIMIT 1
	`)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.attachChecklist(session); err != nil {
		return nil, err
	}
	return session, nil
}

// LoadUnacknowledged returns the most recently ended session whose alerts
// were never acknowledged, or nil. Used on relaunch to resume escalation.
func (s *SessionStore) LoadUnacknowledged() (*models.Session, error) {
	row := s.db.QueryRow(`
		SELECT id, preset, start_at, planned_duration_seconds, is_active,
		       completed_at, end_signal, acknowledged, baselines
		FROM sessions
		WHERE is_active = 0 AND acknowledged = 0 AND end_signal IS NOT NULL
		ORDER BY completed_at DESC LIMIT 1
	`)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.attachChecklist(session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns a session by id.
func (s *SessionStore) Get(id string) (*models.Session, error) {
	row := s.db.QueryRow(`
		SELECT id, preset, start_at, planned_duration_seconds, is_active,
		       completed_at, end_signal, acknowledged, baselines
		FROM sessions WHERE id = ?
	`, id)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found")
	}
	if err != nil {
		return nil, err
	}

	if err := s.attachChecklist(session); err != nil {
		return nil, err
	}
	return session, nil
}

// List returns sessions in reverse start order, most recent first.
func (s *SessionStore) List(limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, preset, start_at, planned_duration_seconds, is_active,
		       completed_at, end_signal, acknowledged, baselines
		FROM sessions ORDER BY start_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// The pool has a single connection; release it (close the cursor) before
	// attachChecklist queries on it, or the inner query deadlocks.
	rows.Close()

	for _, session := range sessions {
		if err := s.attachChecklist(session); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

// MarkEnded writes the end fields. The WHERE clause makes it a no-op when the
// session is already ended, so racing signals cannot overwrite the recorded
// cause. It reports whether this call performed the transition.
func (s *SessionStore) MarkEnded(id string, completedAt time.Time, cause models.EndSignal) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE sessions
		SET is_active = 0, completed_at = ?, end_signal = ?, updated_at = ?
		WHERE id = ? AND is_active = 1
	`, formatTime(completedAt), string(cause), formatTime(time.Now()), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark session ended: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UpdatePlannedDuration sets the (extended) planned duration of an active session.
func (s *SessionStore) UpdatePlannedDuration(id string, d time.Duration) error {
	result, err := s.db.Exec(`
		UPDATE sessions SET planned_duration_seconds = ?, updated_at = ?
		WHERE id = ? AND is_active = 1
	`, int64(d/time.Second), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update planned duration: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("session is not active")
	}
	return nil
}

// SetAcknowledged records that the user has acknowledged the end-of-session
// alerts. Re-derivable on relaunch together with is_active and end_signal.
func (s *SessionStore) SetAcknowledged(id string, acknowledged bool) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET acknowledged = ?, updated_at = ? WHERE id = ?
	`, acknowledged, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to set acknowledged: %w", err)
	}
	return nil
}

// SetItemCollected toggles one checklist item.
func (s *SessionStore) SetItemCollected(sessionID, itemID string, collected bool) error {
	result, err := s.db.Exec(`
		UPDATE checklist_items SET collected = ? WHERE id = ? AND session_id = ?
	`, collected, itemID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update checklist item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("checklist item not found")
	}
	return nil
}

// MarkAllCollected sets every item on the session's checklist collected.
func (s *SessionStore) MarkAllCollected(sessionID string) error {
	_, err := s.db.Exec(`
		UPDATE checklist_items SET collected = 1 WHERE session_id = ?
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark all collected: %w", err)
	}
	return nil
}

// Delete removes an ended session from history. Active sessions are never
// deleted by the service.
func (s *SessionStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM sessions WHERE id = ? AND is_active = 0`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("session not found or still active")
	}
	return nil
}

// DeleteEndedBefore removes ended sessions whose completion is older than the
// cutoff. Used by the retention cleanup job.
func (s *SessionStore) DeleteEndedBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM sessions WHERE is_active = 0 AND completed_at < ?
	`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session       models.Session
		preset        string
		startAt       string
		durationSecs  int64
		completedAt   sql.NullString
		endSignal     sql.NullString
		baselinesJSON string
	)

	err := row.Scan(&session.ID, &preset, &startAt, &durationSecs,
		&session.IsActive, &completedAt, &endSignal, &session.Acknowledged,
		&baselinesJSON)
	if err != nil {
		return nil, err
	}

	session.Preset = models.Preset(preset)
	session.PlannedDuration = time.Duration(durationSecs) * time.Second

	if session.StartAt, err = parseTime(startAt); err != nil {
		return nil, fmt.Errorf("failed to parse start_at: %w", err)
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at: %w", err)
		}
		session.CompletedAt = &t
	}
	if endSignal.Valid {
		session.EndSignal = models.EndSignal(endSignal.String)
	}
	if err := json.Unmarshal([]byte(baselinesJSON), &session.Baselines); err != nil {
		return nil, fmt.Errorf("failed to decode baselines: %w", err)
	}

	return &session, nil
}

func (s *SessionStore) attachChecklist(session *models.Session) error {
	rows, err := s.db.Query(`
		SELECT id, session_id, title, icon, collected, position
		FROM checklist_items WHERE session_id = ? ORDER BY position, id
	`, session.ID)
	if err != nil {
		return fmt.Errorf("failed to load checklist: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item models.ChecklistItem
			icon sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.SessionID, &item.Title, &icon,
			&item.Collected, &item.Position); err != nil {
			return err
		}
		item.Icon = icon.String
		session.ChecklistItems = append(session.ChecklistItems, item)
	}
	return rows.Err()
}
