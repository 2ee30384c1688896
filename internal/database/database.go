package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New opens the SQLite session store at the given path.
func New(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time; serialize access through one
	// connection so concurrent store calls queue instead of failing with
	// SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	log.Println("✅ SQLite database connected")

	return &DB{db}, nil
}

// Initialize creates all required tables and runs schema migrations.
func (db *DB) Initialize() error {
	log.Println("🔍 Checking database schema...")

	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			preset TEXT NOT NULL,
			start_at TEXT NOT NULL,
			planned_duration_seconds INTEGER NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			completed_at TEXT,
			end_signal TEXT,
			acknowledged INTEGER NOT NULL DEFAULT 0,
			baselines TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(is_active)`,
		`CREATE TABLE IF NOT EXISTS checklist_items (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			icon TEXT,
			collected INTEGER NOT NULL DEFAULT 0,
			position INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checklist_session ON checklist_items(session_id)`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	if err := db.runMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("✅ Database initialized successfully")
	return nil
}

// runMigrations runs database migrations for schema updates.
// Uses PRAGMA table_info to check for column existence.
func (db *DB) runMigrations() error {
	columnExists := func(tableName, columnName string) (bool, error) {
		rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
		if err != nil {
			return false, err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				cid       int
				name      string
				colType   string
				notNull   int
				dfltValue sql.NullString
				pk        int
			)
			if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
				return false, err
			}
			if name == columnName {
				return true, nil
			}
		}
		return false, rows.Err()
	}

	// Migration: sessions.acknowledged (added for relaunch re-derivation of
	// pending-acknowledgement escalation state)
	if exists, _ := columnExists("sessions", "acknowledged"); !exists {
		log.Println("📦 Running migration: Adding acknowledged to sessions table")
		if _, err := db.Exec("ALTER TABLE sessions ADD COLUMN acknowledged INTEGER NOT NULL DEFAULT 0"); err != nil {
			return fmt.Errorf("failed to add acknowledged to sessions: %w", err)
		}
		log.Println("✅ Migration completed: sessions.acknowledged added")
	}

	// Migration: sessions.baselines (detection baselines captured at start)
	if exists, _ := columnExists("sessions", "baselines"); !exists {
		log.Println("📦 Running migration: Adding baselines to sessions table")
		if _, err := db.Exec("ALTER TABLE sessions ADD COLUMN baselines TEXT NOT NULL DEFAULT '{}'"); err != nil {
			return fmt.Errorf("failed to add baselines to sessions: %w", err)
		}
		log.Println("✅ Migration completed: sessions.baselines added")
	}

	return nil
}
