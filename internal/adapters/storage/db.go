package storage

import (
	"database/sql"
	"fmt"
)

// InitDB initializes the database schema.
// PRE: db is a valid database connection
// POST: All tables are created, WAL mode enabled
func InitDB(db *sql.DB) error {
	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	// Enable foreign key enforcement
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Create tables
	schema := `
	CREATE TABLE IF NOT EXISTS subscriber (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		subscribed_at TEXT NOT NULL,
		unsubscribed_at TEXT,
		confirmed_at TEXT,
		confirm_token TEXT,
		latest_issue_sent INTEGER,
		issues_received_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS dispatch_attempt (
		subscriber_id INTEGER NOT NULL,
		issue_number INTEGER NOT NULL,
		sent_at TEXT NOT NULL,
		provider_message_id TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (subscriber_id, issue_number),
		FOREIGN KEY (subscriber_id) REFERENCES subscriber(id)
	);

	CREATE TABLE IF NOT EXISTS dispatch_run (
		id TEXT PRIMARY KEY,
		issue_number INTEGER NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		recipient_limit INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE TABLE IF NOT EXISTS dispatch_step (
		run_id TEXT NOT NULL,
		step TEXT NOT NULL,
		recipient_id INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		PRIMARY KEY (run_id, step, recipient_id),
		FOREIGN KEY (run_id) REFERENCES dispatch_run(id)
	);

	CREATE INDEX IF NOT EXISTS idx_subscriber_confirm_token ON subscriber(confirm_token);
	CREATE INDEX IF NOT EXISTS idx_dispatch_run_status ON dispatch_run(status);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}
