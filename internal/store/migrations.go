package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/aybkose/questline/internal/logging"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: task_instances, reward_records, pending_reviews, daily_counters, completions",
		SQL:         migration001SQL,
	},
	{
		Version:     2,
		Description: "add late flag to completions",
		SQL:         migration002SQL,
	},
	{
		Version:     3,
		Description: "add reason column to pending_reviews",
		SQL:         migration003SQL,
	},
}

const migration001SQL = `
CREATE TABLE task_instances (
    user_id     INTEGER NOT NULL,
    task_id     TEXT NOT NULL,
    type_key    TEXT NOT NULL,
    params      TEXT NOT NULL DEFAULT '{}',
    progress    TEXT NOT NULL DEFAULT '{}',
    state       TEXT NOT NULL,
    created_at  DATETIME NOT NULL,
    expires_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL,
    PRIMARY KEY (user_id, task_id)
);

CREATE INDEX idx_instances_state ON task_instances(state);
CREATE INDEX idx_instances_user_type ON task_instances(user_id, type_key, state);

CREATE TABLE reward_records (
    user_id      INTEGER NOT NULL,
    task_id      TEXT NOT NULL,
    reward_kind  TEXT NOT NULL,
    reward_value TEXT NOT NULL,
    awarded_at   DATETIME NOT NULL,
    PRIMARY KEY (user_id, task_id)
);

CREATE TABLE pending_reviews (
    review_id    TEXT PRIMARY KEY,
    user_id      INTEGER NOT NULL,
    task_id      TEXT NOT NULL,
    evidence     TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'pending',
    submitted_at DATETIME NOT NULL,
    resolved_at  DATETIME,
    resolved_by  INTEGER
);

CREATE UNIQUE INDEX idx_reviews_open ON pending_reviews(user_id, task_id) WHERE status = 'pending';

CREATE TABLE daily_counters (
    user_id     INTEGER NOT NULL,
    day         DATE NOT NULL,
    assignments INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, day)
);

CREATE TABLE completions (
    user_id      INTEGER NOT NULL,
    task_id      TEXT NOT NULL,
    type_key     TEXT NOT NULL,
    completed_at DATETIME NOT NULL,
    verified_by  INTEGER,
    PRIMARY KEY (user_id, task_id)
);

CREATE INDEX idx_completions_user_type ON completions(user_id, type_key, completed_at DESC);
`

const migration002SQL = `
ALTER TABLE completions ADD COLUMN late INTEGER NOT NULL DEFAULT 0;
`

const migration003SQL = `
ALTER TABLE pending_reviews ADD COLUMN reason TEXT NOT NULL DEFAULT '';
`

// Migrate runs all pending migrations inside transactions.
func Migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", migration.Version, err)
		}

		logging.Component("store").Infof("applied migration %d: %s", migration.Version, migration.Description)
		currentVersion = migration.Version
	}

	return nil
}

// CurrentVersion returns the current schema version (0 if no migrations applied).
func CurrentVersion(db *sql.DB) (int, error) {
	if db == nil {
		return 0, errors.New("db is nil")
	}

	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}
