package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Instance states as persisted. Terminal states are completed, expired,
// and cancelled; active and pending_review instances are reloaded on
// restart.
const (
	StateActive        = "active"
	StatePendingReview = "pending_review"
	StateCompleted     = "completed"
	StateExpired       = "expired"
	StateCancelled     = "cancelled"
)

// InstanceRecord is the persisted shape of a task instance. Params and
// Progress are JSON documents; together with TypeKey they are sufficient
// to rebuild the plugin object on restart.
type InstanceRecord struct {
	UserID    int64
	TaskID    string
	TypeKey   string
	Params    []byte
	Progress  []byte
	State     string
	CreatedAt time.Time
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// IsTerminal reports whether the record is in a terminal state.
func (r *InstanceRecord) IsTerminal() bool {
	switch r.State {
	case StateCompleted, StateExpired, StateCancelled:
		return true
	}
	return false
}

// UpsertInstance atomically inserts or replaces a task instance record.
func (s *Store) UpsertInstance(rec *InstanceRecord) error {
	params := rec.Params
	if len(params) == 0 {
		params = []byte("{}")
	}
	progress := rec.Progress
	if len(progress) == 0 {
		progress = []byte("{}")
	}

	_, err := s.sql.Exec(`
		INSERT INTO task_instances (user_id, task_id, type_key, params, progress, state, created_at, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, task_id) DO UPDATE SET
			progress   = excluded.progress,
			state      = excluded.state,
			updated_at = excluded.updated_at`,
		rec.UserID, rec.TaskID, rec.TypeKey, string(params), string(progress),
		rec.State, rec.CreatedAt.UTC(), rec.ExpiresAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert instance %s/%d: %w", rec.TaskID, rec.UserID, err)
	}
	return nil
}

// TerminalTransition moves a live instance into a terminal state and
// saves its final progress. The WHERE clause excludes terminal states, so
// concurrent terminal writers resolve at the storage layer: exactly one
// observes true, the loser's stale write never lands.
func (s *Store) TerminalTransition(userID int64, taskID, state string, progress []byte) (bool, error) {
	if len(progress) == 0 {
		progress = []byte("{}")
	}

	res, err := s.sql.Exec(`
		UPDATE task_instances
		SET state = ?, progress = ?, updated_at = ?
		WHERE user_id = ? AND task_id = ? AND state NOT IN (?, ?, ?)`,
		state, string(progress), time.Now().UTC(),
		userID, taskID, StateCompleted, StateExpired, StateCancelled)
	if err != nil {
		return false, fmt.Errorf("transition instance %s/%d to %s: %w", taskID, userID, state, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	return n > 0, nil
}

// GetInstance returns the record for (userID, taskID), or ErrNotFound.
func (s *Store) GetInstance(userID int64, taskID string) (*InstanceRecord, error) {
	row := s.sql.QueryRow(`
		SELECT user_id, task_id, type_key, params, progress, state, created_at, expires_at, updated_at
		FROM task_instances WHERE user_id = ? AND task_id = ?`, userID, taskID)

	rec, err := scanInstance(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance %s/%d: %w", taskID, userID, err)
	}
	return rec, nil
}

// HasActiveOfType reports whether the user already has a non-terminal
// instance of the given type. Backs the one-active-instance-per-type
// invariant.
func (s *Store) HasActiveOfType(userID int64, typeKey string) (bool, error) {
	row := s.sql.QueryRow(`
		SELECT COUNT(*) FROM task_instances
		WHERE user_id = ? AND type_key = ? AND state IN (?, ?)`,
		userID, typeKey, StateActive, StatePendingReview)

	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("query active of type %s: %w", typeKey, err)
	}
	return n > 0, nil
}

// NonTerminalInstances returns every active or pending-review instance,
// for listener recovery on restart.
func (s *Store) NonTerminalInstances() ([]*InstanceRecord, error) {
	rows, err := s.sql.Query(`
		SELECT user_id, task_id, type_key, params, progress, state, created_at, expires_at, updated_at
		FROM task_instances WHERE state IN (?, ?) ORDER BY created_at`,
		StateActive, StatePendingReview)
	if err != nil {
		return nil, fmt.Errorf("query non-terminal instances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectInstances(rows)
}

// UserInstances returns the user's instances, optionally filtered by state.
func (s *Store) UserInstances(userID int64, state string) ([]*InstanceRecord, error) {
	query := `
		SELECT user_id, task_id, type_key, params, progress, state, created_at, expires_at, updated_at
		FROM task_instances WHERE user_id = ?`
	args := []any{userID}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.sql.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query user instances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectInstances(rows)
}

func collectInstances(rows *sql.Rows) ([]*InstanceRecord, error) {
	var out []*InstanceRecord
	for rows.Next() {
		rec, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanInstance(scan func(...any) error) (*InstanceRecord, error) {
	var rec InstanceRecord
	var params, progress string
	if err := scan(&rec.UserID, &rec.TaskID, &rec.TypeKey, &params, &progress,
		&rec.State, &rec.CreatedAt, &rec.ExpiresAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Params = []byte(params)
	rec.Progress = []byte(progress)
	return &rec, nil
}
