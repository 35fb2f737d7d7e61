package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CompletionRecord is the history entry written when an instance reaches
// the completed state. Late marks scheduled posts accepted after their
// tolerance window.
type CompletionRecord struct {
	UserID      int64
	TaskID      string
	TypeKey     string
	CompletedAt time.Time
	Late        bool
	VerifiedBy  sql.NullInt64 // set for admin overrides
}

// RecordCompletion inserts a completion history entry. Replays of the
// same completion are ignored.
func (s *Store) RecordCompletion(rec *CompletionRecord) error {
	var verifiedBy any
	if rec.VerifiedBy.Valid {
		verifiedBy = rec.VerifiedBy.Int64
	}

	_, err := s.sql.Exec(`
		INSERT OR IGNORE INTO completions (user_id, task_id, type_key, completed_at, verified_by, late)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.TaskID, rec.TypeKey, rec.CompletedAt.UTC(), verifiedBy, rec.Late)
	if err != nil {
		return fmt.Errorf("record completion %s/%d: %w", rec.TaskID, rec.UserID, err)
	}
	return nil
}

// LastCompletion returns when the user last completed a task of the given
// type. Zero time when never.
func (s *Store) LastCompletion(userID int64, typeKey string) (time.Time, error) {
	row := s.sql.QueryRow(`
		SELECT completed_at FROM completions
		WHERE user_id = ? AND type_key = ? ORDER BY completed_at DESC LIMIT 1`,
		userID, typeKey)

	var at time.Time
	err := row.Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query last completion: %w", err)
	}
	return at, nil
}

// UserCompletions returns the user's completion history, newest first.
func (s *Store) UserCompletions(userID int64) ([]*CompletionRecord, error) {
	rows, err := s.sql.Query(`
		SELECT user_id, task_id, type_key, completed_at, verified_by, late
		FROM completions WHERE user_id = ? ORDER BY completed_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*CompletionRecord
	for rows.Next() {
		var rec CompletionRecord
		if err := rows.Scan(&rec.UserID, &rec.TaskID, &rec.TypeKey, &rec.CompletedAt, &rec.VerifiedBy, &rec.Late); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
