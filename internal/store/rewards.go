package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RewardRecord is the append-only proof that a reward was issued for a
// task instance. At most one row per (user_id, task_id) can ever exist.
type RewardRecord struct {
	UserID      int64
	TaskID      string
	RewardKind  string
	RewardValue string
	AwardedAt   time.Time
}

// InsertReward records a reward grant. Returns false when a record for
// (userID, taskID) already exists; the primary key makes the exactly-once
// invariant hold at the storage layer.
func (s *Store) InsertReward(rec *RewardRecord) (bool, error) {
	res, err := s.sql.Exec(`
		INSERT OR IGNORE INTO reward_records (user_id, task_id, reward_kind, reward_value, awarded_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.UserID, rec.TaskID, rec.RewardKind, rec.RewardValue, rec.AwardedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert reward %s/%d: %w", rec.TaskID, rec.UserID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert reward rows affected: %w", err)
	}
	return n > 0, nil
}

// RewardExists reports whether a reward was already issued for the task.
func (s *Store) RewardExists(userID int64, taskID string) (bool, error) {
	row := s.sql.QueryRow(`SELECT COUNT(*) FROM reward_records WHERE user_id = ? AND task_id = ?`, userID, taskID)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("query reward exists: %w", err)
	}
	return n > 0, nil
}

// GetReward returns the reward record for (userID, taskID), or ErrNotFound.
func (s *Store) GetReward(userID int64, taskID string) (*RewardRecord, error) {
	row := s.sql.QueryRow(`
		SELECT user_id, task_id, reward_kind, reward_value, awarded_at
		FROM reward_records WHERE user_id = ? AND task_id = ?`, userID, taskID)

	var rec RewardRecord
	err := row.Scan(&rec.UserID, &rec.TaskID, &rec.RewardKind, &rec.RewardValue, &rec.AwardedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reward %s/%d: %w", taskID, userID, err)
	}
	return &rec, nil
}

// UserRewards returns all rewards issued to a user, newest first.
func (s *Store) UserRewards(userID int64) ([]*RewardRecord, error) {
	rows, err := s.sql.Query(`
		SELECT user_id, task_id, reward_kind, reward_value, awarded_at
		FROM reward_records WHERE user_id = ? ORDER BY awarded_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user rewards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*RewardRecord
	for rows.Next() {
		var rec RewardRecord
		if err := rows.Scan(&rec.UserID, &rec.TaskID, &rec.RewardKind, &rec.RewardValue, &rec.AwardedAt); err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
