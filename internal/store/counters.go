package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IncrementDailyCount bumps the user's assignment counter for the given
// day and returns the new count.
func (s *Store) IncrementDailyCount(userID int64, day time.Time) (int, error) {
	dayKey := day.UTC().Format("2006-01-02")

	row := s.sql.QueryRow(`
		INSERT INTO daily_counters (user_id, day, assignments) VALUES (?, ?, 1)
		ON CONFLICT(user_id, day) DO UPDATE SET assignments = assignments + 1
		RETURNING assignments`, userID, dayKey)

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("increment daily count for %d: %w", userID, err)
	}
	return n, nil
}

// DailyCount returns the user's assignment count for the given day.
func (s *Store) DailyCount(userID int64, day time.Time) (int, error) {
	dayKey := day.UTC().Format("2006-01-02")

	row := s.sql.QueryRow(`SELECT assignments FROM daily_counters WHERE user_id = ? AND day = ?`, userID, dayKey)
	var n int
	err := row.Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query daily count for %d: %w", userID, err)
	}
	return n, nil
}

// ResetDailyCounters clears all daily counters and returns the number of
// rows removed.
func (s *Store) ResetDailyCounters() (int, error) {
	res, err := s.sql.Exec(`DELETE FROM daily_counters`)
	if err != nil {
		return 0, fmt.Errorf("reset daily counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset daily counters rows affected: %w", err)
	}
	return int(n), nil
}
