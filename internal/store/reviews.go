package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Review statuses.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// ReviewRecord is a pending manual verification awaiting an admin
// decision.
type ReviewRecord struct {
	ReviewID    string
	UserID      int64
	TaskID      string
	Evidence    string
	Status      string
	Reason      string
	SubmittedAt time.Time
	ResolvedAt  sql.NullTime
	ResolvedBy  sql.NullInt64
}

// CreateReview inserts a pending review. The partial unique index on
// (user_id, task_id) rejects a second open review for the same task.
func (s *Store) CreateReview(rec *ReviewRecord) error {
	_, err := s.sql.Exec(`
		INSERT INTO pending_reviews (review_id, user_id, task_id, evidence, status, submitted_at, reason)
		VALUES (?, ?, ?, ?, ?, ?, '')`,
		rec.ReviewID, rec.UserID, rec.TaskID, rec.Evidence, ReviewPending, rec.SubmittedAt.UTC())
	if err != nil {
		return fmt.Errorf("create review %s: %w", rec.ReviewID, err)
	}
	return nil
}

// OpenReview returns the pending review for (userID, taskID), or
// ErrNotFound when none is open.
func (s *Store) OpenReview(userID int64, taskID string) (*ReviewRecord, error) {
	row := s.sql.QueryRow(`
		SELECT review_id, user_id, task_id, evidence, status, reason, submitted_at, resolved_at, resolved_by
		FROM pending_reviews WHERE user_id = ? AND task_id = ? AND status = ?`,
		userID, taskID, ReviewPending)

	rec, err := scanReview(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get open review %s/%d: %w", taskID, userID, err)
	}
	return rec, nil
}

// ResolveReview marks a review approved or rejected.
func (s *Store) ResolveReview(reviewID, status, reason string, adminID int64, at time.Time) error {
	res, err := s.sql.Exec(`
		UPDATE pending_reviews SET status = ?, reason = ?, resolved_at = ?, resolved_by = ?
		WHERE review_id = ? AND status = ?`,
		status, reason, at.UTC(), adminID, reviewID, ReviewPending)
	if err != nil {
		return fmt.Errorf("resolve review %s: %w", reviewID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve review rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingReviews returns every open review, oldest first, for the admin
// queue.
func (s *Store) PendingReviews() ([]*ReviewRecord, error) {
	rows, err := s.sql.Query(`
		SELECT review_id, user_id, task_id, evidence, status, reason, submitted_at, resolved_at, resolved_by
		FROM pending_reviews WHERE status = ? ORDER BY submitted_at`, ReviewPending)
	if err != nil {
		return nil, fmt.Errorf("query pending reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ReviewRecord
	for rows.Next() {
		rec, err := scanReview(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanReview(scan func(...any) error) (*ReviewRecord, error) {
	var rec ReviewRecord
	if err := scan(&rec.ReviewID, &rec.UserID, &rec.TaskID, &rec.Evidence,
		&rec.Status, &rec.Reason, &rec.SubmittedAt, &rec.ResolvedAt, &rec.ResolvedBy); err != nil {
		return nil, err
	}
	return &rec, nil
}
