package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aybkose/questline/internal/store"
	"github.com/aybkose/questline/internal/task"
)

// Assign creates a new instance of the given type for a user, builds its
// verification strategy, and starts listening. Returns the instance.
func (e *Engine) Assign(userID int64, key task.TypeKey, params task.Params) (*task.Instance, error) {
	cfg := e.config()

	def, err := task.GetDefinition(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, key)
	}
	if !cfg.IsTaskEnabled(string(key)) {
		return nil, fmt.Errorf("%w: %s is disabled", ErrDefinitionNotFound, key)
	}

	conflict, err := e.st.HasActiveOfType(userID, string(key))
	if err != nil {
		return nil, fmt.Errorf("check active of type: %w", err)
	}
	if conflict {
		return nil, fmt.Errorf("%w: user %d already has a live %s task", ErrConflictingAssignment, userID, key)
	}

	now := e.now()

	if cooldown := e.cooldownFor(def, cfg.TaskCooldown(string(key))); cooldown > 0 {
		last, err := e.st.LastCompletion(userID, string(key))
		if err != nil {
			return nil, fmt.Errorf("check cooldown: %w", err)
		}
		if !last.IsZero() && now.Sub(last) < cooldown {
			ready := last.Add(cooldown)
			return nil, fmt.Errorf("%w: %s on cooldown until %s", ErrConflictingAssignment, key, ready.Format(time.RFC3339))
		}
	}

	if limit := cfg.Engine.DailyLimit; limit > 0 {
		count, err := e.st.DailyCount(userID, now)
		if err != nil {
			return nil, fmt.Errorf("check daily limit: %w", err)
		}
		if count >= limit {
			return nil, fmt.Errorf("%w: %d of %d used today", ErrDailyLimit, count, limit)
		}
	}

	duration := def.DefaultDuration
	if override := cfg.TaskDuration(string(key)); override > 0 {
		duration = override
	}
	// A "duration" param overrides both, per assignment.
	if d := params.Seconds("duration"); d > 0 {
		duration = d
	}

	inst := &task.Instance{
		UserID:    userID,
		TaskID:    uuid.NewString(),
		Type:      key,
		Params:    params,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
		State:     task.StateActive,
	}

	t, err := def.New(inst)
	if err != nil {
		return nil, fmt.Errorf("build %s task: %w", key, err)
	}

	if err := e.st.UpsertInstance(recordFromInstance(inst, t.Progress())); err != nil {
		return nil, fmt.Errorf("persist assignment: %w", err)
	}
	if _, err := e.st.IncrementDailyCount(userID, now); err != nil {
		return nil, fmt.Errorf("count assignment: %w", err)
	}

	if err := t.StartListening(e); err != nil {
		return nil, fmt.Errorf("start listening: %w", err)
	}
	e.addLive(t)

	e.logger.InfoCtx("task assigned", map[string]any{
		"user":    userID,
		"task":    inst.TaskID,
		"type":    string(key),
		"expires": inst.ExpiresAt.Format(time.RFC3339),
	})
	e.hub.emit(Event{Kind: EventAssigned, UserID: userID, TaskID: inst.TaskID, Type: key, At: now})
	e.notify(userID, fmt.Sprintf("New task: %s. %s", def.Title, def.Description))

	return inst, nil
}

func (e *Engine) cooldownFor(def task.Definition, override time.Duration) time.Duration {
	if override >= 0 {
		return override
	}
	return def.Cooldown
}

// UserTasks returns a user's instances, newest first, optionally filtered
// by state.
func (e *Engine) UserTasks(userID int64, state string) ([]*store.InstanceRecord, error) {
	return e.st.UserInstances(userID, state)
}

// PendingReviews returns the open manual-review queue, oldest first.
func (e *Engine) PendingReviews() ([]*store.ReviewRecord, error) {
	return e.st.PendingReviews()
}

// Cancel withdraws a non-terminal instance. No reward, no cooldown
// record.
func (e *Engine) Cancel(userID int64, taskID string) error {
	rec, err := e.st.GetInstance(userID, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("load instance: %w", err)
	}
	if rec.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTaskTerminal, rec.State)
	}

	progress := rec.Progress
	if live := e.lookupLive(userID, taskID); live != nil {
		progress = encodeJSON(live.Progress())
	}
	won, err := e.st.TerminalTransition(userID, taskID, store.StateCancelled, progress)
	if err != nil {
		return fmt.Errorf("persist cancel: %w", err)
	}
	if !won {
		return fmt.Errorf("%w: concurrent terminal transition", ErrTaskTerminal)
	}
	e.removeLive(userID, taskID)

	// A cancelled instance takes its open review with it; otherwise a
	// later approval would resolve against a terminal instance.
	if rev, revErr := e.st.OpenReview(userID, taskID); revErr == nil {
		if err := e.st.ResolveReview(rev.ReviewID, store.ReviewRejected, "task cancelled", 0, e.now()); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("close open review: %w", err)
		}
	}

	e.logger.InfoCtx("task cancelled", map[string]any{"user": userID, "task": taskID, "type": rec.TypeKey})
	e.hub.emit(Event{
		Kind: EventCancelled, UserID: userID, TaskID: taskID,
		Type: task.TypeKey(rec.TypeKey), At: e.now(),
	})
	return nil
}

// ManuallyVerify is the admin override: completes an instance regardless
// of what its plugin has observed. Idempotent for already-completed
// instances.
func (e *Engine) ManuallyVerify(userID int64, taskID string, adminID int64) error {
	if _, err := e.st.GetInstance(userID, taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("load instance: %w", err)
	}
	return e.verify(userID, taskID, adminID)
}

// SubmitEvidence is the user-facing completion claim. Definitions that
// need review park the instance in pending_review; check-now capable
// types run their query instead. Event-only types reject the claim.
func (e *Engine) SubmitEvidence(userID int64, taskID, evidence string) error {
	rec, err := e.st.GetInstance(userID, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("load instance: %w", err)
	}
	if rec.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTaskTerminal, rec.State)
	}
	if e.now().After(rec.ExpiresAt) {
		if err := e.expireRecord(rec); err != nil {
			return err
		}
		return ErrTaskExpired
	}

	def, err := task.GetDefinition(task.TypeKey(rec.TypeKey))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDefinitionNotFound, rec.TypeKey)
	}

	if def.NeedsReview {
		return e.submitForReview(rec, evidence)
	}

	if checker, ok := e.lookupLive(userID, taskID).(task.Checker); ok {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := checker.CheckNow(ctx); err != nil {
			return fmt.Errorf("check %s task: %w", rec.TypeKey, err)
		}
		return nil
	}

	return fmt.Errorf("%s tasks complete automatically", rec.TypeKey)
}

// submitForReview parks an active instance for an admin decision. Its
// listeners stop until the review resolves.
func (e *Engine) submitForReview(rec *store.InstanceRecord, evidence string) error {
	if rec.State == store.StatePendingReview {
		return nil
	}

	now := e.now()
	review := &store.ReviewRecord{
		ReviewID:    uuid.NewString(),
		UserID:      rec.UserID,
		TaskID:      rec.TaskID,
		Evidence:    evidence,
		SubmittedAt: now,
	}
	if err := e.st.CreateReview(review); err != nil {
		return fmt.Errorf("create review: %w", err)
	}

	live := e.removeLive(rec.UserID, rec.TaskID)
	if live != nil {
		rec.Progress = encodeJSON(live.Progress())
	}
	rec.State = store.StatePendingReview
	if err := e.st.UpsertInstance(rec); err != nil {
		return fmt.Errorf("persist pending review: %w", err)
	}

	e.logger.InfoCtx("review submitted", map[string]any{
		"user":   rec.UserID,
		"task":   rec.TaskID,
		"review": review.ReviewID,
	})
	e.hub.emit(Event{
		Kind: EventReviewSubmitted, UserID: rec.UserID, TaskID: rec.TaskID,
		Type: task.TypeKey(rec.TypeKey), At: now,
		Detail: map[string]any{"review_id": review.ReviewID},
	})
	e.notify(rec.UserID, "Your submission is in the review queue.")
	return nil
}

// AdminReview resolves an open review. Approval completes the instance
// through the normal path; rejection clears the evidence and returns it
// to active with fresh listeners.
func (e *Engine) AdminReview(reviewID string, approve bool, reason string, adminID int64) error {
	reviews, err := e.st.PendingReviews()
	if err != nil {
		return fmt.Errorf("load reviews: %w", err)
	}
	var review *store.ReviewRecord
	for _, r := range reviews {
		if r.ReviewID == reviewID {
			review = r
			break
		}
	}
	if review == nil {
		return fmt.Errorf("%w: %s", ErrReviewNotFound, reviewID)
	}

	now := e.now()
	if approve {
		if err := e.st.ResolveReview(reviewID, store.ReviewApproved, reason, adminID, now); err != nil {
			return fmt.Errorf("resolve review: %w", err)
		}
		e.emitReviewResolved(review, store.ReviewApproved, now)
		return e.verify(review.UserID, review.TaskID, adminID)
	}

	if err := e.st.ResolveReview(reviewID, store.ReviewRejected, reason, adminID, now); err != nil {
		return fmt.Errorf("resolve review: %w", err)
	}
	if err := e.reactivate(review.UserID, review.TaskID); err != nil {
		return err
	}
	e.emitReviewResolved(review, store.ReviewRejected, now)
	if reason != "" {
		e.notify(review.UserID, fmt.Sprintf("Your submission was rejected: %s", reason))
	} else {
		e.notify(review.UserID, "Your submission was rejected. You can try again.")
	}
	return nil
}

func (e *Engine) emitReviewResolved(review *store.ReviewRecord, status string, at time.Time) {
	e.hub.emit(Event{
		Kind: EventReviewResolved, UserID: review.UserID, TaskID: review.TaskID,
		At: at, Detail: map[string]any{"review_id": review.ReviewID, "status": status},
	})
}

// reactivate returns a pending-review instance to active and restarts its
// listeners. Expired instances expire instead of resuming.
func (e *Engine) reactivate(userID int64, taskID string) error {
	rec, err := e.st.GetInstance(userID, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("load instance: %w", err)
	}
	if rec.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTaskTerminal, rec.State)
	}
	if e.now().After(rec.ExpiresAt) {
		return e.expireRecord(rec)
	}

	rec.State = store.StateActive
	if err := e.st.UpsertInstance(rec); err != nil {
		return fmt.Errorf("persist reactivation: %w", err)
	}
	return e.resume(rec)
}

// ResetDailyLimits clears all daily assignment counters. Scheduled at
// midnight or run on demand; returns the number of users reset.
func (e *Engine) ResetDailyLimits() (int, error) {
	n, err := e.st.ResetDailyCounters()
	if err != nil {
		return 0, fmt.Errorf("reset daily counters: %w", err)
	}
	e.logger.InfoCtx("daily limits reset", map[string]any{"users": n})
	return n, nil
}

// Recover reloads every non-terminal instance from storage, rebuilds its
// strategy from type key, params, and progress, and restarts listeners.
// Instances past their deadline expire instead of resuming. A corrupt
// record is logged and skipped, never fatal to the rest.
func (e *Engine) Recover() (int, error) {
	records, err := e.st.NonTerminalInstances()
	if err != nil {
		return 0, fmt.Errorf("load instances: %w", err)
	}

	now := e.now()
	recovered := 0
	for _, rec := range records {
		if now.After(rec.ExpiresAt) {
			if err := e.expireRecord(rec); err != nil {
				e.logger.Err(err).Msg("expire on recover failed")
			}
			continue
		}
		if rec.State != store.StateActive {
			continue // pending_review resumes only through AdminReview
		}
		if err := e.resume(rec); err != nil {
			e.logger.ErrorCtx("recover instance failed", map[string]any{
				"user":  rec.UserID,
				"task":  rec.TaskID,
				"type":  rec.TypeKey,
				"error": err.Error(),
			})
			continue
		}
		recovered++
	}

	e.logger.InfoCtx("recovery complete", map[string]any{
		"loaded":    len(records),
		"recovered": recovered,
	})
	return recovered, nil
}

// resume rebuilds the plugin for a stored record and starts listening.
func (e *Engine) resume(rec *store.InstanceRecord) error {
	inst := &task.Instance{
		UserID:    rec.UserID,
		TaskID:    rec.TaskID,
		Type:      task.TypeKey(rec.TypeKey),
		Params:    task.Params(decodeJSON(rec.Params)),
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		State:     task.State(rec.State),
	}

	t, err := task.Build(inst)
	if err != nil {
		return fmt.Errorf("rebuild %s task: %w", rec.TypeKey, err)
	}
	t.RestoreProgress(decodeJSON(rec.Progress))

	if err := t.StartListening(e); err != nil {
		return fmt.Errorf("start listening: %w", err)
	}
	e.addLive(t)
	return nil
}

// Sweep expires every live instance past its deadline and drives the
// periodic recheck of the rest. Returns the number expired.
func (e *Engine) Sweep(ctx context.Context, now time.Time) int {
	e.mu.Lock()
	snapshot := make([]task.Task, 0, len(e.live))
	for _, t := range e.live {
		snapshot = append(snapshot, t)
	}
	e.mu.Unlock()

	expired := 0
	for _, t := range snapshot {
		inst := t.Instance()
		if inst.IsExpired(now) {
			if err := e.Expire(inst.UserID, inst.TaskID); err != nil {
				e.logger.Err(err).Msg("sweep expire failed")
				continue
			}
			expired++
			continue
		}
		if rc, ok := t.(task.Rechecker); ok {
			rc.Recheck(ctx, now)
		}
	}

	if expired > 0 {
		e.logger.InfoCtx("sweep expired instances", map[string]any{"count": expired})
	}
	return expired
}
