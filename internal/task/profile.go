package task

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aybkose/questline/internal/logging"
)

// TypeProfileBadge is the profile-badge task type key.
const TypeProfileBadge TypeKey = "profile_badge"

func init() {
	Register(Definition{
		Type:            TypeProfileBadge,
		Title:           "Show the campaign tag",
		Description:     "Keep the campaign tag in your username or bio.",
		Reward:          Reward{XP: 80, Badge: "ambassador"},
		DefaultDuration: 7 * 24 * time.Hour,
		Cooldown:        14 * 24 * time.Hour,
		New:             newProfileTask,
	})
}

// profileTask verifies that the campaign tag appears in the user's
// username or bio. Like joinTask, a minimum duration turns the first
// sighting into the start of a hold clock; the tag disappearing before
// the hold elapses resets it. Profiles emit no platform events, so the
// task is entirely poll-driven.
type profileTask struct {
	Base

	tag         string
	minDuration time.Duration

	progressMu sync.Mutex
	taggedAt   time.Time // zero when the tag is not currently showing
}

func newProfileTask(inst *Instance) (Task, error) {
	tag, err := inst.Params.RequireString("tag")
	if err != nil {
		return nil, err
	}
	return &profileTask{
		Base:        NewBase(inst),
		tag:         strings.ToLower(tag),
		minDuration: inst.Params.Seconds("min_duration"),
	}, nil
}

func (t *profileTask) StartListening(rt Runtime) error {
	t.begin(rt)
	// No event subscriptions; the recheck carries verification.
	return nil
}

func (t *profileTask) Recheck(ctx context.Context, now time.Time) {
	rt := t.runtime()
	if rt == nil {
		return
	}

	profile, err := rt.Client().QueryProfile(ctx, t.inst.UserID)
	if err != nil {
		logging.Component("task").WarnCtx("profile query failed", map[string]any{
			"task_id": t.inst.TaskID,
			"user":    t.inst.UserID,
			"error":   err.Error(),
		})
		return
	}

	tagged := strings.Contains(strings.ToLower(profile.Username), t.tag) ||
		strings.Contains(strings.ToLower(profile.Bio), t.tag)

	if !tagged {
		t.progressMu.Lock()
		t.taggedAt = time.Time{}
		t.progressMu.Unlock()
		t.save(t)
		return
	}

	if t.minDuration <= 0 {
		t.verify()
		return
	}

	t.progressMu.Lock()
	if t.taggedAt.IsZero() {
		t.taggedAt = now
	}
	since := now.Sub(t.taggedAt)
	t.progressMu.Unlock()
	t.save(t)

	if since >= t.minDuration {
		t.verify()
	}
}

func (t *profileTask) CheckNow(ctx context.Context) error {
	rt := t.runtime()
	if rt == nil {
		return nil
	}
	t.Recheck(ctx, rt.Now())
	return nil
}

func (t *profileTask) Progress() map[string]any {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()

	if t.taggedAt.IsZero() {
		return map[string]any{"tagged_at": nil}
	}
	return map[string]any{"tagged_at": t.taggedAt.UTC().Format(time.RFC3339)}
}

func (t *profileTask) RestoreProgress(progress map[string]any) {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()

	t.taggedAt = time.Time{}
	if s, ok := progress["tagged_at"].(string); ok && s != "" {
		if at, err := time.Parse(time.RFC3339, s); err == nil {
			t.taggedAt = at
		}
	}
}
