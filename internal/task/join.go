package task

import (
	"context"
	"sync"
	"time"

	"github.com/aybkose/questline/internal/dispatch"
	"github.com/aybkose/questline/internal/logging"
	"github.com/aybkose/questline/internal/platform"
)

// Membership task type keys.
const (
	TypeChannelJoin TypeKey = "channel_join"
	TypeGroupJoin   TypeKey = "group_join"
)

func init() {
	Register(Definition{
		Type:            TypeChannelJoin,
		Title:           "Join the channel",
		Description:     "Join the target channel and stay for the required time.",
		Reward:          Reward{XP: 50},
		DefaultDuration: 24 * time.Hour,
		Cooldown:        7 * 24 * time.Hour,
		New:             newJoinTask,
	})
	Register(Definition{
		Type:            TypeGroupJoin,
		Title:           "Join the group",
		Description:     "Join the target group chat and stay for the required time.",
		Reward:          Reward{XP: 40},
		DefaultDuration: 24 * time.Hour,
		Cooldown:        7 * 24 * time.Hour,
		New:             newJoinTask,
	})
}

// joinTask verifies membership in a target chat. With a minimum duration
// configured, the join only starts the clock: a leave before the duration
// elapses resets it, and the periodic recheck confirms continued
// membership until the hold is complete.
type joinTask struct {
	Base

	chatID      int64
	minDuration time.Duration

	progressMu sync.Mutex
	joinedAt   time.Time // zero when not currently counting
}

func newJoinTask(inst *Instance) (Task, error) {
	chatID, err := inst.Params.RequireInt64("chat_id")
	if err != nil {
		return nil, err
	}
	return &joinTask{
		Base:        NewBase(inst),
		chatID:      chatID,
		minDuration: inst.Params.Seconds("min_duration"),
	}, nil
}

func (t *joinTask) StartListening(rt Runtime) error {
	if !t.begin(rt) {
		return nil
	}

	scope := dispatch.Scope{UserID: t.inst.UserID, ChatID: t.chatID}
	t.listen(platform.EventMemberJoined, scope, t.onJoin)
	if t.minDuration > 0 {
		t.listen(platform.EventMemberLeft, scope, t.onLeave)
	}
	return nil
}

func (t *joinTask) onJoin(ev platform.Event) {
	if t.minDuration <= 0 {
		t.verify()
		return
	}

	t.progressMu.Lock()
	if t.joinedAt.IsZero() {
		t.joinedAt = t.eventTime(ev)
	}
	t.progressMu.Unlock()
	t.save(t)
}

// onLeave restarts the clock: a partial hold earns no credit.
func (t *joinTask) onLeave(platform.Event) {
	t.progressMu.Lock()
	t.joinedAt = time.Time{}
	t.progressMu.Unlock()
	t.save(t)
}

// Recheck confirms continued membership and completes the task once the
// hold duration has elapsed.
func (t *joinTask) Recheck(ctx context.Context, now time.Time) {
	rt := t.runtime()
	if rt == nil || t.minDuration <= 0 {
		return
	}

	t.progressMu.Lock()
	joined := t.joinedAt
	t.progressMu.Unlock()
	if joined.IsZero() {
		return
	}

	member, err := rt.Client().QueryMembership(ctx, t.chatID, t.inst.UserID)
	if err != nil {
		logging.Component("task").WarnCtx("membership query failed", map[string]any{
			"task_id": t.inst.TaskID,
			"chat":    t.chatID,
			"error":   err.Error(),
		})
		return
	}

	if !member {
		t.onLeave(platform.Event{})
		return
	}

	if now.Sub(joined) >= t.minDuration {
		t.verify()
	}
}

func (t *joinTask) eventTime(ev platform.Event) time.Time {
	if !ev.At.IsZero() {
		return ev.At
	}
	if rt := t.runtime(); rt != nil {
		return rt.Now()
	}
	return time.Now()
}

func (t *joinTask) Progress() map[string]any {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()

	if t.joinedAt.IsZero() {
		return map[string]any{"join_time": nil}
	}
	return map[string]any{"join_time": t.joinedAt.UTC().Format(time.RFC3339)}
}

func (t *joinTask) RestoreProgress(progress map[string]any) {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()

	t.joinedAt = time.Time{}
	if s, ok := progress["join_time"].(string); ok && s != "" {
		if at, err := time.Parse(time.RFC3339, s); err == nil {
			t.joinedAt = at
		}
	}
}
