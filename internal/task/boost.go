package task

import (
	"context"
	"time"

	"github.com/aybkose/questline/internal/logging"
)

// TypeBoost is the channel-boost task type key.
const TypeBoost TypeKey = "boost"

func init() {
	Register(Definition{
		Type:            TypeBoost,
		Title:           "Boost the channel",
		Description:     "Boost the target channel with your account.",
		Reward:          Reward{XP: 200, Badge: "booster"},
		DefaultDuration: 7 * 24 * time.Hour,
		Cooldown:        30 * 24 * time.Hour,
		New:             newBoostTask,
	})
}

// boostTask completes when the owning user appears in the channel's
// booster list. The platform delivers no discrete boost event, so the
// task is purely poll-driven: the periodic recheck and the explicit
// check-now request both query the booster list.
type boostTask struct {
	Base

	chatID int64
}

func newBoostTask(inst *Instance) (Task, error) {
	chatID, err := inst.Params.RequireInt64("chat_id")
	if err != nil {
		return nil, err
	}
	return &boostTask{Base: NewBase(inst), chatID: chatID}, nil
}

func (t *boostTask) StartListening(rt Runtime) error {
	t.begin(rt)
	// No event subscriptions; verification is poll-driven.
	return nil
}

func (t *boostTask) Recheck(ctx context.Context, _ time.Time) {
	if err := t.CheckNow(ctx); err != nil {
		logging.Component("task").WarnCtx("booster query failed", map[string]any{
			"task_id": t.inst.TaskID,
			"chat":    t.chatID,
			"error":   err.Error(),
		})
	}
}

func (t *boostTask) CheckNow(ctx context.Context) error {
	rt := t.runtime()
	if rt == nil {
		return nil
	}

	boosters, err := rt.Client().QueryBoosters(ctx, t.chatID)
	if err != nil {
		return err
	}

	for _, userID := range boosters {
		if userID == t.inst.UserID {
			t.verify()
			return nil
		}
	}
	return nil
}

func (t *boostTask) Progress() map[string]any {
	return map[string]any{}
}

func (t *boostTask) RestoreProgress(map[string]any) {}
