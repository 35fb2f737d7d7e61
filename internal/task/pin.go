package task

import (
	"context"
	"time"

	"github.com/aybkose/questline/internal/dispatch"
	"github.com/aybkose/questline/internal/logging"
	"github.com/aybkose/questline/internal/platform"
)

// TypePin is the pin-message task type key.
const TypePin TypeKey = "pin"

func init() {
	Register(Definition{
		Type:            TypePin,
		Title:           "Pin a message",
		Description:     "Pin a message in the target chat as an administrator.",
		Reward:          Reward{XP: 60, Badge: "moderator"},
		DefaultDuration: 72 * time.Hour,
		Cooldown:        7 * 24 * time.Hour,
		New:             newPinTask,
	})
}

// pinTask requires the acting user to hold administrator rights in the
// target chat at the moment of pinning. Lacking rights is a non-match,
// not an error.
type pinTask struct {
	Base

	chatID int64
}

func newPinTask(inst *Instance) (Task, error) {
	chatID, err := inst.Params.RequireInt64("chat_id")
	if err != nil {
		return nil, err
	}
	return &pinTask{Base: NewBase(inst), chatID: chatID}, nil
}

func (t *pinTask) StartListening(rt Runtime) error {
	if !t.begin(rt) {
		return nil
	}
	t.listen(platform.EventMessagePinned, dispatch.Scope{UserID: t.inst.UserID, ChatID: t.chatID}, t.onPinned)
	return nil
}

func (t *pinTask) onPinned(platform.Event) {
	rt := t.runtime()
	if rt == nil {
		return
	}

	admins, err := rt.Client().QueryAdmins(context.Background(), t.chatID)
	if err != nil {
		logging.Component("task").WarnCtx("admin query failed", map[string]any{
			"task_id": t.inst.TaskID,
			"chat":    t.chatID,
			"error":   err.Error(),
		})
		return
	}

	for _, adminID := range admins {
		if adminID == t.inst.UserID {
			t.verify()
			return
		}
	}
	// Pinned without admin rights: ignore and keep waiting.
}

func (t *pinTask) Progress() map[string]any {
	return map[string]any{}
}

func (t *pinTask) RestoreProgress(map[string]any) {}
