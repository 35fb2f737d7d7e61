package task

import (
	"sync"
	"time"

	"github.com/aybkose/questline/internal/dispatch"
	"github.com/aybkose/questline/internal/platform"
)

// TypeInvite is the invite-friends task type key.
const TypeInvite TypeKey = "invite"

func init() {
	Register(Definition{
		Type:            TypeInvite,
		Title:           "Invite friends",
		Description:     "Get the required number of joins through your invite link.",
		Reward:          Reward{XP: 100, Tokens: 5},
		DefaultDuration: 7 * 24 * time.Hour,
		Cooldown:        7 * 24 * time.Hour,
		New:             newInviteTask,
	})
}

// inviteTask counts joins credited to the owning user's invite link.
// Invite-used events carry the inviter as their user id, so the
// subscription stays user-scoped like every other strategy.
type inviteTask struct {
	Base

	chatID     int64
	inviteCode string
	minCount   int64

	progressMu sync.Mutex
	count      int64
}

func newInviteTask(inst *Instance) (Task, error) {
	chatID, err := inst.Params.RequireInt64("chat_id")
	if err != nil {
		return nil, err
	}
	code, err := inst.Params.RequireString("invite_code")
	if err != nil {
		return nil, err
	}
	return &inviteTask{
		Base:       NewBase(inst),
		chatID:     chatID,
		inviteCode: code,
		minCount:   minCountParam(inst.Params),
	}, nil
}

func (t *inviteTask) StartListening(rt Runtime) error {
	if !t.begin(rt) {
		return nil
	}
	t.listen(platform.EventInviteUsed, dispatch.Scope{UserID: t.inst.UserID, ChatID: t.chatID}, t.onInviteUsed)
	return nil
}

func (t *inviteTask) onInviteUsed(ev platform.Event) {
	if ev.InviteCode != t.inviteCode {
		return
	}

	t.progressMu.Lock()
	t.count++
	done := t.count >= t.minCount
	t.progressMu.Unlock()

	if done {
		t.verify()
		return
	}
	t.save(t)
}

func (t *inviteTask) Progress() map[string]any {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()
	return map[string]any{"count": t.count}
}

func (t *inviteTask) RestoreProgress(progress map[string]any) {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()
	t.count = Params(progress).Int64("count")
}
