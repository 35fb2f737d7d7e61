package task

import (
	"sync"
	"time"

	"github.com/aybkose/questline/internal/dispatch"
	"github.com/aybkose/questline/internal/platform"
)

// TypeForward is the share/forward task type key.
const TypeForward TypeKey = "forward"

func init() {
	Register(Definition{
		Type:            TypeForward,
		Title:           "Share the post",
		Description:     "Forward the campaign post the required number of times.",
		Reward:          Reward{XP: 30},
		DefaultDuration: 48 * time.Hour,
		Cooldown:        48 * time.Hour,
		New:             newForwardTask,
	})
}

// forwardTask counts forwards whose recorded origin matches the
// configured source. Forwards of unrelated content are ignored.
type forwardTask struct {
	Base

	fromChat    int64
	fromMessage int64 // 0 = any message from the source chat
	minCount    int64

	progressMu sync.Mutex
	count      int64
}

func newForwardTask(inst *Instance) (Task, error) {
	fromChat, err := inst.Params.RequireInt64("from_chat_id")
	if err != nil {
		return nil, err
	}
	return &forwardTask{
		Base:        NewBase(inst),
		fromChat:    fromChat,
		fromMessage: inst.Params.Int64("from_message_id"),
		minCount:    minCountParam(inst.Params),
	}, nil
}

func (t *forwardTask) StartListening(rt Runtime) error {
	if !t.begin(rt) {
		return nil
	}
	t.listen(platform.EventPostForwarded, dispatch.Scope{UserID: t.inst.UserID}, t.onForward)
	return nil
}

func (t *forwardTask) onForward(ev platform.Event) {
	if ev.ForwardFromChat != t.fromChat {
		return
	}
	if t.fromMessage != 0 && ev.ForwardFromMessage != t.fromMessage {
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

func (t *forwardTask) Progress() map[string]any {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()
	return map[string]any{"count": t.count}
}

func (t *forwardTask) RestoreProgress(progress map[string]any) {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()
	t.count = Params(progress).Int64("count")
}
