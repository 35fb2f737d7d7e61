package task

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aybkose/questline/internal/dispatch"
	"github.com/aybkose/questline/internal/platform"
)

// TypeScheduledPost is the timed-post task type key.
const TypeScheduledPost TypeKey = "scheduled_post"

func init() {
	Register(Definition{
		Type:            TypeScheduledPost,
		Title:           "Post on schedule",
		Description:     "Send the qualifying message inside the scheduled window.",
		Reward:          Reward{XP: 35},
		DefaultDuration: 48 * time.Hour,
		Cooldown:        24 * time.Hour,
		New:             newScheduledPostTask,
	})
}

// scheduledPostTask accepts a qualifying message inside the tolerance
// window around the scheduled time. An early message is deferred, not an
// error: the task stays active and the user learns the remaining wait. A
// post after the window still completes but is flagged late in the
// completion record.
type scheduledPostTask struct {
	Base

	chatID      int64
	scheduledAt time.Time
	window      time.Duration
	keywords    []string

	progressMu sync.Mutex
	late       bool
}

func newScheduledPostTask(inst *Instance) (Task, error) {
	scheduledAt, err := inst.Params.RequireTime("scheduled_at")
	if err != nil {
		return nil, err
	}
	window := inst.Params.Seconds("window")
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &scheduledPostTask{
		Base:        NewBase(inst),
		chatID:      inst.Params.Int64("chat_id"),
		scheduledAt: scheduledAt,
		window:      window,
		keywords:    inst.Params.Strings("keywords"),
	}, nil
}

func (t *scheduledPostTask) StartListening(rt Runtime) error {
	if !t.begin(rt) {
		return nil
	}
	t.listen(platform.EventMessage, dispatch.Scope{UserID: t.inst.UserID, ChatID: t.chatID}, t.onMessage)
	return nil
}

func (t *scheduledPostTask) onMessage(ev platform.Event) {
	if !t.qualifies(ev.Text) {
		return
	}

	rt := t.runtime()
	if rt == nil {
		return
	}

	at := ev.At
	if at.IsZero() {
		at = rt.Now()
	}

	windowStart := t.scheduledAt.Add(-t.window)
	if at.Before(windowStart) {
		remaining := windowStart.Sub(at).Round(time.Second)
		rt.Notify(t.inst.UserID, fmt.Sprintf("Not yet! The posting window opens in %s.", remaining))
		return
	}

	if at.After(t.scheduledAt.Add(t.window)) {
		t.progressMu.Lock()
		t.late = true
		t.progressMu.Unlock()
	}
	t.verify()
}

func (t *scheduledPostTask) qualifies(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range t.keywords {
		if !strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}

func (t *scheduledPostTask) Progress() map[string]any {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()
	return map[string]any{"late": t.late}
}

func (t *scheduledPostTask) RestoreProgress(progress map[string]any) {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()
	t.late = Params(progress).Bool("late")
}
