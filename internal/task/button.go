package task

import (
	"time"

	"github.com/aybkose/questline/internal/dispatch"
	"github.com/aybkose/questline/internal/platform"
)

// TypeButton is the button-click task type key.
const TypeButton TypeKey = "button"

func init() {
	Register(Definition{
		Type:            TypeButton,
		Title:           "Press the button",
		Description:     "Press the button attached to the task prompt.",
		Reward:          Reward{XP: 10},
		DefaultDuration: 12 * time.Hour,
		Cooldown:        12 * time.Hour,
		New:             newButtonTask,
	})
}

// buttonTask completes on a callback event whose opaque token equals the
// value minted when the prompt was sent. Any other token is ignored.
type buttonTask struct {
	Base

	token string
}

func newButtonTask(inst *Instance) (Task, error) {
	token, err := inst.Params.RequireString("token")
	if err != nil {
		return nil, err
	}
	return &buttonTask{Base: NewBase(inst), token: token}, nil
}

func (t *buttonTask) StartListening(rt Runtime) error {
	if !t.begin(rt) {
		return nil
	}
	t.listen(platform.EventCallback, dispatch.Scope{UserID: t.inst.UserID}, t.onCallback)
	return nil
}

func (t *buttonTask) onCallback(ev platform.Event) {
	if ev.Token != t.token {
		return
	}
	t.verify()
}

func (t *buttonTask) Progress() map[string]any {
	return map[string]any{}
}

func (t *buttonTask) RestoreProgress(map[string]any) {}
