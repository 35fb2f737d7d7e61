package task

import (
	"context"
	"time"

	"github.com/aybkose/questline/internal/dispatch"
	"github.com/aybkose/questline/internal/platform"
)

// TypeReaction is the emoji-reaction task type key.
const TypeReaction TypeKey = "reaction"

func init() {
	Register(Definition{
		Type:            TypeReaction,
		Title:           "React to the post",
		Description:     "React to the target message with the required emoji.",
		Reward:          Reward{XP: 15},
		DefaultDuration: 24 * time.Hour,
		Cooldown:        24 * time.Hour,
		New:             newReactionTask,
	})
}

// reactionTask completes when the owning user appears in the reaction
// list of the target message with the required emoji. Reaction events
// are not always delivered discretely, so the task also supports an
// explicit check-now query against the platform.
type reactionTask struct {
	Base

	chatID    int64
	messageID int64
	emoji     string
}

func newReactionTask(inst *Instance) (Task, error) {
	chatID, err := inst.Params.RequireInt64("chat_id")
	if err != nil {
		return nil, err
	}
	messageID, err := inst.Params.RequireInt64("message_id")
	if err != nil {
		return nil, err
	}
	emoji, err := inst.Params.RequireString("emoji")
	if err != nil {
		return nil, err
	}
	return &reactionTask{Base: NewBase(inst), chatID: chatID, messageID: messageID, emoji: emoji}, nil
}

func (t *reactionTask) StartListening(rt Runtime) error {
	if !t.begin(rt) {
		return nil
	}
	t.listen(platform.EventReaction, dispatch.Scope{UserID: t.inst.UserID, ChatID: t.chatID}, t.onReaction)
	return nil
}

func (t *reactionTask) onReaction(ev platform.Event) {
	if ev.MessageID != t.messageID || ev.Emoji != t.emoji {
		return
	}
	t.verify()
}

// CheckNow queries the platform for the current reaction list instead of
// waiting for a discrete event.
func (t *reactionTask) CheckNow(ctx context.Context) error {
	rt := t.runtime()
	if rt == nil {
		return nil
	}

	reactions, err := rt.Client().QueryReactions(ctx, t.chatID, t.messageID)
	if err != nil {
		return err
	}

	for _, userID := range reactions[t.emoji] {
		if userID == t.inst.UserID {
			t.verify()
			return nil
		}
	}
	return nil
}

func (t *reactionTask) Progress() map[string]any {
	return map[string]any{}
}

func (t *reactionTask) RestoreProgress(map[string]any) {}
