package task

import (
	"strings"
	"sync"
	"time"

	"github.com/aybkose/questline/internal/dispatch"
	"github.com/aybkose/questline/internal/platform"
)

// Message task type keys.
const (
	TypeMention TypeKey = "mention"
	TypeKeyword TypeKey = "keyword"
)

func init() {
	Register(Definition{
		Type:            TypeMention,
		Title:           "Mention the bot",
		Description:     "Mention the bot in a message the required number of times.",
		Reward:          Reward{XP: 20},
		DefaultDuration: 24 * time.Hour,
		Cooldown:        24 * time.Hour,
		New:             newMentionTask,
	})
	Register(Definition{
		Type:            TypeKeyword,
		Title:           "Send the magic words",
		Description:     "Send a message containing the required keywords.",
		Reward:          Reward{XP: 25},
		DefaultDuration: 24 * time.Hour,
		Cooldown:        24 * time.Hour,
		New:             newKeywordTask,
	})
}

// messageTask counts the owning user's messages matching a predicate and
// completes at min_count matches. Messages from any other user never
// reach it: the subscription scope is the owning user.
type messageTask struct {
	Base

	match    func(text string) bool
	chatID   int64 // 0 = any chat
	minCount int64

	progressMu sync.Mutex
	count      int64
}

func (t *messageTask) StartListening(rt Runtime) error {
	if !t.begin(rt) {
		return nil
	}
	scope := dispatch.Scope{UserID: t.inst.UserID, ChatID: t.chatID}
	t.listen(platform.EventMessage, scope, t.onMessage)
	return nil
}

func (t *messageTask) onMessage(ev platform.Event) {
	if !t.match(ev.Text) {
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

func (t *messageTask) Progress() map[string]any {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()
	return map[string]any{"count": t.count}
}

func (t *messageTask) RestoreProgress(progress map[string]any) {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()
	t.count = Params(progress).Int64("count")
}

func minCountParam(p Params) int64 {
	if n := p.Int64("min_count"); n > 0 {
		return n
	}
	return 1
}

func newMentionTask(inst *Instance) (Task, error) {
	tag, err := inst.Params.RequireString("mention")
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(tag, "@") {
		tag = "@" + tag
	}

	return &messageTask{
		Base:     NewBase(inst),
		chatID:   inst.Params.Int64("chat_id"),
		minCount: minCountParam(inst.Params),
		match: func(text string) bool {
			return strings.Contains(strings.ToLower(text), strings.ToLower(tag))
		},
	}, nil
}

func newKeywordTask(inst *Instance) (Task, error) {
	keywords := inst.Params.Strings("keywords")
	if len(keywords) == 0 {
		kw, err := inst.Params.RequireString("keyword")
		if err != nil {
			return nil, err
		}
		keywords = []string{kw}
	}
	minLength := int(inst.Params.Int64("min_length"))

	return &messageTask{
		Base:     NewBase(inst),
		chatID:   inst.Params.Int64("chat_id"),
		minCount: minCountParam(inst.Params),
		match: func(text string) bool {
			if len([]rune(text)) < minLength {
				return false
			}
			lower := strings.ToLower(text)
			for _, kw := range keywords {
				if !strings.Contains(lower, strings.ToLower(kw)) {
					return false
				}
			}
			return true
		},
	}, nil
}
