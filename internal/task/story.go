package task

import "time"

// TypeStoryShare is the story-share task type key.
const TypeStoryShare TypeKey = "story_share"

func init() {
	Register(Definition{
		Type:            TypeStoryShare,
		Title:           "Share the story",
		Description:     "Repost the campaign story and submit a screenshot for review.",
		Reward:          Reward{XP: 120, Tokens: 5},
		DefaultDuration: 48 * time.Hour,
		Cooldown:        7 * 24 * time.Hour,
		NeedsReview:     true,
		New:             newStoryTask,
	})
}

// storyTask cannot observe story reposts through the platform, so it
// never completes on its own. The user submits evidence, which parks
// the instance for manual review; an admin approval is what verifies
// it. The task itself only tracks lifecycle.
type storyTask struct {
	Base
}

func newStoryTask(inst *Instance) (Task, error) {
	return &storyTask{Base: NewBase(inst)}, nil
}

func (t *storyTask) StartListening(rt Runtime) error {
	t.begin(rt)
	return nil
}

func (t *storyTask) Progress() map[string]any {
	return map[string]any{}
}

func (t *storyTask) RestoreProgress(map[string]any) {}
