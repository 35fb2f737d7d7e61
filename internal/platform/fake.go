package platform

import (
	"context"
	"fmt"
	"sync"
)

// SentMessage captures an outgoing notification for inspection.
type SentMessage struct {
	UserID  int64
	Text    string
	Actions []Action
}

// Fake is an in-memory Client with scriptable state. It backs tests and
// the simulate command.
type Fake struct {
	mu sync.Mutex

	members   map[int64]map[int64]bool      // chat -> user -> member
	reactions map[string]map[string][]int64 // chat:message -> emoji -> users
	admins    map[int64][]int64             // chat -> admin users
	boosters  map[int64][]int64             // chat -> boosting users
	profiles  map[int64]Profile             // user -> profile
	sent      []SentMessage
	sendErr   error
}

// NewFake creates an empty fake client.
func NewFake() *Fake {
	return &Fake{
		members:   make(map[int64]map[int64]bool),
		reactions: make(map[string]map[string][]int64),
		admins:    make(map[int64][]int64),
		boosters:  make(map[int64][]int64),
		profiles:  make(map[int64]Profile),
	}
}

func reactionKey(chatID, messageID int64) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

// SetMember scripts chat membership.
func (f *Fake) SetMember(chatID, userID int64, member bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[chatID] == nil {
		f.members[chatID] = make(map[int64]bool)
	}
	f.members[chatID][userID] = member
}

// SetReaction scripts the reaction list of a message.
func (f *Fake) SetReaction(chatID, messageID int64, emoji string, users ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := reactionKey(chatID, messageID)
	if f.reactions[key] == nil {
		f.reactions[key] = make(map[string][]int64)
	}
	f.reactions[key][emoji] = users
}

// SetAdmins scripts the admin list of a chat.
func (f *Fake) SetAdmins(chatID int64, users ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admins[chatID] = users
}

// SetBoosters scripts the booster list of a chat.
func (f *Fake) SetBoosters(chatID int64, users ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boosters[chatID] = users
}

// SetProfile scripts a user profile.
func (f *Fake) SetProfile(userID int64, p Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[userID] = p
}

// FailSends makes every SendMessage return err (nil restores normal
// behavior).
func (f *Fake) FailSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// Sent returns a copy of all captured outgoing messages.
func (f *Fake) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// SentTo returns captured messages addressed to a user.
func (f *Fake) SentTo(userID int64) []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []SentMessage
	for _, m := range f.sent {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out
}

// SendMessage implements Client.
func (f *Fake) SendMessage(_ context.Context, userID int64, text string, actions ...Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, SentMessage{UserID: userID, Text: text, Actions: actions})
	return nil
}

// QueryMembership implements Client.
func (f *Fake) QueryMembership(_ context.Context, chatID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[chatID][userID], nil
}

// QueryReactions implements Client.
func (f *Fake) QueryReactions(_ context.Context, chatID, messageID int64) (map[string][]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]int64)
	for emoji, users := range f.reactions[reactionKey(chatID, messageID)] {
		out[emoji] = append([]int64(nil), users...)
	}
	return out, nil
}

// QueryAdmins implements Client.
func (f *Fake) QueryAdmins(_ context.Context, chatID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.admins[chatID]...), nil
}

// QueryBoosters implements Client.
func (f *Fake) QueryBoosters(_ context.Context, chatID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.boosters[chatID]...), nil
}

// QueryProfile implements Client.
func (f *Fake) QueryProfile(_ context.Context, userID int64) (Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles[userID], nil
}

var _ Client = (*Fake)(nil)
