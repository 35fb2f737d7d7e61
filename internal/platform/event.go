// Package platform defines the boundary to the messaging platform: the
// normalized event stream questline consumes and the narrow client
// capability it calls back into. The wire protocol behind it is someone
// else's problem.
package platform

import "time"

// EventKind classifies normalized platform events.
type EventKind string

const (
	EventMemberJoined  EventKind = "member_joined"
	EventMemberLeft    EventKind = "member_left"
	EventMessage       EventKind = "message"
	EventReaction      EventKind = "reaction"
	EventCallback      EventKind = "callback"
	EventMessagePinned EventKind = "message_pinned"
	EventPostForwarded EventKind = "post_forwarded"

	// EventInviteUsed credits a join to the inviting user: UserID is the
	// owner of the invite link, not the joiner.
	EventInviteUsed EventKind = "invite_used"
)

// Event is a normalized description of a platform happening. It is
// ephemeral: events drive plugin callbacks and are never persisted.
type Event struct {
	Kind       EventKind
	UserID     int64 // acting user
	ChatID     int64 // chat scope, 0 for direct messages
	MessageID  int64
	Text       string // message text, for message events
	Emoji      string // reaction emoji, for reaction events
	Token      string // opaque callback token, for callback events
	InviteCode string // invite link code credited for a join, if any

	// Forward origin, for post_forwarded events.
	ForwardFromChat    int64
	ForwardFromMessage int64

	At time.Time
}
