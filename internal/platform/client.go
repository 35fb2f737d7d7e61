package platform

import "context"

// Action is an inline button attached to an outgoing message.
type Action struct {
	Label string
	Token string // opaque token echoed back in callback events
}

// Profile is the subset of a user's public profile questline inspects.
type Profile struct {
	Username string
	Bio      string
}

// Client is the capability questline consumes from the messaging
// platform. Implementations wrap the actual bot transport; tests use
// Fake.
type Client interface {
	// SendMessage delivers a notification to a user, optionally with
	// inline actions.
	SendMessage(ctx context.Context, userID int64, text string, actions ...Action) error

	// QueryMembership reports whether the user is currently a member of
	// the chat.
	QueryMembership(ctx context.Context, chatID, userID int64) (bool, error)

	// QueryReactions returns, per emoji, the users currently reacting to
	// a message.
	QueryReactions(ctx context.Context, chatID, messageID int64) (map[string][]int64, error)

	// QueryAdmins returns the user ids holding administrator rights in
	// the chat.
	QueryAdmins(ctx context.Context, chatID int64) ([]int64, error)

	// QueryBoosters returns the user ids currently boosting the chat.
	QueryBoosters(ctx context.Context, chatID int64) ([]int64, error)

	// QueryProfile returns the user's public profile.
	QueryProfile(ctx context.Context, userID int64) (Profile, error)
}
