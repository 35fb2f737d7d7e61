package engine

import "errors"

// Sentinel errors for the failure classes callers branch on. Wrapped with
// context at call sites; match with errors.Is.
var (
	// ErrDefinitionNotFound means the requested task type is not
	// registered or not enabled.
	ErrDefinitionNotFound = errors.New("task definition not found")

	// ErrConflictingAssignment means the user already has a live instance
	// of the requested type.
	ErrConflictingAssignment = errors.New("conflicting active assignment")

	// ErrTaskNotFound means no instance exists for (user, task).
	ErrTaskNotFound = errors.New("task instance not found")

	// ErrTaskExpired means the instance's deadline passed before the
	// operation could apply.
	ErrTaskExpired = errors.New("task instance expired")

	// ErrTaskTerminal means the instance is in a final state and admits
	// no further transitions.
	ErrTaskTerminal = errors.New("task instance in terminal state")

	// ErrReviewNotFound means no open review matches the request.
	ErrReviewNotFound = errors.New("pending review not found")

	// ErrDailyLimit means the user reached the per-day assignment cap.
	ErrDailyLimit = errors.New("daily assignment limit reached")
)
