package engine

import (
	"sync"
	"time"

	"github.com/aybkose/questline/internal/task"
)

// EventKind labels an engine lifecycle event.
type EventKind string

const (
	EventAssigned        EventKind = "assigned"
	EventCompleted       EventKind = "completed"
	EventExpired         EventKind = "expired"
	EventCancelled       EventKind = "cancelled"
	EventRewarded        EventKind = "rewarded"
	EventReviewSubmitted EventKind = "review_submitted"
	EventReviewResolved  EventKind = "review_resolved"
)

// Event is an engine lifecycle notification delivered to registered
// handlers. The watch command and tests consume these.
type Event struct {
	Kind   EventKind
	UserID int64
	TaskID string
	Type   task.TypeKey
	At     time.Time
	Detail map[string]any
}

// EventHandler receives engine events. Handlers run synchronously on the
// transition path and must not block.
type EventHandler func(Event)

type eventHub struct {
	mu       sync.RWMutex
	handlers []EventHandler
}

func (h *eventHub) add(handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = append(h.handlers, handler)
}

func (h *eventHub) emit(ev Event) {
	h.mu.RLock()
	handlers := h.handlers
	h.mu.RUnlock()
	for _, handler := range handlers {
		handler(ev)
	}
}
