// Package dispatch routes normalized platform events to interested task
// instances. Subscriptions are indexed by (event kind, scope) so routing
// cost stays near the number of matches, not the number of active
// instances.
package dispatch

import (
	"context"
	"sync"

	"github.com/aybkose/questline/internal/logging"
	"github.com/aybkose/questline/internal/platform"
)

// Handle identifies a subscription for O(1) removal.
type Handle uint64

// Handler receives events matching a subscription.
type Handler func(platform.Event)

// Scope narrows a subscription. UserID is mandatory; ChatID of 0 matches
// the user's events in any chat.
type Scope struct {
	UserID int64
	ChatID int64
}

type subKey struct {
	kind  platform.EventKind
	scope Scope
}

// Bus is the central event dispatcher. A single consumer goroutine
// preserves arrival order for any given instance.
type Bus struct {
	mu     sync.RWMutex
	nextID Handle
	subs   map[subKey]map[Handle]Handler
	keys   map[Handle]subKey

	events chan platform.Event
	logger *logging.Logger
}

// New creates a Bus with the given inbound queue size.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Bus{
		subs:   make(map[subKey]map[Handle]Handler),
		keys:   make(map[Handle]subKey),
		events: make(chan platform.Event, queueSize),
		logger: logging.Component("dispatch"),
	}
}

// Subscribe registers a handler for events of the given kind and scope.
func (b *Bus) Subscribe(kind platform.EventKind, scope Scope, h Handler) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	key := subKey{kind: kind, scope: scope}

	if b.subs[key] == nil {
		b.subs[key] = make(map[Handle]Handler)
	}
	b.subs[key][id] = h
	b.keys[id] = key
	return id
}

// Unsubscribe removes a subscription. Unknown or already-removed handles
// are a no-op, so stop-listening paths can call it redundantly.
func (b *Bus) Unsubscribe(id Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key, ok := b.keys[id]
	if !ok {
		return
	}
	delete(b.keys, id)
	delete(b.subs[key], id)
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
}

// Subscriptions returns the number of live subscriptions. Leaked
// listeners show up here.
func (b *Bus) Subscriptions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.keys)
}

// Publish enqueues an event for dispatch. Blocks when the queue is full.
func (b *Bus) Publish(ev platform.Event) {
	b.events <- ev
}

// Run consumes and dispatches events until the context is cancelled.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			b.Dispatch(ev)
		}
	}
}

// Dispatch delivers an event synchronously to every matching subscriber.
// Exported for tests and the simulate command, which drive the bus
// without the Run loop.
func (b *Bus) Dispatch(ev platform.Event) {
	for _, h := range b.matches(ev) {
		b.deliver(ev, h)
	}
}

// matches collects handlers under the read lock; delivery happens outside
// it so handlers may unsubscribe themselves.
func (b *Bus) matches(ev platform.Event) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Handler
	keys := [2]subKey{
		{kind: ev.Kind, scope: Scope{UserID: ev.UserID, ChatID: ev.ChatID}},
		{kind: ev.Kind, scope: Scope{UserID: ev.UserID}},
	}
	for i, key := range keys {
		if i == 1 && ev.ChatID == 0 {
			break // already covered by the exact key
		}
		for _, h := range b.subs[key] {
			out = append(out, h)
		}
	}
	return out
}

// deliver runs one handler, recovering panics so a faulty listener never
// stops the dispatch loop or starves other instances.
func (b *Bus) deliver(ev platform.Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorCtx("handler panic", map[string]any{
				"kind": string(ev.Kind),
				"user": ev.UserID,
				"chat": ev.ChatID,
				"err":  r,
			})
		}
	}()
	h(ev)
}
