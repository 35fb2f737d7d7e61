// Package task defines the task definition registry, the per-instance
// state machine contract, and the concrete verification strategies.
//
// A task instance is one user's time-bounded attempt at a definition. The
// plugin owning it registers event predicates on the dispatcher, watches
// for the satisfying condition, and reports success through the runtime's
// Verify funnel. Plugins never mutate instance state directly; the
// verification engine is the only authority for state transitions.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/aybkose/questline/internal/dispatch"
	"github.com/aybkose/questline/internal/platform"
)

// State is the lifecycle state of a task instance.
type State string

const (
	StateActive        State = "active"
	StatePendingReview State = "pending_review"
	StateCompleted     State = "completed"
	StateExpired       State = "expired"
	StateCancelled     State = "cancelled"
)

// IsTerminal reports whether the state permits no further transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateExpired, StateCancelled:
		return true
	}
	return false
}

// Instance is one user's concrete assignment of a task definition.
// Mutated only through the verification engine and task manager.
type Instance struct {
	UserID    int64
	TaskID    string
	Type      TypeKey
	Params    Params
	CreatedAt time.Time
	ExpiresAt time.Time
	State     State
}

// IsExpired reports whether the instance's hard deadline has passed.
// Pure function of the clock; independent of state.
func (i *Instance) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// Runtime is the narrow view of engine facilities a plugin may use.
type Runtime interface {
	// Subscribe registers an event predicate; the returned handle must be
	// released through Unsubscribe on every terminal transition.
	Subscribe(kind platform.EventKind, scope dispatch.Scope, h dispatch.Handler) dispatch.Handle
	Unsubscribe(h dispatch.Handle)

	// Client exposes point-in-time platform queries.
	Client() platform.Client

	// Now returns the engine clock, fakeable in tests.
	Now() time.Time

	// Verify reports that the instance's satisfying condition was
	// observed. Completion, idempotency, and the reward hand-off happen
	// inside the engine.
	Verify(userID int64, taskID string)

	// Notify sends a user-visible notice through the platform client.
	Notify(userID int64, text string)

	// SaveProgress persists the plugin's current progress snapshot.
	SaveProgress(t Task)
}

// Task is the contract every verification strategy implements.
type Task interface {
	Instance() *Instance

	// StartListening registers interest in the events this type cares
	// about, scoped at minimum to the owning user. Idempotent.
	StartListening(rt Runtime) error

	// StopListening releases every subscription taken by StartListening.
	// Safe to call repeatedly; mandatory on every terminal transition.
	StopListening()

	// Progress returns the serializable progress snapshot.
	Progress() map[string]any

	// RestoreProgress rebuilds in-memory progress after a reload.
	RestoreProgress(map[string]any)
}

// Rechecker is implemented by strategies that need a periodic
// point-in-time check (membership duration, profile badge holds). The
// expiry sweep drives it.
type Rechecker interface {
	Recheck(ctx context.Context, now time.Time)
}

// Checker is implemented by strategies that support an explicit
// "check now" request instead of waiting for an event (reactions,
// boosts).
type Checker interface {
	CheckNow(ctx context.Context) error
}

// Base carries the listening lifecycle shared by all strategies.
type Base struct {
	mu        sync.Mutex
	inst      *Instance
	rt        Runtime
	handles   []dispatch.Handle
	listening bool
}

// NewBase wraps an instance for embedding into a strategy.
func NewBase(inst *Instance) Base {
	return Base{inst: inst}
}

// Instance returns the wrapped instance.
func (b *Base) Instance() *Instance {
	return b.inst
}

// begin marks the task as listening and stores the runtime. Returns
// false when already listening, making StartListening idempotent.
func (b *Base) begin(rt Runtime) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listening {
		return false
	}
	b.rt = rt
	b.listening = true
	return true
}

// listen subscribes and records the handle for later release.
func (b *Base) listen(kind platform.EventKind, scope dispatch.Scope, h dispatch.Handler) {
	handle := b.rt.Subscribe(kind, scope, h)
	b.mu.Lock()
	b.handles = append(b.handles, handle)
	b.mu.Unlock()
}

// StopListening releases all subscriptions. Safe to call repeatedly.
func (b *Base) StopListening() {
	b.mu.Lock()
	handles := b.handles
	rt := b.rt
	b.handles = nil
	b.listening = false
	b.mu.Unlock()

	if rt == nil {
		return
	}
	for _, h := range handles {
		rt.Unsubscribe(h)
	}
}

// runtime returns the bound runtime, nil before StartListening.
func (b *Base) runtime() Runtime {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rt
}

// verify funnels success to the engine.
func (b *Base) verify() {
	if rt := b.runtime(); rt != nil {
		rt.Verify(b.inst.UserID, b.inst.TaskID)
	}
}

// save persists the owning task's progress.
func (b *Base) save(t Task) {
	if rt := b.runtime(); rt != nil {
		rt.SaveProgress(t)
	}
}
