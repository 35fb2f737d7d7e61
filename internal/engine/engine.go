// Package engine orchestrates the task lifecycle: assignment, event-driven
// verification, manual review, expiry sweeps, and reward dispatch. It is
// the single authority for instance state transitions; plugins observe and
// report, the engine decides.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aybkose/questline/internal/config"
	"github.com/aybkose/questline/internal/dispatch"
	"github.com/aybkose/questline/internal/logging"
	"github.com/aybkose/questline/internal/platform"
	"github.com/aybkose/questline/internal/store"
	"github.com/aybkose/questline/internal/task"
)

const notifyTimeout = 5 * time.Second

// Engine owns the live task instances and drives their state machine.
// It implements task.Runtime, giving plugins their narrow view of engine
// facilities.
type Engine struct {
	st     *store.Store
	bus    *dispatch.Bus
	client platform.Client
	cfg    *config.Config
	clock  func() time.Time
	logger *logging.Logger
	hub    eventHub

	mu   sync.Mutex
	live map[string]task.Task
}

// Option customizes engine construction.
type Option func(*Engine)

// WithClock overrides the engine clock. Tests use it to simulate time.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// New creates an engine over the given storage, event bus, and platform
// client.
func New(st *store.Store, bus *dispatch.Bus, client platform.Client, cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		st:     st,
		bus:    bus,
		client: client,
		cfg:    cfg,
		clock:  time.Now,
		logger: logging.Component("engine"),
		live:   make(map[string]task.Task),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnEvent registers a lifecycle event handler.
func (e *Engine) OnEvent(h EventHandler) {
	e.hub.add(h)
}

// SetConfig swaps the runtime-tunable configuration after a hot reload.
func (e *Engine) SetConfig(cfg *config.Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) config() *config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// LiveCount returns the number of instances currently held in memory.
func (e *Engine) LiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

func liveKey(userID int64, taskID string) string {
	return fmt.Sprintf("%d:%s", userID, taskID)
}

func (e *Engine) addLive(t task.Task) {
	inst := t.Instance()
	e.mu.Lock()
	e.live[liveKey(inst.UserID, inst.TaskID)] = t
	e.mu.Unlock()
}

func (e *Engine) lookupLive(userID int64, taskID string) task.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live[liveKey(userID, taskID)]
}

// removeLive detaches an instance from memory and releases its listeners.
// Returns the task, nil when it was not live.
func (e *Engine) removeLive(userID int64, taskID string) task.Task {
	key := liveKey(userID, taskID)
	e.mu.Lock()
	t := e.live[key]
	delete(e.live, key)
	e.mu.Unlock()

	if t != nil {
		t.StopListening()
	}
	return t
}

// Subscribe implements task.Runtime.
func (e *Engine) Subscribe(kind platform.EventKind, scope dispatch.Scope, h dispatch.Handler) dispatch.Handle {
	return e.bus.Subscribe(kind, scope, h)
}

// Unsubscribe implements task.Runtime.
func (e *Engine) Unsubscribe(h dispatch.Handle) {
	e.bus.Unsubscribe(h)
}

// Client implements task.Runtime.
func (e *Engine) Client() platform.Client {
	return e.client
}

// Now implements task.Runtime.
func (e *Engine) Now() time.Time {
	return e.clock()
}

// Verify implements task.Runtime: a plugin reports that its satisfying
// condition was observed. Idempotent; failures are logged, never pushed
// back into the plugin.
func (e *Engine) Verify(userID int64, taskID string) {
	if err := e.verify(userID, taskID, 0); err != nil {
		e.logger.WarnCtx("verification not applied", map[string]any{
			"user":  userID,
			"task":  taskID,
			"error": err.Error(),
		})
	}
}

// verify applies a completion request. An absent or already-completed
// instance is a success: duplicate satisfying events are expected and must
// not double-transition. verifiedBy is the admin id for manual overrides,
// 0 for automatic verification.
func (e *Engine) verify(userID int64, taskID string, verifiedBy int64) error {
	rec, err := e.st.GetInstance(userID, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load instance: %w", err)
	}

	switch rec.State {
	case store.StateCompleted:
		return nil
	case store.StateExpired, store.StateCancelled:
		return fmt.Errorf("%w: %s", ErrTaskTerminal, rec.State)
	}

	if e.now().After(rec.ExpiresAt) {
		if expireErr := e.expireRecord(rec); expireErr != nil {
			return expireErr
		}
		return fmt.Errorf("%w: deadline %s", ErrTaskExpired, rec.ExpiresAt.Format(time.RFC3339))
	}

	return e.complete(rec, verifiedBy)
}

// complete transitions a non-terminal, non-expired instance to completed,
// records the completion, and dispatches the reward. The transition is a
// compare-and-swap at the store: when the sweep and the event path race
// around the deadline instant, exactly one terminal write lands, and only
// the winner pays the reward. Listeners stop only after the write lands,
// so a persistence failure never strands a deaf active instance.
func (e *Engine) complete(rec *store.InstanceRecord, verifiedBy int64) error {
	now := e.now()

	progress := decodeJSON(rec.Progress)
	if live := e.lookupLive(rec.UserID, rec.TaskID); live != nil {
		progress = live.Progress()
	}

	won, err := e.st.TerminalTransition(rec.UserID, rec.TaskID, store.StateCompleted, encodeJSON(progress))
	if err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}
	if !won {
		fresh, err := e.st.GetInstance(rec.UserID, rec.TaskID)
		if err != nil {
			return fmt.Errorf("load instance: %w", err)
		}
		if fresh.State == store.StateCompleted {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrTaskTerminal, fresh.State)
	}

	rec.State = store.StateCompleted
	rec.Progress = encodeJSON(progress)
	e.removeLive(rec.UserID, rec.TaskID)

	late, _ := progress["late"].(bool)
	completion := &store.CompletionRecord{
		UserID:      rec.UserID,
		TaskID:      rec.TaskID,
		TypeKey:     rec.TypeKey,
		CompletedAt: now,
		Late:        late,
	}
	if verifiedBy != 0 {
		completion.VerifiedBy.Valid = true
		completion.VerifiedBy.Int64 = verifiedBy
	}
	if err := e.st.RecordCompletion(completion); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}

	// A completion arriving while a review is still open closes it.
	if rev, revErr := e.st.OpenReview(rec.UserID, rec.TaskID); revErr == nil {
		if err := e.st.ResolveReview(rev.ReviewID, store.ReviewApproved, "", verifiedBy, now); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("close open review: %w", err)
		}
	}

	e.logger.InfoCtx("task completed", map[string]any{
		"user": rec.UserID,
		"task": rec.TaskID,
		"type": rec.TypeKey,
		"late": late,
	})
	e.hub.emit(Event{
		Kind: EventCompleted, UserID: rec.UserID, TaskID: rec.TaskID,
		Type: task.TypeKey(rec.TypeKey), At: now,
		Detail: map[string]any{"late": late},
	})

	if err := e.dispatchReward(rec, now); err != nil {
		return err
	}

	if def, defErr := task.GetDefinition(task.TypeKey(rec.TypeKey)); defErr == nil {
		e.notify(rec.UserID, fmt.Sprintf("Task complete: %s", def.Title))
	}
	return nil
}

// dispatchReward issues the definition's reward at most once per
// instance. The reward_records primary key carries the guarantee; a
// duplicate insert is a no-op, not an error.
func (e *Engine) dispatchReward(rec *store.InstanceRecord, now time.Time) error {
	def, err := task.GetDefinition(task.TypeKey(rec.TypeKey))
	if err != nil {
		return fmt.Errorf("reward lookup: %w", err)
	}

	inserted, err := e.st.InsertReward(&store.RewardRecord{
		UserID:      rec.UserID,
		TaskID:      rec.TaskID,
		RewardKind:  def.Reward.Kind(),
		RewardValue: def.Reward.Value(),
		AwardedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("dispatch reward: %w", err)
	}
	if !inserted {
		return nil
	}

	e.logger.InfoCtx("reward dispatched", map[string]any{
		"user":   rec.UserID,
		"task":   rec.TaskID,
		"reward": def.Reward.Kind(),
	})
	e.hub.emit(Event{
		Kind: EventRewarded, UserID: rec.UserID, TaskID: rec.TaskID,
		Type: task.TypeKey(rec.TypeKey), At: now,
		Detail: map[string]any{"kind": def.Reward.Kind(), "value": def.Reward.Value()},
	})
	if def.Reward.XP > 0 {
		e.notify(rec.UserID, fmt.Sprintf("You earned %d XP!", def.Reward.XP))
	}
	return nil
}

// Expire forces an instance past its deadline into the expired state.
func (e *Engine) Expire(userID int64, taskID string) error {
	rec, err := e.st.GetInstance(userID, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("load instance: %w", err)
	}
	if rec.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTaskTerminal, rec.State)
	}
	return e.expireRecord(rec)
}

func (e *Engine) expireRecord(rec *store.InstanceRecord) error {
	progress := rec.Progress
	if live := e.lookupLive(rec.UserID, rec.TaskID); live != nil {
		progress = encodeJSON(live.Progress())
	}

	won, err := e.st.TerminalTransition(rec.UserID, rec.TaskID, store.StateExpired, progress)
	if err != nil {
		return fmt.Errorf("persist expiry: %w", err)
	}
	if !won {
		// Lost the race to a concurrent completion or cancel; the
		// instance is already terminal and a stale expiry must not land.
		return nil
	}

	rec.State = store.StateExpired
	rec.Progress = progress
	e.removeLive(rec.UserID, rec.TaskID)

	now := e.now()
	e.logger.InfoCtx("task expired", map[string]any{
		"user": rec.UserID,
		"task": rec.TaskID,
		"type": rec.TypeKey,
	})
	e.hub.emit(Event{
		Kind: EventExpired, UserID: rec.UserID, TaskID: rec.TaskID,
		Type: task.TypeKey(rec.TypeKey), At: now,
	})

	if def, err := task.GetDefinition(task.TypeKey(rec.TypeKey)); err == nil {
		e.notify(rec.UserID, fmt.Sprintf("Task expired: %s", def.Title))
	}
	return nil
}

// SaveProgress implements task.Runtime: persists a plugin's current
// progress snapshot without touching its state.
func (e *Engine) SaveProgress(t task.Task) {
	inst := t.Instance()
	rec := recordFromInstance(inst, t.Progress())
	if err := e.st.UpsertInstance(rec); err != nil {
		e.logger.ErrorCtx("persist progress failed", map[string]any{
			"user":  inst.UserID,
			"task":  inst.TaskID,
			"error": err.Error(),
		})
	}
}

// Notify implements task.Runtime: sends a user-visible notice when
// notifications are enabled. Delivery failures are logged, never fatal.
func (e *Engine) Notify(userID int64, text string) {
	e.notify(userID, text)
}

func (e *Engine) notify(userID int64, text string) {
	if !e.config().Engine.Notify {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := e.client.SendMessage(ctx, userID, text); err != nil {
		e.logger.WarnCtx("notification failed", map[string]any{
			"user":  userID,
			"error": err.Error(),
		})
	}
}

func (e *Engine) now() time.Time {
	return e.clock()
}

func recordFromInstance(inst *task.Instance, progress map[string]any) *store.InstanceRecord {
	return &store.InstanceRecord{
		UserID:    inst.UserID,
		TaskID:    inst.TaskID,
		TypeKey:   string(inst.Type),
		Params:    encodeJSON(map[string]any(inst.Params)),
		Progress:  encodeJSON(progress),
		State:     string(inst.State),
		CreatedAt: inst.CreatedAt,
		ExpiresAt: inst.ExpiresAt,
	}
}

func encodeJSON(m map[string]any) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func decodeJSON(data []byte) map[string]any {
	m := make(map[string]any)
	if len(data) > 0 {
		_ = json.Unmarshal(data, &m)
	}
	return m
}
