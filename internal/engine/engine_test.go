package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aybkose/questline/internal/config"
	"github.com/aybkose/questline/internal/dispatch"
	"github.com/aybkose/questline/internal/platform"
	"github.com/aybkose/questline/internal/store"
	"github.com/aybkose/questline/internal/task"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	eng    *Engine
	st     *store.Store
	bus    *dispatch.Bus
	client *platform.Fake
	clock  *testClock
	cfg    *config.Config

	mu     sync.Mutex
	events []Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "questline.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		st:     st,
		bus:    dispatch.New(16),
		client: platform.NewFake(),
		clock:  newTestClock(),
		cfg:    &config.Config{},
	}
	f.cfg.Engine.Notify = true
	f.eng = New(st, f.bus, f.client, f.cfg, WithClock(f.clock.Now))
	f.eng.OnEvent(func(ev Event) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	})
	return f
}

func (f *fixture) eventCount(kind EventKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (f *fixture) mustAssign(t *testing.T, userID int64, key task.TypeKey, params task.Params) *task.Instance {
	t.Helper()
	inst, err := f.eng.Assign(userID, key, params)
	if err != nil {
		t.Fatalf("Assign(%s): %v", key, err)
	}
	return inst
}

func (f *fixture) state(t *testing.T, userID int64, taskID string) string {
	t.Helper()
	rec, err := f.st.GetInstance(userID, taskID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	return rec.State
}

func TestAssignVerifyReward(t *testing.T) {
	f := newFixture(t)
	inst := f.mustAssign(t, 7, task.TypeKeyword, task.Params{"keyword": "merhaba"})

	if got := f.state(t, 7, inst.TaskID); got != store.StateActive {
		t.Fatalf("state after assign = %s", got)
	}
	if f.eng.LiveCount() != 1 {
		t.Fatalf("live count = %d, want 1", f.eng.LiveCount())
	}

	f.bus.Dispatch(platform.Event{Kind: platform.EventMessage, UserID: 7, Text: "merhaba!"})

	if got := f.state(t, 7, inst.TaskID); got != store.StateCompleted {
		t.Fatalf("state after event = %s, want completed", got)
	}
	if f.eng.LiveCount() != 0 {
		t.Fatal("completed instance should leave the live set")
	}
	if f.bus.Subscriptions() != 0 {
		t.Fatal("completed instance should release its subscriptions")
	}

	reward, err := f.st.GetReward(7, inst.TaskID)
	if err != nil {
		t.Fatalf("GetReward: %v", err)
	}
	if reward.RewardKind != "xp" {
		t.Fatalf("reward kind = %q", reward.RewardKind)
	}
	if f.eventCount(EventCompleted) != 1 || f.eventCount(EventRewarded) != 1 {
		t.Fatalf("events: completed=%d rewarded=%d", f.eventCount(EventCompleted), f.eventCount(EventRewarded))
	}
}

func TestVerifyIdempotent(t *testing.T) {
	f := newFixture(t)
	inst := f.mustAssign(t, 7, task.TypeButton, task.Params{"token": "tok"})

	// The same satisfying event delivered twice.
	f.bus.Dispatch(platform.Event{Kind: platform.EventCallback, UserID: 7, Token: "tok"})
	f.eng.Verify(7, inst.TaskID)
	f.eng.Verify(7, inst.TaskID)

	rewards, err := f.st.UserRewards(7)
	if err != nil {
		t.Fatalf("UserRewards: %v", err)
	}
	if len(rewards) != 1 {
		t.Fatalf("rewards = %d, want exactly 1", len(rewards))
	}
	if f.eventCount(EventCompleted) != 1 {
		t.Fatalf("completed events = %d, want 1", f.eventCount(EventCompleted))
	}
}

func TestVerifyUnknownTaskIsNoop(t *testing.T) {
	f := newFixture(t)
	f.eng.Verify(7, "no-such-task")
	if f.eventCount(EventCompleted) != 0 {
		t.Fatal("unknown task must not complete anything")
	}
}

func TestConflictingAssignment(t *testing.T) {
	f := newFixture(t)
	f.mustAssign(t, 7, task.TypeKeyword, task.Params{"keyword": "a"})

	_, err := f.eng.Assign(7, task.TypeKeyword, task.Params{"keyword": "b"})
	if !errors.Is(err, ErrConflictingAssignment) {
		t.Fatalf("second assign err = %v, want ErrConflictingAssignment", err)
	}

	// A different user is unaffected.
	f.mustAssign(t, 8, task.TypeKeyword, task.Params{"keyword": "b"})
}

func TestAssignUnknownType(t *testing.T) {
	f := newFixture(t)
	if _, err := f.eng.Assign(7, "no_such_type", nil); !errors.Is(err, ErrDefinitionNotFound) {
		t.Fatalf("err = %v, want ErrDefinitionNotFound", err)
	}
}

func TestAssignDisabledType(t *testing.T) {
	f := newFixture(t)
	f.cfg.Tasks.Enabled = []string{"button"}
	if _, err := f.eng.Assign(7, task.TypeKeyword, task.Params{"keyword": "a"}); !errors.Is(err, ErrDefinitionNotFound) {
		t.Fatalf("disabled assign err = %v, want ErrDefinitionNotFound", err)
	}
	f.mustAssign(t, 7, task.TypeButton, task.Params{"token": "tok"})
}

func TestAssignBadParams(t *testing.T) {
	f := newFixture(t)
	if _, err := f.eng.Assign(7, task.TypeChannelJoin, task.Params{}); err == nil {
		t.Fatal("expected constructor error for missing chat_id")
	}
	// A failed assignment must leave nothing behind.
	tasks, err := f.eng.UserTasks(7, "")
	if err != nil {
		t.Fatalf("UserTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("instances after failed assign = %d, want 0", len(tasks))
	}
}

func TestDailyLimit(t *testing.T) {
	f := newFixture(t)
	f.cfg.Engine.DailyLimit = 2

	f.mustAssign(t, 7, task.TypeButton, task.Params{"token": "a"})
	f.mustAssign(t, 7, task.TypeKeyword, task.Params{"keyword": "b"})

	_, err := f.eng.Assign(7, task.TypeMention, task.Params{"mention": "bot"})
	if !errors.Is(err, ErrDailyLimit) {
		t.Fatalf("third assign err = %v, want ErrDailyLimit", err)
	}

	if _, err := f.eng.ResetDailyLimits(); err != nil {
		t.Fatalf("ResetDailyLimits: %v", err)
	}
	f.mustAssign(t, 7, task.TypeMention, task.Params{"mention": "bot"})
}

func TestCooldown(t *testing.T) {
	f := newFixture(t)
	f.cfg.Tasks.Cooldowns = map[string]time.Duration{"button": time.Hour}

	inst := f.mustAssign(t, 7, task.TypeButton, task.Params{"token": "tok"})
	f.bus.Dispatch(platform.Event{Kind: platform.EventCallback, UserID: 7, Token: "tok"})
	if got := f.state(t, 7, inst.TaskID); got != store.StateCompleted {
		t.Fatalf("state = %s, want completed", got)
	}

	if _, err := f.eng.Assign(7, task.TypeButton, task.Params{"token": "tok2"}); !errors.Is(err, ErrConflictingAssignment) {
		t.Fatalf("assign inside cooldown err = %v, want ErrConflictingAssignment", err)
	}

	f.clock.Advance(2 * time.Hour)
	f.mustAssign(t, 7, task.TypeButton, task.Params{"token": "tok3"})
}

func TestSweepExpires(t *testing.T) {
	f := newFixture(t)
	inst := f.mustAssign(t, 7, task.TypeKeyword, task.Params{"keyword": "merhaba"})

	f.clock.Advance(25 * time.Hour) // past the 24h default duration
	if n := f.eng.Sweep(context.Background(), f.clock.Now()); n != 1 {
		t.Fatalf("sweep expired %d, want 1", n)
	}

	if got := f.state(t, 7, inst.TaskID); got != store.StateExpired {
		t.Fatalf("state after sweep = %s, want expired", got)
	}
	if f.bus.Subscriptions() != 0 {
		t.Fatal("expired instance should release its subscriptions")
	}

	// A satisfying event arriving after expiry changes nothing.
	f.bus.Dispatch(platform.Event{Kind: platform.EventMessage, UserID: 7, Text: "merhaba"})
	if got := f.state(t, 7, inst.TaskID); got != store.StateExpired {
		t.Fatalf("state after late event = %s, want expired", got)
	}
	if exists, _ := f.st.RewardExists(7, inst.TaskID); exists {
		t.Fatal("expired task must not be rewarded")
	}

	// The user hears about the expiry.
	found := false
	for _, m := range f.client.SentTo(7) {
		if strings.Contains(m.Text, "expired") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an expiry notification")
	}
}

func TestVerifyRaceWithDeadline(t *testing.T) {
	f := newFixture(t)
	inst := f.mustAssign(t, 7, task.TypeButton, task.Params{"token": "tok"})

	// The deadline passes before the sweep runs; a verification arriving
	// in that gap expires the instance rather than completing it.
	f.clock.Advance(13 * time.Hour)
	err := f.eng.ManuallyVerify(7, inst.TaskID, 1)
	if !errors.Is(err, ErrTaskExpired) {
		t.Fatalf("err = %v, want ErrTaskExpired", err)
	}
	if got := f.state(t, 7, inst.TaskID); got != store.StateExpired {
		t.Fatalf("state = %s, want expired", got)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	inst := f.mustAssign(t, 7, task.TypeKeyword, task.Params{"keyword": "a"})

	if err := f.eng.Cancel(7, inst.TaskID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := f.state(t, 7, inst.TaskID); got != store.StateCancelled {
		t.Fatalf("state = %s, want cancelled", got)
	}
	if f.bus.Subscriptions() != 0 {
		t.Fatal("cancelled instance should release its subscriptions")
	}

	if err := f.eng.Cancel(7, inst.TaskID); !errors.Is(err, ErrTaskTerminal) {
		t.Fatalf("second cancel err = %v, want ErrTaskTerminal", err)
	}
	if err := f.eng.Cancel(7, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("cancel missing err = %v, want ErrTaskNotFound", err)
	}
}

func TestManuallyVerify(t *testing.T) {
	f := newFixture(t)
	inst := f.mustAssign(t, 7, task.TypeKeyword, task.Params{"keyword": "never-sent"})

	if err := f.eng.ManuallyVerify(7, inst.TaskID, 99); err != nil {
		t.Fatalf("ManuallyVerify: %v", err)
	}
	if got := f.state(t, 7, inst.TaskID); got != store.StateCompleted {
		t.Fatalf("state = %s, want completed", got)
	}

	completions, err := f.st.UserCompletions(7)
	if err != nil {
		t.Fatalf("UserCompletions: %v", err)
	}
	if len(completions) != 1 || !completions[0].VerifiedBy.Valid || completions[0].VerifiedBy.Int64 != 99 {
		t.Fatalf("completion verified_by not recorded: %+v", completions)
	}

	// Idempotent for already-completed instances.
	if err := f.eng.ManuallyVerify(7, inst.TaskID, 99); err != nil {
		t.Fatalf("second ManuallyVerify: %v", err)
	}
	if err := f.eng.ManuallyVerify(7, "missing", 99); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("missing task err = %v, want ErrTaskNotFound", err)
	}
}

func TestReviewFlow(t *testing.T) {
	f := newFixture(t)
	inst := f.mustAssign(t, 7, task.TypeStoryShare, nil)

	if err := f.eng.SubmitEvidence(7, inst.TaskID, "screenshot-url"); err != nil {
		t.Fatalf("SubmitEvidence: %v", err)
	}
	if got := f.state(t, 7, inst.TaskID); got != store.StatePendingReview {
		t.Fatalf("state = %s, want pending_review", got)
	}

	// Resubmission while pending is a no-op, not a second review.
	if err := f.eng.SubmitEvidence(7, inst.TaskID, "again"); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	reviews, err := f.eng.PendingReviews()
	if err != nil {
		t.Fatalf("PendingReviews: %v", err)
	}
	if len(reviews) != 1 {
		t.Fatalf("open reviews = %d, want 1", len(reviews))
	}

	// Rejection returns the instance to active with a fresh review slot.
	if err := f.eng.AdminReview(reviews[0].ReviewID, false, "blurry screenshot", 99); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got := f.state(t, 7, inst.TaskID); got != store.StateActive {
		t.Fatalf("state after reject = %s, want active", got)
	}
	rejected := false
	for _, m := range f.client.SentTo(7) {
		if strings.Contains(m.Text, "blurry screenshot") {
			rejected = true
		}
	}
	if !rejected {
		t.Fatal("expected a rejection notice carrying the reason")
	}

	// Second attempt approved.
	if err := f.eng.SubmitEvidence(7, inst.TaskID, "better-screenshot"); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	reviews, err = f.eng.PendingReviews()
	if err != nil || len(reviews) != 1 {
		t.Fatalf("reviews after resubmit: %v %d", err, len(reviews))
	}
	if err := f.eng.AdminReview(reviews[0].ReviewID, true, "", 99); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := f.state(t, 7, inst.TaskID); got != store.StateCompleted {
		t.Fatalf("state after approve = %s, want completed", got)
	}
	if exists, _ := f.st.RewardExists(7, inst.TaskID); !exists {
		t.Fatal("approved review must dispatch the reward")
	}
}

func TestAdminReviewUnknown(t *testing.T) {
	f := newFixture(t)
	if err := f.eng.AdminReview("no-such-review", true, "", 99); !errors.Is(err, ErrReviewNotFound) {
		t.Fatalf("err = %v, want ErrReviewNotFound", err)
	}
}

func TestSubmitEvidenceAutomaticType(t *testing.T) {
	f := newFixture(t)
	inst := f.mustAssign(t, 7, task.TypeKeyword, task.Params{"keyword": "a"})
	if err := f.eng.SubmitEvidence(7, inst.TaskID, "x"); err == nil {
		t.Fatal("event-only types must reject evidence claims")
	}
}

func TestSubmitEvidenceCheckNow(t *testing.T) {
	f := newFixture(t)
	inst := f.mustAssign(t, 7, task.TypeReaction, task.Params{
		"chat_id": int64(-100), "message_id": int64(5), "emoji": "🔥",
	})

	f.client.SetReaction(-100, 5, "🔥", 7)
	if err := f.eng.SubmitEvidence(7, inst.TaskID, ""); err != nil {
		t.Fatalf("SubmitEvidence: %v", err)
	}
	if got := f.state(t, 7, inst.TaskID); got != store.StateCompleted {
		t.Fatalf("state = %s, want completed", got)
	}
}

func TestRecovery(t *testing.T) {
	f := newFixture(t)
	inst := f.mustAssign(t, 7, task.TypeMention, task.Params{"mention": "bot", "min_count": int64(2)})
	expiring := f.mustAssign(t, 7, task.TypeButton, task.Params{"token": "tok"})

	// Partial progress lands in storage before the restart.
	f.bus.Dispatch(platform.Event{Kind: platform.EventMessage, UserID: 7, Text: "hi @bot"})
	if got := f.state(t, 7, inst.TaskID); got != store.StateActive {
		t.Fatalf("state = %s, want active", got)
	}

	// Simulated restart: fresh bus and engine over the same store. The
	// button task's 12h deadline has passed by then.
	clock := newTestClock()
	clock.Advance(13 * time.Hour)
	bus := dispatch.New(16)
	eng := New(f.st, bus, f.client, f.cfg, WithClock(clock.Now))

	recovered, err := eng.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("recovered = %d, want 1", recovered)
	}
	if got := f.state(t, 7, expiring.TaskID); got != store.StateExpired {
		t.Fatalf("stale instance state = %s, want expired", got)
	}

	// The restored counter continues from 1, so a single further mention
	// completes the task.
	bus.Dispatch(platform.Event{Kind: platform.EventMessage, UserID: 7, Text: "@bot again"})
	if got := f.state(t, 7, inst.TaskID); got != store.StateCompleted {
		t.Fatalf("state after restart event = %s, want completed", got)
	}
}

func TestSweepDrivesRecheck(t *testing.T) {
	f := newFixture(t)
	inst := f.mustAssign(t, 7, task.TypeChannelJoin, task.Params{
		"chat_id": int64(-100), "min_duration": int64(3600),
	})

	f.client.SetMember(-100, 7, true)
	f.bus.Dispatch(platform.Event{Kind: platform.EventMemberJoined, UserID: 7, ChatID: -100, At: f.clock.Now()})

	f.eng.Sweep(context.Background(), f.clock.Now())
	if got := f.state(t, 7, inst.TaskID); got != store.StateActive {
		t.Fatalf("state before hold elapsed = %s, want active", got)
	}

	f.clock.Advance(2 * time.Hour)
	f.eng.Sweep(context.Background(), f.clock.Now())
	if got := f.state(t, 7, inst.TaskID); got != store.StateCompleted {
		t.Fatalf("state after hold elapsed = %s, want completed", got)
	}
}

func TestLateScheduledPostFlag(t *testing.T) {
	f := newFixture(t)
	scheduled := f.clock.Now().Add(time.Hour)
	inst := f.mustAssign(t, 7, task.TypeScheduledPost, task.Params{
		"scheduled_at": scheduled.Format(time.RFC3339),
		"window":       int64(600),
	})

	f.bus.Dispatch(platform.Event{
		Kind: platform.EventMessage, UserID: 7, Text: "posting",
		At: scheduled.Add(2 * time.Hour),
	})

	completions, err := f.st.UserCompletions(7)
	if err != nil {
		t.Fatalf("UserCompletions: %v", err)
	}
	if len(completions) != 1 || !completions[0].Late {
		t.Fatalf("late flag not recorded: %+v", completions)
	}
	if got := f.state(t, 7, inst.TaskID); got != store.StateCompleted {
		t.Fatalf("state = %s, want completed", got)
	}
}

func TestAssignFactory(t *testing.T) {
	f := newFixture(t)
	f.cfg.Tasks.Templates = []config.TaskTemplate{
		{Type: "button", Params: map[string]any{"token": "tok"}},
		{Type: "keyword", Params: map[string]any{"keyword": "merhaba"}},
	}

	first, err := f.eng.AssignRandom(7)
	if err != nil {
		t.Fatalf("AssignRandom: %v", err)
	}
	second, err := f.eng.AssignRandom(7)
	if err != nil {
		t.Fatalf("second AssignRandom: %v", err)
	}
	if first.Type == second.Type {
		t.Fatalf("both assignments picked %s; conflicts should narrow the pool", first.Type)
	}
	if _, err := f.eng.AssignRandom(7); err == nil {
		t.Fatal("exhausted pool should fail")
	}

	if _, err := f.eng.AssignByKey(8, task.TypeButton); err != nil {
		t.Fatalf("AssignByKey: %v", err)
	}
}

func TestNotificationsDisabled(t *testing.T) {
	f := newFixture(t)
	f.cfg.Engine.Notify = false

	inst := f.mustAssign(t, 7, task.TypeButton, task.Params{"token": "tok"})
	f.bus.Dispatch(platform.Event{Kind: platform.EventCallback, UserID: 7, Token: "tok"})
	if got := f.state(t, 7, inst.TaskID); got != store.StateCompleted {
		t.Fatalf("state = %s, want completed", got)
	}
	if len(f.client.Sent()) != 0 {
		t.Fatalf("notifications sent while disabled: %v", f.client.Sent())
	}
}

func TestNotificationFailureDoesNotBlockCompletion(t *testing.T) {
	f := newFixture(t)
	f.client.FailSends(errors.New("network down"))

	inst := f.mustAssign(t, 7, task.TypeButton, task.Params{"token": "tok"})
	f.bus.Dispatch(platform.Event{Kind: platform.EventCallback, UserID: 7, Token: "tok"})
	if got := f.state(t, 7, inst.TaskID); got != store.StateCompleted {
		t.Fatalf("state = %s, want completed despite send failures", got)
	}
	if exists, _ := f.st.RewardExists(7, inst.TaskID); !exists {
		t.Fatal("reward must land despite notification failure")
	}
}

func TestAssignDurationParam(t *testing.T) {
	f := newFixture(t)

	inst := f.mustAssign(t, 7, task.TypeButton, task.Params{"token": "tok", "duration": 3600})
	want := f.clock.Now().Add(time.Hour)
	if !inst.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", inst.ExpiresAt, want)
	}

	f.clock.Advance(61 * time.Minute)
	f.eng.Sweep(context.Background(), f.clock.Now())
	if got := f.state(t, 7, inst.TaskID); got != store.StateExpired {
		t.Fatalf("state = %s, want expired after the shortened deadline", got)
	}
}

func TestStaleExpiryCannotOverwriteCompletion(t *testing.T) {
	f := newFixture(t)
	inst := f.mustAssign(t, 7, task.TypeButton, task.Params{"token": "tok"})

	// Snapshot the record as a sweep would see it just before the event
	// path wins the race to the terminal state.
	stale, err := f.st.GetInstance(7, inst.TaskID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}

	f.bus.Dispatch(platform.Event{Kind: platform.EventCallback, UserID: 7, Token: "tok"})
	if got := f.state(t, 7, inst.TaskID); got != store.StateCompleted {
		t.Fatalf("state = %s, want completed", got)
	}

	if err := f.eng.expireRecord(stale); err != nil {
		t.Fatalf("expireRecord on stale snapshot: %v", err)
	}
	if got := f.state(t, 7, inst.TaskID); got != store.StateCompleted {
		t.Fatalf("state = %s after stale expiry, want completed", got)
	}
	if exists, _ := f.st.RewardExists(7, inst.TaskID); !exists {
		t.Fatal("reward must survive a stale expiry")
	}
	if n := f.eventCount(EventExpired); n != 0 {
		t.Fatalf("emitted %d expired events for a completed task", n)
	}
}

func TestStaleCompletionCannotOverwriteExpiry(t *testing.T) {
	f := newFixture(t)
	inst := f.mustAssign(t, 7, task.TypeButton, task.Params{"token": "tok"})

	stale, err := f.st.GetInstance(7, inst.TaskID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if err := f.eng.Expire(7, inst.TaskID); err != nil {
		t.Fatalf("Expire: %v", err)
	}

	if err := f.eng.complete(stale, 0); !errors.Is(err, ErrTaskTerminal) {
		t.Fatalf("complete on expired instance: err = %v, want ErrTaskTerminal", err)
	}
	if got := f.state(t, 7, inst.TaskID); got != store.StateExpired {
		t.Fatalf("state = %s, want expired", got)
	}
	if exists, _ := f.st.RewardExists(7, inst.TaskID); exists {
		t.Fatal("no reward may land for an expired task")
	}
}

func TestFailedCompletionPersistKeepsListeners(t *testing.T) {
	f := newFixture(t)
	inst := f.mustAssign(t, 7, task.TypeButton, task.Params{"token": "tok"})

	rec, err := f.st.GetInstance(7, inst.TaskID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	_ = f.st.Close()

	if err := f.eng.complete(rec, 0); err == nil {
		t.Fatal("complete should fail once the store is down")
	}
	if f.eng.LiveCount() != 1 {
		t.Fatalf("live count = %d after failed persist, want 1", f.eng.LiveCount())
	}
	if f.bus.Subscriptions() == 0 {
		t.Fatal("subscriptions released even though the instance is still active")
	}
}

func TestCancelClosesOpenReview(t *testing.T) {
	f := newFixture(t)
	inst := f.mustAssign(t, 7, task.TypeStoryShare, nil)

	if err := f.eng.SubmitEvidence(7, inst.TaskID, "screenshot-url"); err != nil {
		t.Fatalf("SubmitEvidence: %v", err)
	}
	reviews, err := f.eng.PendingReviews()
	if err != nil || len(reviews) != 1 {
		t.Fatalf("pending reviews before cancel: %v %d", err, len(reviews))
	}
	reviewID := reviews[0].ReviewID

	if err := f.eng.Cancel(7, inst.TaskID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := f.state(t, 7, inst.TaskID); got != store.StateCancelled {
		t.Fatalf("state = %s, want cancelled", got)
	}

	reviews, err = f.eng.PendingReviews()
	if err != nil {
		t.Fatalf("PendingReviews: %v", err)
	}
	if len(reviews) != 0 {
		t.Fatalf("pending reviews after cancel = %d, want 0", len(reviews))
	}
	if err := f.eng.AdminReview(reviewID, true, "", 99); !errors.Is(err, ErrReviewNotFound) {
		t.Fatalf("approve of a cancelled task's review: err = %v, want ErrReviewNotFound", err)
	}
}
