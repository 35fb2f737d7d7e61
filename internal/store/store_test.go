package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(userID int64, taskID, typeKey, state string) *InstanceRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &InstanceRecord{
		UserID:    userID,
		TaskID:    taskID,
		TypeKey:   typeKey,
		Params:    []byte(`{"chat_id":-100}`),
		Progress:  []byte(`{}`),
		State:     state,
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestMigrate(t *testing.T) {
	s := newTestStore(t)

	version, err := CurrentVersion(s.SQL())
	if err != nil {
		t.Fatalf("CurrentVersion() error: %v", err)
	}
	if version != migrations[len(migrations)-1].Version {
		t.Errorf("CurrentVersion() = %d, want %d", version, migrations[len(migrations)-1].Version)
	}

	// Re-running must be a no-op.
	if err := Migrate(s.SQL()); err != nil {
		t.Errorf("second Migrate() error: %v", err)
	}
}

func TestUpsertAndGetInstance(t *testing.T) {
	s := newTestStore(t)

	rec := testRecord(1, "t1", "channel_join", StateActive)
	if err := s.UpsertInstance(rec); err != nil {
		t.Fatalf("UpsertInstance() error: %v", err)
	}

	got, err := s.GetInstance(1, "t1")
	if err != nil {
		t.Fatalf("GetInstance() error: %v", err)
	}
	if got.TypeKey != "channel_join" || got.State != StateActive {
		t.Errorf("GetInstance() = %+v", got)
	}
	if !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, rec.ExpiresAt)
	}

	// Upsert again with new state and progress.
	rec.State = StateCompleted
	rec.Progress = []byte(`{"count":3}`)
	if err := s.UpsertInstance(rec); err != nil {
		t.Fatalf("second UpsertInstance() error: %v", err)
	}

	got, err = s.GetInstance(1, "t1")
	if err != nil {
		t.Fatalf("GetInstance() error: %v", err)
	}
	if got.State != StateCompleted {
		t.Errorf("State after upsert = %q, want completed", got.State)
	}
	if string(got.Progress) != `{"count":3}` {
		t.Errorf("Progress after upsert = %s", got.Progress)
	}
}

func TestGetInstanceNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetInstance(9, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetInstance() error = %v, want ErrNotFound", err)
	}
}

func TestHasActiveOfType(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertInstance(testRecord(1, "t1", "mention", StateActive)); err != nil {
		t.Fatal(err)
	}

	ok, err := s.HasActiveOfType(1, "mention")
	if err != nil {
		t.Fatalf("HasActiveOfType() error: %v", err)
	}
	if !ok {
		t.Error("HasActiveOfType() = false, want true for active instance")
	}

	// Pending review still counts as outstanding.
	if err := s.UpsertInstance(testRecord(2, "t2", "story_share", StatePendingReview)); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.HasActiveOfType(2, "story_share"); !ok {
		t.Error("pending_review instance should count as active-of-type")
	}

	// Terminal states do not.
	if err := s.UpsertInstance(testRecord(3, "t3", "mention", StateExpired)); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.HasActiveOfType(3, "mention"); ok {
		t.Error("expired instance should not count as active-of-type")
	}

	// Other users do not.
	if ok, _ := s.HasActiveOfType(4, "mention"); ok {
		t.Error("HasActiveOfType() must be user-scoped")
	}
}

func TestNonTerminalInstances(t *testing.T) {
	s := newTestStore(t)

	for _, rec := range []*InstanceRecord{
		testRecord(1, "a", "mention", StateActive),
		testRecord(1, "b", "pin", StateCompleted),
		testRecord(2, "c", "story_share", StatePendingReview),
		testRecord(2, "d", "forward", StateCancelled),
	} {
		if err := s.UpsertInstance(rec); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.NonTerminalInstances()
	if err != nil {
		t.Fatalf("NonTerminalInstances() error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("NonTerminalInstances() returned %d records, want 2", len(recs))
	}
}

func TestUserInstancesFilter(t *testing.T) {
	s := newTestStore(t)

	for _, rec := range []*InstanceRecord{
		testRecord(1, "a", "mention", StateActive),
		testRecord(1, "b", "pin", StateExpired),
		testRecord(2, "c", "mention", StateActive),
	} {
		if err := s.UpsertInstance(rec); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.UserInstances(1, "")
	if err != nil {
		t.Fatalf("UserInstances() error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("UserInstances(1) returned %d, want 2", len(all))
	}

	active, err := s.UserInstances(1, StateActive)
	if err != nil {
		t.Fatalf("UserInstances() error: %v", err)
	}
	if len(active) != 1 || active[0].TaskID != "a" {
		t.Errorf("UserInstances(1, active) = %+v", active)
	}
}

func TestInsertRewardExactlyOnce(t *testing.T) {
	s := newTestStore(t)

	rec := &RewardRecord{UserID: 1, TaskID: "t1", RewardKind: "xp", RewardValue: "50", AwardedAt: time.Now()}

	inserted, err := s.InsertReward(rec)
	if err != nil {
		t.Fatalf("InsertReward() error: %v", err)
	}
	if !inserted {
		t.Error("first InsertReward() = false, want true")
	}

	inserted, err = s.InsertReward(rec)
	if err != nil {
		t.Fatalf("second InsertReward() error: %v", err)
	}
	if inserted {
		t.Error("second InsertReward() = true, want false (exactly-once)")
	}

	if ok, _ := s.RewardExists(1, "t1"); !ok {
		t.Error("RewardExists() = false after insert")
	}

	got, err := s.GetReward(1, "t1")
	if err != nil {
		t.Fatalf("GetReward() error: %v", err)
	}
	if got.RewardKind != "xp" || got.RewardValue != "50" {
		t.Errorf("GetReward() = %+v", got)
	}
}

func TestReviewLifecycle(t *testing.T) {
	s := newTestStore(t)

	rec := &ReviewRecord{ReviewID: "r1", UserID: 1, TaskID: "t1", Evidence: "screenshot", SubmittedAt: time.Now()}
	if err := s.CreateReview(rec); err != nil {
		t.Fatalf("CreateReview() error: %v", err)
	}

	// A second open review for the same task must be rejected.
	dup := &ReviewRecord{ReviewID: "r2", UserID: 1, TaskID: "t1", SubmittedAt: time.Now()}
	if err := s.CreateReview(dup); err == nil {
		t.Error("CreateReview() should fail for a second open review of the same task")
	}

	open, err := s.OpenReview(1, "t1")
	if err != nil {
		t.Fatalf("OpenReview() error: %v", err)
	}
	if open.ReviewID != "r1" || open.Evidence != "screenshot" {
		t.Errorf("OpenReview() = %+v", open)
	}

	if err := s.ResolveReview("r1", ReviewRejected, "blurry", 99, time.Now()); err != nil {
		t.Fatalf("ResolveReview() error: %v", err)
	}

	if _, err := s.OpenReview(1, "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("OpenReview() after resolve = %v, want ErrNotFound", err)
	}

	// Resolving twice fails.
	if err := s.ResolveReview("r1", ReviewApproved, "", 99, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("second ResolveReview() = %v, want ErrNotFound", err)
	}

	// A new review can be opened once the previous one is resolved.
	if err := s.CreateReview(&ReviewRecord{ReviewID: "r3", UserID: 1, TaskID: "t1", SubmittedAt: time.Now()}); err != nil {
		t.Errorf("CreateReview() after resolve error: %v", err)
	}
}

func TestDailyCounters(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	for want := 1; want <= 3; want++ {
		n, err := s.IncrementDailyCount(7, day)
		if err != nil {
			t.Fatalf("IncrementDailyCount() error: %v", err)
		}
		if n != want {
			t.Errorf("IncrementDailyCount() = %d, want %d", n, want)
		}
	}

	n, err := s.DailyCount(7, day)
	if err != nil {
		t.Fatalf("DailyCount() error: %v", err)
	}
	if n != 3 {
		t.Errorf("DailyCount() = %d, want 3", n)
	}

	// Different day starts fresh.
	if n, _ := s.DailyCount(7, day.AddDate(0, 0, 1)); n != 0 {
		t.Errorf("DailyCount(next day) = %d, want 0", n)
	}

	removed, err := s.ResetDailyCounters()
	if err != nil {
		t.Fatalf("ResetDailyCounters() error: %v", err)
	}
	if removed != 1 {
		t.Errorf("ResetDailyCounters() = %d, want 1", removed)
	}
	if n, _ := s.DailyCount(7, day); n != 0 {
		t.Errorf("DailyCount() after reset = %d, want 0", n)
	}
}

func TestCompletions(t *testing.T) {
	s := newTestStore(t)
	at := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	rec := &CompletionRecord{UserID: 1, TaskID: "t1", TypeKey: "scheduled_post", CompletedAt: at, Late: true}
	if err := s.RecordCompletion(rec); err != nil {
		t.Fatalf("RecordCompletion() error: %v", err)
	}
	// Replay is ignored.
	if err := s.RecordCompletion(rec); err != nil {
		t.Errorf("replayed RecordCompletion() error: %v", err)
	}

	last, err := s.LastCompletion(1, "scheduled_post")
	if err != nil {
		t.Fatalf("LastCompletion() error: %v", err)
	}
	if !last.Equal(at) {
		t.Errorf("LastCompletion() = %v, want %v", last, at)
	}

	if last, _ := s.LastCompletion(1, "pin"); !last.IsZero() {
		t.Errorf("LastCompletion(pin) = %v, want zero", last)
	}

	history, err := s.UserCompletions(1)
	if err != nil {
		t.Fatalf("UserCompletions() error: %v", err)
	}
	if len(history) != 1 || !history[0].Late {
		t.Errorf("UserCompletions() = %+v", history)
	}

	admin := &CompletionRecord{UserID: 1, TaskID: "t2", TypeKey: "pin", CompletedAt: at, VerifiedBy: sql.NullInt64{Int64: 99, Valid: true}}
	if err := s.RecordCompletion(admin); err != nil {
		t.Fatalf("RecordCompletion(admin) error: %v", err)
	}
	history, _ = s.UserCompletions(1)
	if len(history) != 2 {
		t.Fatalf("UserCompletions() = %d records, want 2", len(history))
	}
}

func TestTerminalTransition(t *testing.T) {
	s := newTestStore(t)

	rec := testRecord(1, "t1", "button", StateActive)
	if err := s.UpsertInstance(rec); err != nil {
		t.Fatalf("UpsertInstance() error: %v", err)
	}

	won, err := s.TerminalTransition(1, "t1", StateCompleted, []byte(`{"done":true}`))
	if err != nil {
		t.Fatalf("TerminalTransition() error: %v", err)
	}
	if !won {
		t.Fatal("TerminalTransition() = false on an active instance, want true")
	}

	// A second terminal writer loses and must not touch the row.
	won, err = s.TerminalTransition(1, "t1", StateExpired, []byte(`{}`))
	if err != nil {
		t.Fatalf("second TerminalTransition() error: %v", err)
	}
	if won {
		t.Fatal("TerminalTransition() = true on a terminal instance, want false")
	}

	got, err := s.GetInstance(1, "t1")
	if err != nil {
		t.Fatalf("GetInstance() error: %v", err)
	}
	if got.State != StateCompleted {
		t.Errorf("State = %q after lost transition, want completed", got.State)
	}
	if string(got.Progress) != `{"done":true}` {
		t.Errorf("Progress = %s, want the winner's progress", got.Progress)
	}
}

func TestTerminalTransitionFromPendingReview(t *testing.T) {
	s := newTestStore(t)

	rec := testRecord(2, "t2", "story_share", StatePendingReview)
	if err := s.UpsertInstance(rec); err != nil {
		t.Fatalf("UpsertInstance() error: %v", err)
	}

	won, err := s.TerminalTransition(2, "t2", StateCancelled, nil)
	if err != nil {
		t.Fatalf("TerminalTransition() error: %v", err)
	}
	if !won {
		t.Fatal("TerminalTransition() = false on a pending_review instance, want true")
	}
	got, err := s.GetInstance(2, "t2")
	if err != nil {
		t.Fatalf("GetInstance() error: %v", err)
	}
	if got.State != StateCancelled {
		t.Errorf("State = %q, want cancelled", got.State)
	}
}
