package task

import (
	"strings"
	"sync"
	"time"

	"github.com/aybkose/questline/internal/dispatch"
	"github.com/aybkose/questline/internal/platform"
)

// TypeStreak is the daily-streak task type key.
const TypeStreak TypeKey = "streak"

func init() {
	Register(Definition{
		Type:            TypeStreak,
		Title:           "Keep the streak",
		Description:     "Send a qualifying message every day for the required run of days.",
		Reward:          Reward{XP: 150, Badge: "streak"},
		DefaultDuration: 14 * 24 * time.Hour,
		Cooldown:        14 * 24 * time.Hour,
		New:             newStreakTask,
	})
}

// streakTask requires one qualifying message per calendar day for N
// consecutive days. A missed day resets the run to the day that broke
// it.
type streakTask struct {
	Base

	days    int64
	keyword string
	chatID  int64

	progressMu sync.Mutex
	run        int64
	lastDay    string // YYYY-MM-DD of the latest counted day
}

func newStreakTask(inst *Instance) (Task, error) {
	days, err := inst.Params.RequireInt64("days")
	if err != nil {
		return nil, err
	}
	return &streakTask{
		Base:    NewBase(inst),
		days:    days,
		keyword: inst.Params.String("keyword"),
		chatID:  inst.Params.Int64("chat_id"),
	}, nil
}

func (t *streakTask) StartListening(rt Runtime) error {
	if !t.begin(rt) {
		return nil
	}
	t.listen(platform.EventMessage, dispatch.Scope{UserID: t.inst.UserID, ChatID: t.chatID}, t.onMessage)
	return nil
}

func (t *streakTask) onMessage(ev platform.Event) {
	if t.keyword != "" && !strings.Contains(strings.ToLower(ev.Text), strings.ToLower(t.keyword)) {
		return
	}

	rt := t.runtime()
	if rt == nil {
		return
	}
	at := ev.At
	if at.IsZero() {
		at = rt.Now()
	}
	day := at.UTC().Format("2006-01-02")

	t.progressMu.Lock()
	switch {
	case t.lastDay == day:
		// Already counted today.
		t.progressMu.Unlock()
		return
	case t.lastDay == prevDay(day):
		t.run++
	default:
		t.run = 1
	}
	t.lastDay = day
	done := t.run >= t.days
	t.progressMu.Unlock()

	if done {
		t.verify()
		return
	}
	t.save(t)
}

func prevDay(day string) string {
	at, err := time.Parse("2006-01-02", day)
	if err != nil {
		return ""
	}
	return at.AddDate(0, 0, -1).Format("2006-01-02")
}

func (t *streakTask) Progress() map[string]any {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()
	return map[string]any{"run": t.run, "last_day": t.lastDay}
}

func (t *streakTask) RestoreProgress(progress map[string]any) {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()
	t.run = Params(progress).Int64("run")
	t.lastDay = Params(progress).String("last_day")
}
