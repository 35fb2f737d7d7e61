package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestNewDefaults(t *testing.T) {
	m := New()
	if m.activePanel != PanelFeed {
		t.Errorf("default panel = %v, want PanelFeed", m.activePanel)
	}
	if len(m.feed) != 0 {
		t.Errorf("feed should start empty")
	}
	if m.styles == nil {
		t.Error("styles not initialized")
	}
}

func TestAddEventCounters(t *testing.T) {
	m := New()
	kinds := []string{
		"assigned", "assigned", "completed", "expired",
		"cancelled", "rewarded", "review_submitted", "review_resolved",
	}
	for _, kind := range kinds {
		m.AddEvent(FeedEntry{Time: time.Now(), Kind: kind, UserID: 7})
	}

	c := m.counters
	if c.Assigned != 2 || c.Completed != 1 || c.Expired != 1 || c.Cancelled != 1 || c.Rewarded != 1 || c.Reviews != 2 {
		t.Errorf("counters = %+v", c)
	}
	if len(m.feed) != len(kinds) {
		t.Errorf("feed length = %d, want %d", len(m.feed), len(kinds))
	}
}

func TestFeedFollowsTail(t *testing.T) {
	m := New()
	for i := 0; i < 10; i++ {
		m.AddEvent(FeedEntry{Time: time.Now(), Kind: "assigned"})
	}
	if m.feedScroll != len(m.feed)-1 {
		t.Errorf("feedScroll = %d, want %d", m.feedScroll, len(m.feed)-1)
	}
}

func TestUpdateEventMsg(t *testing.T) {
	m := New()
	updated, _ := m.Update(EventMsg{Time: time.Now(), Kind: "completed", UserID: 7, Type: "keyword"})
	got := updated.(Model)
	if got.counters.Completed != 1 {
		t.Errorf("completed counter = %d, want 1", got.counters.Completed)
	}

	updated, _ = got.Update(LiveCountMsg(5))
	got = updated.(Model)
	if got.engineLive != 5 {
		t.Errorf("engineLive = %d, want 5", got.engineLive)
	}
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []string{"q", "ctrl+c"} {
		m := New()
		var msg tea.KeyMsg
		if key == "ctrl+c" {
			msg = tea.KeyMsg{Type: tea.KeyCtrlC}
		} else {
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
		}
		updated, cmd := m.Update(msg)
		if !updated.(Model).quitting {
			t.Errorf("key %q did not set quitting", key)
		}
		if cmd == nil {
			t.Errorf("key %q returned no quit command", key)
		}
	}
}

func TestViewRenders(t *testing.T) {
	m := New()
	m.width = 100
	m.height = 30
	m.AddEvent(FeedEntry{Time: time.Now(), Kind: "assigned", UserID: 7, Type: "channel_join"})
	m.AddEvent(FeedEntry{Time: time.Now(), Kind: "completed", UserID: 7, Type: "channel_join", Detail: "late=false"})

	view := m.View()
	if view == "" {
		t.Fatal("View returned empty output")
	}
	if !strings.Contains(view, "Questline Engine") {
		t.Error("view missing stats title")
	}
	if !strings.Contains(view, "Events") {
		t.Error("view missing feed title")
	}
}

func TestViewEmptyFeed(t *testing.T) {
	m := New()
	m.width = 80
	m.height = 24
	if !strings.Contains(m.View(), "Waiting for engine events") {
		t.Error("empty feed placeholder missing")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{49 * time.Hour, "2d"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
