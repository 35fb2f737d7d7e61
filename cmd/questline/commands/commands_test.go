package commands

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aybkose/questline/internal/config"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"chat_id=-1001234", "keyword=merhaba", "exact=true"})
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	if params.Int64("chat_id") != -1001234 {
		t.Errorf("chat_id = %d, want -1001234", params.Int64("chat_id"))
	}
	if params.String("keyword") != "merhaba" {
		t.Errorf("keyword = %q", params.String("keyword"))
	}
	if !params.Bool("exact") {
		t.Error("exact should parse as bool")
	}
}

func TestParseParamsRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"noequals", "=value"} {
		if _, err := parseParams([]string{bad}); err == nil {
			t.Errorf("parseParams(%q) should fail", bad)
		}
	}
}

func TestFormatDetail(t *testing.T) {
	if got := formatDetail(nil); got != "" {
		t.Errorf("formatDetail(nil) = %q", got)
	}
	got := formatDetail(map[string]any{"xp": 50, "badge": "member"})
	if got != "badge=member xp=50" {
		t.Errorf("formatDetail = %q, want sorted key=value pairs", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := expandHome("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandHome(~/logs) = %q", got)
	}
	if got := expandHome("/var/log"); got != "/var/log" {
		t.Errorf("absolute path should pass through, got %q", got)
	}
}

func TestShortLevel(t *testing.T) {
	cases := map[string]string{
		"debug": "DBG", "info": "INF", "warn": "WRN", "error": "ERR",
		"fatal": "FAT", "x": "X",
	}
	for in, want := range cases {
		if got := shortLevel(in); got != want {
			t.Errorf("shortLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLastLines(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "questline-2026-01-01.log")
	newer := filepath.Join(dir, "questline-2026-01-02.log")
	os.WriteFile(older, []byte("a\nb\nc\n"), 0644)
	os.WriteFile(newer, []byte("d\ne\n"), 0644)

	// Newest first, as logFilesIn returns them.
	lines := lastLines([]string{newer, older}, 3)
	want := []string{"c", "d", "e"}
	if len(lines) != len(want) {
		t.Fatalf("lastLines returned %d lines, want %d", len(lines), len(want))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("lines[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	scenario := `
start: 2026-03-01T12:00:00Z
steps:
  - assign:
      user: 42
      type: keyword
      params:
        keyword: merhaba
  - event:
      kind: message
      user: 42
      text: "merhaba dostlarim"
  - advance: 2h
  - sweep: true
`
	if err := os.WriteFile(path, []byte(scenario), 0644); err != nil {
		t.Fatal(err)
	}

	sc, err := loadScenario(path)
	if err != nil {
		t.Fatalf("loadScenario: %v", err)
	}
	if !sc.start.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", sc.start)
	}
	if len(sc.Steps) != 4 {
		t.Fatalf("parsed %d steps, want 4", len(sc.Steps))
	}
	if sc.Steps[0].Assign == nil || sc.Steps[0].Assign.Type != "keyword" {
		t.Errorf("step 1 = %+v, want keyword assign", sc.Steps[0])
	}
	if sc.Steps[1].Event == nil || sc.Steps[1].Event.Text != "merhaba dostlarim" {
		t.Errorf("step 2 = %+v, want message event", sc.Steps[1])
	}
	if sc.Steps[2].Advance != "2h" {
		t.Errorf("step 3 advance = %q", sc.Steps[2].Advance)
	}
	if !sc.Steps[3].Sweep {
		t.Error("step 4 should be a sweep")
	}
}

func TestLoadScenarioRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("steps: []\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadScenario(path); err == nil {
		t.Fatal("empty scenario should be rejected")
	}
}

func TestSimulationReplay(t *testing.T) {
	cfg := &config.Config{}
	cfg.Engine.QueueSize = 16

	sim, err := newSimulation(cfg, filepath.Join(t.TempDir(), "sim.db"), time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("newSimulation: %v", err)
	}
	defer sim.close()

	steps := []simStep{
		{Assign: &simAssign{User: 42, Type: "keyword", Params: map[string]any{"keyword": "merhaba"}}},
		{Event: &simEvent{Kind: "message", User: 42, Text: "merhaba dostlarim"}},
	}
	for i, step := range steps {
		if err := sim.apply(context.Background(), step); err != nil {
			t.Fatalf("step %d: %v", i+1, err)
		}
	}

	completed, err := sim.eng.UserTasks(42, "completed")
	if err != nil {
		t.Fatalf("UserTasks: %v", err)
	}
	if len(completed) != 1 {
		t.Fatalf("completed %d tasks, want 1", len(completed))
	}
	if sim.eng.LiveCount() != 0 {
		t.Errorf("LiveCount = %d after completion", sim.eng.LiveCount())
	}
}

func TestSimulationAdvanceAndSweep(t *testing.T) {
	cfg := &config.Config{}
	cfg.Engine.QueueSize = 16

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sim, err := newSimulation(cfg, filepath.Join(t.TempDir(), "sim.db"), start)
	if err != nil {
		t.Fatalf("newSimulation: %v", err)
	}
	defer sim.close()

	steps := []simStep{
		{Assign: &simAssign{User: 42, Type: "keyword", Params: map[string]any{"keyword": "merhaba"}}},
		{Advance: "25h"}, // past the 24h default duration
		{Sweep: true},
	}
	for i, step := range steps {
		if err := sim.apply(context.Background(), step); err != nil {
			t.Fatalf("step %d: %v", i+1, err)
		}
	}

	expired, err := sim.eng.UserTasks(42, "expired")
	if err != nil {
		t.Fatalf("UserTasks: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expired %d tasks, want 1", len(expired))
	}
}

func TestSimulationTaskIndexOutOfRange(t *testing.T) {
	cfg := &config.Config{}
	cfg.Engine.QueueSize = 16

	sim, err := newSimulation(cfg, filepath.Join(t.TempDir(), "sim.db"), time.Now())
	if err != nil {
		t.Fatalf("newSimulation: %v", err)
	}
	defer sim.close()

	err = sim.apply(context.Background(), simStep{Complete: &simComplete{User: 42, Task: 0}})
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("err = %v, want index out of range", err)
	}
}
