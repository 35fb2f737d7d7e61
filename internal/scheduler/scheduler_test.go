package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"interval", Config{Interval: time.Second}, false},
		{"cron", Config{Cron: "0 3 * * *"}, false},
		{"cron wins over interval", Config{Cron: "*/5 * * * *", Interval: time.Hour}, false},
		{"nothing configured", Config{}, true},
		{"bad cron", Config{Cron: "not a spec"}, true},
		{"negative interval", Config{Interval: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStopWithoutStart(t *testing.T) {
	s, err := NewFromConfig(Config{Interval: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() = %v, want ErrNotRunning", err)
	}
}

func TestJobRuns(t *testing.T) {
	s, err := NewFromConfig(Config{Interval: 100 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	var runs atomic.Int32
	s.AddJob(func(context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(20 * time.Millisecond):
		}
	}

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error: %v", err)
	}
}

func TestNextRun(t *testing.T) {
	s, err := NewFromConfig(Config{Interval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}

	if !s.NextRun().IsZero() {
		t.Error("NextRun() before Start should be zero")
	}

	s.AddJob(func(context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Stop() }()

	next := s.NextRun()
	if next.IsZero() || next.Before(time.Now()) {
		t.Errorf("NextRun() = %v, want a future time", next)
	}
}
