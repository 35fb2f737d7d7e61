package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "json to file",
			cfg:     Config{Path: tmpDir, Level: "info", Format: "json"},
			wantErr: false,
		},
		{
			name:    "text format",
			cfg:     Config{Path: tmpDir, Level: "debug", Format: "text"},
			wantErr: false,
		},
		{
			name:    "invalid level",
			cfg:     Config{Path: tmpDir, Level: "loud"},
			wantErr: true,
		},
		{
			name:    "no path (stderr only)",
			cfg:     Config{Level: "info", Format: "json"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil && logger != nil {
				_ = logger.Close()
			}
		})
	}
}

func TestLoggerWritesFile(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := New(Config{Path: tmpDir, Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Debug("debug msg")
	logger.Infof("info %s", "formatted")
	logger.WarnCtx("warn ctx", map[string]any{"task_id": "t1"})
	logger.Error("error msg")

	logFile := filepath.Join(tmpDir, filePrefix+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	for _, want := range []string{"debug msg", "info formatted", "task_id", "error msg"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file missing %q", want)
		}
	}
}

func TestWithComponent(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := New(Config{Path: tmpDir, Level: "info", Format: "json"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.WithComponent("engine").Info("component msg")

	logFile := filepath.Join(tmpDir, filePrefix+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"component":"engine"`) {
		t.Error("component field missing from log output")
	}
}

func TestLogFiles(t *testing.T) {
	tmpDir := t.TempDir()

	names := []string{
		filePrefix + "2026-01-01.log",
		filePrefix + "2026-01-03.log",
		filePrefix + "2026-01-02.log",
		"unrelated.txt",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(tmpDir, n), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	logger := &Logger{logDir: tmpDir}
	files, err := logger.LogFiles()
	if err != nil {
		t.Fatalf("LogFiles() error: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("LogFiles() returned %d files, want 3", len(files))
	}
	if !strings.HasSuffix(files[0], "2026-01-03.log") {
		t.Errorf("LogFiles()[0] = %s, want newest first", files[0])
	}
}

func TestCleanOldLogs(t *testing.T) {
	tmpDir := t.TempDir()

	old := filePrefix + "2020-01-01.log"
	recent := filePrefix + time.Now().Format("2006-01-02") + ".log"
	for _, n := range []string{old, recent} {
		if err := os.WriteFile(filepath.Join(tmpDir, n), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	logger := &Logger{logDir: tmpDir}
	logger.cleanOldLogs(7)

	if _, err := os.Stat(filepath.Join(tmpDir, old)); !os.IsNotExist(err) {
		t.Error("old log file should have been removed")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, recent)); err != nil {
		t.Error("recent log file should have been kept")
	}
}

func TestSetLevel(t *testing.T) {
	if err := SetLevel("debug"); err != nil {
		t.Errorf("SetLevel(debug) error: %v", err)
	}
	if err := SetLevel("shout"); err == nil {
		t.Error("SetLevel(shout) should return error")
	}
}
