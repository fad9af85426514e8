package logger

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WithValidConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "valid json config stdout",
			config: Config{
				Level:  "debug",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "valid text config stderr",
			config: Config{
				Level:  "info",
				Format: "text",
				Output: "stderr",
			},
			wantErr: false,
		},
		{
			name: "invalid level",
			config: Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name: "invalid format",
			config: Config{
				Level:  "debug",
				Format: "xml",
				Output: "stdout",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("New() returned nil logger without error")
			}
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "schedbot.log")

	logger, err := New(Config{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("job firing started", Field{Key: "job_id", Value: "daily-report"})
	logger.Error("job firing failed", errors.New("boom"), Field{Key: "job_id", Value: "daily-report"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("first line is not JSON: %v", err)
	}
	if record["msg"] != "job firing started" {
		t.Errorf("unexpected msg: %v", record["msg"])
	}
	if record["job_id"] != "daily-report" {
		t.Errorf("unexpected job_id: %v", record["job_id"])
	}

	if err := json.Unmarshal([]byte(lines[1]), &record); err != nil {
		t.Fatalf("second line is not JSON: %v", err)
	}
	if record["msg"] != "job firing failed" {
		t.Errorf("unexpected msg: %v", record["msg"])
	}
	if _, ok := record["error"]; !ok {
		t.Errorf("expected an error field, got %v", record)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filtered.log")

	logger, err := New(Config{Level: "warn", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Debug("hidden")
	logger.Info("also hidden")
	logger.Warn("visible")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %s", len(lines), data)
	}
	if !strings.Contains(lines[0], "visible") {
		t.Errorf("expected warn record, got %s", lines[0])
	}
}

func TestLogger_With(t *testing.T) {
	path := filepath.Join(t.TempDir(), "with.log")

	logger, err := New(Config{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	scoped := logger.With(Field{Key: "session_id", Value: "s1"})
	scoped.Info("run started")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if record["session_id"] != "s1" {
		t.Errorf("expected attached session_id field, got %v", record)
	}
}

func TestParseLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "Info"} {
		if _, ok := parseLevel(level); !ok {
			t.Errorf("parseLevel(%q) should be valid", level)
		}
	}
	if _, ok := parseLevel("trace"); ok {
		t.Error("parseLevel(trace) should be invalid")
	}
}
