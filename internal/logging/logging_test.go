package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{" WARN ", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestInitWritesConsoleAndFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "checkin.log")
	cleanup, err := Init(Options{Level: "warn", File: file, Console: &console})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	slog.Debug("debug detail", "attempt", 1)
	slog.Warn("challenge shown", "user", "alice")
	cleanup()

	if strings.Contains(console.String(), "debug detail") {
		t.Error("console should not receive debug records at warn level")
	}
	if !strings.Contains(console.String(), "challenge shown") {
		t.Errorf("console = %q", console.String())
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("file has %d records, want 2:\n%s", len(lines), data)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("file record is not JSON: %v", err)
	}
	if rec["msg"] != "debug detail" || rec["attempt"] != float64(1) {
		t.Errorf("record = %v", rec)
	}
}

func TestInitRejectsBadLevel(t *testing.T) {
	if _, err := Init(Options{Level: "chatty"}); err == nil {
		t.Error("expected error")
	}
}
