package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmdb.log")
	if err := Init(Options{File: path, MaxSizeMB: 1}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(InitNop)

	Infow("rate: 2 of 3 records written", "conflicts", 1)
	Criticalw("run aborted", "error", "database is locked")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), data)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["severity"] != "critical" {
		t.Errorf("severity = %v, want critical", entry["severity"])
	}
	if entry["level"] != "error" {
		t.Errorf("level = %v, want error", entry["level"])
	}
}

func TestDebugLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmdb.log")
	if err := Init(Options{File: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(InitNop)

	Debugw("hidden")
	Sync()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "hidden") {
		t.Errorf("debug entry written without debug enabled")
	}
}
