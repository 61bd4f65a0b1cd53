package logging

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewWithoutPathIsNop(t *testing.T) {
	l, err := New("", false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.FileApplied("a.txt", "update", nil, time.Millisecond)
	_ = l.Close()
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := Nop()
	if OrNop(l) != l {
		t.Error("OrNop() replaced a non-nil logger")
	}
}

func TestLoggerWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "patch.log")
	l, err := New(path, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.PatchExtracted("unified", 2, 10)
	l.FileApplied("a.txt", "update", []string{"exact-context"}, time.Millisecond)
	l.FileFailed("b.json", "VALIDATION_FAILED", errors.New("invalid JSON"))
	l.Debug("dropped at info level")
	if err := l.Close(); err != nil {
		t.Logf("Close() = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d log lines, want 3:\n%s", len(lines), data)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if entry["msg"] != "file applied" || entry["path"] != "a.txt" {
		t.Errorf("entry = %v", entry)
	}
}
