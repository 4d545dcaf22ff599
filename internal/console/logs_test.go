package console

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yourusername/mc-server-manager/internal/server"
)

func TestTailFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	var b strings.Builder
	for i := 1; i <= 5000; i++ {
		fmt.Fprintf(&b, "line %d with some padding to cross block boundaries\n", i)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("failed to write log: %v", err)
	}

	lines, err := TailFile(path, 3)
	if err != nil {
		t.Fatalf("failed to tail: %v", err)
	}
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "line 4998 ") || !strings.HasPrefix(lines[2], "line 5000 ") {
		t.Fatalf("unexpected tail: %v", lines)
	}

	all, err := TailFile(path, 0)
	if err != nil {
		t.Fatalf("failed to read all: %v", err)
	}
	if len(all) != 5000 {
		t.Fatalf("expected 5000 lines, got %d", len(all))
	}

	lines, err = TailFile(path, 4000)
	if err != nil {
		t.Fatalf("failed to tail: %v", err)
	}
	if len(lines) != 4000 || !strings.HasPrefix(lines[0], "line 1001 ") {
		t.Fatalf("unexpected long tail start: %q (%d lines)", lines[0], len(lines))
	}
}

func TestTailFileEmptyAndMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.log")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("failed to write log: %v", err)
	}
	lines, err := TailFile(path, 10)
	if err != nil || len(lines) != 0 {
		t.Fatalf("expected no lines, got %v, %v", lines, err)
	}

	if _, err := TailFile(filepath.Join(t.TempDir(), "missing.log"), 10); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func writeRunLog(t *testing.T, dir, name string, mod time.Time) string {
	t.Helper()
	logDir := filepath.Join(dir, server.RunLogDir)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		t.Fatalf("failed to create log dir: %v", err)
	}
	path := filepath.Join(logDir, name)
	if err := os.WriteFile(path, []byte("x\n"), 0644); err != nil {
		t.Fatalf("failed to write log: %v", err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("failed to set mtime: %v", err)
	}
	return path
}

func TestLatestRunLog(t *testing.T) {
	dir := t.TempDir()
	if _, err := LatestRunLog(dir); !errors.Is(err, ErrNoRunLog) {
		t.Fatalf("expected ErrNoRunLog, got %v", err)
	}

	now := time.Now()
	writeRunLog(t, dir, "2024-01-01_10-00-00.log", now.Add(-2*time.Hour))
	newest := writeRunLog(t, dir, "2024-01-02_10-00-00.log", now.Add(-time.Hour))

	got, err := LatestRunLog(dir)
	if err != nil {
		t.Fatalf("failed to find latest: %v", err)
	}
	if got != newest {
		t.Fatalf("expected %s, got %s", newest, got)
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	old := writeRunLog(t, dir, "old.log", now.Add(-30*24*time.Hour))
	current := writeRunLog(t, dir, "current.log", now.Add(-40*24*time.Hour))
	fresh := writeRunLog(t, dir, "fresh.log", now)

	deleted, err := CleanupOldLogs(dir, 14*24*time.Hour, current)
	if err != nil {
		t.Fatalf("failed to cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log to be removed")
	}
	for _, path := range []string{current, fresh} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to remain: %v", path, err)
		}
	}

	if n, err := CleanupOldLogs(dir, 0, ""); err != nil || n != 0 {
		t.Fatalf("expected zero retention to be a no-op, got %d, %v", n, err)
	}
}
