package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/yourusername/mc-server-manager/internal/config"
)

func TestInitAndCloseLogger(t *testing.T) {
	root := t.TempDir()
	logPath := filepath.Join(root, "app.log")

	_, err := Init(config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		File:       logPath,
		MaxSize:    10,
		MaxBackups: 1,
		MaxAge:     1,
	})
	if err != nil {
		t.Fatalf("failed to init logger: %v", err)
	}

	L().Info("test_log")
	For("test").Info("component_log")
	if err := Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}
}

func TestSlogWriterExtractsComponent(t *testing.T) {
	var buf bytes.Buffer
	w := slogWriter{logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	if _, err := w.Write([]byte("[Registry] Failed to read servers from /srv: denied\n")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("failed to decode record: %v", err)
	}
	if record["component"] != "Registry" {
		t.Fatalf("expected component Registry, got %v", record["component"])
	}
	if record["msg"] != "Failed to read servers from /srv: denied" {
		t.Fatalf("unexpected message: %v", record["msg"])
	}
	if record["level"] != "WARN" {
		t.Fatalf("expected WARN for a failure, got %v", record["level"])
	}
}

func TestSplitComponent(t *testing.T) {
	cases := []struct {
		in, component, rest string
	}{
		{"[Database] Applied migration: 001_init", "Database", "Applied migration: 001_init"},
		{"plain message", "", "plain message"},
		{"[not a tag] message", "", "[not a tag] message"},
		{"[] empty", "", "[] empty"},
	}
	for _, tc := range cases {
		component, rest := splitComponent(tc.in)
		if component != tc.component || rest != tc.rest {
			t.Fatalf("splitComponent(%q) = %q, %q", tc.in, component, rest)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("DEBUG") != slog.LevelDebug {
		t.Fatalf("expected debug level")
	}
	if parseLevel("warning") != slog.LevelWarn {
		t.Fatalf("expected warn level")
	}
	if parseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("expected info fallback")
	}
}
