package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yourusername/mc-server-manager/internal/admission"
	"github.com/yourusername/mc-server-manager/internal/auth"
	"github.com/yourusername/mc-server-manager/internal/config"
	"github.com/yourusername/mc-server-manager/internal/console"
	"github.com/yourusername/mc-server-manager/internal/database"
	"github.com/yourusername/mc-server-manager/internal/jvm"
	"github.com/yourusername/mc-server-manager/internal/logging"
	"github.com/yourusername/mc-server-manager/internal/registry"
	"github.com/yourusername/mc-server-manager/internal/server"
	"github.com/yourusername/mc-server-manager/internal/websocket"
)

type noRuntime struct{}

func (noRuntime) Resolve(string) jvm.Match { return jvm.Match{} }

func setupTestRouter(t *testing.T) (http.Handler, *auth.TokenManager, *logging.ActivityLogger) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "servers", "alpha"), 0755); err != nil {
		t.Fatalf("failed to create install: %v", err)
	}

	db, err := database.Open(filepath.Join(root, "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	activity, err := logging.NewActivityLogger(db.DB, filepath.Join(root, "activity"))
	if err != nil {
		t.Fatalf("failed to create activity logger: %v", err)
	}
	t.Cleanup(func() { activity.Close() })

	cfg := config.Default()
	cfg.Logging.Level = "error"
	tokens := auth.NewTokenManager("test-secret", "mcsm", time.Hour)
	hub := websocket.NewHub()

	reg := registry.New(filepath.Join(root, "servers"), registry.Defaults{Heap: registry.Heap{MaxGB: 4, InitGB: 2}}, nil,
		server.WithResolver(noRuntime{}))

	router := SetupRouter(cfg, Services{
		Registry: reg,
		Budget:   admission.Budget{TotalGB: 16, ReserveGB: 2},
		Resolver: noRuntime{},
		Status:   database.NewStatusStore(db),
		Activity: activity,
		Consoles: console.NewManager(hub, 100, 0),
		Hub:      hub,
		Tokens:   tokens,
	})
	return router, tokens, activity
}

func TestHealthIsPublic(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRoutesRequireScopes(t *testing.T) {
	router, tokens, activity := setupTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	viewer, _, err := tokens.Issue("viewer", []string{auth.ScopeRead})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/servers/alpha", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected viewer to read, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/servers/alpha/stop", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer stop, got %d", w.Code)
	}

	activities, err := activity.GetActivities("alpha", logging.ActivityAPIRequest, time.Time{}, 10)
	if err != nil {
		t.Fatalf("failed to query activities: %v", err)
	}
	if len(activities) != 1 || activities[0].Actor != "viewer" || activities[0].Success {
		t.Fatalf("expected audited forbidden stop, got %+v", activities)
	}
}

func TestBackupRoutesRequireScopes(t *testing.T) {
	router, tokens, _ := setupTestRouter(t)

	viewer, _, err := tokens.Issue("viewer", []string{auth.ScopeRead})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/servers/alpha/backups", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer backup, got %d", w.Code)
	}

	// no backup manager is configured in this router
	req = httptest.NewRequest(http.MethodGet, "/api/v1/servers/alpha/backups", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without backups, got %d", w.Code)
	}
}
