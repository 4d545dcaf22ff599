package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/mc-server-manager/internal/backup"
	"github.com/yourusername/mc-server-manager/internal/config"
	"github.com/yourusername/mc-server-manager/internal/registry"
	"github.com/yourusername/mc-server-manager/internal/server"
)

func newBackupRouter(h *BackupHandler) *gin.Engine {
	router := gin.New()
	router.GET("/servers/:name/backups", h.ListBackups)
	router.POST("/servers/:name/backups", h.CreateBackup)
	router.GET("/servers/:name/backups/retention", h.GetRetention)
	router.POST("/servers/:name/backups/retention/enforce", h.EnforceRetention)
	router.GET("/servers/:name/backups/:backupId", h.GetBackup)
	router.GET("/servers/:name/backups/:backupId/download", h.DownloadBackup)
	router.POST("/servers/:name/backups/:backupId/restore", h.RestoreBackup)
	router.DELETE("/servers/:name/backups/:backupId", h.DeleteBackup)
	router.GET("/backups/files", h.ListDestinationFiles)
	return router
}

func newBackupManager(t *testing.T, reg *registry.Registry) *backup.Manager {
	t.Helper()
	dir := t.TempDir()
	return backup.NewManager(openTestDB(t), reg, config.BackupDestinationConfig{
		Type: "local",
		Path: filepath.Join(dir, "backups"),
	}, backup.Options{
		Exclude:        []string{server.RunLogDir},
		RetentionCount: 5,
		StagingDir:     filepath.Join(dir, "staging"),
	})
}

func writeProperties(t *testing.T, reg *registry.Registry, name, content string) string {
	t.Helper()
	inst, ok := reg.Get(name)
	if !ok {
		t.Fatalf("unknown instance %s", name)
	}
	path := filepath.Join(inst.Path(), "server.properties")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write server.properties: %v", err)
	}
	return path
}

func TestBackupsDisabled(t *testing.T) {
	reg := newTestRegistry(t, nil, "alpha")
	router := newBackupRouter(NewBackupHandler(reg, nil))

	for _, path := range []string{"/servers/alpha/backups", "/backups/files"} {
		w := doRequest(t, router, http.MethodGet, path, nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", path, w.Code)
		}
	}
}

func TestBackupUnknownServer(t *testing.T) {
	reg := newTestRegistry(t, nil, "alpha")
	router := newBackupRouter(NewBackupHandler(reg, newBackupManager(t, reg)))

	w := doRequest(t, router, http.MethodPost, "/servers/ghost/backups", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = doRequest(t, router, http.MethodGet, "/servers/alpha/backups/backup-missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown backup, got %d", w.Code)
	}
}

func TestBackupCreateDownloadRestoreDelete(t *testing.T) {
	reg := newTestRegistry(t, nil, "alpha", "beta")
	manager := newBackupManager(t, reg)
	router := newBackupRouter(NewBackupHandler(reg, manager))
	properties := writeProperties(t, reg, "alpha", "motd=one\n")

	w := doRequest(t, router, http.MethodPost, "/servers/alpha/backups", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created backup.Record
	decode(t, w, &created)
	if created.Status != backup.StatusCompleted || created.Instance != "alpha" || created.CreatedBy != "anonymous" {
		t.Fatalf("unexpected record: %+v", created)
	}
	if !strings.HasSuffix(created.Filename, ".tar.gz") {
		t.Fatalf("expected a tar.gz archive, got %s", created.Filename)
	}

	w = doRequest(t, router, http.MethodGet, "/servers/alpha/backups", nil)
	var list struct {
		Backups []backup.Record `json:"backups"`
		Busy    bool            `json:"busy"`
	}
	decode(t, w, &list)
	if len(list.Backups) != 1 || list.Backups[0].ID != created.ID || list.Busy {
		t.Fatalf("unexpected list: %+v", list)
	}

	// a backup is only reachable through its own server
	w = doRequest(t, router, http.MethodGet, "/servers/beta/backups/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 through another server, got %d", w.Code)
	}

	w = doRequest(t, router, http.MethodGet, "/servers/alpha/backups/"+created.ID+"/download", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if disposition := w.Header().Get("Content-Disposition"); !strings.Contains(disposition, created.Filename) {
		t.Fatalf("unexpected Content-Disposition %q", disposition)
	}
	if body := w.Body.Bytes(); len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		t.Fatalf("expected a gzip stream")
	}

	if err := os.WriteFile(properties, []byte("motd=two\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite server.properties: %v", err)
	}
	w = doRequest(t, router, http.MethodPost, "/servers/alpha/backups/"+created.ID+"/restore", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data, err := os.ReadFile(properties)
	if err != nil {
		t.Fatalf("failed to read server.properties: %v", err)
	}
	if string(data) != "motd=one\n" {
		t.Fatalf("expected restored properties, got %q", data)
	}

	w = doRequest(t, router, http.MethodGet, "/backups/files", nil)
	var files struct {
		Files []backup.BackupFile `json:"files"`
	}
	decode(t, w, &files)
	if len(files.Files) != 1 || files.Files[0].Filename != created.Filename {
		t.Fatalf("unexpected destination files: %+v", files.Files)
	}

	w = doRequest(t, router, http.MethodDelete, "/servers/alpha/backups/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = doRequest(t, router, http.MethodGet, "/servers/alpha/backups/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestBackupRetentionEndpoints(t *testing.T) {
	reg := newTestRegistry(t, nil, "alpha")
	router := newBackupRouter(NewBackupHandler(reg, newBackupManager(t, reg)))

	for i := 0; i < 3; i++ {
		if w := doRequest(t, router, http.MethodPost, "/servers/alpha/backups", nil); w.Code != http.StatusCreated {
			t.Fatalf("backup %d: expected 201, got %d: %s", i, w.Code, w.Body.String())
		}
	}

	w := doRequest(t, router, http.MethodGet, "/servers/alpha/backups/retention", nil)
	var stats map[string]interface{}
	decode(t, w, &stats)
	if stats["total_backups"] != float64(3) || stats["backups_to_delete"] != float64(0) {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	w = doRequest(t, router, http.MethodPost, "/servers/alpha/backups/retention/enforce", map[string]int{"retention_count": 1})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result struct {
		Deleted int `json:"deleted"`
	}
	decode(t, w, &result)
	if result.Deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", result.Deleted)
	}

	w = doRequest(t, router, http.MethodPost, "/servers/alpha/backups/retention/enforce", map[string]int{"retention_count": -1})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a negative count, got %d", w.Code)
	}
}

func TestStartRefusedWhileBackupRuns(t *testing.T) {
	reg := newTestRegistry(t, nil, "alpha")
	h := NewServerHandler(reg, testBudget, nil, stubResolver{})
	h.SetBusyCheck(func(name string) bool { return name == "alpha" })
	router := newServerRouter(h, nil)

	w := doRequest(t, router, http.MethodPost, "/servers/alpha/start", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	inst, _ := reg.Get("alpha")
	if inst.IsRunning() {
		t.Fatalf("instance should not have started")
	}
}
