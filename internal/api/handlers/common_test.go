package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/mc-server-manager/internal/admission"
	"github.com/yourusername/mc-server-manager/internal/backup"
	"github.com/yourusername/mc-server-manager/internal/database"
	"github.com/yourusername/mc-server-manager/internal/jvm"
	"github.com/yourusername/mc-server-manager/internal/registry"
	"github.com/yourusername/mc-server-manager/internal/server"
)

// fakeServer echoes console lines and exits on "stop".
const fakeServer = `echo "booting $*"
while read line; do
  echo "console: $line"
  if [ "$line" = "stop" ]; then
    echo "shutting down"
    exit 0
  fi
done
`

type stubResolver struct {
	match jvm.Match
}

func (s stubResolver) Resolve(string) jvm.Match { return s.match }

func init() {
	gin.SetMode(gin.TestMode)
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests use /bin/sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// newTestRegistry creates a servers root holding one install per name,
// each launched by run.sh.
func newTestRegistry(t *testing.T, store *database.StatusStore, names ...string) *registry.Registry {
	t.Helper()
	root := t.TempDir()
	for _, name := range names {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, "run.sh"), []byte(fakeServer), 0644); err != nil {
			t.Fatalf("failed to write run.sh: %v", err)
		}
	}

	opts := []server.Option{server.WithResolver(stubResolver{})}
	var pids registry.PIDStore
	if store != nil {
		opts = append(opts, server.WithEventSink(store))
		pids = store
	}
	return registry.New(root, registry.Defaults{Heap: registry.Heap{MaxGB: 4, InitGB: 2}}, pids, opts...)
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var testBudget = admission.Budget{TotalGB: 16, ReserveGB: 2}

func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
}

func waitExited(t *testing.T, inst *server.Instance) {
	t.Helper()
	select {
	case <-inst.Exited():
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for %s to exit", inst.Name())
	}
}

func TestStatusForError(t *testing.T) {
	cases := map[error]int{
		server.ErrInvalidHeap:           http.StatusBadRequest,
		server.ErrNoLauncher:            http.StatusBadRequest,
		server.ErrAlreadyRunning:        http.StatusConflict,
		server.ErrNotOwned:              http.StatusConflict,
		server.ErrNotRunning:            http.StatusConflict,
		server.ErrNotStarted:            http.StatusConflict,
		admission.ErrInsufficientMemory: http.StatusInsufficientStorage,
		server.ErrSpawn:                 http.StatusInternalServerError,
		backup.ErrNotFound:              http.StatusNotFound,
		backup.ErrUnknownServer:         http.StatusNotFound,
		backup.ErrInProgress:            http.StatusConflict,
		backup.ErrServerRunning:         http.StatusConflict,
		backup.ErrNotCompleted:          http.StatusConflict,
		backup.ErrUnsafePath:            http.StatusBadRequest,
		backup.ErrInvalidFilename:       http.StatusBadRequest,
	}
	for err, want := range cases {
		if got := statusForError(err); got != want {
			t.Fatalf("%v: expected %d, got %d", err, want, got)
		}
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	since, err := parseSince("2h", now)
	if err != nil || !since.Equal(now.Add(-2*time.Hour)) {
		t.Fatalf("expected 2h ago, got %v (%v)", since, err)
	}
	since, err = parseSince("2024-04-30T00:00:00Z", now)
	if err != nil || since.Day() != 30 {
		t.Fatalf("expected RFC 3339 timestamp, got %v (%v)", since, err)
	}
	since, err = parseSince("", now)
	if err != nil || !since.IsZero() {
		t.Fatalf("expected zero time, got %v (%v)", since, err)
	}
	if _, err := parseSince("yesterday", now); err == nil {
		t.Fatalf("expected invalid since to fail")
	}
}
