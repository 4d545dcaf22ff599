package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/yourusername/mc-server-manager/internal/server"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDBAndMigrate(t *testing.T) {
	root := t.TempDir()
	dbPath := filepath.Join(root, "data", "test.db")

	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	// second run is a no-op
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to re-run migrations: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatalf("failed to query migrations: %v", err)
	}
	if count != len(migrations) {
		t.Fatalf("expected %d migrations, got %d", len(migrations), count)
	}
}

func TestRollback(t *testing.T) {
	db := openTestDB(t)

	if err := db.Rollback(); err != nil {
		t.Fatalf("failed to roll back: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatalf("failed to query migrations: %v", err)
	}
	if count != len(migrations)-1 {
		t.Fatalf("expected %d migrations after rollback, got %d", len(migrations)-1, count)
	}

	if _, err := db.Exec("SELECT 1 FROM backups"); err == nil {
		t.Fatalf("expected backups to be dropped")
	}
	if _, err := db.Exec("SELECT 1 FROM command_history"); err != nil {
		t.Fatalf("expected command_history to survive a single rollback: %v", err)
	}

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to re-apply migration: %v", err)
	}
}

func TestStatusStoreStartAndExit(t *testing.T) {
	store := NewStatusStore(openTestDB(t))
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.RecordStart("alpha", "run-1", 4242, "/srv/alpha/bot-logs/a.log", started); err != nil {
		t.Fatalf("failed to record start: %v", err)
	}

	pids, err := store.LastPIDs()
	if err != nil {
		t.Fatalf("failed to load pids: %v", err)
	}
	if pids["alpha"] != 4242 {
		t.Fatalf("expected pid 4242, got %v", pids)
	}

	if err := store.RecordExit("alpha", "run-1", 0, started.Add(time.Minute)); err != nil {
		t.Fatalf("failed to record exit: %v", err)
	}

	pids, err = store.LastPIDs()
	if err != nil {
		t.Fatalf("failed to load pids: %v", err)
	}
	if _, ok := pids["alpha"]; ok {
		t.Fatalf("expected pid to be cleared, got %v", pids)
	}

	st, err := store.Get("alpha")
	if err != nil || st == nil {
		t.Fatalf("failed to get status: %v", err)
	}
	if st.Status != StatusStopped || st.PID != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}

	runs, err := store.Runs("alpha", 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].EndedAt == nil || runs[0].ExitCode == nil || *runs[0].ExitCode != 0 {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestStatusStoreExitOfStaleRunKeepsPID(t *testing.T) {
	store := NewStatusStore(openTestDB(t))
	now := time.Now()

	if err := store.RecordStart("alpha", "run-1", 100, "", now); err != nil {
		t.Fatalf("failed to record start: %v", err)
	}
	if err := store.RecordStart("alpha", "run-2", 200, "", now.Add(time.Second)); err != nil {
		t.Fatalf("failed to record start: %v", err)
	}
	if err := store.RecordExit("alpha", "run-1", 1, now.Add(2*time.Second)); err != nil {
		t.Fatalf("failed to record exit: %v", err)
	}

	pids, err := store.LastPIDs()
	if err != nil {
		t.Fatalf("failed to load pids: %v", err)
	}
	if pids["alpha"] != 200 {
		t.Fatalf("expected pid of the newer run, got %v", pids)
	}
}

func TestStatusStoreHandleEvent(t *testing.T) {
	store := NewStatusStore(openTestDB(t))
	now := time.Now()

	store.HandleEvent(server.Event{Type: server.EventStarted, Instance: "beta", RunID: "r1", PID: 77, Time: now})
	store.HandleEvent(server.Event{Type: server.EventCommandSent, Instance: "beta", RunID: "r1", Command: "say hi", Time: now})
	store.HandleEvent(server.Event{Type: server.EventCommandSent, Instance: "beta", RunID: "r1", Command: "list", Time: now.Add(time.Second)})

	cmds, err := store.Commands("beta", 0)
	if err != nil {
		t.Fatalf("failed to list commands: %v", err)
	}
	if len(cmds) != 2 || cmds[0].Command != "list" || cmds[1].Command != "say hi" {
		t.Fatalf("unexpected commands: %+v", cmds)
	}

	store.HandleEvent(server.Event{Type: server.EventStartFailed, Instance: "gamma", Err: "spawn failed", Time: now})
	st, err := store.Get("gamma")
	if err != nil || st == nil {
		t.Fatalf("failed to get status: %v", err)
	}
	if st.Status != StatusError || st.ErrorMessage != "spawn failed" {
		t.Fatalf("unexpected status: %+v", st)
	}

	missing, err := store.Get("nope")
	if err != nil || missing != nil {
		t.Fatalf("expected no status for unknown instance, got %+v, %v", missing, err)
	}
}
