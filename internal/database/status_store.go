package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/yourusername/mc-server-manager/internal/server"
)

// Instance status values stored in instance_status.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusError   = "error"
)

// StatusStore persists the last known process of every instance so the
// pid liveness probe keeps working after the manager restarts.
type StatusStore struct {
	db *DB
}

// InstanceStatus is one row of instance_status.
type InstanceStatus struct {
	Instance     string     `json:"instance"`
	Status       string     `json:"status"`
	PID          int        `json:"pid"`
	RunID        string     `json:"run_id,omitempty"`
	LogPath      string     `json:"log_path,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	LastChecked  *time.Time `json:"last_checked,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Run is one launch recorded in run_logs.
type Run struct {
	RunID     string     `json:"run_id"`
	Instance  string     `json:"instance"`
	PID       int        `json:"pid"`
	LogPath   string     `json:"log_path,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
}

// NewStatusStore creates a store on a migrated database.
func NewStatusStore(db *DB) *StatusStore {
	return &StatusStore{db: db}
}

// RecordStart marks the instance running and opens a run_logs entry.
func (s *StatusStore) RecordStart(instance, runID string, pid int, logPath string, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO instance_status (instance, status, pid, run_id, log_path, error_message, last_checked, updated_at)
		VALUES (?, ?, ?, ?, ?, '', ?, ?)
		ON CONFLICT(instance) DO UPDATE SET
			status = excluded.status,
			pid = excluded.pid,
			run_id = excluded.run_id,
			log_path = excluded.log_path,
			error_message = '',
			last_checked = excluded.last_checked,
			updated_at = excluded.updated_at
	`, instance, StatusRunning, pid, runID, logPath, at, at); err != nil {
		return fmt.Errorf("failed to record start: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO run_logs (run_id, instance, pid, log_path, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, runID, instance, pid, logPath, at); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	return tx.Commit()
}

// RecordExit clears the pid and closes the run entry.
func (s *StatusStore) RecordExit(instance, runID string, exitCode int, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE instance_status
		SET status = ?, pid = 0, last_checked = ?, updated_at = ?
		WHERE instance = ? AND run_id = ?
	`, StatusStopped, at, at, instance, runID); err != nil {
		return fmt.Errorf("failed to record exit: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE run_logs SET ended_at = ?, exit_code = ? WHERE run_id = ?
	`, at, exitCode, runID); err != nil {
		return fmt.Errorf("failed to close run: %w", err)
	}

	return tx.Commit()
}

// RecordStatus upserts the observed status of an instance.
func (s *StatusStore) RecordStatus(instance, status string, pid int, errorMessage string) error {
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO instance_status (instance, status, pid, error_message, last_checked, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance) DO UPDATE SET
			status = excluded.status,
			pid = excluded.pid,
			error_message = excluded.error_message,
			last_checked = excluded.last_checked,
			updated_at = excluded.updated_at
	`, instance, status, pid, errorMessage, now, now)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// LastPIDs returns the recorded pid of every instance that had one.
func (s *StatusStore) LastPIDs() (map[string]int, error) {
	rows, err := s.db.Query("SELECT instance, pid FROM instance_status WHERE pid > 0")
	if err != nil {
		return nil, fmt.Errorf("failed to query pids: %w", err)
	}
	defer rows.Close()

	pids := make(map[string]int)
	for rows.Next() {
		var name string
		var pid int
		if err := rows.Scan(&name, &pid); err != nil {
			return nil, err
		}
		pids[name] = pid
	}
	return pids, rows.Err()
}

// Get returns the stored status of one instance.
func (s *StatusStore) Get(instance string) (*InstanceStatus, error) {
	st := &InstanceStatus{}
	var lastChecked sql.NullTime
	err := s.db.QueryRow(`
		SELECT instance, status, pid, run_id, log_path, error_message, last_checked, updated_at
		FROM instance_status WHERE instance = ?
	`, instance).Scan(&st.Instance, &st.Status, &st.PID, &st.RunID, &st.LogPath, &st.ErrorMessage, &lastChecked, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query status: %w", err)
	}
	if lastChecked.Valid {
		st.LastChecked = &lastChecked.Time
	}
	return st, nil
}

// Runs lists the most recent launches of an instance, newest first.
func (s *StatusStore) Runs(instance string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT run_id, instance, pid, log_path, started_at, ended_at, exit_code
		FROM run_logs WHERE instance = ?
		ORDER BY started_at DESC LIMIT ?
	`, instance, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var endedAt sql.NullTime
		var exitCode sql.NullInt64
		if err := rows.Scan(&run.RunID, &run.Instance, &run.PID, &run.LogPath, &run.StartedAt, &endedAt, &exitCode); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			run.EndedAt = &endedAt.Time
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			run.ExitCode = &code
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CommandRecord is one console command sent to an instance.
type CommandRecord struct {
	ID        int64     `json:"id"`
	Instance  string    `json:"instance"`
	RunID     string    `json:"run_id,omitempty"`
	Command   string    `json:"command"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordCommand appends a console command to command_history.
func (s *StatusStore) RecordCommand(instance, runID, command string, success bool, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO command_history (instance, run_id, command, success, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, instance, runID, command, success, at)
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

// Commands lists recent console commands of an instance, newest first.
func (s *StatusStore) Commands(instance string, limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, instance, run_id, command, success, created_at
		FROM command_history WHERE instance = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, instance, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	var records []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		if err := rows.Scan(&rec.ID, &rec.Instance, &rec.RunID, &rec.Command, &rec.Success, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// HandleEvent keeps the store in sync with instance lifecycle events.
func (s *StatusStore) HandleEvent(e server.Event) {
	var err error
	switch e.Type {
	case server.EventStarted:
		err = s.RecordStart(e.Instance, e.RunID, e.PID, e.LogPath, e.Time)
	case server.EventExited:
		err = s.RecordExit(e.Instance, e.RunID, e.ExitCode, e.Time)
	case server.EventStartFailed:
		err = s.RecordStatus(e.Instance, StatusError, 0, e.Err)
	case server.EventCommandSent:
		err = s.RecordCommand(e.Instance, e.RunID, e.Command, e.Err == "", e.Time)
	}
	if err != nil {
		log.Printf("[StatusStore] Failed to record %s for %s: %v", e.Type, e.Instance, err)
	}
}
