package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/mc-server-manager/internal/server"
)

// ActivityLogger records instance lifecycle and console activity to the
// database and to a daily JSON-lines file.
type ActivityLogger struct {
	db          *sql.DB
	logDir      string
	currentFile *os.File
	currentDate string
	now         func() time.Time
	mu          sync.Mutex
}

// Activity represents a logged activity
type Activity struct {
	Timestamp    time.Time              `json:"timestamp"`
	Instance     string                 `json:"instance"`
	RunID        string                 `json:"run_id,omitempty"`
	Actor        string                 `json:"actor,omitempty"`
	ActivityType string                 `json:"activity_type"`
	Description  string                 `json:"description"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// Activity type constants
const (
	ActivityInstanceStart        = "instance.start"
	ActivityInstanceStartFailed  = "instance.start_failed"
	ActivityInstanceStop         = "instance.stop"
	ActivityInstanceExit         = "instance.exit"
	ActivityInstanceStatusChange = "instance.status_change"
	ActivityCommandExecute       = "command.execute"
	ActivityScheduleRun          = "schedule.run"
	ActivityAPIRequest           = "api.request"
	ActivityBackupCreate         = "backup.create"
	ActivityBackupRestore        = "backup.restore"
	ActivityBackupDelete         = "backup.delete"
	ActivityError                = "error"
)

// maxCommandOutput caps command output kept in metadata.
const maxCommandOutput = 1000

// NewActivityLogger creates a new activity logger. db may be nil, in which
// case only the file log is written.
func NewActivityLogger(db *sql.DB, logDir string) (*ActivityLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logger := &ActivityLogger{
		db:     db,
		logDir: logDir,
		now:    time.Now,
	}

	log.Printf("[ActivityLogger] Initialized (log directory: %s)", logDir)

	return logger, nil
}

// LogActivity logs an activity to both database and file
func (al *ActivityLogger) LogActivity(activity *Activity) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if activity.Timestamp.IsZero() {
		activity.Timestamp = al.now()
	}

	// a database failure must not lose the file record
	if err := al.logToDatabase(activity); err != nil {
		log.Printf("[ActivityLogger] Error logging to database: %v", err)
	}

	if err := al.logToFile(activity); err != nil {
		log.Printf("[ActivityLogger] Error logging to file: %v", err)
		return err
	}

	return nil
}

// HandleEvent translates instance lifecycle events into activities.
func (al *ActivityLogger) HandleEvent(e server.Event) {
	activity := &Activity{
		Timestamp: e.Time,
		Instance:  e.Instance,
		RunID:     e.RunID,
		Success:   e.Err == "",
		Metadata:  map[string]interface{}{},
	}
	if e.PID > 0 {
		activity.Metadata["pid"] = e.PID
	}

	switch e.Type {
	case server.EventStarted:
		activity.ActivityType = ActivityInstanceStart
		activity.Description = fmt.Sprintf("Instance started (pid %d)", e.PID)
		if e.LogPath != "" {
			activity.Metadata["log_path"] = e.LogPath
		}
	case server.EventStartFailed:
		activity.ActivityType = ActivityInstanceStartFailed
		activity.Description = "Instance failed to start"
		activity.Success = false
		activity.ErrorMessage = e.Err
	case server.EventStopRequested:
		activity.ActivityType = ActivityInstanceStop
		activity.Description = "Stop requested"
	case server.EventCommandSent:
		activity.ActivityType = ActivityCommandExecute
		activity.Description = fmt.Sprintf("Command executed: %s", e.Command)
		activity.Metadata["command"] = e.Command
	case server.EventExited:
		activity.ActivityType = ActivityInstanceExit
		activity.Description = fmt.Sprintf("Instance exited with code %d", e.ExitCode)
		activity.Metadata["exit_code"] = e.ExitCode
		activity.Success = e.ExitCode == 0
		activity.ErrorMessage = e.Err
	default:
		return
	}

	if err := al.LogActivity(activity); err != nil {
		log.Printf("[ActivityLogger] Failed to record %s for %s: %v", e.Type, e.Instance, err)
	}
}

// LogCommandExecute logs a console command issued outside the instance
// event stream, e.g. by a schedule, with its captured output.
func (al *ActivityLogger) LogCommandExecute(instance, actor, command string, success bool, output string, errorMsg string) error {
	metadata := map[string]interface{}{
		"command": command,
	}

	if output != "" {
		if len(output) > maxCommandOutput {
			metadata["output"] = output[:maxCommandOutput] + "... (truncated)"
		} else {
			metadata["output"] = output
		}
	}

	return al.LogActivity(&Activity{
		Instance:     instance,
		Actor:        actor,
		ActivityType: ActivityCommandExecute,
		Description:  fmt.Sprintf("Command executed: %s", command),
		Metadata:     metadata,
		Success:      success,
		ErrorMessage: errorMsg,
	})
}

// LogStatusChange logs an instance status transition
func (al *ActivityLogger) LogStatusChange(instance string, oldStatus, newStatus string, metadata map[string]interface{}) error {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	metadata["old_status"] = oldStatus
	metadata["new_status"] = newStatus

	return al.LogActivity(&Activity{
		Instance:     instance,
		ActivityType: ActivityInstanceStatusChange,
		Description:  fmt.Sprintf("Status changed: %s -> %s", oldStatus, newStatus),
		Metadata:     metadata,
		Success:      true,
	})
}

// LogScheduleRun logs the outcome of a scheduled job.
func (al *ActivityLogger) LogScheduleRun(instance, job, command string, err error) error {
	activity := &Activity{
		Instance:     instance,
		Actor:        "scheduler",
		ActivityType: ActivityScheduleRun,
		Description:  fmt.Sprintf("Scheduled job %s ran", job),
		Metadata: map[string]interface{}{
			"job":     job,
			"command": command,
		},
		Success: err == nil,
	}
	if err != nil {
		activity.ErrorMessage = err.Error()
	}
	return al.LogActivity(activity)
}

// LogBackup records a backup being created, restored or deleted.
func (al *ActivityLogger) LogBackup(instance, actor, activityType, backupID string, err error, metadata map[string]interface{}) error {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	metadata["backup_id"] = backupID

	verb := strings.TrimPrefix(activityType, "backup.")
	activity := &Activity{
		Instance:     instance,
		Actor:        actor,
		ActivityType: activityType,
		Description:  fmt.Sprintf("Backup %s: %s", verb, backupID),
		Metadata:     metadata,
		Success:      err == nil,
	}
	if err != nil {
		activity.ErrorMessage = err.Error()
	}
	return al.LogActivity(activity)
}

// LogError logs a general error
func (al *ActivityLogger) LogError(instance string, errorType string, errorMsg string, metadata map[string]interface{}) error {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	metadata["error_type"] = errorType

	return al.LogActivity(&Activity{
		Instance:     instance,
		ActivityType: ActivityError,
		Description:  errorType,
		Metadata:     metadata,
		Success:      false,
		ErrorMessage: errorMsg,
	})
}

// LogAPIRequest records a state-changing API call and who made it.
func (al *ActivityLogger) LogAPIRequest(instance, actor, action string, status int, clientIP string) error {
	activity := &Activity{
		Instance:     instance,
		Actor:        actor,
		ActivityType: ActivityAPIRequest,
		Description:  action,
		Metadata: map[string]interface{}{
			"status": status,
			"ip":     clientIP,
		},
		Success: status < 400,
	}
	if !activity.Success {
		activity.ErrorMessage = fmt.Sprintf("HTTP %d", status)
	}
	return al.LogActivity(activity)
}

// GetActivities retrieves activities from the database, newest first.
func (al *ActivityLogger) GetActivities(instance string, activityType string, since time.Time, limit int) ([]*Activity, error) {
	if al.db == nil {
		return nil, fmt.Errorf("database not available")
	}

	query := `
		SELECT timestamp, instance, run_id, actor, activity_type, description, metadata, success, error_message
		FROM activity_log
		WHERE 1=1
	`
	args := make([]interface{}, 0)

	if instance != "" {
		query += " AND instance = ?"
		args = append(args, instance)
	}

	if activityType != "" {
		query += " AND activity_type = ?"
		args = append(args, activityType)
	}

	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := al.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	activities := make([]*Activity, 0)

	for rows.Next() {
		activity := &Activity{}
		var metadataJSON sql.NullString

		err := rows.Scan(
			&activity.Timestamp,
			&activity.Instance,
			&activity.RunID,
			&activity.Actor,
			&activity.ActivityType,
			&activity.Description,
			&metadataJSON,
			&activity.Success,
			&activity.ErrorMessage,
		)
		if err != nil {
			log.Printf("[ActivityLogger] Error scanning row: %v", err)
			continue
		}

		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &activity.Metadata); err != nil {
				log.Printf("[ActivityLogger] Error unmarshaling metadata: %v", err)
			}
		}

		activities = append(activities, activity)
	}

	return activities, rows.Err()
}

// GetInstanceActivities retrieves activities for a specific instance
func (al *ActivityLogger) GetInstanceActivities(instance string, limit int) ([]*Activity, error) {
	return al.GetActivities(instance, "", time.Time{}, limit)
}

func (al *ActivityLogger) logToDatabase(activity *Activity) error {
	if al.db == nil {
		return nil
	}

	metadataJSON, err := json.Marshal(activity.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = al.db.Exec(`
		INSERT INTO activity_log (
			timestamp, instance, run_id, actor, activity_type,
			description, metadata, success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		activity.Timestamp,
		activity.Instance,
		activity.RunID,
		activity.Actor,
		activity.ActivityType,
		activity.Description,
		string(metadataJSON),
		activity.Success,
		activity.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}

	return nil
}

func (al *ActivityLogger) logToFile(activity *Activity) error {
	currentDate := al.now().Format("2006-01-02")

	if al.currentFile == nil || al.currentDate != currentDate {
		if err := al.rotateLogFile(currentDate); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	line, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	if _, err := fmt.Fprintf(al.currentFile, "%s\n", line); err != nil {
		return fmt.Errorf("failed to write to log file: %w", err)
	}

	switch activity.ActivityType {
	case ActivityInstanceStart, ActivityInstanceExit, ActivityError:
		al.currentFile.Sync()
	}

	return nil
}

func (al *ActivityLogger) rotateLogFile(date string) error {
	if al.currentFile != nil {
		al.currentFile.Close()
		al.currentFile = nil
	}

	logPath := filepath.Join(al.logDir, fmt.Sprintf("activity-%s.log", date))

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	al.currentFile = file
	al.currentDate = date

	log.Printf("[ActivityLogger] Rotated log file to: %s", logPath)
	return nil
}

// Close closes the activity logger
func (al *ActivityLogger) Close() error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if al.currentFile != nil {
		err := al.currentFile.Close()
		al.currentFile = nil
		return err
	}

	return nil
}

// CleanupOldActivities removes database rows and daily files older than
// olderThan.
func (al *ActivityLogger) CleanupOldActivities(olderThan time.Duration) error {
	cutoff := al.now().Add(-olderThan)

	if al.db != nil {
		result, err := al.db.Exec(`DELETE FROM activity_log WHERE timestamp < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to cleanup old activities: %w", err)
		}
		rowsAffected, _ := result.RowsAffected()
		log.Printf("[ActivityLogger] Cleaned up %d activities older than %v", rowsAffected, olderThan)
	}

	al.mu.Lock()
	current := al.currentDate
	al.mu.Unlock()

	entries, err := os.ReadDir(al.logDir)
	if err != nil {
		return fmt.Errorf("failed to list activity logs: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "activity-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		date := strings.TrimSuffix(strings.TrimPrefix(name, "activity-"), ".log")
		day, err := time.ParseInLocation("2006-01-02", date, cutoff.Location())
		if err != nil || date == current {
			continue
		}
		// keep a file until its whole day is past the cutoff
		if day.AddDate(0, 0, 1).Before(cutoff) {
			if err := os.Remove(filepath.Join(al.logDir, name)); err != nil {
				log.Printf("[ActivityLogger] Failed to remove %s: %v", name, err)
			}
		}
	}

	return nil
}

// GetActivityStats counts activities per type.
func (al *ActivityLogger) GetActivityStats(instance string, since time.Time) (map[string]int, error) {
	if al.db == nil {
		return nil, fmt.Errorf("database not available")
	}

	query := `
		SELECT activity_type, COUNT(*) as count
		FROM activity_log
		WHERE 1=1
	`
	args := make([]interface{}, 0)

	if instance != "" {
		query += " AND instance = ?"
		args = append(args, instance)
	}

	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since)
	}

	query += " GROUP BY activity_type"

	rows, err := al.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)

	for rows.Next() {
		var activityType string
		var count int

		if err := rows.Scan(&activityType, &count); err != nil {
			log.Printf("[ActivityLogger] Error scanning stats row: %v", err)
			continue
		}

		stats[activityType] = count
	}

	return stats, rows.Err()
}
