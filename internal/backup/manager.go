package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/mc-server-manager/internal/config"
	"github.com/yourusername/mc-server-manager/internal/console"
	"github.com/yourusername/mc-server-manager/internal/database"
	"github.com/yourusername/mc-server-manager/internal/logging"
	"github.com/yourusername/mc-server-manager/internal/server"
	"github.com/yourusername/mc-server-manager/internal/websocket"
)

// Backup statuses.
const (
	StatusCreating  = "creating"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusDeleted   = "deleted"
)

var (
	ErrNotFound      = errors.New("backup not found")
	ErrUnknownServer = errors.New("unknown server")
	ErrInProgress    = errors.New("a backup or restore is already in progress")
	ErrServerRunning = errors.New("server must be stopped before restoring")
	ErrNotCompleted  = errors.New("backup is not completed")
)

// Instances resolves the servers that can be backed up.
type Instances interface {
	Get(name string) (*server.Instance, bool)
}

// ActivityRecorder records backup outcomes in the activity log.
type ActivityRecorder interface {
	LogBackup(instance, actor, activityType, backupID string, err error, metadata map[string]interface{}) error
}

// Options controls what is archived and who is told about it. Activity
// and Hub may be nil.
type Options struct {
	Include        []string
	Exclude        []string
	Compression    CompressionConfig
	RetentionCount int
	SaveWait       time.Duration
	StagingDir     string
	Activity       ActivityRecorder
	Hub            console.Broadcaster
}

// OptionsFromConfig maps the backup section of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Include:        cfg.Backup.Include,
		Exclude:        cfg.Backup.Exclude,
		Compression:    CompressionConfig{Type: cfg.Backup.Compression, Level: cfg.Backup.Level},
		RetentionCount: cfg.Backup.RetentionCount,
		SaveWait:       cfg.BackupSaveWait(),
		StagingDir:     cfg.Backup.StagingDir,
	}
}

// Manager archives install directories, ships them to a destination and
// restores them. At most one backup or restore runs per instance.
type Manager struct {
	store     *Store
	instances Instances
	dest      config.BackupDestinationConfig
	opts      Options
	now       func() time.Time

	mu     sync.Mutex
	active map[string]bool
}

// NewManager creates a backup manager on a migrated database.
func NewManager(db *database.DB, instances Instances, dest config.BackupDestinationConfig, opts Options) *Manager {
	if opts.StagingDir == "" {
		opts.StagingDir = filepath.Join(os.TempDir(), "mcsm-backup-staging")
	}
	if dest.Type == "" {
		dest.Type = "local"
	}
	return &Manager{
		store:     NewStore(db),
		instances: instances,
		dest:      dest,
		opts:      opts,
		now:       time.Now,
		active:    make(map[string]bool),
	}
}

func (m *Manager) newDestination() (Destination, error) {
	return NewDestination(m.dest)
}

func (m *Manager) acquire(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[name] {
		return fmt.Errorf("%s: %w", name, ErrInProgress)
	}
	m.active[name] = true
	return nil
}

func (m *Manager) release(name string) {
	m.mu.Lock()
	delete(m.active, name)
	m.mu.Unlock()
}

// Busy reports whether a backup or restore of name is running.
func (m *Manager) Busy(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[name]
}

func (m *Manager) lookup(name string) (*server.Instance, error) {
	inst, ok := m.instances.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	return inst, nil
}

// CreateBackup archives the install of name and uploads it. A server this
// manager owns has saving paused for the duration of the archive.
func (m *Manager) CreateBackup(ctx context.Context, name, actor string) (*Record, error) {
	inst, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := m.acquire(inst.Name()); err != nil {
		return nil, err
	}
	defer m.release(inst.Name())

	now := m.now()
	id := uuid.New().String()[:8]
	compression := normalizeCompression(m.opts.Compression)
	record := &Record{
		ID:              "backup-" + id,
		Instance:        inst.Name(),
		Filename:        fmt.Sprintf("%s_%s_%s.%s", inst.Name(), now.Format("2006-01-02_15-04-05"), id, compressionArchiveExtension(compression)),
		CreatedAt:       now,
		DestinationType: m.dest.Type,
		DestinationPath: m.dest.Path,
		Status:          StatusCreating,
		CreatedBy:       actor,
	}
	if err := m.store.Save(record); err != nil {
		return nil, err
	}

	log.Printf("[Backup] Creating backup %s of %s", record.ID, inst.Name())
	m.announce(inst.Name(), "backup_started", map[string]interface{}{"backup_id": record.ID})

	info, live, err := m.archive(ctx, inst, record.Filename, compression)
	if err == nil {
		err = m.upload(info)
	}
	if info != nil {
		os.Remove(info.Path)
	}
	if err != nil {
		return nil, m.fail(record, actor, err)
	}

	completed := m.now()
	record.Status = StatusCompleted
	record.CompletedAt = &completed
	record.SizeBytes = info.SizeBytes
	record.FileCount = info.FileCount
	record.Metadata = map[string]interface{}{
		"include":     info.Include,
		"exclude":     m.opts.Exclude,
		"compression": info.Compression,
		"live":        live,
	}
	if err := m.store.Save(record); err != nil {
		log.Printf("[Backup] Warning: Failed to update backup status: %v", err)
	}

	logging.For("Backup").Info("backup_completed",
		"instance", inst.Name(),
		"backup_id", record.ID,
		"filename", record.Filename,
		"size_bytes", record.SizeBytes,
		"destination", m.dest.Type,
	)
	m.recordActivity(inst.Name(), actor, logging.ActivityBackupCreate, record.ID, nil, map[string]interface{}{
		"filename":   record.Filename,
		"size_bytes": record.SizeBytes,
		"live":       live,
	})
	m.announce(inst.Name(), "backup_completed", map[string]interface{}{
		"backup_id":  record.ID,
		"filename":   record.Filename,
		"size_bytes": record.SizeBytes,
	})

	if m.opts.RetentionCount > 0 {
		if _, err := m.EnforceRetention(inst.Name(), m.opts.RetentionCount); err != nil {
			log.Printf("[Backup] Retention for %s failed: %v", inst.Name(), err)
		}
	}
	return record, nil
}

func (m *Manager) fail(record *Record, actor string, cause error) error {
	record.Status = StatusFailed
	record.ErrorMessage = cause.Error()
	if err := m.store.Save(record); err != nil {
		log.Printf("[Backup] Warning: Failed to record failure of %s: %v", record.ID, err)
	}
	log.Printf("[Backup] Backup %s of %s failed: %v", record.ID, record.Instance, cause)
	m.recordActivity(record.Instance, actor, logging.ActivityBackupCreate, record.ID, cause, nil)
	m.announce(record.Instance, "backup_failed", map[string]interface{}{
		"backup_id": record.ID,
		"error":     cause.Error(),
	})
	return fmt.Errorf("backup of %s failed: %w", record.Instance, cause)
}

// archive reports whether the server was running while it was archived.
// A stopped server cannot be started until its archive is written.
func (m *Manager) archive(ctx context.Context, inst *server.Instance, filename string, compression CompressionConfig) (*ArchiveInfo, bool, error) {
	var (
		info       *ArchiveInfo
		archiveErr error
	)
	err := inst.WhileStopped(func() error {
		info, archiveErr = m.createArchive(inst, filename, compression)
		return nil
	})
	if err == nil {
		return info, false, archiveErr
	}

	live := inst.IsRunning()
	if inst.Owned() {
		defer m.resumeSaving(inst)
		if err := m.pauseSaving(ctx, inst); err != nil {
			return nil, live, err
		}
	} else if live {
		log.Printf("[Backup] %s is running outside this manager; archiving without pausing saves", inst.Name())
	}

	info, err = m.createArchive(inst, filename, compression)
	return info, live, err
}

func (m *Manager) createArchive(inst *server.Instance, filename string, compression CompressionConfig) (*ArchiveInfo, error) {
	return CreateArchive(inst.Path(), filepath.Join(m.opts.StagingDir, filename), ArchiveOptions{
		Include:     m.opts.Include,
		Exclude:     m.opts.Exclude,
		Compression: compression,
	})
}

// pauseSaving stops autosave and flushes the world, then waits SaveWait
// for the flush to land.
func (m *Manager) pauseSaving(ctx context.Context, inst *server.Instance) error {
	for _, command := range []string{"save-off", "save-all flush"} {
		if err := inst.SendCommand(command); err != nil {
			log.Printf("[Backup] Could not send %q to %s: %v", command, inst.Name(), err)
			return nil
		}
	}
	if m.opts.SaveWait <= 0 {
		return nil
	}

	timer := time.NewTimer(m.opts.SaveWait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-inst.Exited():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (m *Manager) resumeSaving(inst *server.Instance) {
	if !inst.Owned() {
		return
	}
	if err := inst.SendCommand("save-on"); err != nil {
		log.Printf("[Backup] Could not re-enable saving on %s: %v", inst.Name(), err)
	}
}

func (m *Manager) upload(info *ArchiveInfo) error {
	dest, err := m.newDestination()
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	defer closeDestination(dest)

	file, err := os.Open(info.Path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	if err := dest.Upload(info.Filename, file, info.SizeBytes); err != nil {
		return fmt.Errorf("failed to upload to destination: %w", err)
	}
	return nil
}

// RestoreBackup extracts a completed backup over the install of its
// server. Files not in the archive are left in place.
func (m *Manager) RestoreBackup(ctx context.Context, id, actor string) (*Record, error) {
	record, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusCompleted {
		return nil, fmt.Errorf("%s is %s: %w", id, record.Status, ErrNotCompleted)
	}
	inst, err := m.lookup(record.Instance)
	if err != nil {
		return nil, err
	}
	if err := m.acquire(inst.Name()); err != nil {
		return nil, err
	}
	defer m.release(inst.Name())

	var count int
	err = inst.WhileStopped(func() error {
		log.Printf("[Backup] Restoring backup %s to %s", id, inst.Path())
		var restoreErr error
		count, restoreErr = m.restore(ctx, record, inst.Path())
		return restoreErr
	})
	if errors.Is(err, server.ErrAlreadyRunning) {
		return nil, fmt.Errorf("%s: %w", inst.Name(), ErrServerRunning)
	}
	m.recordActivity(inst.Name(), actor, logging.ActivityBackupRestore, id, err, map[string]interface{}{
		"filename": record.Filename,
		"entries":  count,
	})
	if err != nil {
		return nil, fmt.Errorf("restore of %s failed: %w", id, err)
	}

	log.Printf("[Backup] Backup %s restored to %s (%d entries)", id, inst.Path(), count)
	m.announce(inst.Name(), "backup_restored", map[string]interface{}{"backup_id": id, "entries": count})
	return record, nil
}

func (m *Manager) restore(ctx context.Context, record *Record, target string) (int, error) {
	if err := os.MkdirAll(m.opts.StagingDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create staging directory: %w", err)
	}
	stagedPath := filepath.Join(m.opts.StagingDir, "restore_"+record.Filename)
	defer os.Remove(stagedPath)

	staged, err := os.Create(stagedPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create restore file: %w", err)
	}
	err = m.download(record, staged)
	if closeErr := staged.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return ExtractArchive(stagedPath, target)
}

func (m *Manager) download(record *Record, w io.Writer) error {
	dest, err := m.newDestination()
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	defer closeDestination(dest)

	if err := dest.Download(record.Filename, w); err != nil {
		return fmt.Errorf("failed to download backup: %w", err)
	}
	return nil
}

// Download streams a completed backup to w.
func (m *Manager) Download(id string, w io.Writer) (*Record, error) {
	record, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusCompleted {
		return nil, fmt.Errorf("%s is %s: %w", id, record.Status, ErrNotCompleted)
	}
	return record, m.download(record, w)
}

// DeleteBackup removes the archive from the destination and marks the
// record deleted.
func (m *Manager) DeleteBackup(id, actor string) error {
	record, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if record.Status == StatusDeleted {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	err = m.deleteRecord(record)
	m.recordActivity(record.Instance, actor, logging.ActivityBackupDelete, id, err, map[string]interface{}{"filename": record.Filename})
	return err
}

func (m *Manager) deleteRecord(record *Record) error {
	if record.Status == StatusCompleted && record.Filename != "" {
		dest, err := m.newDestination()
		if err != nil {
			log.Printf("[Backup] Warning: Failed to open destination to delete %s: %v", record.ID, err)
		} else {
			if err := dest.Delete(record.Filename); err != nil {
				log.Printf("[Backup] Warning: Failed to delete %s from destination: %v", record.Filename, err)
			}
			closeDestination(dest)
		}
	}

	record.Status = StatusDeleted
	if err := m.store.Save(record); err != nil {
		return fmt.Errorf("failed to update backup record: %w", err)
	}
	log.Printf("[Backup] Backup %s deleted", record.ID)
	return nil
}

// GetBackup returns one record.
func (m *Manager) GetBackup(id string) (*Record, error) {
	return m.store.Get(id)
}

// ListBackups returns the backups of name, newest first.
func (m *Manager) ListBackups(name string) ([]*Record, error) {
	return m.store.List(name)
}

// DestinationFiles lists what is stored at the destination, including
// archives this manager has no record of.
func (m *Manager) DestinationFiles() ([]BackupFile, error) {
	dest, err := m.newDestination()
	if err != nil {
		return nil, err
	}
	defer closeDestination(dest)
	return dest.List()
}

// RunScheduledBackup is the cron entry point.
func (m *Manager) RunScheduledBackup(name string) error {
	_, err := m.CreateBackup(context.Background(), name, "scheduler")
	return err
}

func (m *Manager) recordActivity(instance, actor, activityType, id string, err error, metadata map[string]interface{}) {
	if m.opts.Activity == nil {
		return
	}
	if logErr := m.opts.Activity.LogBackup(instance, actor, activityType, id, err, metadata); logErr != nil {
		log.Printf("[Backup] Failed to record activity for %s: %v", id, logErr)
	}
}

func (m *Manager) announce(instance, msgType string, payload map[string]interface{}) {
	if m.opts.Hub == nil {
		return
	}
	payload["instance"] = instance
	m.opts.Hub.BroadcastToRoom(console.Room(instance), &websocket.Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: m.now(),
	})
}
