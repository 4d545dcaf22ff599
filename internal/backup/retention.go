package backup

import (
	"fmt"
	"log"
	"sort"
)

// EnforceRetention keeps the newest keep completed backups of name and
// deletes the rest. Failed records are never counted and are left for
// inspection. keep <= 0 keeps everything.
func (m *Manager) EnforceRetention(name string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	backups, err := m.store.List(name)
	if err != nil {
		return 0, fmt.Errorf("failed to list backups: %w", err)
	}

	var completed []*Record
	for _, backup := range backups {
		if backup.Status == StatusCompleted {
			completed = append(completed, backup)
		}
	}
	if len(completed) <= keep {
		return 0, nil
	}

	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].CreatedAt.After(completed[j].CreatedAt)
	})

	deleted := 0
	for _, backup := range completed[keep:] {
		log.Printf("[Retention] Deleting old backup: %s (created: %s)",
			backup.ID, backup.CreatedAt.Format("2006-01-02 15:04:05"))

		if err := m.deleteRecord(backup); err != nil {
			log.Printf("[Retention] Error deleting backup %s: %v", backup.ID, err)
			continue
		}
		deleted++
	}

	log.Printf("[Retention] %s: deleted %d backups beyond the newest %d", name, deleted, keep)
	return deleted, nil
}

// RetentionStats summarizes what EnforceRetention would remove.
func (m *Manager) RetentionStats(name string, keep int) (map[string]interface{}, error) {
	backups, err := m.store.List(name)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var completed []*Record
	var totalSize int64
	for _, backup := range backups {
		if backup.Status == StatusCompleted {
			completed = append(completed, backup)
			totalSize += backup.SizeBytes
		}
	}

	stats := map[string]interface{}{
		"total_backups":     len(completed),
		"retention_limit":   keep,
		"backups_to_delete": 0,
		"total_size_bytes":  totalSize,
		"will_delete_size":  int64(0),
	}

	if keep > 0 && len(completed) > keep {
		stats["backups_to_delete"] = len(completed) - keep
		var deleteSize int64
		for _, backup := range completed[keep:] {
			deleteSize += backup.SizeBytes
		}
		stats["will_delete_size"] = deleteSize
	}

	return stats, nil
}

// RetentionCount is the configured number of backups kept per instance.
func (m *Manager) RetentionCount() int {
	return m.opts.RetentionCount
}
