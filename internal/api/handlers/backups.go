package handlers

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/mc-server-manager/internal/api/middleware"
	"github.com/yourusername/mc-server-manager/internal/backup"
)

// BackupHandler handles backup-related HTTP requests
type BackupHandler struct {
	instances Lookup
	backups   *backup.Manager
}

// NewBackupHandler creates a new backup handler. A nil manager answers
// every request with 503.
func NewBackupHandler(instances Lookup, backups *backup.Manager) *BackupHandler {
	return &BackupHandler{instances: instances, backups: backups}
}

func (h *BackupHandler) available(c *gin.Context) bool {
	if h.backups == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Backups are disabled"})
		return false
	}
	return true
}

// backupOf loads :backupId and checks it belongs to :name.
func (h *BackupHandler) backupOf(c *gin.Context) (*backup.Record, bool) {
	inst, ok := lookupInstance(c, h.instances)
	if !ok {
		return nil, false
	}
	record, err := h.backups.GetBackup(c.Param("backupId"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if record.Instance != inst.Name() || record.Status == backup.StatusDeleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Backup not found"})
		return nil, false
	}
	return record, true
}

// CreateBackup archives an install and uploads it to the destination.
// The request blocks until the upload finishes.
// POST /servers/:name/backups
func (h *BackupHandler) CreateBackup(c *gin.Context) {
	if !h.available(c) {
		return
	}
	inst, ok := lookupInstance(c, h.instances)
	if !ok {
		return
	}

	record, err := h.backups.CreateBackup(c.Request.Context(), inst.Name(), middleware.Subject(c))
	if err != nil {
		log.Printf("[API] Backup of %s failed: %v", inst.Name(), err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

// ListBackups lists backups for a server
// GET /servers/:name/backups
func (h *BackupHandler) ListBackups(c *gin.Context) {
	if !h.available(c) {
		return
	}
	inst, ok := lookupInstance(c, h.instances)
	if !ok {
		return
	}

	records, err := h.backups.ListBackups(inst.Name())
	if err != nil {
		log.Printf("[API] Failed to list backups of %s: %v", inst.Name(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list backups"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"name": inst.Name(), "backups": records, "busy": h.backups.Busy(inst.Name())})
}

// GetBackup returns one backup record.
// GET /servers/:name/backups/:backupId
func (h *BackupHandler) GetBackup(c *gin.Context) {
	if !h.available(c) {
		return
	}
	record, ok := h.backupOf(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, record)
}

// DownloadBackup streams the archive from the destination.
// GET /servers/:name/backups/:backupId/download
func (h *BackupHandler) DownloadBackup(c *gin.Context) {
	if !h.available(c) {
		return
	}
	record, ok := h.backupOf(c)
	if !ok {
		return
	}
	if record.Status != backup.StatusCompleted {
		respondError(c, fmt.Errorf("%s is %s: %w", record.ID, record.Status, backup.ErrNotCompleted))
		return
	}

	c.Header("Content-Type", backup.ContentTypeFor(record.Filename))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.Filename))
	if record.SizeBytes > 0 {
		c.Header("Content-Length", fmt.Sprintf("%d", record.SizeBytes))
	}

	if _, err := h.backups.Download(record.ID, c.Writer); err != nil {
		log.Printf("[API] Failed to stream backup %s: %v", record.ID, err)
		if !c.Writer.Written() {
			c.Writer.Header().Del("Content-Disposition")
			c.Writer.Header().Del("Content-Length")
			respondError(c, err)
		}
	}
}

// RestoreBackup unpacks a backup over the install. The server must be
// stopped.
// POST /servers/:name/backups/:backupId/restore
func (h *BackupHandler) RestoreBackup(c *gin.Context) {
	if !h.available(c) {
		return
	}
	record, ok := h.backupOf(c)
	if !ok {
		return
	}

	if _, err := h.backups.RestoreBackup(c.Request.Context(), record.ID, middleware.Subject(c)); err != nil {
		log.Printf("[API] Restore of %s failed: %v", record.ID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Backup restored", "backup": record})
}

// DeleteBackup deletes a backup
// DELETE /servers/:name/backups/:backupId
func (h *BackupHandler) DeleteBackup(c *gin.Context) {
	if !h.available(c) {
		return
	}
	record, ok := h.backupOf(c)
	if !ok {
		return
	}

	if err := h.backups.DeleteBackup(record.ID, middleware.Subject(c)); err != nil {
		log.Printf("[API] Failed to delete backup %s: %v", record.ID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Backup deleted", "id": record.ID})
}

// GetRetention previews what the retention policy would remove.
// GET /servers/:name/backups/retention
func (h *BackupHandler) GetRetention(c *gin.Context) {
	if !h.available(c) {
		return
	}
	inst, ok := lookupInstance(c, h.instances)
	if !ok {
		return
	}

	stats, err := h.backups.RetentionStats(inst.Name(), h.backups.RetentionCount())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute retention"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// EnforceRetention manually enforces the retention policy. A body of
// {"retention_count": n} overrides the configured count.
// POST /servers/:name/backups/retention/enforce
func (h *BackupHandler) EnforceRetention(c *gin.Context) {
	if !h.available(c) {
		return
	}
	inst, ok := lookupInstance(c, h.instances)
	if !ok {
		return
	}

	var req struct {
		RetentionCount int `json:"retention_count" binding:"omitempty,min=1"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	keep := req.RetentionCount
	if keep == 0 {
		keep = h.backups.RetentionCount()
	}

	deleted, err := h.backups.EnforceRetention(inst.Name(), keep)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enforce retention"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": inst.Name(), "retention_count": keep, "deleted": deleted})
}

// ListDestinationFiles lists every archive at the destination, including
// ones with no record.
// GET /backups/files
func (h *BackupHandler) ListDestinationFiles(c *gin.Context) {
	if !h.available(c) {
		return
	}
	files, err := h.backups.DestinationFiles()
	if err != nil {
		log.Printf("[API] Failed to list backup destination: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to list backup destination"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}
