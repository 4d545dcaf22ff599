package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/mc-server-manager/internal/admission"
	"github.com/yourusername/mc-server-manager/internal/backup"
	"github.com/yourusername/mc-server-manager/internal/server"
)

// Lookup resolves instances by name.
type Lookup interface {
	Get(name string) (*server.Instance, bool)
}

// Registry is the working set of instances the API manages.
type Registry interface {
	Lookup
	All() []*server.Instance
	Refresh() []*server.Instance
}

// statusForError maps instance, admission and backup errors to HTTP
// status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, server.ErrInvalidHeap),
		errors.Is(err, server.ErrNoLauncher),
		errors.Is(err, backup.ErrUnsafePath),
		errors.Is(err, backup.ErrInvalidFilename):
		return http.StatusBadRequest
	case errors.Is(err, backup.ErrNotFound), errors.Is(err, backup.ErrUnknownServer):
		return http.StatusNotFound
	case errors.Is(err, server.ErrAlreadyRunning),
		errors.Is(err, server.ErrNotStarted),
		errors.Is(err, server.ErrNotOwned),
		errors.Is(err, server.ErrNotRunning),
		errors.Is(err, backup.ErrInProgress),
		errors.Is(err, backup.ErrServerRunning),
		errors.Is(err, backup.ErrNotCompleted):
		return http.StatusConflict
	case errors.Is(err, admission.ErrInsufficientMemory):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}

// lookupInstance writes a 404 and returns false when :name is unknown.
func lookupInstance(c *gin.Context, instances Lookup) (*server.Instance, bool) {
	name := c.Param("name")
	inst, ok := instances.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Server not found", "name": name})
		return nil, false
	}
	return inst, true
}

// parseLimit reads a positive integer query parameter capped at max.
func parseLimit(c *gin.Context, key string, fallback, max int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	if value > max {
		value = max
	}
	return value, nil
}

// parseSince accepts an RFC 3339 timestamp or a duration such as "24h"
// meaning that long ago. Empty yields the zero time.
func parseSince(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		if d < 0 {
			d = -d
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("since must be RFC 3339 or a duration")
	}
	return t, nil
}
