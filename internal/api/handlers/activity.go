package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/mc-server-manager/internal/logging"
)

// ActivityHandler serves the activity log.
type ActivityHandler struct {
	instances Lookup
	activity  *logging.ActivityLogger
	now       func() time.Time
}

// NewActivityHandler creates a new activity handler. activity may be nil
// when the database is unavailable.
func NewActivityHandler(instances Lookup, activity *logging.ActivityLogger) *ActivityHandler {
	return &ActivityHandler{instances: instances, activity: activity, now: time.Now}
}

func (h *ActivityHandler) available(c *gin.Context) bool {
	if h.activity == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Activity log is not available"})
		return false
	}
	return true
}

func (h *ActivityHandler) list(c *gin.Context, instance string) {
	limit, err := parseLimit(c, "limit", 100, 1000)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	since, err := parseSince(c.Query("since"), h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	activities, err := h.activity.GetActivities(instance, c.Query("type"), since, limit)
	if err != nil {
		log.Printf("[API] Failed to query activities: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query activities"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activities": activities, "count": len(activities)})
}

// GetServerActivity lists activities of one instance, newest first.
// GET /servers/:name/activity?type=&since=&limit=
func (h *ActivityHandler) GetServerActivity(c *gin.Context) {
	inst, ok := lookupInstance(c, h.instances)
	if !ok || !h.available(c) {
		return
	}
	h.list(c, inst.Name())
}

// ListActivity lists activities across instances.
// GET /activity?instance=&type=&since=&limit=
func (h *ActivityHandler) ListActivity(c *gin.Context) {
	if !h.available(c) {
		return
	}
	h.list(c, c.Query("instance"))
}

// GetActivityStats counts activities by type.
// GET /activity/stats?instance=&since=
func (h *ActivityHandler) GetActivityStats(c *gin.Context) {
	if !h.available(c) {
		return
	}
	since, err := parseSince(c.DefaultQuery("since", "24h"), h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stats, err := h.activity.GetActivityStats(c.Query("instance"), since)
	if err != nil {
		log.Printf("[API] Failed to compute activity stats: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute activity stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"since": since, "stats": stats})
}
