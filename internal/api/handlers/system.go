package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/mc-server-manager/internal/admission"
	"github.com/yourusername/mc-server-manager/internal/metrics"
	"github.com/yourusername/mc-server-manager/internal/scheduler"
	"github.com/yourusername/mc-server-manager/internal/server"
)

// Instances lists the working set.
type Instances interface {
	All() []*server.Instance
}

// JobLister reports registered schedules.
type JobLister interface {
	Jobs() []scheduler.Job
}

// SystemHandler serves host-wide views: memory, schedules and health.
type SystemHandler struct {
	instances Instances
	budget    admission.Budget
	collector *metrics.Collector
	jobs      JobLister
	started   time.Time
	now       func() time.Time
}

// NewSystemHandler creates a new system handler. collector and jobs may be
// nil.
func NewSystemHandler(instances Instances, budget admission.Budget, collector *metrics.Collector, jobs JobLister) *SystemHandler {
	return &SystemHandler{
		instances: instances,
		budget:    budget,
		collector: collector,
		jobs:      jobs,
		started:   time.Now(),
		now:       time.Now,
	}
}

// GetMemory reports the heap budget against the live state of every
// instance.
// GET /memory
func (h *SystemHandler) GetMemory(c *gin.Context) {
	c.JSON(http.StatusOK, admission.Measure(h.instances.All(), h.budget))
}

// GetMemoryHistory returns stored memory snapshots, oldest first.
// GET /memory/history?since=&limit=
func (h *SystemHandler) GetMemoryHistory(c *gin.Context) {
	if h.collector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Metrics collection is disabled"})
		return
	}
	limit, err := parseLimit(c, "limit", 500, 5000)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	since, err := parseSince(c.DefaultQuery("since", "24h"), h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snapshots, err := h.collector.Snapshots(since, limit)
	if err != nil {
		log.Printf("[API] Failed to load memory snapshots: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load memory snapshots"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots})
}

// ListSchedules returns the registered cron jobs with their next run.
// GET /schedules
func (h *SystemHandler) ListSchedules(c *gin.Context) {
	jobs := []scheduler.Job{}
	if h.jobs != nil {
		jobs = h.jobs.Jobs()
	}
	c.JSON(http.StatusOK, gin.H{"schedules": jobs})
}

// Health is the unauthenticated liveness endpoint.
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	instances := h.instances.All()
	running := 0
	for _, inst := range instances {
		if inst.IsRunning() {
			running++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"servers": len(instances),
		"running": running,
		"uptime":  h.now().Sub(h.started).Round(time.Second).String(),
	})
}
