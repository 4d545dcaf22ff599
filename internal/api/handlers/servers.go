package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/mc-server-manager/internal/admission"
	"github.com/yourusername/mc-server-manager/internal/database"
	"github.com/yourusername/mc-server-manager/internal/models"
	"github.com/yourusername/mc-server-manager/internal/server"
)

const recentRuns = 10

// ServerHandler exposes instance lifecycle over HTTP.
type ServerHandler struct {
	registry Registry
	budget   admission.Budget
	status   *database.StatusStore
	resolver server.RuntimeResolver

	// startMu holds the admission check and the spawn together
	startMu sync.Mutex
	busy    func(name string) bool
	now     func() time.Time
}

// NewServerHandler creates a new server handler. status may be nil.
func NewServerHandler(registry Registry, budget admission.Budget, status *database.StatusStore, resolver server.RuntimeResolver) *ServerHandler {
	return &ServerHandler{
		registry: registry,
		budget:   budget,
		status:   status,
		resolver: resolver,
		now:      time.Now,
	}
}

// SetBusyCheck installs a predicate that refuses starts while an install
// is being backed up or restored.
func (h *ServerHandler) SetBusyCheck(busy func(name string) bool) {
	h.busy = busy
}

func (h *ServerHandler) snapshots(instances []*server.Instance) models.ServerList {
	list := models.ServerList{
		Servers: make([]server.Snapshot, 0, len(instances)),
		Memory:  admission.Measure(instances, h.budget),
	}
	for _, inst := range instances {
		list.Servers = append(list.Servers, inst.Snapshot())
	}
	return list
}

// ListServers returns every discovered instance with the memory budget.
// GET /servers
func (h *ServerHandler) ListServers(c *gin.Context) {
	c.JSON(http.StatusOK, h.snapshots(h.registry.All()))
}

// RefreshServers rescans the servers root.
// POST /servers/refresh
func (h *ServerHandler) RefreshServers(c *gin.Context) {
	instances := h.registry.Refresh()
	log.Printf("[API] Rescanned servers root: %d instances", len(instances))
	c.JSON(http.StatusOK, h.snapshots(instances))
}

// GetServer returns one instance with its recorded status and recent runs.
// GET /servers/:name
func (h *ServerHandler) GetServer(c *gin.Context) {
	inst, ok := lookupInstance(c, h.registry)
	if !ok {
		return
	}

	detail := models.ServerDetail{Snapshot: inst.Snapshot()}
	if h.status != nil {
		recorded, err := h.status.Get(inst.Name())
		if err != nil {
			log.Printf("[API] Failed to load recorded status of %s: %v", inst.Name(), err)
		}
		detail.Recorded = recorded

		runs, err := h.status.Runs(inst.Name(), recentRuns)
		if err != nil {
			log.Printf("[API] Failed to load runs of %s: %v", inst.Name(), err)
		}
		detail.Runs = runs
	}

	c.JSON(http.StatusOK, detail)
}

// GetStatus probes liveness of one instance.
// GET /servers/:name/status
func (h *ServerHandler) GetStatus(c *gin.Context) {
	inst, ok := lookupInstance(c, h.registry)
	if !ok {
		return
	}
	state := inst.State()
	c.JSON(http.StatusOK, models.ServerStatus{
		Name:      inst.Name(),
		State:     state.String(),
		Running:   state == server.StateRunning || state == server.StateStopping,
		Owned:     inst.Owned(),
		PID:       inst.PID(),
		CheckedAt: h.now(),
	})
}

// StartServer starts an instance, optionally with a new heap. Admission is
// checked against the live state of every instance right before spawning.
// POST /servers/:name/start
func (h *ServerHandler) StartServer(c *gin.Context) {
	inst, ok := lookupInstance(c, h.registry)
	if !ok {
		return
	}

	var req models.StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	h.startMu.Lock()
	defer h.startMu.Unlock()

	if inst.IsRunning() {
		respondError(c, server.ErrAlreadyRunning)
		return
	}
	if h.busy != nil && h.busy(inst.Name()) {
		c.JSON(http.StatusConflict, gin.H{"error": "A backup or restore is in progress", "name": inst.Name()})
		return
	}

	maxHeap, initHeap := inst.Heap()
	if req.MaxHeapGB != 0 {
		maxHeap = req.MaxHeapGB
	}
	if req.InitHeapGB != 0 {
		initHeap = req.InitHeapGB
	}
	if err := server.ValidateHeap(maxHeap, initHeap); err != nil {
		respondError(c, err)
		return
	}
	if err := admission.Check(maxHeap, h.registry.All(), h.budget); err != nil {
		log.Printf("[API] Refusing to start %s: %v", inst.Name(), err)
		respondError(c, err)
		return
	}

	inst.SetHeap(maxHeap, initHeap)
	pid, err := inst.Start()
	if err != nil {
		log.Printf("[API] Failed to start %s: %v", inst.Name(), err)
		respondError(c, err)
		return
	}

	snap := inst.Snapshot()
	c.JSON(http.StatusOK, models.StartResponse{
		Name:       inst.Name(),
		PID:        pid,
		RunID:      snap.RunID,
		LogPath:    snap.LogPath,
		MaxHeapGB:  maxHeap,
		InitHeapGB: initHeap,
		Memory:     admission.Measure(h.registry.All(), h.budget),
	})
}

// StopServer asks an owned instance to shut down. It returns before the
// process exits; poll the status endpoint to observe the exit.
// POST /servers/:name/stop
func (h *ServerHandler) StopServer(c *gin.Context) {
	inst, ok := lookupInstance(c, h.registry)
	if !ok {
		return
	}

	if err := inst.Stop(); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "Stop requested", "name": inst.Name(), "pid": inst.PID()})
}

// SendCommand writes one console line to an owned instance.
// POST /servers/:name/command
func (h *ServerHandler) SendCommand(c *gin.Context) {
	inst, ok := lookupInstance(c, h.registry)
	if !ok {
		return
	}

	var req models.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	command := strings.TrimSpace(req.Command)
	if command == "" || strings.ContainsAny(command, "\r\n") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command must be a single non-empty line"})
		return
	}

	if err := inst.SendCommand(command); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.CommandResponse{Success: true, Command: command})
}

// GetCommandHistory lists commands sent to an instance, newest first.
// GET /servers/:name/commands
func (h *ServerHandler) GetCommandHistory(c *gin.Context) {
	inst, ok := lookupInstance(c, h.registry)
	if !ok {
		return
	}
	if h.status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Command history is not available"})
		return
	}

	limit, err := parseLimit(c, "limit", 50, 500)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	commands, err := h.status.Commands(inst.Name(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load command history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": inst.Name(), "commands": commands})
}

// GetRuntime reports the detected game version and the java binary that
// would be used to launch it.
// GET /servers/:name/runtime
func (h *ServerHandler) GetRuntime(c *gin.Context) {
	inst, ok := lookupInstance(c, h.registry)
	if !ok {
		return
	}
	match := h.resolver.Resolve(inst.Path())
	c.JSON(http.StatusOK, models.RuntimeInfo{Name: inst.Name(), Match: match, Found: match.Found()})
}
