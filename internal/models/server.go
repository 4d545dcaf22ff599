package models

import (
	"time"

	"github.com/yourusername/mc-server-manager/internal/admission"
	"github.com/yourusername/mc-server-manager/internal/database"
	"github.com/yourusername/mc-server-manager/internal/jvm"
	"github.com/yourusername/mc-server-manager/internal/server"
)

// ServerList is the response of GET /servers.
type ServerList struct {
	Servers []server.Snapshot `json:"servers"`
	Memory  admission.Usage   `json:"memory"`
}

// ServerDetail adds the persisted view of an instance to its live snapshot.
type ServerDetail struct {
	server.Snapshot
	Recorded *database.InstanceStatus `json:"recorded,omitempty"`
	Runs     []database.Run           `json:"runs,omitempty"`
}

// ServerStatus is the lightweight liveness answer for polling clients.
type ServerStatus struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Running   bool      `json:"running"`
	Owned     bool      `json:"owned"`
	PID       int       `json:"pid"`
	CheckedAt time.Time `json:"checked_at"`
}

// StartRequest optionally replaces the heap before starting. Zero values
// keep the heap already configured for the instance.
type StartRequest struct {
	MaxHeapGB  int `json:"max_heap_gb"`
	InitHeapGB int `json:"init_heap_gb"`
}

// StartResponse reports the spawned process.
type StartResponse struct {
	Name       string          `json:"name"`
	PID        int             `json:"pid"`
	RunID      string          `json:"run_id"`
	LogPath    string          `json:"log_path,omitempty"`
	MaxHeapGB  int             `json:"max_heap_gb"`
	InitHeapGB int             `json:"init_heap_gb"`
	Memory     admission.Usage `json:"memory"`
}

// CommandRequest represents a console command request
type CommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// CommandResponse represents the response to a command
type CommandResponse struct {
	Success bool   `json:"success"`
	Command string `json:"command"`
}

// RuntimeInfo is the outcome of resolving java for an install.
type RuntimeInfo struct {
	Name string `json:"name"`
	jvm.Match
	Found bool `json:"found"`
}

// LogLine is one console line with the span matched by the filter.
type LogLine struct {
	Text      string `json:"text"`
	Highlight []int  `json:"highlight,omitempty"`
}

// LogsResponse is the response of GET /servers/:name/logs. Source is
// "live" when read from the console buffer and "file" when read from disk.
type LogsResponse struct {
	Name    string    `json:"name"`
	LogPath string    `json:"log_path,omitempty"`
	Source  string    `json:"source"`
	Lines   []LogLine `json:"lines"`
}
