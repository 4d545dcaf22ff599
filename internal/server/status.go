package server

import "time"

// State is the lifecycle state of an instance as seen by callers.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// EventType identifies a lifecycle event emitted by an Instance.
type EventType string

const (
	EventStarted       EventType = "started"
	EventStartFailed   EventType = "start_failed"
	EventStopRequested EventType = "stop_requested"
	EventCommandSent   EventType = "command_sent"
	EventExited        EventType = "exited"
)

// Event describes something that happened to an instance.
type Event struct {
	Type     EventType
	Instance string
	RunID    string
	PID      int
	LogPath  string
	Command  string
	ExitCode int
	Err      string
	Time     time.Time
}

// EventSink receives lifecycle events. HandleEvent is called synchronously
// from the goroutine that produced the event and must not block for long.
type EventSink interface {
	HandleEvent(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) HandleEvent(e Event) { f(e) }

// Snapshot is a point-in-time view of an instance.
type Snapshot struct {
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	MaxHeapGB  int        `json:"max_heap_gb"`
	InitHeapGB int        `json:"init_heap_gb"`
	State      string     `json:"state"`
	Running    bool       `json:"running"`
	Owned      bool       `json:"owned"`
	PID        int        `json:"pid"`
	RunID      string     `json:"run_id,omitempty"`
	LogPath    string     `json:"log_path,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	Runtime    string     `json:"runtime,omitempty"`
}
