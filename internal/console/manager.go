package console

import (
	"log"
	"sync"
	"time"

	"github.com/yourusername/mc-server-manager/internal/server"
	"github.com/yourusername/mc-server-manager/internal/websocket"
)

// Manager runs one Tailer per instance with a live run log and keeps each
// instance's recent output after the run ends.
type Manager struct {
	hub          Broadcaster
	historyLines int
	interval     time.Duration

	// follow serializes Follow and Stop
	follow  sync.Mutex
	mu      sync.Mutex
	tailers map[string]*Tailer
	buffers map[string]*RingBuffer
}

// NewManager creates a console manager. hub may be nil.
func NewManager(hub Broadcaster, historyLines int, interval time.Duration) *Manager {
	if historyLines <= 0 {
		historyLines = 500
	}
	return &Manager{
		hub:          hub,
		historyLines: historyLines,
		interval:     interval,
		tailers:      make(map[string]*Tailer),
		buffers:      make(map[string]*RingBuffer),
	}
}

// Follow starts tailing logPath for instance, replacing any previous
// tailer. The history of the previous run is dropped.
func (m *Manager) Follow(instance, logPath string) {
	if logPath == "" {
		return
	}

	m.follow.Lock()
	defer m.follow.Unlock()

	m.mu.Lock()
	previous := m.tailers[instance]
	if previous != nil && previous.Path() == logPath {
		m.mu.Unlock()
		return
	}
	delete(m.tailers, instance)
	m.mu.Unlock()

	if previous != nil {
		previous.stop()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	buffer := m.buffers[instance]
	if buffer == nil {
		buffer = NewRingBuffer(m.historyLines)
		m.buffers[instance] = buffer
	} else {
		buffer.Reset()
	}

	tailer := newTailer(instance, logPath, buffer, m.hub, m.interval)
	m.tailers[instance] = tailer
	tailer.start()

	log.Printf("[Console] Following %s for %s", logPath, instance)
}

// Stop ends the tailer of instance after draining what is already written.
func (m *Manager) Stop(instance string) {
	m.follow.Lock()
	defer m.follow.Unlock()

	m.mu.Lock()
	tailer := m.tailers[instance]
	delete(m.tailers, instance)
	m.mu.Unlock()

	if tailer != nil {
		tailer.stop()
		log.Printf("[Console] Stopped following %s", instance)
	}
}

// StopAll ends every tailer.
func (m *Manager) StopAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.tailers))
	for name := range m.tailers {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.Stop(name)
	}
}

// Following returns the log path tailed for instance.
func (m *Manager) Following(instance string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tailer, ok := m.tailers[instance]; ok {
		return tailer.Path(), true
	}
	return "", false
}

// History returns up to n recent lines of instance. n <= 0 means all
// buffered lines.
func (m *Manager) History(instance string, n int) []string {
	m.mu.Lock()
	buffer := m.buffers[instance]
	m.mu.Unlock()

	if buffer == nil {
		return []string{}
	}
	return buffer.GetLast(n)
}

// HandleEvent follows the run log of started instances and announces
// commands and exits to console viewers.
func (m *Manager) HandleEvent(e server.Event) {
	switch e.Type {
	case server.EventStarted:
		m.announce(e, "instance_started", map[string]interface{}{"pid": e.PID, "run_id": e.RunID})
		m.Follow(e.Instance, e.LogPath)
	case server.EventCommandSent:
		m.announce(e, "command_executed", map[string]interface{}{"command": e.Command})
	case server.EventStopRequested:
		m.announce(e, "stop_requested", map[string]interface{}{"pid": e.PID})
	case server.EventExited:
		m.Stop(e.Instance)
		m.announce(e, "instance_exited", map[string]interface{}{"pid": e.PID, "exit_code": e.ExitCode})
	}
}

func (m *Manager) announce(e server.Event, msgType string, payload map[string]interface{}) {
	if m.hub == nil {
		return
	}
	payload["instance"] = e.Instance
	m.hub.BroadcastToRoom(Room(e.Instance), &websocket.Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: e.Time,
	})
}
