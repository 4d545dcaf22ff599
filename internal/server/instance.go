package server

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/mc-server-manager/internal/jvm"
)

// HeapUnset marks a heap size that was not a positive number.
const HeapUnset = -1

// RuntimeResolver picks the java binary for an install directory.
type RuntimeResolver interface {
	Resolve(dir string) jvm.Match
}

type hostResolver struct{}

func (hostResolver) Resolve(dir string) jvm.Match { return jvm.Resolve(dir) }

// Instance is one server installation and, once started by this manager,
// the process running it.
type Instance struct {
	path string
	name string

	resolver RuntimeResolver
	sinks    []EventSink
	now      func() time.Time

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex
	// writeMu keeps concurrent commands from interleaving on stdin
	writeMu sync.Mutex

	mu            sync.RWMutex
	maxHeapGB     int
	initHeapGB    int
	proc          *process
	pid           int
	logPath       string
	runtime       jvm.Match
	starting      bool
	stopRequested bool
}

// Option customizes an Instance.
type Option func(*Instance)

// WithName overrides the display name, which defaults to the directory name.
func WithName(name string) Option {
	return func(i *Instance) {
		if strings.TrimSpace(name) != "" {
			i.name = name
		}
	}
}

// WithResolver replaces the host runtime resolver.
func WithResolver(r RuntimeResolver) Option {
	return func(i *Instance) {
		if r != nil {
			i.resolver = r
		}
	}
}

// WithEventSink registers sinks for lifecycle events.
func WithEventSink(sinks ...EventSink) Option {
	return func(i *Instance) {
		for _, s := range sinks {
			if s != nil {
				i.sinks = append(i.sinks, s)
			}
		}
	}
}

// WithClock sets the clock used for run log names.
func WithClock(now func() time.Time) Option {
	return func(i *Instance) {
		if now != nil {
			i.now = now
		}
	}
}

// NewInstance creates an instance for the install at path. Construction
// never fails: non-positive heap sizes are stored as HeapUnset and rejected
// later by Start.
func NewInstance(path string, maxHeapGB, initHeapGB int, opts ...Option) *Instance {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	i := &Instance{
		path:     abs,
		name:     filepath.Base(abs),
		resolver: hostResolver{},
		now:      time.Now,
	}
	i.maxHeapGB, i.initHeapGB = normalizeHeap(maxHeapGB), normalizeHeap(initHeapGB)
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func normalizeHeap(gb int) int {
	if gb <= 0 {
		return HeapUnset
	}
	return gb
}

// ValidateHeap checks init > 0, max > 0 and max >= init.
func ValidateHeap(maxHeapGB, initHeapGB int) error {
	if maxHeapGB <= 0 || initHeapGB <= 0 {
		return fmt.Errorf("%w: heap sizes must be positive (max=%d, init=%d)", ErrInvalidHeap, maxHeapGB, initHeapGB)
	}
	if maxHeapGB < initHeapGB {
		return fmt.Errorf("%w: max heap %dG is below initial heap %dG", ErrInvalidHeap, maxHeapGB, initHeapGB)
	}
	return nil
}

func (i *Instance) Name() string { return i.name }
func (i *Instance) Path() string { return i.path }

// Heap returns the configured max and initial heap in GB.
func (i *Instance) Heap() (maxHeapGB, initHeapGB int) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.maxHeapGB, i.initHeapGB
}

// MaxHeapGB is the declared maximum heap, used for admission control.
func (i *Instance) MaxHeapGB() int {
	maxHeap, _ := i.Heap()
	return maxHeap
}

// SetHeap updates the heap used by the next Start.
func (i *Instance) SetHeap(maxHeapGB, initHeapGB int) {
	i.mu.Lock()
	i.maxHeapGB, i.initHeapGB = normalizeHeap(maxHeapGB), normalizeHeap(initHeapGB)
	i.mu.Unlock()
}

// PID returns the last known process id, 0 if none.
func (i *Instance) PID() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.pid
}

// LogPath returns the captured output file of the current run.
func (i *Instance) LogPath() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.logPath
}

// RestorePID records a pid learned outside this session, e.g. from the
// status store after a manager restart. Ignored when a process is owned.
func (i *Instance) RestorePID(pid int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.proc != nil || pid <= 0 {
		return
	}
	i.pid = pid
}

// Owned reports whether this manager holds the console channel.
func (i *Instance) Owned() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.proc != nil && !i.proc.exited()
}

// Exited returns a channel closed when the owned process exits. Without an
// owned process the channel is already closed.
func (i *Instance) Exited() <-chan struct{} {
	i.mu.RLock()
	p := i.proc
	i.mu.RUnlock()
	if p == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return p.done
}

// IsRunning reports liveness. An owned process answers exactly from its
// exit status; a bare pid is probed with signal 0 and is best effort.
func (i *Instance) IsRunning() bool {
	i.mu.RLock()
	p, pid := i.proc, i.pid
	i.mu.RUnlock()

	if p != nil {
		return !p.exited()
	}
	if pid <= 0 {
		return false
	}
	return pidAlive(pid)
}

// State derives the lifecycle state from liveness and pending requests.
func (i *Instance) State() State {
	i.mu.RLock()
	starting, stopping := i.starting, i.stopRequested
	i.mu.RUnlock()

	if starting {
		return StateStarting
	}
	if !i.IsRunning() {
		return StateStopped
	}
	if stopping {
		return StateStopping
	}
	return StateRunning
}

// Start launches the server and returns its pid. It does not wait for the
// game to finish loading.
func (i *Instance) Start() (int, error) {
	i.lifecycle.Lock()
	defer i.lifecycle.Unlock()

	maxHeap, initHeap := i.Heap()
	if err := ValidateHeap(maxHeap, initHeap); err != nil {
		return 0, err
	}
	plan, err := findLauncher(i.path)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", i.path, err)
	}
	if i.IsRunning() {
		return 0, ErrAlreadyRunning
	}

	i.setStarting(true)
	defer i.setStarting(false)

	match := i.resolver.Resolve(i.path)
	java := match.Binary
	if java == "" {
		log.Printf("[Instance] %s: %s, falling back to %q", i.name, missingRuntimeReason(match), defaultRuntime)
		java = defaultRuntime
	}

	if plan.usesScript() {
		argsPath := filepath.Join(i.path, JVMArgsFile)
		if err := RewriteJVMArgs(argsPath, maxHeap, initHeap); err != nil {
			log.Printf("[Instance] %s: keeping existing %s: %v", i.name, JVMArgsFile, err)
		}
	}

	startedAt := i.now()
	logFile, logPath, err := openRunLog(i.path, startedAt)
	if err != nil {
		log.Printf("[Instance] %s: discarding server output: %v", i.name, err)
		logFile, logPath = nil, ""
	}

	cmd := buildCommand(i.path, plan, java, maxHeap, initHeap)
	if logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		closeQuietly(logFile)
		return 0, i.startFailed(fmt.Errorf("%w: %v", ErrSpawn, err))
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		closeQuietly(logFile)
		return 0, i.startFailed(fmt.Errorf("%w: %v", ErrSpawn, err))
	}

	p := newProcess(cmd, stdin, logFile, uuid.NewString(), startedAt)
	pid := p.pid()

	i.mu.Lock()
	i.proc = p
	i.pid = pid
	i.logPath = logPath
	i.runtime = match
	i.stopRequested = false
	i.mu.Unlock()

	go i.supervise(p)

	log.Printf("[Instance] %s: started pid %d (java=%s, heap=%dG/%dG)", i.name, pid, java, maxHeap, initHeap)
	i.emit(Event{Type: EventStarted, RunID: p.runID, PID: pid, LogPath: logPath})
	return pid, nil
}

// Stop asks the server to shut down by sending "stop" on its console and
// returns without waiting for the process to exit.
func (i *Instance) Stop() error {
	i.lifecycle.Lock()
	defer i.lifecycle.Unlock()

	if i.PID() <= 0 {
		return ErrNotStarted
	}
	if err := i.SendCommand("stop"); err != nil {
		return err
	}

	i.mu.Lock()
	i.stopRequested = true
	runID := ""
	if i.proc != nil {
		runID = i.proc.runID
	}
	i.mu.Unlock()

	i.emit(Event{Type: EventStopRequested, RunID: runID, PID: i.PID()})
	return nil
}

// WhileStopped runs fn with Start and Stop held off. If the server is
// running, fn is not called and ErrAlreadyRunning is returned.
func (i *Instance) WhileStopped(fn func() error) error {
	i.lifecycle.Lock()
	defer i.lifecycle.Unlock()

	if i.IsRunning() {
		return ErrAlreadyRunning
	}
	return fn()
}

// SendCommand writes one console line to an owned, live process.
func (i *Instance) SendCommand(text string) error {
	i.mu.RLock()
	p := i.proc
	i.mu.RUnlock()

	if p == nil {
		return ErrNotOwned
	}
	if p.exited() {
		return ErrNotRunning
	}

	line := text
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	i.writeMu.Lock()
	_, err := io.WriteString(p.stdin, line)
	i.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}

	i.emit(Event{Type: EventCommandSent, RunID: p.runID, PID: p.pid(), Command: strings.TrimRight(text, "\r\n")})
	return nil
}

// Snapshot returns a consistent view for presentation.
func (i *Instance) Snapshot() Snapshot {
	state := i.State()

	i.mu.RLock()
	defer i.mu.RUnlock()

	snap := Snapshot{
		Name:       i.name,
		Path:       i.path,
		MaxHeapGB:  i.maxHeapGB,
		InitHeapGB: i.initHeapGB,
		State:      state.String(),
		Running:    state == StateRunning || state == StateStopping,
		PID:        i.pid,
		LogPath:    i.logPath,
		Runtime:    i.runtime.Binary,
	}
	if i.proc != nil {
		snap.Owned = !i.proc.exited()
		snap.RunID = i.proc.runID
		started := i.proc.startedAt
		snap.StartedAt = &started
	}
	return snap
}

func (i *Instance) supervise(p *process) {
	p.wait()

	i.mu.Lock()
	i.stopRequested = false
	i.mu.Unlock()

	event := Event{Type: EventExited, RunID: p.runID, PID: p.pid(), ExitCode: p.exitCode}
	if p.exitErr != nil {
		event.Err = p.exitErr.Error()
	}
	log.Printf("[Instance] %s: pid %d exited with code %d", i.name, event.PID, event.ExitCode)
	i.emit(event)
}

func missingRuntimeReason(match jvm.Match) string {
	if match.RequiredMajor <= 0 {
		return "server version not detected"
	}
	return fmt.Sprintf("no java %d runtime found (detected version %q)", match.RequiredMajor, match.Version)
}

func (i *Instance) setStarting(v bool) {
	i.mu.Lock()
	i.starting = v
	i.mu.Unlock()
}

func (i *Instance) startFailed(err error) error {
	log.Printf("[Instance] %s: start failed: %v", i.name, err)
	i.emit(Event{Type: EventStartFailed, Err: err.Error()})
	return err
}

func (i *Instance) emit(e Event) {
	if len(i.sinks) == 0 {
		return
	}
	e.Instance = i.name
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, sink := range i.sinks {
		sink.HandleEvent(e)
	}
}

func closeQuietly(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}
