package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yourusername/mc-server-manager/internal/config"
	"github.com/yourusername/mc-server-manager/internal/console"
	"github.com/yourusername/mc-server-manager/internal/server"
	"github.com/yourusername/mc-server-manager/internal/websocket"
)

const (
	// SweepSpec is how often liveness is re-probed.
	SweepSpec = "@every 15s"
	// RetentionSpec runs log and activity cleanup.
	RetentionSpec = "@daily"
)

// Instances is the working set the scheduler acts on.
type Instances interface {
	All() []*server.Instance
	Get(name string) (*server.Instance, bool)
}

// StatusRecorder persists observed instance status.
type StatusRecorder interface {
	RecordStatus(instance, status string, pid int, errorMessage string) error
}

// ActivityRecorder records scheduler outcomes in the activity log.
type ActivityRecorder interface {
	LogStatusChange(instance string, oldStatus, newStatus string, metadata map[string]interface{}) error
	LogScheduleRun(instance, job, command string, err error) error
	CleanupOldActivities(olderThan time.Duration) error
}

// BackupRunner archives a server for backup schedules.
type BackupRunner interface {
	RunScheduledBackup(name string) error
}

// Options wires optional collaborators. Nil fields are skipped.
type Options struct {
	Status            StatusRecorder
	Activity          ActivityRecorder
	Hub               console.Broadcaster
	Backups           BackupRunner
	LogRetention      time.Duration
	ActivityRetention time.Duration
}

// Job describes a registered schedule.
type Job struct {
	ID      cron.EntryID `json:"id"`
	Name    string       `json:"name"`
	Server  string       `json:"server,omitempty"`
	Action  string       `json:"action,omitempty"`
	Spec    string       `json:"spec"`
	Command string       `json:"command,omitempty"`
	Next    time.Time    `json:"next"`
	Prev    time.Time    `json:"prev,omitempty"`
}

// Scheduler runs configured console commands, backups and housekeeping on
// cron schedules.
type Scheduler struct {
	cron      *cron.Cron
	parser    cron.Parser
	instances Instances
	opts      Options

	mu        sync.Mutex
	jobs      map[cron.EntryID]Job
	lastState map[string]string
}

// NewParser accepts 5-field specs, an optional leading seconds field and
// descriptors such as @hourly.
func NewParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// New creates a scheduler with the liveness sweep and retention jobs
// registered.
func New(instances Instances, opts Options) *Scheduler {
	parser := NewParser()
	logger := cron.PrintfLogger(log.New(log.Writer(), "[Scheduler] ", 0))
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		parser:    parser,
		instances: instances,
		opts:      opts,
		jobs:      make(map[cron.EntryID]Job),
		lastState: make(map[string]string),
	}

	s.mustAdd("liveness", SweepSpec, s.Sweep)
	if opts.LogRetention > 0 || (opts.ActivityRetention > 0 && opts.Activity != nil) {
		s.mustAdd("retention", RetentionSpec, s.Cleanup)
	}
	return s
}

func (s *Scheduler) mustAdd(name, spec string, fn func()) {
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		panic(fmt.Sprintf("scheduler: invalid built-in spec %q: %v", spec, err))
	}
	s.jobs[id] = Job{ID: id, Name: name, Spec: spec}
}

// AddCommand registers a configured schedule: a console command or, for
// backup schedules, an archive of the server.
func (s *Scheduler) AddCommand(sc config.ScheduleConfig) (cron.EntryID, error) {
	if sc.Disabled {
		return 0, fmt.Errorf("schedule %q is disabled", sc.Name)
	}
	target := strings.TrimSpace(sc.Server)
	command := strings.TrimSpace(sc.Command)
	action := config.ScheduleCommand
	if sc.IsBackup() {
		action = config.ScheduleBackup
		command = ""
		if s.opts.Backups == nil {
			return 0, fmt.Errorf("schedule %q: backups are not available", sc.Name)
		}
	}
	if target == "" || (action == config.ScheduleCommand && command == "") {
		return 0, fmt.Errorf("schedule %q: server and command are required", sc.Name)
	}
	schedule, err := s.parser.Parse(sc.Cron)
	if err != nil {
		return 0, fmt.Errorf("schedule %q: invalid cron %q: %w", sc.Name, sc.Cron, err)
	}

	name := sc.Name
	if name == "" {
		name = fmt.Sprintf("%s: %s", target, command)
		if action == config.ScheduleBackup {
			name = fmt.Sprintf("%s: backup", target)
		}
	}

	job := cron.FuncJob(func() { s.RunCommand(name, target, command) })
	if action == config.ScheduleBackup {
		job = func() { s.RunBackup(name, target) }
	}
	id := s.cron.Schedule(schedule, job)

	s.mu.Lock()
	s.jobs[id] = Job{ID: id, Name: name, Server: target, Action: action, Spec: sc.Cron, Command: command}
	s.mu.Unlock()

	log.Printf("[Scheduler] Registered %q (%s) for %s", name, sc.Cron, target)
	return id, nil
}

// AddCommands registers every enabled schedule, logging the ones that fail.
func (s *Scheduler) AddCommands(schedules []config.ScheduleConfig) int {
	added := 0
	for _, sc := range schedules {
		if sc.Disabled {
			continue
		}
		if _, err := s.AddCommand(sc); err != nil {
			log.Printf("[Scheduler] Skipping schedule: %v", err)
			continue
		}
		added++
	}
	return added
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.Sweep()
	s.cron.Start()
}

// Stop halts scheduling and returns a context done when running jobs end.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Jobs lists registered schedules ordered by id.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		entry := s.cron.Entry(job.ID)
		job.Next, job.Prev = entry.Next, entry.Prev
		jobs = append(jobs, job)
	}
	s.mu.Unlock()

	sort.Slice(jobs, func(a, b int) bool { return jobs[a].ID < jobs[b].ID })
	return jobs
}

// RunCommand sends command to the named instance if this manager owns it.
func (s *Scheduler) RunCommand(job, name, command string) error {
	inst, ok := s.instances.Get(name)
	if !ok {
		err := fmt.Errorf("unknown server %q", name)
		log.Printf("[Scheduler] %s: %v", job, err)
		s.recordRun(name, job, command, err)
		return err
	}
	if !inst.Owned() {
		err := fmt.Errorf("%s is not running under this manager", inst.Name())
		log.Printf("[Scheduler] %s: skipped, %v", job, err)
		s.recordRun(inst.Name(), job, command, err)
		return err
	}

	err := inst.SendCommand(command)
	if err != nil {
		log.Printf("[Scheduler] %s: failed to send %q: %v", job, command, err)
	}
	s.recordRun(inst.Name(), job, command, err)
	return err
}

// RunBackup archives the named server and records it as a schedule run.
func (s *Scheduler) RunBackup(job, name string) error {
	if s.opts.Backups == nil {
		return fmt.Errorf("backups are not available")
	}
	err := s.opts.Backups.RunScheduledBackup(name)
	if err != nil {
		log.Printf("[Scheduler] %s: backup of %s failed: %v", job, name, err)
	}
	s.recordRun(name, job, config.ScheduleBackup, err)
	return err
}

func (s *Scheduler) recordRun(instance, job, command string, err error) {
	if s.opts.Activity == nil {
		return
	}
	if logErr := s.opts.Activity.LogScheduleRun(instance, job, command, err); logErr != nil {
		log.Printf("[Scheduler] Failed to record run of %s: %v", job, logErr)
	}
}

// Sweep probes every instance and records status transitions.
func (s *Scheduler) Sweep() {
	for _, inst := range s.instances.All() {
		state := inst.State()
		if state == server.StateStarting {
			continue
		}
		status := "stopped"
		pid := 0
		if state == server.StateRunning || state == server.StateStopping {
			status = "running"
			pid = inst.PID()
		}

		s.mu.Lock()
		previous, seen := s.lastState[inst.Name()]
		s.lastState[inst.Name()] = status
		s.mu.Unlock()

		if seen && previous == status {
			continue
		}
		s.recordTransition(inst, previous, status, pid, seen)
	}
}

func (s *Scheduler) recordTransition(inst *server.Instance, previous, status string, pid int, seen bool) {
	name := inst.Name()
	if s.opts.Status != nil {
		if err := s.opts.Status.RecordStatus(name, status, pid, ""); err != nil {
			log.Printf("[Scheduler] Failed to record status of %s: %v", name, err)
		}
	}
	if !seen {
		return
	}

	log.Printf("[Scheduler] %s changed %s -> %s", name, previous, status)
	if s.opts.Activity != nil {
		metadata := map[string]interface{}{"owned": inst.Owned()}
		if pid > 0 {
			metadata["pid"] = pid
		}
		if err := s.opts.Activity.LogStatusChange(name, previous, status, metadata); err != nil {
			log.Printf("[Scheduler] Failed to log status change of %s: %v", name, err)
		}
	}
	if s.opts.Hub != nil {
		s.opts.Hub.BroadcastToRoom(console.Room(name), &websocket.Message{
			Type: "status_change",
			Payload: map[string]interface{}{
				"instance":   name,
				"old_status": previous,
				"new_status": status,
				"pid":        pid,
			},
			Timestamp: time.Now(),
		})
	}
}

// Cleanup removes expired run logs and activity records.
func (s *Scheduler) Cleanup() {
	if s.opts.LogRetention > 0 {
		for _, inst := range s.instances.All() {
			keep := ""
			if inst.IsRunning() {
				keep = inst.LogPath()
			}
			if _, err := console.CleanupOldLogs(inst.Path(), s.opts.LogRetention, keep); err != nil {
				log.Printf("[Scheduler] Failed to clean run logs of %s: %v", inst.Name(), err)
			}
		}
	}
	if s.opts.Activity != nil && s.opts.ActivityRetention > 0 {
		if err := s.opts.Activity.CleanupOldActivities(s.opts.ActivityRetention); err != nil {
			log.Printf("[Scheduler] Failed to clean activity log: %v", err)
		}
	}
}
