package server

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"time"
)

// process is a child started by this manager. It owns the stdin pipe and
// the run log file until the child exits.
type process struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	logFile   *os.File
	runID     string
	startedAt time.Time

	done     chan struct{}
	exitCode int
	exitErr  error
}

func newProcess(cmd *exec.Cmd, stdin io.WriteCloser, logFile *os.File, runID string, startedAt time.Time) *process {
	return &process{
		cmd:       cmd,
		stdin:     stdin,
		logFile:   logFile,
		runID:     runID,
		startedAt: startedAt,
		done:      make(chan struct{}),
		exitCode:  -1,
	}
}

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// wait blocks until the child exits, then releases the run resources.
// exitCode and exitErr are only valid once done is closed.
func (p *process) wait() {
	err := p.cmd.Wait()

	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.exitErr = err
	}

	p.release()
	close(p.done)
}

func (p *process) release() {
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	if p.logFile != nil {
		_ = p.logFile.Sync()
		_ = p.logFile.Close()
	}
}
