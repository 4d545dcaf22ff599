package server

import "errors"

var (
	// ErrInvalidHeap is returned when heap sizes are missing, non-positive
	// or the maximum is below the initial size.
	ErrInvalidHeap = errors.New("invalid heap configuration")

	// ErrNoLauncher means the install has neither server.jar nor a known start script.
	ErrNoLauncher = errors.New("no server.jar or launcher script found")

	ErrAlreadyRunning = errors.New("server is already running")

	// ErrSpawn wraps failures to create the child process.
	ErrSpawn = errors.New("failed to spawn server process")

	// ErrNotStarted means no pid has been recorded for the instance.
	ErrNotStarted = errors.New("server has no recorded pid")

	// ErrNotOwned means the process was not started by this manager, so
	// there is no console channel to write to.
	ErrNotOwned = errors.New("server process is not owned by this manager")

	ErrNotRunning = errors.New("server is not running")
)
