//go:build !windows

package server

import (
	"errors"
	"syscall"
)

// pidAlive sends signal 0 to pid. Only ESRCH counts as dead; EPERM means
// the process exists under another user.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	return !errors.Is(err, syscall.ESRCH)
}
