//go:build !windows

package server

import "syscall"

// Children get their own process group so a Ctrl+C aimed at the manager
// does not reach the game servers.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
