//go:build unix

package daemon

import (
	"os"
	"syscall"
)

// processAlive reports whether a process with pid is currently running.
func processAlive(pid int) (alive bool) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 performs no action but still reports ESRCH if the process is
	// gone, per kill(2).
	return proc.Signal(syscall.Signal(0)) == nil
}
