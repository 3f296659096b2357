//go:build windows

package daemon

import "golang.org/x/sys/windows"

// processAlive reports whether a process with pid is currently running.
func processAlive(pid int) (alive bool) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err = windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}

	return code == uint32(windows.STILL_ACTIVE)
}
