package provision

import "os"

// FindProcess opens a handle on Windows and fails for unknown pids.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc.Release()
	return true
}
