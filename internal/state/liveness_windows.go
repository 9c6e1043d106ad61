//go:build windows

package state

import (
	"github.com/shirou/gopsutil/v3/process"
)

// processAlive reports whether pid is a live process. Windows has no
// signal-0 equivalent through os.Process, so this uses gopsutil's
// process table lookup as the cross-platform liveness probe.
func processAlive(pid int) bool {
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return exists
}

// readBootID has no portable Windows equivalent here; boot-id matching
// is skipped on this platform and liveness falls back to the pid probe.
func readBootID() string {
	return ""
}
