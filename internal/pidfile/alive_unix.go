//go:build unix

package pidfile

import (
	"errors"

	"golang.org/x/sys/unix"
)

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return true
	case errors.Is(err, unix.EPERM):
		// Exists but belongs to someone else.
		return true
	default:
		return false
	}
}
