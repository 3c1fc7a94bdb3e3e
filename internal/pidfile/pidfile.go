// Package pidfile keeps a single beacon daemon running per user.
package pidfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrRunning is returned by New when another live process holds the file.
var ErrRunning = errors.New("another instance is already running")

// PIDFile is a PID file owned by this process.
type PIDFile struct {
	path string
	pid  int
}

// New claims path for the current process. A file left by a dead process is
// replaced; a file held by a live one yields an error wrapping ErrRunning.
func New(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create PID directory: %w", err)
	}

	pid := os.Getpid()
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", pid)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("failed to write PID file: %w", errors.Join(werr, cerr))
			}
			return &PIDFile{path: path, pid: pid}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to create PID file: %w", err)
		}

		existing, alive, rerr := Read(path)
		if rerr == nil && alive && existing != pid {
			return nil, fmt.Errorf("%w (PID %d)", ErrRunning, existing)
		}
		// Stale, unreadable or our own: replace it.
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale PID file: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to claim PID file %s", path)
}

// Path returns the file location.
func (p *PIDFile) Path() string { return p.path }

// Remove deletes the PID file if it still holds our PID.
func (p *PIDFile) Remove() error {
	if p == nil {
		return nil
	}
	pid, _, err := Read(p.path)
	if err != nil || pid != p.pid {
		return nil
	}
	return os.Remove(p.path)
}

// Read returns the PID stored at path and whether that process is alive.
func Read(path string) (pid int, alive bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false, err
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false, fmt.Errorf("invalid PID file %s", path)
	}
	return pid, processAlive(pid), nil
}

// DefaultPath returns the standard PID file path for a given application
// name.
func DefaultPath(appName string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".cache", "beacon", appName+".pid")
}
