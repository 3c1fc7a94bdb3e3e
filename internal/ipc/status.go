// Package ipc is the file based bridge between the beacon daemon and its
// presentation processes: the daemon publishes status.json and consumes
// commands appended to cmd.txt, both under ~/.cache/beacon.
package ipc

import (
	"os"
	"path/filepath"
	"time"

	"github.com/tiroq/beacon/internal/fileutil"
	"github.com/tiroq/beacon/internal/monitor"
	"github.com/tiroq/beacon/internal/source"
)

// File names inside the ipc directory.
const (
	StatusFile  = "status.json"
	CommandFile = "cmd.txt"
)

// DefaultDir returns ~/.cache/beacon.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".cache", "beacon")
}

// Status is the daemon state published for UIs.
type Status struct {
	Session   string                  `json:"session"`
	PID       int                     `json:"pid"`
	Running   bool                    `json:"running"` // monitoring is not paused
	Mock      bool                    `json:"mock"`
	Seq       uint64                  `json:"seq"`
	Active    []source.Kind           `json:"active"`
	Progress  map[source.Kind]float64 `json:"progress,omitempty"`
	Details   map[source.Kind]string  `json:"details,omitempty"`
	Dismissed []source.Kind           `json:"dismissed,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// NewStatus builds the status of snap.
func NewStatus(snap monitor.Snapshot, session string, running bool, dismissed []source.Kind) Status {
	snap = snap.Clone()
	active := snap.Active
	if active == nil {
		active = []source.Kind{}
	}
	return Status{
		Session:   session,
		PID:       os.Getpid(),
		Running:   running,
		Mock:      snap.Mock,
		Seq:       snap.Seq,
		Active:    active,
		Progress:  snap.Progress,
		Details:   snap.Details,
		Dismissed: dismissed,
		Timestamp: snap.At,
	}
}

// Snapshot converts the status back to the snapshot it was built from.
func (s Status) Snapshot() monitor.Snapshot {
	return monitor.Snapshot{
		Seq:      s.Seq,
		At:       s.Timestamp,
		Active:   s.Active,
		Progress: s.Progress,
		Details:  s.Details,
		Mock:     s.Mock,
	}.Clone()
}

// WriteStatus persists status to dir/status.json using atomic write.
func WriteStatus(dir string, status Status) error {
	return fileutil.WriteJSON(filepath.Join(dir, StatusFile), status, 0o644)
}

// ReadStatus loads dir/status.json.
func ReadStatus(dir string) (*Status, error) {
	var status Status
	if err := fileutil.ReadJSON(filepath.Join(dir, StatusFile), &status); err != nil {
		return nil, err
	}
	return &status, nil
}
