// Package probe holds the low-level readers that detectors use to look at
// the outside world: subprocesses, process tables, the window server,
// file-system events and the calendar.
package probe

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Runner executes an external helper and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// WaitDelay bounds how long Run waits for output pipes after the process
// was killed. Helpers that leave children holding stdout would otherwise
// keep Run blocked past the deadline.
const WaitDelay = 250 * time.Millisecond

// ExecRunner runs commands with os/exec. The process is killed when ctx is
// done, so the caller's deadline bounds every invocation.
type ExecRunner struct{}

// Run executes name with args.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = WaitDelay

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrapf(ctxErr, "%s", name)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, errors.Wrapf(err, "%s: %s", name, msg)
		}
		return nil, errors.Wrap(err, name)
	}
	return stdout.Bytes(), nil
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return f(ctx, name, args...)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ExpandAll applies ExpandHome to each path.
func ExpandAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, ExpandHome(p))
	}
	return out
}
