package probe

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// ScreenSource returns the visible text of every terminal session it can
// reach, one string per session.
type ScreenSource interface {
	Screens(ctx context.Context) ([]string, error)
}

// screenSeparator splits sessions in the osascript output. AppleScript has
// no convenient way to return a list of strings to the shell.
const screenSeparator = "\x1e"

const terminalScript = `
set out to ""
if application "Terminal" is running then
	tell application "Terminal"
		repeat with w in windows
			repeat with t in tabs of w
				set out to out & (contents of t) & (ASCII character 30)
			end repeat
		end repeat
	end tell
end if
return out`

const itermScript = `
set out to ""
if application "iTerm2" is running then
	tell application "iTerm2"
		repeat with w in windows
			repeat with t in tabs of w
				repeat with s in sessions of t
					set out to out & (contents of s) & (ASCII character 30)
				end repeat
			end repeat
		end repeat
	end tell
end if
return out`

// AppleScriptScreens reads Terminal.app and iTerm2 through osascript. It
// needs the Automation permission; without it osascript fails and the
// detectors simply stay idle.
type AppleScriptScreens struct {
	Runner Runner
	Apps   []string // "Terminal", "iTerm2"; empty means both
}

// Screens implements ScreenSource.
func (a AppleScriptScreens) Screens(ctx context.Context) ([]string, error) {
	apps := a.Apps
	if len(apps) == 0 {
		apps = []string{"Terminal", "iTerm2"}
	}
	var (
		screens []string
		lastErr error
	)
	for _, app := range apps {
		script, ok := map[string]string{"Terminal": terminalScript, "iTerm2": itermScript}[app]
		if !ok {
			continue
		}
		out, err := a.Runner.Run(ctx, "osascript", "-e", script)
		if err != nil {
			lastErr = errors.Wrapf(err, "read %s", app)
			continue
		}
		screens = append(screens, splitScreens(string(out))...)
	}
	if len(screens) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return screens, nil
}

func splitScreens(out string) []string {
	var screens []string
	for _, s := range strings.Split(out, screenSeparator) {
		if strings.TrimSpace(s) != "" {
			screens = append(screens, s)
		}
	}
	return screens
}

// TmuxScreens captures every tmux pane.
type TmuxScreens struct {
	Runner Runner
}

// Screens implements ScreenSource. A missing tmux server is not an error.
func (t TmuxScreens) Screens(ctx context.Context) ([]string, error) {
	out, err := t.Runner.Run(ctx, "tmux", "list-panes", "-a", "-F", "#{pane_id}")
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, nil
	}
	var screens []string
	for _, pane := range strings.Fields(string(out)) {
		content, err := t.Runner.Run(ctx, "tmux", "capture-pane", "-p", "-t", pane)
		if err != nil {
			if ctx.Err() != nil {
				return screens, err
			}
			continue
		}
		screens = append(screens, string(content))
	}
	return screens, nil
}

// MultiScreens concatenates several sources. It fails only if every source
// fails.
type MultiScreens []ScreenSource

// Screens implements ScreenSource.
func (m MultiScreens) Screens(ctx context.Context) ([]string, error) {
	var (
		all     []string
		lastErr error
		ok      bool
	)
	for _, src := range m {
		screens, err := src.Screens(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		ok = true
		all = append(all, screens...)
	}
	if !ok && lastErr != nil {
		return nil, lastErr
	}
	return all, nil
}

// SharedScreens lets several terminal detectors read the same screens
// without each spawning its own osascript round. Concurrent callers share
// one in-flight read and results are reused for TTL.
type SharedScreens struct {
	Source ScreenSource
	TTL    time.Duration
	Now    func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	cached  []string
	fetched time.Time
}

// NewSharedScreens wraps src with a short cache.
func NewSharedScreens(src ScreenSource, ttl time.Duration) *SharedScreens {
	return &SharedScreens{Source: src, TTL: ttl, Now: time.Now}
}

// Screens implements ScreenSource.
func (s *SharedScreens) Screens(ctx context.Context) ([]string, error) {
	now := s.now()
	s.mu.Lock()
	if !s.fetched.IsZero() && now.Sub(s.fetched) < s.TTL {
		cached := s.cached
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("screens", func() (interface{}, error) {
		screens, err := s.Source.Screens(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cached = screens
		s.fetched = s.now()
		s.mu.Unlock()
		return screens, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (s *SharedScreens) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// LastLines returns up to n trailing non-empty lines of screen, trimmed of
// surrounding whitespace, oldest first.
func LastLines(screen string, n int) []string {
	lines := strings.Split(screen, "\n")
	out := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
