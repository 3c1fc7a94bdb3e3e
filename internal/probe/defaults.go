package probe

import (
	"runtime"
	"time"
)

// DefaultScreens returns the terminal screen source of this platform:
// Terminal.app, iTerm2 and tmux on macOS, tmux elsewhere, cached for ttl.
func DefaultScreens(r Runner, ttl time.Duration) *SharedScreens {
	var src ScreenSource = TmuxScreens{Runner: r}
	if runtime.GOOS == "darwin" {
		src = MultiScreens{AppleScriptScreens{Runner: r}, TmuxScreens{Runner: r}}
	}
	return NewSharedScreens(src, ttl)
}

// DefaultCalendar returns the calendar source of this platform, or nil where
// none exists.
func DefaultCalendar(r Runner) CalendarSource {
	if runtime.GOOS != "darwin" {
		return nil
	}
	return AppleScriptCalendar{Runner: r, Now: time.Now}
}
