package probe

import (
	"context"
	"strings"
)

// AppLister returns identifiers (bundle ids, localized names, process names)
// of the applications currently running.
type AppLister interface {
	RunningApps(ctx context.Context) ([]string, error)
}

// AppListerFunc adapts a function to AppLister.
type AppListerFunc func(ctx context.Context) ([]string, error)

// RunningApps calls f.
func (f AppListerFunc) RunningApps(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// MatchApp reports the first running identifier containing any of patterns,
// compared case-insensitively.
func MatchApp(running, patterns []string) (string, bool) {
	for _, id := range running {
		lower := strings.ToLower(id)
		for _, p := range patterns {
			if p != "" && strings.Contains(lower, strings.ToLower(p)) {
				return id, true
			}
		}
	}
	return "", false
}
