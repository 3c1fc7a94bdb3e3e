package detector

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/tiroq/beacon/internal/probe"
	"github.com/tiroq/beacon/internal/source"
)

// Params are the probe parameters of one source. They are fixed when the
// detector is built; thresholds and enablement stay live through Settings.
type Params struct {
	Patterns        []string
	ProgressPattern string
	ProcessNames    []string
	Dirs            []string
}

// DefaultParams returns the built-in parameters of kind.
func DefaultParams(kind source.Kind) Params {
	m := kind.Meta()
	return Params{
		Patterns:        m.Patterns,
		ProgressPattern: m.ProgressPattern,
		ProcessNames:    m.ProcessNames,
		Dirs:            m.Dirs,
	}
}

// Deps are the shared probes detectors are built from.
type Deps struct {
	Settings Settings
	Params   func(source.Kind) Params // nil means DefaultParams

	Screens   probe.ScreenSource
	CPU       CPUUsage
	SystemCPU func(ctx context.Context) (float64, error)
	Apps      probe.AppLister
	Calendar  probe.CalendarSource
	// Watch starts an event counter over dirs for the lifetime of ctx.
	Watch func(ctx context.Context, dirs []string) EventCounter

	TerminalLines int
	CalendarLead  time.Duration
	Timeout       time.Duration
	Now           func() time.Time
	Log           *zap.Logger
}

// WatchDirs is the default Deps.Watch: an fsnotify ActivityWatcher with a
// ten second window.
func WatchDirs(log *zap.Logger) func(ctx context.Context, dirs []string) EventCounter {
	return func(ctx context.Context, dirs []string) EventCounter {
		w := probe.NewActivityWatcher(dirs, 10*time.Second, log)
		go func() { _ = w.Run(ctx) }()
		return w
	}
}

// Build creates one detector per kind, in the order given. It fails if a
// pattern does not compile or a probe the kind needs is missing.
func Build(ctx context.Context, kinds []source.Kind, deps Deps) ([]*Guarded, error) {
	params := deps.Params
	if params == nil {
		params = DefaultParams
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	opts := []Option{WithTimeout(deps.Timeout), WithClock(now), WithLogger(log)}

	out := make([]*Guarded, 0, len(kinds))
	for _, kind := range kinds {
		check, err := newCheck(ctx, kind, params(kind), deps, now)
		if err != nil {
			return nil, fmt.Errorf("build %s detector: %w", kind, err)
		}
		out = append(out, NewGuarded(kind, check, deps.Settings, opts...))
	}
	return out, nil
}

func newCheck(ctx context.Context, kind source.Kind, p Params, deps Deps, now func() time.Time) (Check, error) {
	switch kind.Category() {
	case source.CategoryTerminal:
		if deps.Screens == nil {
			return nil, fmt.Errorf("no screen source")
		}
		c := TerminalCheck{Screens: deps.Screens, Lines: deps.TerminalLines}
		for _, expr := range p.Patterns {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, err
			}
			c.Patterns = append(c.Patterns, re)
		}
		if p.ProgressPattern != "" {
			re, err := regexp.Compile(p.ProgressPattern)
			if err != nil {
				return nil, err
			}
			c.Progress = re
		}
		return c, nil

	case source.CategoryProcessCPU:
		if deps.CPU == nil {
			return nil, fmt.Errorf("no cpu sampler")
		}
		return ProcessCPUCheck{CPU: deps.CPU, Names: p.ProcessNames}, nil

	case source.CategorySystemCPU:
		if deps.SystemCPU == nil {
			return nil, fmt.Errorf("no system cpu reader")
		}
		return SystemCPUCheck{Read: deps.SystemCPU}, nil

	case source.CategoryAppRunning:
		if deps.Apps == nil {
			return nil, fmt.Errorf("no app lister")
		}
		return AppRunningCheck{Apps: deps.Apps, Patterns: p.ProcessNames}, nil

	case source.CategoryDownloads:
		return DownloadsCheck{Dirs: probe.ExpandAll(p.Dirs)}, nil

	case source.CategoryFileActivity:
		if deps.Watch == nil {
			return nil, fmt.Errorf("no fs watcher")
		}
		return FileActivityCheck{Events: deps.Watch(ctx, probe.ExpandAll(p.Dirs))}, nil

	case source.CategoryCalendar:
		if deps.Calendar == nil {
			return nil, fmt.Errorf("no calendar source")
		}
		lead := deps.CalendarLead
		if lead <= 0 {
			lead = 10 * time.Minute
		}
		return CalendarCheck{Source: deps.Calendar, Lead: lead, Now: now}, nil
	}
	return nil, fmt.Errorf("unsupported source category %s", kind.Category())
}

// Detectors converts built detectors to the interface slice the monitor
// takes.
func Detectors(gs []*Guarded) []Detector {
	out := make([]Detector, len(gs))
	for i, g := range gs {
		out[i] = g
	}
	return out
}
