package detector

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/tiroq/beacon/internal/probe"
)

// TerminalCheck matches recent terminal output against patterns.
type TerminalCheck struct {
	Screens  probe.ScreenSource
	Patterns []*regexp.Regexp
	Progress *regexp.Regexp // optional; first group is a percentage
	Lines    int            // trailing non-empty lines examined per screen
}

// Run implements Check.
func (c TerminalCheck) Run(ctx context.Context) (Observation, error) {
	screens, err := c.Screens.Screens(ctx)
	if err != nil {
		return Observation{}, err
	}
	lines := c.Lines
	if lines <= 0 {
		lines = 8
	}
	for _, screen := range screens {
		recent := probe.LastLines(screen, lines)
		line, ok := c.match(recent)
		if !ok {
			continue
		}
		return Observation{Matched: true, Detail: truncate(line, 80), Progress: c.progress(recent)}, nil
	}
	return Observation{}, nil
}

func (c TerminalCheck) match(lines []string) (string, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		for _, p := range c.Patterns {
			if p.MatchString(lines[i]) {
				return lines[i], true
			}
		}
	}
	return "", false
}

// progress reads the newest percentage from lines.
func (c TerminalCheck) progress(lines []string) *float64 {
	if c.Progress == nil {
		return nil
	}
	for i := len(lines) - 1; i >= 0; i-- {
		m := c.Progress.FindStringSubmatch(lines[i])
		if len(m) < 2 {
			continue
		}
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil || pct < 0 || pct > 100 {
			continue
		}
		return Value(pct / 100)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// CPUUsage sums CPU percent of processes by name.
type CPUUsage interface {
	Usage(ctx context.Context, names []string) (float64, error)
}

// ProcessCPUCheck reports the combined CPU of named processes.
type ProcessCPUCheck struct {
	CPU   CPUUsage
	Names []string
}

// Run implements Check.
func (c ProcessCPUCheck) Run(ctx context.Context) (Observation, error) {
	pct, err := c.CPU.Usage(ctx, c.Names)
	if err != nil {
		return Observation{}, err
	}
	return Observation{Value: Value(pct), Detail: fmt.Sprintf("%.0f%% CPU", pct)}, nil
}

// SystemCPUCheck reports whole-machine CPU.
type SystemCPUCheck struct {
	Read func(ctx context.Context) (float64, error)
}

// Run implements Check.
func (c SystemCPUCheck) Run(ctx context.Context) (Observation, error) {
	pct, err := c.Read(ctx)
	if err != nil {
		return Observation{}, err
	}
	return Observation{Value: Value(pct), Detail: fmt.Sprintf("%.0f%% CPU", pct)}, nil
}

// AppRunningCheck matches running applications against substrings.
type AppRunningCheck struct {
	Apps     probe.AppLister
	Patterns []string
}

// Run implements Check.
func (c AppRunningCheck) Run(ctx context.Context) (Observation, error) {
	running, err := c.Apps.RunningApps(ctx)
	if err != nil {
		return Observation{}, err
	}
	id, ok := probe.MatchApp(running, c.Patterns)
	return Observation{Matched: ok, Detail: id}, nil
}

// DownloadsCheck counts partially written download files.
type DownloadsCheck struct {
	Dirs     []string
	Suffixes []string
}

// Run implements Check.
func (c DownloadsCheck) Run(ctx context.Context) (Observation, error) {
	suffixes := c.Suffixes
	if len(suffixes) == 0 {
		suffixes = probe.PartialDownloadSuffixes
	}
	n, err := probe.InProgressFiles(c.Dirs, suffixes)
	if err != nil {
		return Observation{}, err
	}
	obs := Observation{Value: Value(float64(n))}
	switch n {
	case 0:
	case 1:
		obs.Detail = "1 download"
	default:
		obs.Detail = fmt.Sprintf("%d downloads", n)
	}
	return obs, ctx.Err()
}

// EventCounter is a running file-system event counter.
type EventCounter interface {
	Count() int
	Err() error
}

// FileActivityCheck reports the number of recent file-system events.
type FileActivityCheck struct {
	Events EventCounter
}

// Run implements Check.
func (c FileActivityCheck) Run(ctx context.Context) (Observation, error) {
	if err := c.Events.Err(); err != nil {
		return Observation{}, err
	}
	n := c.Events.Count()
	return Observation{Value: Value(float64(n)), Detail: fmt.Sprintf("%d changes", n)}, nil
}

// CalendarCheck is active when an event starts within Lead.
type CalendarCheck struct {
	Source probe.CalendarSource
	Lead   time.Duration
	Now    func() time.Time
}

// Run implements Check.
func (c CalendarCheck) Run(ctx context.Context) (Observation, error) {
	events, err := c.Source.Upcoming(ctx, c.Lead)
	if err != nil {
		return Observation{}, err
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	t := now()
	for _, e := range events {
		until := e.Start.Sub(t)
		if until < 0 || until > c.Lead {
			continue
		}
		obs := Observation{Matched: true, Detail: fmt.Sprintf("%s in %s", e.Title, countdown(until))}
		if c.Lead > 0 {
			obs.Progress = Value(1 - float64(until)/float64(c.Lead))
		}
		return obs, nil
	}
	return Observation{}, nil
}

func countdown(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm", int(d.Round(time.Minute)/time.Minute))
}
