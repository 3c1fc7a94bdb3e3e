package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/tiroq/beacon/internal/ipc"
)

var (
	activeDot = color.New(color.FgGreen, color.Bold).Sprint("●")
	mockDot   = color.New(color.FgMagenta, color.Bold).Sprint("◆")
	dim       = color.New(color.FgHiBlack)
)

// render prints one status. alive reports whether the daemon process
// still runs.
func render(out io.Writer, st *ipc.Status, alive bool, now time.Time) {
	var header string
	switch {
	case !alive:
		header = color.New(color.FgRed).Sprint("beacon-core not running") + dim.Sprint(" (last status below)")
	case st.Mock:
		header = color.New(color.FgMagenta).Sprint("beacon-core demo mode")
	case !st.Running:
		header = color.New(color.FgYellow).Sprint("beacon-core paused")
	default:
		header = color.New(color.FgGreen).Sprint("beacon-core monitoring")
	}
	fmt.Fprintln(out, header)
	if !st.Timestamp.IsZero() {
		fmt.Fprintln(out, dim.Sprintf("  updated %s ago, seq %d", now.Sub(st.Timestamp).Round(time.Second), st.Seq))
	}

	if len(st.Active) == 0 {
		fmt.Fprintln(out, dim.Sprint("  idle"))
	}
	dot := activeDot
	if st.Mock {
		dot = mockDot
	}
	for _, kind := range st.Active {
		line := fmt.Sprintf("  %s %-20s", dot, kind.Meta().Name)
		if p, ok := st.Progress[kind]; ok {
			line += fmt.Sprintf(" %3.0f%%", p*100)
		}
		if d := st.Details[kind]; d != "" {
			line += " " + dim.Sprint(d)
		}
		fmt.Fprintln(out, line)
	}
	for _, kind := range st.Dismissed {
		fmt.Fprintln(out, dim.Sprintf("  - %s (dismissed)", kind.Meta().Name))
	}
}
