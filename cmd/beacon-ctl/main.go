// Command beacon-ctl inspects and controls a running beacon-core.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/tiroq/beacon/internal/agent"
	"github.com/tiroq/beacon/internal/ipc"
	"github.com/tiroq/beacon/internal/pidfile"
	"github.com/tiroq/beacon/internal/source"
	"github.com/tiroq/beacon/internal/statusfeed"
)

const usage = `usage: beacon-ctl [flags] <command> [args]

commands:
  status                 show the active sources
  watch                  follow status changes
  sources                list known sources
  dismiss <source>       hide the current activity of a source
  mock <source[=p],...>  show a synthetic snapshot
  unmock                 return to real snapshots
  pause | resume         stop or restart monitoring
  quit                   stop the daemon
  install | uninstall    manage the background service
  start | stop           start or stop the background service
  service                show the background service state
`

func main() {
	ipcDir := flag.String("ipc-dir", ipc.DefaultDir(), "directory of status.json and cmd.txt")
	feedAddr := flag.String("feed", "", "status feed address for watch (default: poll status.json)")
	noColor := flag.Bool("no-color", false, "disable colored output")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *noColor {
		color.NoColor = true
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, *ipcDir, *feedAddr, args); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, ipcDir, feedAddr string, args []string) error {
	name, rest := args[0], strings.Join(args[1:], " ")
	switch name {
	case "status":
		return showStatus(out, ipcDir)
	case "watch":
		return watch(ctx, out, ipcDir, feedAddr)
	case "sources":
		printSources(out)
		return nil
	case "install", "uninstall", "start", "stop":
		return controlService(out, name)
	case "service":
		svc, err := newService()
		if err != nil {
			return err
		}
		state, err := agent.Status(svc)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %s\n", agent.Name, state)
		return nil
	}

	cmd, err := ipc.ParseCommand(strings.TrimSpace(name + " " + rest))
	if err != nil {
		return err
	}
	if err := ipc.WriteCommand(ipcDir, cmd); err != nil {
		return err
	}
	fmt.Fprintf(out, "sent: %s\n", cmd)
	if _, alive, err := pidfile.Read(pidfile.DefaultPath(agent.Name)); err != nil || !alive {
		color.New(color.FgYellow).Fprintln(out, "warning: beacon-core does not seem to be running")
	}
	return nil
}

func showStatus(out io.Writer, ipcDir string) error {
	st, err := ipc.ReadStatus(ipcDir)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(out, "no status yet: is beacon-core running?")
		return nil
	}
	if err != nil {
		return err
	}
	_, alive, _ := pidfile.Read(pidfile.DefaultPath(agent.Name))
	render(out, st, alive, time.Now())
	return nil
}

func watch(ctx context.Context, out io.Writer, ipcDir, feedAddr string) error {
	if feedAddr != "" {
		return statusfeed.Follow(ctx, statusfeed.URL(feedAddr), 10*time.Second, func(st ipc.Status) {
			fmt.Fprintln(out, "---")
			render(out, &st, true, time.Now())
		}, nil)
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	var lastSeq uint64
	var lastRunning bool
	for {
		st, err := ipc.ReadStatus(ipcDir)
		if err == nil && (st.Seq != lastSeq || st.Running != lastRunning) {
			lastSeq, lastRunning = st.Seq, st.Running
			fmt.Fprintln(out, "---")
			render(out, st, true, time.Now())
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printSources(out io.Writer) {
	bold := color.New(color.Bold)
	for _, kind := range source.All() {
		m := kind.Meta()
		state := color.New(color.FgHiBlack).Sprint("off")
		if m.Enabled {
			state = color.New(color.FgGreen).Sprint("on ")
		}
		fmt.Fprintf(out, "%s  %-14s %-20s %s\n", state, bold.Sprint(m.Slug), m.Name, m.Category)
	}
}

func newService() (agent.Service, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	core := filepath.Join(filepath.Dir(exe), agent.Name)
	return agent.New(&agent.Program{}, agent.Config(core))
}

func controlService(out io.Writer, action string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	if err := agent.Control(svc, action); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(out, "%s: %s done\n", agent.Name, action)
	return nil
}
