// Command beacon-core is the activity monitoring daemon. It polls the
// configured detectors, publishes snapshots to ~/.cache/beacon/status.json
// and, optionally, a loopback websocket feed, and takes commands from
// ~/.cache/beacon/cmd.txt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tiroq/beacon/internal/agent"
	"github.com/tiroq/beacon/internal/config"
	"github.com/tiroq/beacon/internal/ipc"
	"github.com/tiroq/beacon/internal/pidfile"
)

// Version is set at build time.
var Version = "dev"

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", config.DefaultPath(), "config file")
	flag.StringVar(&opts.ipcDir, "ipc-dir", ipc.DefaultDir(), "directory of status.json and cmd.txt")
	flag.StringVar(&opts.pidPath, "pidfile", pidfile.DefaultPath(agent.Name), "PID file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(agent.Name, Version)
		return
	}

	// Recover from any panics and report them
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "PANIC in %s: %v\n", agent.Name, r)
			os.Exit(1)
		}
	}()

	home, _ := os.UserHomeDir()
	if err := config.LoadDotEnv(".env", filepath.Join(home, ".config", "beacon", ".env")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	run := func(ctx context.Context) error { return runDaemon(ctx, opts) }

	if !agent.Interactive() {
		// Started by launchd or systemd.
		prg := &agent.Program{Run: run}
		svc, err := agent.New(prg, agent.Config(""))
		if err == nil {
			err = svc.Run()
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
