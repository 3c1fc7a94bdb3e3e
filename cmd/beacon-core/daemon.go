package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiroq/beacon/internal/config"
	"github.com/tiroq/beacon/internal/detector"
	"github.com/tiroq/beacon/internal/ipc"
	"github.com/tiroq/beacon/internal/logging"
	"github.com/tiroq/beacon/internal/monitor"
	"github.com/tiroq/beacon/internal/pidfile"
	"github.com/tiroq/beacon/internal/probe"
	"github.com/tiroq/beacon/internal/source"
	"github.com/tiroq/beacon/internal/statusfeed"
)

type options struct {
	configPath string
	ipcDir     string
	pidPath    string
}

// runDaemon runs until ctx is done or a quit command arrives.
func runDaemon(ctx context.Context, opts options) error {
	store, err := config.Open(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := store.Config()

	logPath := cfg.Log.Path
	if logPath == "" {
		logPath = logging.DefaultPath()
	}
	log, closeLog, err := logging.New(logging.Options{Path: logPath, Development: cfg.Log.Development})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer closeLog()
	log = log.Named(logging.ComponentCore)

	log.Info("===========================================")
	log.Info("Starting beacon-core", zap.String("version", Version), zap.Int("pid", os.Getpid()))
	log.Info("===========================================")

	pf, err := pidfile.New(opts.pidPath)
	if err != nil {
		log.Error("[STARTUP] failed to create PID file", zap.Error(err), zap.String(logging.FieldPath, opts.pidPath))
		return err
	}
	defer func() {
		if err := pf.Remove(); err != nil {
			log.Warn("failed to remove PID file", zap.Error(err))
		}
	}()
	log.Info("[STARTUP] PID file created", zap.String(logging.FieldPath, opts.pidPath))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runner := probe.ExecRunner{}
	deps := detector.Deps{
		Settings:      store,
		Params:        store.Params,
		Screens:       probe.DefaultScreens(runner, 250*time.Millisecond),
		CPU:           probe.NewCPUSampler(cfg.PollInterval() / 2),
		SystemCPU:     probe.SystemCPU,
		Apps:          probe.NewAppLister(),
		Watch:         detector.WatchDirs(log.Named("watcher")),
		TerminalLines: cfg.TerminalLines,
		CalendarLead:  cfg.CalendarLead(),
		Timeout:       cfg.CheckTimeout(),
		Log:           log.Named(logging.ComponentDetector),
	}
	if cal := probe.DefaultCalendar(runner); cal != nil {
		deps.Calendar = cal
	}

	kinds := buildableKinds(deps)
	dets, err := detector.Build(ctx, kinds, deps)
	if err != nil {
		log.Error("[STARTUP] failed to build detectors", zap.Error(err))
		return err
	}
	log.Info("[STARTUP] detectors built",
		zap.Int("count", len(dets)),
		zap.Strings("enabled", kindNames(cfg.EnabledKinds())))

	mon := monitor.New(detector.Detectors(dets), store,
		monitor.WithIntervalFunc(store.PollInterval),
		monitor.WithLogger(log.Named(logging.ComponentMonitor)))
	log = log.With(zap.String(logging.FieldSession, mon.Session()))

	d := &daemon{
		mon:    mon,
		ipcDir: opts.ipcDir,
		hub:    statusfeed.NewHub(log.Named(logging.ComponentFeed)),
		log:    log,
		ctx:    ctx,
		quit:   cancel,
	}

	var wg sync.WaitGroup
	goRun := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(name+" stopped", zap.Error(err))
			}
		}()
	}

	updates, stopUpdates := mon.Updates()
	defer stopUpdates()
	goRun("status writer", func() error { d.writeStatuses(ctx, updates); return nil })

	store.OnChange(func(c *config.Config) {
		log.Info("config applied", zap.Duration("interval", c.PollInterval()), zap.Strings("enabled", kindNames(c.EnabledKinds())))
	})
	goRun("config watcher", func() error { return store.Watch(ctx) })
	goRun("command watcher", func() error {
		return ipc.WatchCommands(ctx, opts.ipcDir, d.handle, log.Named(logging.ComponentIPC))
	})

	if cfg.Feed.Enabled {
		goRun("status feed", func() error { return statusfeed.Serve(ctx, cfg.Feed.Addr, d.hub, log.Named(logging.ComponentFeed)) })
	}

	mon.Start(ctx)
	log.Info("[RUNNING] beacon-core is monitoring", zap.Duration("interval", cfg.PollInterval()))

	<-ctx.Done()
	log.Info("===========================================")
	log.Info("[SHUTDOWN] shutting down")

	mon.Stop()
	d.writeCurrent()
	wg.Wait()
	for _, g := range dets {
		g.Wait()
	}
	log.Info("[SHUTDOWN] done")
	return nil
}

// buildableKinds returns every source whose probe exists on this platform.
// Disabled sources are built too so enabling them takes effect on reload.
func buildableKinds(deps detector.Deps) []source.Kind {
	var out []source.Kind
	for _, kind := range source.All() {
		if kind.Category() == source.CategoryCalendar && deps.Calendar == nil {
			continue
		}
		out = append(out, kind)
	}
	return out
}

func kindNames(kinds []source.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.String()
	}
	return out
}

// daemon ties the monitor to the ipc and feed outputs.
type daemon struct {
	mon    *monitor.Monitor
	ipcDir string
	hub    *statusfeed.Hub
	log    *zap.Logger
	ctx    context.Context
	quit   context.CancelFunc

	writeMu sync.Mutex
}

func (d *daemon) writeStatuses(ctx context.Context, updates <-chan monitor.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			d.publish(snap)
		}
	}
}

// writeCurrent republishes the current snapshot, for changes that do not
// produce one such as pausing.
func (d *daemon) writeCurrent() {
	d.publish(d.mon.Current())
}

func (d *daemon) publish(snap monitor.Snapshot) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	status := ipc.NewStatus(snap, d.mon.Session(), d.mon.Running(), d.mon.Dismissed())
	if err := ipc.WriteStatus(d.ipcDir, status); err != nil {
		d.log.Warn("failed to write status", zap.Error(err))
	}
	if err := d.hub.Publish(status); err != nil {
		d.log.Warn("failed to publish status", zap.Error(err))
	}
}

// handle applies one command from the command file.
func (d *daemon) handle(cmd ipc.Command) {
	switch cmd.Op {
	case ipc.OpDismiss:
		for _, kind := range cmd.Kinds {
			if !d.mon.Dismiss(kind) {
				d.log.Info("dismiss ignored, source is not active", zap.Stringer(logging.FieldSource, kind))
			}
		}
		if !d.mon.Running() {
			d.writeCurrent()
		}
	case ipc.OpMock:
		d.mon.SetMock(monitor.MockSnapshot(cmd.Kinds, cmd.Progress))
	case ipc.OpUnmock:
		d.mon.ClearMock()
		if !d.mon.Running() {
			d.writeCurrent()
		}
	case ipc.OpPause:
		d.mon.Stop()
		d.writeCurrent()
	case ipc.OpResume:
		d.mon.Start(d.ctx)
	case ipc.OpQuit:
		d.log.Info("[SHUTDOWN] quit command received")
		d.quit()
	default:
		d.log.Warn("unhandled command", zap.Stringer(logging.FieldCommand, cmd))
	}
}
