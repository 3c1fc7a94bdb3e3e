// Package agent installs and runs beacon-core as a per-user background
// service: a launchd user agent on macOS, a systemd user unit on Linux.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kardianos/service"
)

// Name is the service name.
const Name = "beacon-core"

// StopTimeout bounds how long Stop waits for the daemon to exit.
const StopTimeout = 10 * time.Second

// Service is an installed or installable service.
type Service = service.Service

// Actions accepted by Control.
var Actions = service.ControlAction[:]

// Program adapts a daemon run function to the service lifecycle.
type Program struct {
	// Run is the daemon body. It returns when ctx is cancelled.
	Run func(ctx context.Context) error

	cancel context.CancelFunc
	exit   chan struct{}
	err    error
}

// Start implements service.Interface. It must not block.
func (p *Program) Start(s service.Service) error {
	if p.Run == nil {
		return errors.New("agent: no run function")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.exit = make(chan struct{})
	go func() {
		defer close(p.exit)
		p.err = p.Run(ctx)
	}()
	return nil
}

// Stop implements service.Interface.
func (p *Program) Stop(s service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case <-p.exit:
		return p.err
	case <-time.After(StopTimeout):
		return fmt.Errorf("timeout waiting for %s to stop", Name)
	}
}

// Config returns the service definition that runs executable with args.
func Config(executable string, args ...string) *service.Config {
	return &service.Config{
		Name:        Name,
		DisplayName: "Beacon activity monitor",
		Description: "Detects long-running developer activity and publishes it to the menu bar.",
		Executable:  executable,
		Arguments:   args,
		Option: service.KeyValue{
			"UserService": true,
			"RunAtLoad":   true,
			"KeepAlive":   true,
			"Restart":     "on-failure",
		},
	}
}

// New binds prg to the service definition.
func New(prg *Program, cfg *service.Config) (Service, error) {
	s, err := service.New(prg, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return s, nil
}

// Control performs one of Actions (install, uninstall, start, stop,
// restart) on the service.
func Control(s Service, action string) error {
	if err := service.Control(s, action); err != nil {
		return fmt.Errorf("failed to %s service: %w", action, err)
	}
	return nil
}

// Status describes the installed service state.
func Status(s Service) (string, error) {
	st, err := s.Status()
	if errors.Is(err, service.ErrNotInstalled) {
		return "not installed", nil
	}
	if err != nil {
		return "", err
	}
	return StatusString(st), nil
}

// StatusString names a service.Status.
func StatusString(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Interactive reports whether the process runs from a terminal rather than
// under the service manager.
func Interactive() bool { return service.Interactive() }
