package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/kardianos/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	cfg := Config("/usr/local/bin/beacon-core", "-config", "/tmp/c.json")
	assert.Equal(t, Name, cfg.Name)
	assert.Equal(t, "/usr/local/bin/beacon-core", cfg.Executable)
	assert.Equal(t, []string{"-config", "/tmp/c.json"}, cfg.Arguments)
	assert.Equal(t, true, cfg.Option["UserService"])
	assert.Equal(t, true, cfg.Option["KeepAlive"])
}

func TestProgramLifecycle(t *testing.T) {
	started := make(chan struct{})
	prg := &Program{Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}}

	require.NoError(t, prg.Start(nil))
	<-started
	assert.NoError(t, prg.Stop(nil))
}

func TestProgramStopReturnsRunError(t *testing.T) {
	boom := errors.New("boom")
	prg := &Program{Run: func(ctx context.Context) error {
		<-ctx.Done()
		return boom
	}}
	require.NoError(t, prg.Start(nil))
	assert.ErrorIs(t, prg.Stop(nil), boom)
}

func TestProgramWithoutRun(t *testing.T) {
	prg := &Program{}
	assert.Error(t, prg.Start(nil))
	assert.NoError(t, prg.Stop(nil))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "running", StatusString(service.StatusRunning))
	assert.Equal(t, "stopped", StatusString(service.StatusStopped))
	assert.Equal(t, "unknown", StatusString(service.StatusUnknown))
}

func TestActions(t *testing.T) {
	assert.Contains(t, Actions, "install")
	assert.Contains(t, Actions, "uninstall")
}
