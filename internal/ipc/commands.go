package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tiroq/beacon/internal/fileutil"
	"github.com/tiroq/beacon/internal/logging"
	"github.com/tiroq/beacon/internal/source"
)

// Op names a command.
type Op string

const (
	OpDismiss Op = "dismiss" // hide the current activation of one source
	OpMock    Op = "mock"    // publish a synthetic snapshot
	OpUnmock  Op = "unmock"  // resume real snapshots
	OpPause   Op = "pause"   // stop monitoring
	OpResume  Op = "resume"  // start monitoring
	OpQuit    Op = "quit"    // shut the daemon down
)

// Command is one line of the command file.
type Command struct {
	Op    Op
	Kinds []source.Kind
	// Progress is the optional mock progress per kind, given as kind=0.4.
	Progress map[source.Kind]float64
}

func (c Command) String() string {
	if len(c.Kinds) == 0 {
		return string(c.Op)
	}
	args := make([]string, len(c.Kinds))
	for i, k := range c.Kinds {
		args[i] = k.String()
		if p, ok := c.Progress[k]; ok {
			args[i] += "=" + strconv.FormatFloat(p, 'g', -1, 64)
		}
	}
	return string(c.Op) + " " + strings.Join(args, ",")
}

// ParseCommand parses one command line.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errors.New("empty command")
	}
	cmd := Command{Op: Op(strings.ToLower(fields[0]))}
	args := strings.Join(fields[1:], "")

	switch cmd.Op {
	case OpUnmock, OpPause, OpResume, OpQuit:
		if args != "" {
			return Command{}, fmt.Errorf("%s takes no arguments", cmd.Op)
		}
		return cmd, nil
	case OpDismiss:
		kind, err := source.Parse(args)
		if err != nil {
			return Command{}, fmt.Errorf("dismiss: %w", err)
		}
		cmd.Kinds = []source.Kind{kind}
		return cmd, nil
	case OpMock:
		if args == "" {
			// An empty mock shows nothing active.
			return cmd, nil
		}
		for _, part := range strings.Split(args, ",") {
			name, value, hasValue := strings.Cut(part, "=")
			kind, err := source.Parse(name)
			if err != nil {
				return Command{}, fmt.Errorf("mock: %w", err)
			}
			cmd.Kinds = append(cmd.Kinds, kind)
			if !hasValue {
				continue
			}
			p, err := strconv.ParseFloat(value, 64)
			if err != nil || p < 0 || p > 1 {
				return Command{}, fmt.Errorf("mock: progress of %s must be within [0,1], got %q", kind, value)
			}
			if cmd.Progress == nil {
				cmd.Progress = make(map[source.Kind]float64)
			}
			cmd.Progress[kind] = p
		}
		return cmd, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", fields[0])
	}
}

// WriteCommand appends cmd to dir/cmd.txt.
func WriteCommand(dir string, cmd Command) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, CommandFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(cmd.String() + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadCommands claims and parses every pending command in dir/cmd.txt. The
// file is renamed before reading so commands appended meanwhile land in a
// fresh file. Lines that fail to parse are returned as errors alongside the
// valid commands.
func ReadCommands(dir string) ([]Command, []error, error) {
	path := filepath.Join(dir, CommandFile)
	claimed := path + ".reading"
	if err := os.Rename(path, claimed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	defer os.Remove(claimed)

	f, err := os.Open(claimed)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var (
		cmds []Command
		bad  []error
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cmd, err := ParseCommand(line)
		if err != nil {
			bad = append(bad, err)
			continue
		}
		cmds = append(cmds, cmd)
	}
	return cmds, bad, sc.Err()
}

// WatchCommands runs handle for every command written to dir/cmd.txt until
// ctx is done. Commands already pending when it starts are handled first.
func WatchCommands(ctx context.Context, dir string, handle func(Command), log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	drain := func() {
		cmds, bad, err := ReadCommands(dir)
		if err != nil {
			log.Warn("failed to read commands", zap.Error(err))
		}
		for _, e := range bad {
			log.Warn("ignoring invalid command", zap.Error(e))
		}
		for _, cmd := range cmds {
			log.Info("received command", zap.Stringer(logging.FieldCommand, cmd))
			handle(cmd)
		}
	}
	drain()
	log.Info("command watcher started", zap.String(logging.FieldPath, filepath.Join(dir, CommandFile)))
	return fileutil.WatchFile(ctx, filepath.Join(dir, CommandFile), time.Second, drain, log)
}
