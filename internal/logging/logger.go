// Package logging builds the zap loggers used across beacon: a console core
// teed with a JSON file core rotated by lumberjack.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for the log file.
const (
	DefaultMaxSizeMB  = 20
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 14
)

// Options configures New. Zero values use defaults.
type Options struct {
	// Path of the JSON log file. Empty disables the file core.
	Path string
	// Development switches the console to colored text at debug level.
	Development bool
	// Level overrides the minimum level; nil means info (debug when
	// Development is set).
	Level *zapcore.Level
	// Console receives the console core; nil means stderr.
	Console io.Writer

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultPath returns ~/.cache/beacon/beacon-core.log.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".cache", "beacon", "beacon-core.log")
}

// New builds a logger from opts. The returned close function flushes and
// closes the rotating file.
func New(opts Options) (*zap.Logger, func() error, error) {
	level := zapcore.InfoLevel
	if opts.Development {
		level = zapcore.DebugLevel
	}
	if opts.Level != nil {
		level = *opts.Level
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	var consoleEncoder zapcore.Encoder
	if opts.Development {
		consoleEncoder = zapcore.NewConsoleEncoder(consoleEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(encoderConfig())
	}
	cores := []zapcore.Core{zapcore.NewCore(consoleEncoder, zapcore.AddSync(console), level)}

	var rotator *lumberjack.Logger
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, nil, err
		}
		rotator = newRotator(opts)
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(rotator), level))
	}

	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	closeFn := func() error {
		_ = log.Sync()
		if rotator != nil {
			return rotator.Close()
		}
		return nil
	}
	return log, closeFn, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *zap.Logger { return zap.NewNop() }

func newRotator(opts Options) *lumberjack.Logger {
	r := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	if r.MaxSize <= 0 {
		r.MaxSize = DefaultMaxSizeMB
	}
	if r.MaxBackups <= 0 {
		r.MaxBackups = DefaultMaxBackups
	}
	if r.MaxAge <= 0 {
		r.MaxAge = DefaultMaxAgeDays
	}
	return r
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        FieldTimestamp,
		LevelKey:       FieldLevel,
		NameKey:        FieldLogger,
		CallerKey:      FieldCaller,
		MessageKey:     FieldMessage,
		StacktraceKey:  FieldStacktrace,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := encoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("15:04:05.000"))
	}
	return cfg
}
