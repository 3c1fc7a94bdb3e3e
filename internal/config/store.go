package config

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiroq/beacon/internal/detector"
	"github.com/tiroq/beacon/internal/fileutil"
	"github.com/tiroq/beacon/internal/logging"
	"github.com/tiroq/beacon/internal/source"
	"github.com/tiroq/beacon/internal/threshold"
)

// Store is the live configuration. Readers see either the previous or the
// next config in full; a reload that fails validation is discarded.
type Store struct {
	path   string
	getenv func(string) string
	log    *zap.Logger

	mu       sync.RWMutex
	cfg      *Config
	debug    logging.DebugSet
	onChange []func(*Config)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithEnv sets the environment lookup used on every load.
func WithEnv(getenv func(string) string) StoreOption {
	return func(s *Store) { s.getenv = getenv }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(log *zap.Logger) StoreOption {
	return func(s *Store) { s.log = log }
}

// Open loads the config at path, applies environment overrides and
// validates the result.
func Open(path string, opts ...StoreOption) (*Store, error) {
	s := &Store{path: path, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	cfg, debug, err := s.load()
	if err != nil {
		return nil, err
	}
	s.cfg, s.debug = cfg, debug
	return s, nil
}

// NewStore wraps an in-memory config, for tests and tools.
func NewStore(cfg *Config, opts ...StoreOption) *Store {
	s := &Store{cfg: cfg.Clone(), log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) load() (*Config, logging.DebugSet, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return nil, logging.DebugSet{}, err
	}
	debug, err := ApplyEnv(cfg, s.getenv)
	if err != nil {
		return nil, logging.DebugSet{}, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, logging.DebugSet{}, err
	}
	return cfg, debug, nil
}

// Path returns the file the store reloads from.
func (s *Store) Path() string { return s.path }

// Config returns a copy of the current config.
func (s *Store) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Set validates cfg and makes it current.
func (s *Store) Set(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.swap(cfg.Clone(), s.debugSet())
	return nil
}

// Save makes cfg current and writes it to the store's file.
func (s *Store) Save(cfg *Config) error {
	if err := Save(s.path, cfg); err != nil {
		return err
	}
	return s.Set(cfg)
}

// Reload re-reads the file. On error the current config is kept.
func (s *Store) Reload() error {
	cfg, debug, err := s.load()
	if err != nil {
		return err
	}
	s.swap(cfg, debug)
	return nil
}

func (s *Store) swap(cfg *Config, debug logging.DebugSet) {
	s.mu.Lock()
	s.cfg, s.debug = cfg, debug
	subs := append([]func(*Config){}, s.onChange...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(cfg.Clone())
	}
}

func (s *Store) debugSet() logging.DebugSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.debug
}

// OnChange registers fn to run after every successful reload or Set.
func (s *Store) OnChange(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Watch reloads the config whenever its file changes, until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	s.log.Info("watching config", zap.String(logging.FieldPath, s.path))
	return fileutil.WatchFile(ctx, s.path, 2*time.Second, func() {
		if err := s.Reload(); err != nil {
			s.log.Warn("config reload rejected, keeping previous config", zap.Error(err))
			return
		}
		s.log.Info("config reloaded", zap.Strings("enabled", kindNames(s.Config().EnabledKinds())))
	}, s.log)
}

func kindNames(kinds []source.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.String()
	}
	return out
}

// Enabled implements monitor.Settings.
func (s *Store) Enabled(kind source.Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Source(kind).Enabled
}

// Policy implements detector.Settings.
func (s *Store) Policy(kind source.Kind) threshold.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Source(kind).Policy()
}

// Streak implements detector.Settings.
func (s *Store) Streak(kind source.Kind) threshold.Streak {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Source(kind).Streak()
}

// Debug implements detector.Settings.
func (s *Store) Debug(kind source.Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Source(kind).Debug || s.debug.Has(kind)
}

// Params returns the probe parameters of kind.
func (s *Store) Params(kind source.Kind) detector.Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Source(kind).Params()
}

// PollInterval returns the current tick period.
func (s *Store) PollInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.PollInterval()
}
