// Package config loads, validates and persists the beacon configuration
// stored in ~/.config/beacon/config.json.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tiroq/beacon/internal/detector"
	"github.com/tiroq/beacon/internal/fileutil"
	"github.com/tiroq/beacon/internal/source"
	"github.com/tiroq/beacon/internal/threshold"
)

// EnvConfig overrides the config file location.
const EnvConfig = "BEACON_CONFIG"

// Defaults and limits.
const (
	DefaultPollIntervalMS      = 500
	DefaultCheckTimeoutMS      = 2000
	DefaultTerminalLines       = 8
	DefaultCalendarLeadMinutes = 10
	DefaultFeedAddr            = "127.0.0.1:47820"

	MinPollIntervalMS = 100
	MaxPollIntervalMS = 10000
)

// SourceConfig is the per-source section of the config file.
type SourceConfig struct {
	Enabled     bool    `json:"enabled"`
	Low         float64 `json:"low"`
	High        float64 `json:"high"`
	StartStreak int     `json:"start_streak"`
	StopStreak  int     `json:"stop_streak"`
	Debug       bool    `json:"debug,omitempty"`

	Patterns        []string `json:"patterns,omitempty"`
	ProgressPattern string   `json:"progress_pattern,omitempty"`
	ProcessNames    []string `json:"process_names,omitempty"`
	Dirs            []string `json:"dirs,omitempty"`
}

// Policy returns the hysteresis band of the source.
func (s SourceConfig) Policy() threshold.Policy {
	return threshold.Policy{Low: s.Low, High: s.High}
}

// Streak returns the debounce of the source.
func (s SourceConfig) Streak() threshold.Streak {
	return threshold.Streak{Start: s.StartStreak, Stop: s.StopStreak}
}

// Params returns the probe parameters of the source.
func (s SourceConfig) Params() detector.Params {
	return detector.Params{
		Patterns:        s.Patterns,
		ProgressPattern: s.ProgressPattern,
		ProcessNames:    s.ProcessNames,
		Dirs:            s.Dirs,
	}
}

// LogConfig configures the daemon log.
type LogConfig struct {
	Path        string `json:"path,omitempty"`
	Development bool   `json:"development,omitempty"`
}

// FeedConfig configures the loopback websocket status feed.
type FeedConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Config holds the whole configuration.
type Config struct {
	PollIntervalMS      int                          `json:"poll_interval_ms"`
	CheckTimeoutMS      int                          `json:"check_timeout_ms"`
	TerminalLines       int                          `json:"terminal_lines"`
	CalendarLeadMinutes int                          `json:"calendar_lead_minutes"`
	Sources             map[source.Kind]SourceConfig `json:"sources"`
	Log                 LogConfig                    `json:"log"`
	Feed                FeedConfig                   `json:"feed"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		PollIntervalMS:      DefaultPollIntervalMS,
		CheckTimeoutMS:      DefaultCheckTimeoutMS,
		TerminalLines:       DefaultTerminalLines,
		CalendarLeadMinutes: DefaultCalendarLeadMinutes,
		Sources:             make(map[source.Kind]SourceConfig),
		Feed:                FeedConfig{Addr: DefaultFeedAddr},
	}
	for _, kind := range source.All() {
		cfg.Sources[kind] = defaultSource(kind)
	}
	return cfg
}

func defaultSource(kind source.Kind) SourceConfig {
	m := kind.Meta()
	streak := m.Streak
	if streak.Start == 0 || streak.Stop == 0 {
		streak = threshold.DefaultStreak
	}
	return SourceConfig{
		Enabled:         m.Enabled,
		Low:             m.Policy.Low,
		High:            m.Policy.High,
		StartStreak:     streak.Start,
		StopStreak:      streak.Stop,
		Patterns:        m.Patterns,
		ProgressPattern: m.ProgressPattern,
		ProcessNames:    m.ProcessNames,
		Dirs:            m.Dirs,
	}
}

// Source returns the section of kind, falling back to the defaults.
func (c *Config) Source(kind source.Kind) SourceConfig {
	if s, ok := c.Sources[kind]; ok {
		return s
	}
	return defaultSource(kind)
}

// PollInterval returns the tick period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// CheckTimeout returns the per-check timeout.
func (c *Config) CheckTimeout() time.Duration {
	return time.Duration(c.CheckTimeoutMS) * time.Millisecond
}

// CalendarLead returns how long before an event the calendar source turns
// on.
func (c *Config) CalendarLead() time.Duration {
	return time.Duration(c.CalendarLeadMinutes) * time.Minute
}

// EnabledKinds returns the enabled sources in declaration order.
func (c *Config) EnabledKinds() []source.Kind {
	var out []source.Kind
	for _, kind := range source.All() {
		if c.Source(kind).Enabled {
			out = append(out, kind)
		}
	}
	return out
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.Sources = make(map[source.Kind]SourceConfig, len(c.Sources))
	for k, s := range c.Sources {
		s.Patterns = append([]string(nil), s.Patterns...)
		s.ProcessNames = append([]string(nil), s.ProcessNames...)
		s.Dirs = append([]string(nil), s.Dirs...)
		out.Sources[k] = s
	}
	return &out
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.PollIntervalMS < MinPollIntervalMS || c.PollIntervalMS > MaxPollIntervalMS {
		return fmt.Errorf("poll_interval_ms must be between %d and %d, got %d", MinPollIntervalMS, MaxPollIntervalMS, c.PollIntervalMS)
	}
	if c.CheckTimeoutMS <= 0 {
		return fmt.Errorf("check_timeout_ms must be positive, got %d", c.CheckTimeoutMS)
	}
	if c.TerminalLines < 1 || c.TerminalLines > 200 {
		return fmt.Errorf("terminal_lines must be between 1 and 200, got %d", c.TerminalLines)
	}
	if c.CalendarLeadMinutes < 1 {
		return fmt.Errorf("calendar_lead_minutes must be at least 1, got %d", c.CalendarLeadMinutes)
	}
	if c.Feed.Enabled && c.Feed.Addr == "" {
		return errors.New("feed.addr is required when the feed is enabled")
	}

	var errs []error
	for _, kind := range source.All() {
		s, ok := c.Sources[kind]
		if !ok {
			continue
		}
		if err := validateSource(s); err != nil {
			errs = append(errs, fmt.Errorf("sources.%s: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}

func validateSource(s SourceConfig) error {
	if err := s.Policy().Validate(); err != nil {
		return err
	}
	if err := s.Streak().Validate(); err != nil {
		return err
	}
	for _, p := range s.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("pattern %q: %w", p, err)
		}
	}
	if s.ProgressPattern != "" {
		if _, err := regexp.Compile(s.ProgressPattern); err != nil {
			return fmt.Errorf("progress_pattern %q: %w", s.ProgressPattern, err)
		}
	}
	return nil
}

// DefaultPath returns the config file location, honouring EnvConfig.
func DefaultPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".config", "beacon", "config.json")
}

// fileConfig decodes per-source sections as raw JSON so each one can be
// merged over its defaults.
type fileConfig struct {
	Config
	Sources map[source.Kind]json.RawMessage `json:"sources"`
}

// Parse decodes data over the defaults. Fields and sources absent from
// data keep their default values.
func Parse(data []byte) (*Config, error) {
	fc := fileConfig{Config: *Default()}
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg := fc.Config
	for kind, raw := range fc.Sources {
		s := cfg.Source(kind)
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("failed to parse sources.%s: %w", kind, err)
		}
		cfg.Sources[kind] = s
	}
	return &cfg, nil
}

// Load reads the config at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save validates cfg and writes it to path atomically.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return fileutil.WriteJSON(path, cfg, 0o644)
}
