package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/tiroq/beacon/internal/logging"
)

// Environment overrides applied on top of the config file.
const (
	EnvLogPath  = "BEACON_LOG_PATH"
	EnvFeedAddr = "BEACON_FEED_ADDR"
	EnvDev      = "BEACON_DEV"
)

// LoadDotEnv loads KEY=value files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays the environment read through getenv onto cfg and returns
// the debug source selection.
func ApplyEnv(cfg *Config, getenv func(string) string) (logging.DebugSet, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvLogPath); v != "" {
		cfg.Log.Path = v
	}
	if v := getenv(EnvFeedAddr); v != "" {
		cfg.Feed.Addr = v
		cfg.Feed.Enabled = true
	}
	if v := getenv(EnvDev); v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return logging.DebugSet{}, fmt.Errorf("%s: %w", EnvDev, err)
		}
		cfg.Log.Development = dev
	}
	debug, err := logging.ParseDebugSources(getenv(logging.EnvDebugSources))
	if err != nil {
		return logging.DebugSet{}, fmt.Errorf("%s: %w", logging.EnvDebugSources, err)
	}
	return debug, nil
}
