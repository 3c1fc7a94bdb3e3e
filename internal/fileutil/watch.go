package fileutil

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often WatchFile checks the modification time
// when fsnotify is unavailable or missed an event.
const DefaultPollInterval = time.Second

// WatchFile calls onChange whenever the file at path is written, replaced or
// removed, until ctx is done. A file that exists when the watch starts is
// reported once. The parent directory is watched with fsnotify
// so atomic rename-over writes are seen; a modification time poll every
// interval backs it up. onChange runs on the watching goroutine.
func WatchFile(ctx context.Context, path string, interval time.Duration, onChange func(), log *zap.Logger) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify not available, falling back to polling", zap.Error(err))
	} else {
		defer watcher.Close()
		if err := watcher.Add(dir); err != nil {
			log.Warn("failed to watch directory, falling back to polling", zap.String("dir", dir), zap.Error(err))
		} else {
			events, errs = watcher.Events, watcher.Errors
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Starting from the zero time reports a file that already exists on the
	// first poll, covering writes made before the watch was registered.
	var last time.Time
	fire := func() {
		last = modTime(path)
		onChange()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				log.Info("fsnotify watcher closed, switching to polling")
				events, errs = nil, nil
				continue
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			fire()
		case err, ok := <-errs:
			if !ok {
				log.Info("fsnotify error channel closed, switching to polling")
				events, errs = nil, nil
				continue
			}
			log.Warn("file watcher error", zap.Error(err))
		case <-ticker.C:
			if !modTime(path).Equal(last) {
				fire()
			}
		}
	}
}

// modTime returns the zero time for a missing file.
func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
