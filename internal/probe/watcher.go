package probe

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// maxEvents caps the timestamps kept by ActivityWatcher.
const maxEvents = 4096

// ActivityWatcher counts file-system events under a set of directories.
// It watches each root and its immediate subdirectories, and picks up
// directories created later. Reading the count never touches the disk.
type ActivityWatcher struct {
	dirs   []string
	window time.Duration
	now    func() time.Time
	log    *zap.Logger

	mu     sync.Mutex
	events []time.Time
	err    error
}

// NewActivityWatcher creates a watcher; call Run to start it.
func NewActivityWatcher(dirs []string, window time.Duration, log *zap.Logger) *ActivityWatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &ActivityWatcher{dirs: dirs, window: window, now: time.Now, log: log}
}

// Run watches until ctx is done. Missing roots are skipped; if none can be
// watched Run returns an error and Count keeps reporting zero.
func (w *ActivityWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.setErr(err)
		return errors.Wrap(err, "create fs watcher")
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			w.log.Warn("failed to close fs watcher", zap.Error(err))
		}
	}()

	watched := 0
	for _, dir := range w.dirs {
		watched += addTree(watcher, dir)
	}
	if watched == 0 {
		err := errors.Errorf("none of %v could be watched", w.dirs)
		w.setErr(err)
		return err
	}
	w.log.Debug("fs watcher started", zap.Strings("dirs", w.dirs), zap.Int("watched", watched))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			w.record(w.now())
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Debug("fs watcher error", zap.Error(err))
		}
	}
}

// addTree watches dir and its direct subdirectories.
func addTree(watcher *fsnotify.Watcher, dir string) int {
	if err := watcher.Add(dir); err != nil {
		return 0
	}
	n := 1
	entries, err := os.ReadDir(dir)
	if err != nil {
		return n
	}
	for _, e := range entries {
		if e.IsDir() && watcher.Add(filepath.Join(dir, e.Name())) == nil {
			n++
		}
	}
	return n
}

func (w *ActivityWatcher) record(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, t)
	w.trim(t)
}

// trim drops events older than the window. Callers hold mu.
func (w *ActivityWatcher) trim(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.events) && w.events[i].Before(cutoff) {
		i++
	}
	if len(w.events)-i > maxEvents {
		i = len(w.events) - maxEvents
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}

// Count returns the number of events inside the trailing window.
func (w *ActivityWatcher) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trim(w.now())
	return len(w.events)
}

// Err returns the startup error, if any.
func (w *ActivityWatcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *ActivityWatcher) setErr(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}
