package dataset

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-reads snapshots when files under the data root change.
// Dev-only: enabled by the --reload flag.
type Watcher struct {
	store    *Store
	root     string
	logger   *zap.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher over the loader's data root.
func NewWatcher(store *Store, root string, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		store:    store,
		root:     root,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		watcher:  fsw,
	}

	// Watch every directory under the results tree. fsnotify does not
	// recurse, so register each directory individually.
	resultsDir := filepath.Join(root, "results")
	err = filepath.Walk(resultsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if info.IsDir() {
			if addErr := fsw.Add(path); addErr != nil {
				logger.Warn("watch directory failed", zap.String("path", path), zap.Error(addErr))
			}
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// Run consumes filesystem events until ctx is cancelled. Bursts of events
// collapse into a single reload via the debounce timer.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("dataset watcher error", zap.Error(err))

		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.store.Reload(); err != nil {
				w.logger.Warn("reload after change failed", zap.Error(err))
			}
		}
	}
}
