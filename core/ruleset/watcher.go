package ruleset

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"battery-pricing/internal/logging"
)

// Watcher keeps a Store in sync with the ruleset files of a directory
type Watcher struct {
	dir      string
	store    Store
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer

	// OnReload, when set, is called after every file is (re)loaded or removed
	OnReload func(path string, err error)
}

// NewWatcher creates a watcher for dir feeding store
func NewWatcher(dir string, store Store) *Watcher {
	return &Watcher{
		dir:      dir,
		store:    store,
		debounce: 100 * time.Millisecond,
		pending:  make(map[string]*time.Timer),
	}
}

// Sync loads every ruleset file in the directory. Invalid files are logged
// and skipped; the number of loaded rulesets is returned.
func (w *Watcher) Sync() (int, error) {
	results, err := LoadDir(w.dir)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, r := range results {
		if r.Err != nil {
			logging.Warn("skipping invalid ruleset file",
				zap.String("path", r.Path),
				zap.Error(r.Err),
			)
			continue
		}
		w.store.DeleteSource(r.Path)
		if _, err := w.store.Put(r.Ruleset, r.Path); err != nil {
			logging.Warn("failed to store ruleset",
				zap.String("path", r.Path),
				zap.Error(err),
			)
			continue
		}
		loaded++
	}

	logging.Info("rulesets loaded",
		zap.String("dir", w.dir),
		zap.Int("loaded", loaded),
		zap.Int("files", len(results)),
	)
	return loaded, nil
}

// Watch reloads changed files until ctx is cancelled
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	logging.Info("watching rulesets directory", zap.String("dir", w.dir))

	for {
		select {
		case <-ctx.Done():
			w.stopPending()
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("file watcher closed")
			}
			if _, supported := DetectFormat(event.Name); !supported || isHidden(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("file watcher closed")
			}
			logging.Error("ruleset watcher error", zap.Error(err))
		}
	}
}

// schedule coalesces bursts of events on one file into a single reload
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.reload(path)
	})
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// reload replaces the entries stored from path with its current content
func (w *Watcher) reload(path string) {
	removed := w.store.DeleteSource(path)

	rs, err := LoadFile(path)
	if err == nil {
		err = Check(rs)
	}
	if err == nil {
		_, err = w.store.Put(rs, path)
	}

	switch {
	case err == nil:
		logging.Info("ruleset reloaded",
			zap.String("path", path),
			logging.Ruleset(rs.Name, rs.Version),
		)
	case removed > 0:
		logging.Warn("ruleset removed",
			zap.String("path", path),
			zap.Error(err),
		)
	default:
		logging.Warn("ruleset file ignored", zap.String("path", path), zap.Error(err))
	}

	if w.OnReload != nil {
		w.OnReload(path, err)
	}
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
