package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc is called with the path of the changed file whenever the
// watcher observes a write or create event. It is the caller's job to
// re-parse and atomically swap whatever state the file backs (the serve
// command passes a function that calls configstore.Store.LoadFile and then
// rebuilds the balancer's model mapper).
type ReloadFunc func(path string) error

// Watcher hot-reloads a single YAML file on change, grounded on the
// teacher's internal/domain/service/config_watcher.go shape (mutex-guarded
// state, Start/Stop lifecycle) but driven by fsnotify's filesystem events
// instead of polling.
type Watcher struct {
	path     string
	onReload ReloadFunc
	logger   *zap.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	debounce time.Duration
}

// NewWatcher builds a Watcher for path. Call Start to begin watching;
// Stop to release the underlying fsnotify handle.
func NewWatcher(path string, onReload ReloadFunc, logger *zap.Logger) *Watcher {
	return &Watcher{
		path:     path,
		onReload: onReload,
		logger:   logger.With(zap.String("component", "config-watcher")),
		stopCh:   make(chan struct{}),
		debounce: 200 * time.Millisecond,
	}
}

// Start begins watching the file's parent directory (fsnotify watches
// directories more reliably than bare files across editors' rename-based
// saves) and blocks until Stop is called. Run it in its own goroutine.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return err
	}

	w.logger.Info("config watcher started", zap.String("path", w.path))

	var pending *time.Timer
	for {
		select {
		case <-w.stopCh:
			fw.Close()
			w.logger.Info("config watcher stopped")
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	if err := w.onReload(w.path); err != nil {
		w.logger.Warn("config reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("config reloaded", zap.String("path", w.path))
}

// Stop signals Start to return and releases the fsnotify handle.
func (w *Watcher) Stop() {
	close(w.stopCh)
}
