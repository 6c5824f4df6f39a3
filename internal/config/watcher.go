package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"tenantgate/pkg/logging"
)

// ReloadFunc receives the freshly loaded configuration after the watched
// file changes and revalidates cleanly.
type ReloadFunc func(Config)

// Watcher reloads the configuration file when it changes on disk, so
// tunable policies (session TTL, idle eviction, probe budget) can be
// adjusted without restarting the gateway. Structural settings such as the
// listen address are picked up on the next restart.
type Watcher struct {
	mu sync.Mutex

	path    string
	onload  ReloadFunc
	watcher *fsnotify.Watcher

	// debounce collapses editor write bursts into one reload
	debounce time.Duration
	pending  *time.Timer

	stopCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(path string, onload ReloadFunc) *Watcher {
	return &Watcher{
		path:     path,
		onload:   onload,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}
}

// Start begins watching. Watching the parent directory rather than the file
// itself survives the rename-and-replace pattern editors and config
// management tools use.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}

	w.watcher = watcher
	w.running = true
	go w.loop()

	logging.Info("Config", "Watching %s for changes", w.path)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopCh)
	w.watcher.Close()
	w.running = false
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Config", "Watcher error: %v", err)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		// Keep serving with the previous configuration.
		logging.Error("Config", err, "Reload of %s failed, keeping current configuration", w.path)
		return
	}
	logging.Info("Config", "Reloaded configuration from %s", w.path)
	w.onload(cfg)
}
