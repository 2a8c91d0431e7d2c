package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/edgeway/gateway/internal/logging"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches the manifest file for changes and reloads the static
// route table. Hot-reload applies only to routes — in-flight policy
// resolution and circuit breaker state are untouched by a reload.
type Watcher struct {
	fsw        *fsnotify.Watcher
	loader     *Loader
	configPath string
	debounce   time.Duration

	mu        sync.RWMutex
	callbacks []func(*Config)
}

// NewWatcher creates a Watcher for configPath without starting it.
func NewWatcher(configPath string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:        fsw,
		loader:     NewLoader(),
		configPath: configPath,
		debounce:   500 * time.Millisecond,
	}, nil
}

// OnChange registers a callback invoked with the freshly reloaded config
// after each debounced file-system event.
func (w *Watcher) OnChange(cb func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins watching the directory containing the manifest (fsnotify
// does not reliably watch single files across editors' rename-then-create
// save patterns) and runs until ctx-independent Close is called.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.configPath)
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	var timer *time.Timer
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load(w.configPath)
	if err != nil {
		logging.Warn("config reload failed, keeping previous manifest", zap.Error(err))
		return
	}
	w.mu.RLock()
	cbs := append([]func(*Config){}, w.callbacks...)
	w.mu.RUnlock()
	for _, cb := range cbs {
		cb(cfg)
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
