package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads non-structural config keys (log level, retry/backoff
// tunables) when the config file changes on disk, without requiring a
// session restart.
type Watcher struct {
	loader *Loader
	fsw *fsnotify.Watcher
	mu sync.RWMutex
	current *Config
	onChange func(*Config)
	done chan struct{}
}

// NewWatcher creates a Watcher that reloads via loader whenever its
// config file changes. initial is the already-loaded Config to serve
// until the first reload.
func NewWatcher(loader *Loader, initial *Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(loader.ConfigFilePath())
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		loader: loader,
		fsw: fsw,
		current: initial,
		done: make(chan struct{}),
	}
	return w, nil
}

// OnChange registers a callback invoked with the newly loaded Config
// after every successful reload. Only one callback is retained.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run watches for file events until Close is called. Intended to run in
// its own goroutine.
func (w *Watcher) Run() {
	target := filepath.Clean(w.loader.ConfigFilePath())
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		// Keep serving the last good config; a malformed edit mid-write
		// shouldn't tear down a running session.
		return
	}

	w.mu.Lock()
	w.current = cfg
	cb := w.onChange
	w.mu.Unlock()

	if cb != nil {
		cb(cfg)
	}
}

// Close stops the watcher and releases its filesystem handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
