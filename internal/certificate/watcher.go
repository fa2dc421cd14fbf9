package certificate

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"skaha/pkg/logging"
)

const (
	// DefaultDebounceInterval is the quiet period after the last change
	// before OnChange fires.
	DefaultDebounceInterval = 500 * time.Millisecond

	// DefaultPollInterval is used when fsnotify is unavailable.
	DefaultPollInterval = 30 * time.Second
)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Path of the PEM file to watch.
	Path string

	// OnChange is called after the file is written, created or renamed into place.
	OnChange func()

	// Debounce overrides DefaultDebounceInterval.
	Debounce time.Duration

	// PollInterval overrides DefaultPollInterval for the polling fallback.
	PollInterval time.Duration
}

// Watcher notices when a proxy certificate is renewed on disk, for example by
// another login in a second terminal. It watches the parent directory because
// renewals replace the file with a rename.
type Watcher struct {
	mu      sync.Mutex
	config  WatcherConfig
	fs      *fsnotify.Watcher
	stopCh  chan struct{}
	running bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher creates a watcher; call Start to begin watching.
func NewWatcher(config WatcherConfig) *Watcher {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounceInterval
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	return &Watcher{config: config}
}

// Start begins watching. It falls back to polling the modification time when
// fsnotify cannot watch the directory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	w.stopCh = make(chan struct{})
	w.running = true

	dir := filepath.Dir(w.config.Path)
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if addErr := watcher.Add(dir); addErr != nil {
			watcher.Close()
			err = addErr
		}
	}
	if err != nil {
		logging.Warn("CertWatcher", "Cannot watch %s, falling back to polling: %v", dir, err)
		go w.poll(w.stopCh)
		return nil
	}

	w.fs = watcher
	go w.processEvents(w.stopCh, watcher.Events, watcher.Errors)
	logging.Debug("CertWatcher", "Watching %s for certificate changes", w.config.Path)
	return nil
}

// Stop ends watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	if w.fs != nil {
		w.fs.Close()
		w.fs = nil
	}

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()
}

func (w *Watcher) processEvents(stopCh <-chan struct{}, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-stopCh:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.config.Path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logging.Debug("CertWatcher", "Certificate file changed: %s", event.Name)
			w.triggerDebounced()
		case err, ok := <-errs:
			if !ok {
				return
			}
			logging.Error("CertWatcher", err, "fsnotify error")
		}
	}
}

func (w *Watcher) poll(stopCh <-chan struct{}) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	last := modTime(w.config.Path)
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if mt := modTime(w.config.Path); !mt.Equal(last) {
				last = mt
				w.triggerDebounced()
			}
		}
	}
}

func (w *Watcher) triggerDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.config.Debounce, func() {
		w.mu.Lock()
		running := w.running
		callback := w.config.OnChange
		w.mu.Unlock()

		if running && callback != nil {
			callback()
		}
	})
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
