package plugin

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DriftCallback is invoked when a manifest file changes on disk after boot.
type DriftCallback func(path string)

// DriftWatcher watches the manifest directory for changes after boot.
// Manifests are immutable for the life of the process, so a change on disk
// means the running registry has drifted from the deployed files; the
// watcher only warns and notifies, it never reloads.
type DriftWatcher struct {
	watcher     *fsnotify.Watcher
	manifestDir string
	logger      zerolog.Logger
	onDrift     DriftCallback
	debounce    time.Duration

	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	pending  map[string]*time.Timer
}

// DriftWatcherConfig configures a manifest drift watcher.
type DriftWatcherConfig struct {
	ManifestDir string
	Logger      zerolog.Logger
	OnDrift     DriftCallback
	Debounce    time.Duration
}

// NewDriftWatcher creates a watcher for the manifest directory.
func NewDriftWatcher(cfg DriftWatcherConfig) (*DriftWatcher, error) {
	if cfg.ManifestDir == "" {
		return nil, fmt.Errorf("manifest dir is required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = 250 * time.Millisecond
	}

	return &DriftWatcher{
		watcher:     watcher,
		manifestDir: cfg.ManifestDir,
		logger:      cfg.Logger.With().Str("component", "manifest-watcher").Logger(),
		onDrift:     cfg.OnDrift,
		debounce:    cfg.Debounce,
		done:        make(chan struct{}),
		pending:     make(map[string]*time.Timer),
	}, nil
}

// Start begins watching the manifest directory.
func (w *DriftWatcher) Start() error {
	if err := w.watcher.Add(w.manifestDir); err != nil {
		return fmt.Errorf("failed to watch manifest dir: %w", err)
	}

	go w.loop()

	w.logger.Debug().Str("dir", w.manifestDir).Msg("Manifest drift watcher started")
	return nil
}

// Stop stops the watcher.
func (w *DriftWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
}

func (w *DriftWatcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Manifest watcher error")
		}
	}
}

// schedule debounces bursts of events for the same file, e.g. editors that
// write in several syscalls.
func (w *DriftWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		w.logger.Warn().
			Str("path", path).
			Str("plugin_id", pluginIDFromPath(path)).
			Msg("Manifest changed on disk after boot; restart required to pick it up")

		if w.onDrift != nil {
			w.onDrift(path)
		}
	})
}

func pluginIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json")
}
