package lua

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zot/world/internal/config"
)

// Watcher watches the module directory tree and reports modified modules.
// It does not reload anything itself; it feeds the operator-triggered
// reload cycle by surfacing which dotted paths changed.
type Watcher struct {
	cfg        *config.Config
	loader     *Loader
	watcher    *fsnotify.Watcher
	onModified func(path string) // called with the dotted module path

	// Debouncing
	pendingChanges map[string]time.Time
	debounceMu     sync.Mutex
	debounceDelay  time.Duration

	done chan struct{}
}

// NewWatcher creates a watcher over the loader's module directory.
// onModified is called, debounced, with each changed module's dotted path.
func NewWatcher(cfg *config.Config, loader *Loader, onModified func(path string)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		cfg:            cfg,
		loader:         loader,
		watcher:        watcher,
		onModified:     onModified,
		pendingChanges: make(map[string]time.Time),
		debounceDelay:  100 * time.Millisecond,
		done:           make(chan struct{}),
	}, nil
}

// Start begins watching for file changes.
func (w *Watcher) Start() error {
	// Watch every directory under the module tree; fsnotify is not
	// recursive on its own.
	err := filepath.WalkDir(w.loader.baseDir, func(dir string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(dir)
		}
		return nil
	})
	if err != nil {
		return err
	}

	go w.eventLoop()
	go w.debounceLoop()

	w.cfg.Log(1, "Watcher: watching %s for changes", w.loader.baseDir)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}

// eventLoop processes file system events.
func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.cfg.Log(1, "Watcher: watcher error: %v", err)
		}
	}
}

// handleEvent processes a single file system event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	// A new directory needs its own watch
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.watcher.Add(event.Name)
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".lua") {
		return
	}

	w.cfg.Log(3, "Watcher: event %s on %s", event.Op, event.Name)

	if event.Op&fsnotify.Write != 0 || event.Op&fsnotify.Create != 0 {
		w.queueChange(event.Name)
	}
}

// queueChange queues a file change with debouncing.
func (w *Watcher) queueChange(file string) {
	w.debounceMu.Lock()
	w.pendingChanges[file] = time.Now()
	w.debounceMu.Unlock()
}

// debounceLoop flushes pending changes after the debounce delay.
func (w *Watcher) debounceLoop() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.processPendingChanges()
		}
	}
}

// processPendingChanges reports files that have settled past the debounce delay.
func (w *Watcher) processPendingChanges() {
	w.debounceMu.Lock()
	now := time.Now()
	var settled []string
	for file, queuedAt := range w.pendingChanges {
		if now.Sub(queuedAt) >= w.debounceDelay {
			settled = append(settled, file)
			delete(w.pendingChanges, file)
		}
	}
	w.debounceMu.Unlock()

	for _, file := range settled {
		path := w.loader.pathForFile(file)
		if path == "" {
			continue
		}
		w.cfg.Log(1, "Watcher: %s modified on disk", path)
		if w.onModified != nil {
			w.onModified(path)
		}
	}
}
