package lua

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zot/world/internal/config"
)

// pathCollector records dotted paths reported by the watcher.
type pathCollector struct {
	mu    sync.Mutex
	paths []string
}

func (c *pathCollector) add(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, path)
}

func (c *pathCollector) contains(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.paths {
		if p == path {
			return true
		}
	}
	return false
}

func waitForPath(t *testing.T, c *pathCollector, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.contains(path) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Watcher never reported %s", path)
}

func startWatcher(t *testing.T, loader *Loader) *pathCollector {
	t.Helper()
	collector := &pathCollector{}
	watcher, err := NewWatcher(config.DefaultConfig(), loader, collector.add)
	if err != nil {
		t.Fatalf("Creating watcher: %v", err)
	}
	if err := watcher.Start(); err != nil {
		t.Fatalf("Starting watcher: %v", err)
	}
	t.Cleanup(func() { watcher.Stop() })
	return collector
}

// === File Watching Tests ===

// TestWatcherReportsModifiedModule verifies a rewrite of an existing
// module file surfaces its dotted path.
func TestWatcherReportsModifiedModule(t *testing.T) {
	loader, baseDir := newTestLoader(t)
	writeModule(t, baseDir, "game.base", "return {}")

	collector := startWatcher(t, loader)

	writeModule(t, baseDir, "game.base", `return { key = "changed" }`)
	waitForPath(t, collector, "game.base")
}

// TestWatcherReportsNewModule verifies a newly created module file in an
// existing directory is reported.
func TestWatcherReportsNewModule(t *testing.T) {
	loader, baseDir := newTestLoader(t)
	writeModule(t, baseDir, "game.base", "return {}")

	collector := startWatcher(t, loader)

	writeModule(t, baseDir, "game.fresh", "return {}")
	waitForPath(t, collector, "game.fresh")
}

// TestWatcherIgnoresNonLuaFiles verifies unrelated files produce no reports.
func TestWatcherIgnoresNonLuaFiles(t *testing.T) {
	loader, baseDir := newTestLoader(t)
	writeModule(t, baseDir, "game.base", "return {}")

	collector := startWatcher(t, loader)

	if err := os.WriteFile(filepath.Join(baseDir, "game", "notes.txt"), []byte("scratch"), 0o644); err != nil {
		t.Fatalf("Writing file: %v", err)
	}
	// Sentinel write so there is a point after which the txt change would
	// have been reported if it were going to be.
	writeModule(t, baseDir, "game.sentinel", "return {}")
	waitForPath(t, collector, "game.sentinel")

	collector.mu.Lock()
	defer collector.mu.Unlock()
	for _, p := range collector.paths {
		if p != "game.sentinel" {
			t.Errorf("Unexpected report: %s", p)
		}
	}
}
