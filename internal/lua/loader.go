// Package lua provides the Lua module loader backing the world's
// typeclass code units. Modules are identified by dotted paths
// (game.objects.monster -> <dir>/game/objects/monster.lua); each module's
// chunk returns a typeclass table. The loader records a content
// fingerprint per module at load time, which makes "what changed on disk"
// an idempotent set-valued query between reloads.
package lua

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/zot/world/internal/config"
	"github.com/zot/world/internal/registry"
)

// moduleEntry tracks one loaded module.
type moduleEntry struct {
	path        string // dotted module path
	file        string // file backing the module
	fingerprint [sha256.Size]byte
	deps        []string // dotted paths this module declares it depends on
	value       *lua.LTable
}

// Loader loads and reloads Lua modules into a single Lua state.
type Loader struct {
	cfg     *config.Config
	baseDir string
	state   *lua.LState
	modules map[string]*moduleEntry
	mu      sync.Mutex
}

// NewLoader creates a loader rooted at the given module directory.
func NewLoader(cfg *config.Config, baseDir string) *Loader {
	L := lua.NewState()
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	return &Loader{
		cfg:     cfg,
		baseDir: baseDir,
		state:   L,
		modules: make(map[string]*moduleEntry),
	}
}

// Close releases the Lua state.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Close()
}

// fileForPath maps a dotted module path to its backing file.
func (l *Loader) fileForPath(path string) string {
	return filepath.Join(l.baseDir, filepath.FromSlash(strings.ReplaceAll(path, ".", "/"))+".lua")
}

// pathForFile maps a file under baseDir to its dotted module path.
// Returns "" for files outside the module tree.
func (l *Loader) pathForFile(file string) string {
	rel, err := filepath.Rel(l.baseDir, file)
	if err != nil || strings.HasPrefix(rel, "..") || !strings.HasSuffix(rel, ".lua") {
		return ""
	}
	rel = strings.TrimSuffix(rel, ".lua")
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", ".")
}

// LoadAll loads every module file under the base directory. Failures are
// logged per module and do not stop the scan.
func (l *Loader) LoadAll() error {
	var paths []string
	err := filepath.WalkDir(l.baseDir, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(file, ".lua") {
			return nil
		}
		if path := l.pathForFile(file); path != "" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := l.Load(path); err != nil {
			l.cfg.Log(0, "Loader: error loading %s: %v", path, err)
		}
	}
	l.cfg.Log(1, "Loader: loaded %d module(s) from %s", len(l.Loaded()), l.baseDir)
	return nil
}

// Load (re)loads one module by dotted path and swaps its entry in place.
// On failure the previous entry, if any, stays active.
func (l *Loader) Load(path string) error {
	file := l.fileForPath(path)
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("module %s: %w", path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	value, err := l.runChunk(path, file, string(content))
	if err != nil {
		return err
	}

	entry := &moduleEntry{
		path:        path,
		file:        file,
		fingerprint: sha256.Sum256(content),
		deps:        dependsList(value),
		value:       value,
	}
	l.modules[path] = entry
	l.cfg.Log(2, "Loader: loaded %s (%d dep(s))", path, len(entry.deps))
	return nil
}

// runChunk executes a module chunk and returns its result table.
// Panics inside Lua execution are contained and surfaced as errors.
func (l *Loader) runChunk(path, file, content string) (value *lua.LTable, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("module %s: panic during load: %v", path, r)
		}
	}()

	fn, err := l.state.Load(strings.NewReader(content), file)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", path, err)
	}

	l.state.Push(fn)
	if err := l.state.PCall(0, 1, nil); err != nil {
		return nil, fmt.Errorf("module %s: %w", path, err)
	}
	ret := l.state.Get(-1)
	l.state.Pop(1)

	table, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("module %s: chunk did not return a table", path)
	}
	return table, nil
}

// dependsList extracts the declared dependency list from a module table.
func dependsList(table *lua.LTable) []string {
	deps, ok := table.RawGetString("depends").(*lua.LTable)
	if !ok {
		return nil
	}
	var result []string
	deps.ForEach(func(_, v lua.LValue) {
		if s, ok := v.(lua.LString); ok {
			result = append(result, string(s))
		}
	})
	return result
}

// Modified returns every loaded module whose on-disk content no longer
// matches the fingerprint recorded at last load. The result is a sorted
// set; calling Modified repeatedly without reloading returns the same set.
func (l *Loader) Modified() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var modified []string
	for path, entry := range l.modules {
		content, err := os.ReadFile(entry.file)
		if err != nil {
			// A missing file can't be reloaded; leave the old code active.
			l.cfg.Log(2, "Loader: cannot read %s: %v", entry.file, err)
			continue
		}
		if sha256.Sum256(content) != entry.fingerprint {
			modified = append(modified, path)
		}
	}
	sort.Strings(modified)
	return modified, nil
}

// Dependencies returns the declared dependencies of a loaded module.
func (l *Loader) Dependencies(path string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.modules[path]; ok {
		return append([]string(nil), entry.deps...)
	}
	return nil
}

// Loaded returns the dotted paths of all loaded modules, sorted.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	paths := make([]string, 0, len(l.modules))
	for path := range l.modules {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Typeclass resolves the typeclass declared by a loaded module.
// The returned hooks execute inside the loader's Lua state.
func (l *Loader) Typeclass(path string) (*registry.Typeclass, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.modules[path]
	if !ok {
		return nil, fmt.Errorf("module %s is not loaded", path)
	}

	table := entry.value
	tc := &registry.Typeclass{
		Path:       path,
		Key:        stringField(table, "key"),
		Interval:   intField(table, "interval", -1),
		Persistent: boolField(table, "persistent"),
		Locks:      stringField(table, "locks"),
		Commands:   stringListField(table, "commands"),
		AtStart:    l.hook(table, "at_start"),
		AtRepeat:   l.hook(table, "at_repeat"),
		AtStop:     l.hook(table, "at_stop"),
	}
	return tc, nil
}

// hook wraps a module hook function for calling from Go. The wrapper
// serializes on the loader mutex since the Lua state is single-threaded.
func (l *Loader) hook(table *lua.LTable, name string) func() error {
	fn, ok := table.RawGetString(name).(*lua.LFunction)
	if !ok {
		return nil
	}
	return func() (err error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s: panic: %v", name, r)
			}
		}()
		return l.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
	}
}

func stringField(table *lua.LTable, name string) string {
	if s, ok := table.RawGetString(name).(lua.LString); ok {
		return string(s)
	}
	return ""
}

func intField(table *lua.LTable, name string, def int) int {
	if n, ok := table.RawGetString(name).(lua.LNumber); ok {
		return int(n)
	}
	return def
}

func boolField(table *lua.LTable, name string) bool {
	return lua.LVAsBool(table.RawGetString(name))
}

func stringListField(table *lua.LTable, name string) []string {
	list, ok := table.RawGetString(name).(*lua.LTable)
	if !ok {
		return nil
	}
	var result []string
	list.ForEach(func(_, v lua.LValue) {
		if s, ok := v.(lua.LString); ok {
			result = append(result, string(s))
		}
	})
	return result
}
