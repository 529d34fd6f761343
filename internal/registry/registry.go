// Package registry holds the live code registry and every cache derived
// from code identity. The server owns a single Registry and passes it to
// the components that may mutate it; everything else only reads through
// lookups. Each cache is invalidated individually so a failure in one
// never leaves another stale.
package registry

import (
	"fmt"
	"sync"

	"github.com/zot/world/internal/config"
)

// Typeclass is the resolved behavior declaration of one code unit.
// It is produced by the module loader from the table a Lua module returns.
type Typeclass struct {
	// Path is the dotted module path defining this typeclass.
	Path string
	// Key is the default key for entities of this typeclass.
	Key string
	// Interval is the repeat timer period in seconds; -1 means no timer.
	Interval int
	// Persistent marks scripts that survive a server restart.
	Persistent bool
	// Commands are the command names this typeclass contributes.
	Commands []string
	// Locks is the default lock definition string.
	Locks string

	// Lifecycle hooks bound to the loaded module. Any may be nil.
	AtStart  func() error
	AtRepeat func() error
	AtStop   func() error
}

// Resolver resolves a typeclass path against the currently loaded code.
type Resolver func(path string) (*Typeclass, error)

// ExitResolver resolves an exit entity to its destination entity ID.
type ExitResolver func(exitID int64) (int64, error)

// ChannelRefresher rebuilds the channel distribution table from storage.
type ChannelRefresher func() error

// Registry is the process-wide registry of loaded typeclasses and the
// caches derived from them.
type Registry struct {
	cfg *config.Config

	resolve         Resolver
	resolveExit     ExitResolver
	refreshChannels ChannelRefresher

	classes    map[string]*Typeclass // typeclass path -> resolved class
	prototypes map[string]*Typeclass // entity class name -> dynamic class entry
	exits      map[int64]int64       // exit entity ID -> destination entity ID
	cmdsets    map[string][]string   // typeclass path -> built command set
	mu         sync.RWMutex
}

// New creates an empty registry.
func New(cfg *config.Config) *Registry {
	return &Registry{
		cfg:        cfg,
		classes:    make(map[string]*Typeclass),
		prototypes: make(map[string]*Typeclass),
		exits:      make(map[int64]int64),
		cmdsets:    make(map[string][]string),
	}
}

// SetResolver sets the typeclass resolver (normally the module loader).
func (r *Registry) SetResolver(resolve Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolve = resolve
}

// SetExitResolver sets the exit destination resolver.
func (r *Registry) SetExitResolver(resolve ExitResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolveExit = resolve
}

// SetChannelRefresher sets the channel distribution rebuild hook.
func (r *Registry) SetChannelRefresher(refresh ChannelRefresher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshChannels = refresh
}

// Typeclass returns the resolved typeclass for a path, resolving and
// caching it on first use. Cached entries are always produced under the
// currently loaded module version; ClearClasses drops them on reload.
func (r *Registry) Typeclass(path string) (*Typeclass, error) {
	r.mu.RLock()
	tc, ok := r.classes[path]
	resolve := r.resolve
	r.mu.RUnlock()
	if ok {
		return tc, nil
	}
	if resolve == nil {
		return nil, fmt.Errorf("no typeclass resolver configured")
	}

	tc, err := resolve(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.classes[path] = tc
	r.mu.Unlock()
	return tc, nil
}

// RegisterPrototype records a dynamic entity class under a name.
func (r *Registry) RegisterPrototype(name string, tc *Typeclass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prototypes[name] = tc
}

// Prototype looks up a dynamic entity class by name.
func (r *Registry) Prototype(name string) (*Typeclass, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tc, ok := r.prototypes[name]
	return tc, ok
}

// ResolveExit returns the destination for an exit, caching the result.
func (r *Registry) ResolveExit(exitID int64) (int64, error) {
	r.mu.RLock()
	dest, ok := r.exits[exitID]
	resolve := r.resolveExit
	r.mu.RUnlock()
	if ok {
		return dest, nil
	}
	if resolve == nil {
		return 0, fmt.Errorf("no exit resolver configured")
	}

	dest, err := resolve(exitID)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.exits[exitID] = dest
	r.mu.Unlock()
	return dest, nil
}

// Cmdset returns the built command set for a typeclass path, building and
// caching it lazily.
func (r *Registry) Cmdset(path string) ([]string, error) {
	r.mu.RLock()
	cmds, ok := r.cmdsets[path]
	r.mu.RUnlock()
	if ok {
		return cmds, nil
	}

	tc, err := r.Typeclass(path)
	if err != nil {
		return nil, err
	}
	cmds = append([]string(nil), tc.Commands...)

	r.mu.Lock()
	r.cmdsets[path] = cmds
	r.mu.Unlock()
	return cmds, nil
}

// ClearPrototypes drops the dynamic entity class table so subsequent
// lookups re-resolve against the just-reloaded code.
func (r *Registry) ClearPrototypes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.prototypes)
	r.prototypes = make(map[string]*Typeclass)
	return n
}

// ClearClasses drops the resolved typeclass cache.
func (r *Registry) ClearClasses() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.classes)
	r.classes = make(map[string]*Typeclass)
	return n
}

// ClearExits drops the exit routing cache.
func (r *Registry) ClearExits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.exits)
	r.exits = make(map[int64]int64)
	return n
}

// RefreshChannels rebuilds the channel distribution table. Channels are
// refreshed rather than cleared so they stay reachable mid-reload.
func (r *Registry) RefreshChannels() error {
	r.mu.RLock()
	refresh := r.refreshChannels
	r.mu.RUnlock()
	if refresh == nil {
		return nil
	}
	return refresh()
}

// ClearCmdsets drops the command set cache. Command sets rebuild lazily,
// so this is cheap and safe outside a full reload too.
func (r *Registry) ClearCmdsets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.cmdsets)
	r.cmdsets = make(map[string][]string)
	return n
}

// Counts returns the current size of each cache (classes, prototypes,
// exits, cmdsets), mainly for status reporting.
func (r *Registry) Counts() (int, int, int, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.classes), len(r.prototypes), len(r.exits), len(r.cmdsets)
}
