package entity

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/zot/world/internal/config"
	"github.com/zot/world/internal/registry"
	"github.com/zot/world/internal/storage"
)

// ScriptSelector narrows script queries. Zero values mean "any".
type ScriptSelector struct {
	ObjID int64  // scripts attached to this object
	Key   string // scripts with this key
	DBRef int64  // one script by durable ID
}

// Repository is the live view over stored entities. It hands out one
// Entity instance per durable ID so per-instance caches survive repeated
// queries, and it owns the script timer runner.
type Repository struct {
	cfg     *config.Config
	backend storage.Backend
	reg     *registry.Registry
	runner  *ScriptRunner

	nextID atomic.Int64
	live   map[int64]*Entity
	mu     sync.Mutex
}

// NewRepository creates a repository over a storage backend.
func NewRepository(cfg *config.Config, backend storage.Backend, reg *registry.Registry) (*Repository, error) {
	r := &Repository{
		cfg:     cfg,
		backend: backend,
		reg:     reg,
		live:    make(map[int64]*Entity),
	}
	r.runner = NewScriptRunner(cfg, reg)

	max, err := backend.MaxID()
	if err != nil {
		return nil, err
	}
	r.nextID.Store(max)
	return r, nil
}

// Runner returns the script timer runner.
func (r *Repository) Runner() *ScriptRunner {
	return r.runner
}

// Create stores a new entity and returns its live instance.
func (r *Repository) Create(data *storage.EntityData) (*Entity, error) {
	if data.Category == "" {
		return nil, fmt.Errorf("entity category required")
	}
	data.ID = r.nextID.Add(1)
	if data.Category != storage.CategoryScript {
		data.Interval = -1
	}
	if err := r.backend.Store(data); err != nil {
		return nil, err
	}
	return r.instance(data), nil
}

// Get returns the live instance for a durable ID.
func (r *Repository) Get(id int64) (*Entity, error) {
	data, err := r.backend.Load(id)
	if err != nil {
		return nil, err
	}
	return r.instance(data), nil
}

// ListCategory returns the live instances of every entity in a category.
func (r *Repository) ListCategory(category string) ([]*Entity, error) {
	rows, err := r.backend.ListCategory(category)
	if err != nil {
		return nil, err
	}
	entities := make([]*Entity, 0, len(rows))
	for _, data := range rows {
		entities = append(entities, r.instance(data))
	}
	return entities, nil
}

// Remove deletes an entity, stopping its timer if it is a running script.
func (r *Repository) Remove(id int64) error {
	r.runner.stopTimer(id)
	if err := r.backend.Delete(id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.live, id)
	r.mu.Unlock()
	return nil
}

// Scripts returns the live script instances matching a selector.
func (r *Repository) Scripts(sel ScriptSelector) ([]*Script, error) {
	entities, err := r.ListCategory(storage.CategoryScript)
	if err != nil {
		return nil, err
	}

	var scripts []*Script
	for _, e := range entities {
		e.mu.Lock()
		data := e.data
		match := (sel.ObjID == 0 || data.ObjID == sel.ObjID) &&
			(sel.Key == "" || data.Key == sel.Key) &&
			(sel.DBRef == 0 || data.ID == sel.DBRef)
		e.mu.Unlock()
		if match {
			scripts = append(scripts, &Script{Entity: e, repo: r})
		}
	}
	return scripts, nil
}

// PurgeNonPersistent deletes every non-persistent script matching the
// selector in one storage transaction. Used at process cold-start, where
// non-persistent scripts left over from the previous run are stale by
// definition. Returns the number purged.
func (r *Repository) PurgeNonPersistent(sel ScriptSelector) (int, error) {
	scripts, err := r.Scripts(sel)
	if err != nil {
		return 0, err
	}
	var doomed []*Script
	for _, s := range scripts {
		if !s.Persistent() {
			doomed = append(doomed, s)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	tx, err := r.backend.BeginTransaction()
	if err != nil {
		return 0, err
	}
	for _, s := range doomed {
		if err := tx.Delete(s.ID()); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	for _, s := range doomed {
		r.runner.stopTimer(s.ID())
		r.mu.Lock()
		delete(r.live, s.ID())
		r.mu.Unlock()
	}
	return len(doomed), nil
}

// TimerUnsafePaths returns the deduplicated typeclass paths of every
// started script with a live timer (interval > -1). Code units backing
// these cannot be reloaded without orphaning the timer's schedule entry.
func (r *Repository) TimerUnsafePaths() ([]string, error) {
	scripts, err := r.Scripts(ScriptSelector{})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, s := range scripts {
		if s.Interval() > -1 && s.Started() && s.TypeclassPath() != "" {
			seen[s.TypeclassPath()] = true
		}
	}

	paths := make([]string, 0, len(seen))
	for path := range seen {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// instance returns the live Entity for a data row, creating it on first
// sight and refreshing its durable fields otherwise.
func (r *Repository) instance(data *storage.EntityData) *Entity {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.live[data.ID]; ok {
		e.mu.Lock()
		e.data = data
		e.mu.Unlock()
		return e
	}

	e := &Entity{data: data, repo: r}
	e.locks = NewLockCache(func() string {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.data.Locks
	})
	if hasCmdset(data.Category) {
		e.cmdset = &CmdsetCache{}
	}
	r.live[data.ID] = e
	return e
}

// update persists changed durable fields of an entity.
func (r *Repository) update(e *Entity) error {
	e.mu.Lock()
	data := e.data.Clone()
	e.mu.Unlock()
	return r.backend.Store(data)
}
