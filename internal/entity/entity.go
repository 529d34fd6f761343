// Package entity manages the live, persisted objects of the world: world
// objects, background scripts, accounts, help entries, messages, and
// channels. Durable fields live in storage; each live instance carries
// transient, code-derived caches (lock evaluation, active command set)
// that are rebuilt after a code reload.
package entity

import (
	"strings"
	"sync"

	"github.com/zot/world/internal/storage"
)

// Resettable is the capability every entity category implements:
// dropping the permission/lock evaluation cache so it rebuilds against
// the current code.
type Resettable interface {
	ResetLocks()
}

// CommandBearing is the additional capability of behavior-bearing
// categories (objects, accounts) whose active command set derives from code.
type CommandBearing interface {
	ResetCmdset() error
}

// Entity is one live persisted instance. Two Entity values never share an
// ID within a Repository; the repository hands out the same instance for
// the same ID so cache resets stick.
type Entity struct {
	mu   sync.Mutex
	data *storage.EntityData
	repo *Repository

	locks  *LockCache
	cmdset *CmdsetCache
}

// ID returns the durable identifier.
func (e *Entity) ID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data.ID
}

// Category returns the entity category.
func (e *Entity) Category() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data.Category
}

// Key returns the entity key.
func (e *Entity) Key() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data.Key
}

// TypeclassPath returns the dotted module path defining this entity's behavior.
func (e *Entity) TypeclassPath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data.TypeclassPath
}

// Locks returns the entity's lock evaluation cache.
func (e *Entity) Locks() *LockCache {
	return e.locks
}

// Cmdset returns the entity's command set cache, or nil for categories
// that carry no commands.
func (e *Entity) Cmdset() *CmdsetCache {
	return e.cmdset
}

// ResetLocks drops the lock evaluation cache; the next access check
// re-parses the stored definition.
func (e *Entity) ResetLocks() {
	e.locks.Reset()
}

// ResetCmdset rebuilds the active command set from the current code.
// It is a no-op for categories without command sets.
func (e *Entity) ResetCmdset() error {
	if e.cmdset == nil {
		return nil
	}
	e.cmdset.Reset()
	_, err := e.cmdset.Current(e.buildCmdset)
	return err
}

// buildCmdset derives the command set from the entity's typeclass.
func (e *Entity) buildCmdset() ([]string, error) {
	path := e.TypeclassPath()
	if path == "" {
		return nil, nil
	}
	return e.repo.reg.Cmdset(path)
}

// hasCmdset reports whether a category carries an active command set.
func hasCmdset(category string) bool {
	return category == storage.CategoryObject || category == storage.CategoryAccount
}

// LockCache caches parsed lock definitions per instance. The definition
// string is "access:expr;access:expr"; parsing is lazy and Reset drops
// the parsed state so it re-derives under the current code.
type LockCache struct {
	definition func() string
	parsed     map[string]string
	mu         sync.Mutex
}

// NewLockCache creates a lock cache over a definition source.
func NewLockCache(definition func() string) *LockCache {
	return &LockCache{definition: definition}
}

// Check evaluates whether the given access type is defined.
func (c *LockCache) Check(access string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parseLocked()
	_, ok := c.parsed[access]
	return ok
}

// Expr returns the lock expression for an access type.
func (c *LockCache) Expr(access string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parseLocked()
	expr, ok := c.parsed[access]
	return expr, ok
}

// Reset drops the parsed state.
func (c *LockCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parsed = nil
}

// Parsed reports whether the cache currently holds parsed state.
func (c *LockCache) Parsed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parsed != nil
}

func (c *LockCache) parseLocked() {
	if c.parsed != nil {
		return
	}
	c.parsed = make(map[string]string)
	for _, clause := range strings.Split(c.definition(), ";") {
		access, expr, ok := strings.Cut(clause, ":")
		if !ok {
			continue
		}
		c.parsed[strings.TrimSpace(access)] = strings.TrimSpace(expr)
	}
}

// CmdsetCache caches the active command set per instance. Rebuilds are
// idempotent and overwrite-safe: the set is always derived wholesale from
// the current code.
type CmdsetCache struct {
	commands []string
	valid    bool
	mu       sync.Mutex
}

// Current returns the cached command set, building it if needed.
func (c *CmdsetCache) Current(build func() ([]string, error)) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid {
		return c.commands, nil
	}
	commands, err := build()
	if err != nil {
		return nil, err
	}
	c.commands = commands
	c.valid = true
	return commands, nil
}

// Reset invalidates the cached command set.
func (c *CmdsetCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = nil
	c.valid = false
}

// Valid reports whether the cache currently holds a built set.
func (c *CmdsetCache) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid
}
