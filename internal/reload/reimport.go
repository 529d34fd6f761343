package reload

import (
	"fmt"
	"sort"

	"github.com/zot/world/internal/config"
)

// Source is the code-loading capability the reload core consumes. The
// production implementation is the Lua module loader; tests use an
// in-memory fake.
type Source interface {
	// Modified returns the set of loaded modules whose on-disk content
	// changed since they were last loaded.
	Modified() ([]string, error)

	// Load (re)loads one module by dotted path, atomically replacing its
	// entry. On failure the previous version stays active.
	Load(path string) error

	// Dependencies returns the declared dependencies of a loaded module.
	Dependencies(path string) []string

	// Loaded returns the dotted paths of all loaded modules.
	Loaded() []string
}

// Reimporter reloads approved module sets in dependency order.
type Reimporter struct {
	cfg *config.Config
	src Source
}

// NewReimporter creates a reimporter over a code source.
func NewReimporter(cfg *config.Config, src Source) *Reimporter {
	return &Reimporter{cfg: cfg, src: src}
}

// Reimport reloads every module in the set, dependencies first, so no
// module ever observes a half-updated dependency. A failing module is
// logged and skipped; the rest of the set is still attempted. An empty
// set performs no loader calls.
func (r *Reimporter) Reimport(paths []string) (reloaded []string, failures map[string]error) {
	if len(paths) == 0 {
		return nil, nil
	}

	failures = make(map[string]error)
	for _, path := range r.order(paths) {
		if err := r.loadOne(path); err != nil {
			failures[path] = err
			r.cfg.Log(0, "Reimport: error reloading %s (old code stays active): %v", path, err)
			continue
		}
		reloaded = append(reloaded, path)
		r.cfg.Log(1, "Reimport: reloaded %s", path)
	}
	if len(failures) == 0 {
		failures = nil
	}
	return reloaded, failures
}

// loadOne reloads a single module with panic containment.
func (r *Reimporter) loadOne(path string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic reloading %s: %v", path, rec)
		}
	}()
	return r.src.Load(path)
}

// order topologically sorts the reload set by declared dependencies,
// restricted to the set itself. Dependencies outside the set are already
// current and are ignored. The traversal is deterministic; cycles degrade
// to declaration order without looping.
func (r *Reimporter) order(paths []string) []string {
	inSet := make(map[string]bool, len(paths))
	for _, p := range paths {
		inSet[p] = true
	}

	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	visited := make(map[string]bool, len(paths))
	var order []string
	var visit func(path string)
	visit = func(path string) {
		if visited[path] {
			return
		}
		visited[path] = true
		deps := append([]string(nil), r.src.Dependencies(path)...)
		sort.Strings(deps)
		for _, dep := range deps {
			if inSet[dep] {
				visit(dep)
			}
		}
		order = append(order, path)
	}
	for _, path := range sorted {
		visit(path)
	}
	return order
}
