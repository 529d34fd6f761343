package entity

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/zot/world/internal/config"
	"github.com/zot/world/internal/registry"
	"github.com/zot/world/internal/storage"
)

func testRepo(t *testing.T) (*Repository, *registry.Registry) {
	t.Helper()
	cfg := config.DefaultConfig()
	reg := registry.New(cfg)
	reg.SetResolver(func(path string) (*registry.Typeclass, error) {
		if path == "" {
			return nil, fmt.Errorf("empty typeclass path")
		}
		return &registry.Typeclass{Path: path, Commands: []string{"look"}}, nil
	})
	repo, err := NewRepository(cfg, storage.NewMemoryStorage(), reg)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(repo.Runner().StopAll)
	return repo, reg
}

// === Repository Tests ===

// TestCreateAssignsIDs verifies creation assigns increasing durable IDs.
func TestCreateAssignsIDs(t *testing.T) {
	repo, _ := testRepo(t)

	first, err := repo.Create(&storage.EntityData{Category: storage.CategoryObject, Interval: -1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := repo.Create(&storage.EntityData{Category: storage.CategoryObject, Interval: -1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.ID() == 0 || second.ID() != first.ID()+1 {
		t.Errorf("Bad ID assignment: %d, %d", first.ID(), second.ID())
	}
}

// TestCreateRequiresCategory verifies a category is mandatory.
func TestCreateRequiresCategory(t *testing.T) {
	repo, _ := testRepo(t)
	if _, err := repo.Create(&storage.EntityData{}); err == nil {
		t.Error("Expected error for missing category")
	}
}

// TestIdentityMap verifies the repository hands out one live instance per
// ID, so per-instance cache state survives repeated queries.
func TestIdentityMap(t *testing.T) {
	repo, _ := testRepo(t)
	created, err := repo.Create(&storage.EntityData{
		Category: storage.CategoryObject, Key: "rock", Locks: "view:all()", Interval: -1,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Get(created.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != created {
		t.Error("Expected the same live instance from Get")
	}

	listed, err := repo.ListCategory(storage.CategoryObject)
	if err != nil {
		t.Fatalf("ListCategory: %v", err)
	}
	if len(listed) != 1 || listed[0] != created {
		t.Error("Expected the same live instance from ListCategory")
	}

	// Cache state set through one handle is visible through another.
	created.Locks().Check("view")
	if !listed[0].Locks().Parsed() {
		t.Error("Expected shared lock cache state")
	}
}

// TestRemoveDropsInstance verifies removal deletes storage and the live map.
func TestRemoveDropsInstance(t *testing.T) {
	repo, _ := testRepo(t)
	e, _ := repo.Create(&storage.EntityData{Category: storage.CategoryObject, Interval: -1})

	if err := repo.Remove(e.ID()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := repo.Get(e.ID()); err == nil {
		t.Error("Expected error loading removed entity")
	}
}

// === Script Query Tests ===

// TestScriptsSelector verifies selector filtering on key, object, and ID.
func TestScriptsSelector(t *testing.T) {
	repo, _ := testRepo(t)
	a, _ := repo.Create(&storage.EntityData{
		Category: storage.CategoryScript, Key: "tick", ObjID: 7, Interval: -1,
	})
	repo.Create(&storage.EntityData{
		Category: storage.CategoryScript, Key: "sweep", ObjID: 9, Interval: -1,
	})

	byKey, _ := repo.Scripts(ScriptSelector{Key: "tick"})
	if len(byKey) != 1 || byKey[0].Key() != "tick" {
		t.Errorf("Key selector: %v", byKey)
	}

	byObj, _ := repo.Scripts(ScriptSelector{ObjID: 9})
	if len(byObj) != 1 || byObj[0].Key() != "sweep" {
		t.Errorf("ObjID selector: %v", byObj)
	}

	byRef, _ := repo.Scripts(ScriptSelector{DBRef: a.ID()})
	if len(byRef) != 1 || byRef[0].ID() != a.ID() {
		t.Errorf("DBRef selector: %v", byRef)
	}

	all, _ := repo.Scripts(ScriptSelector{})
	if len(all) != 2 {
		t.Errorf("Empty selector should match all, got %d", len(all))
	}
}

// TestPurgeNonPersistent verifies the bulk purge removes only
// non-persistent scripts and cancels their timers.
func TestPurgeNonPersistent(t *testing.T) {
	repo, _ := testRepo(t)
	repo.Create(&storage.EntityData{
		Category: storage.CategoryScript, Key: "temp",
		TypeclassPath: "game.scripts.temp", Interval: 3600,
	})
	repo.Create(&storage.EntityData{
		Category: storage.CategoryScript, Key: "keeper",
		TypeclassPath: "game.scripts.keeper", Interval: -1, Persistent: true,
	})
	scripts, _ := repo.Scripts(ScriptSelector{Key: "temp"})
	if err := scripts[0].Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	purged, err := repo.PurgeNonPersistent(ScriptSelector{})
	if err != nil {
		t.Fatalf("PurgeNonPersistent: %v", err)
	}
	if purged != 1 {
		t.Errorf("Expected 1 purged, got %d", purged)
	}
	if repo.Runner().Count() != 0 {
		t.Errorf("Expected purged script's timer cancelled, got %d", repo.Runner().Count())
	}
	remaining, _ := repo.Scripts(ScriptSelector{})
	if len(remaining) != 1 || remaining[0].Key() != "keeper" {
		t.Errorf("Expected only the persistent script left: %v", remaining)
	}
}

// TestTimerUnsafePaths verifies only started, timer-bearing scripts with a
// typeclass contribute, deduplicated and sorted.
func TestTimerUnsafePaths(t *testing.T) {
	repo, _ := testRepo(t)
	mk := func(key, path string, interval int, started bool) {
		if _, err := repo.Create(&storage.EntityData{
			Category: storage.CategoryScript, Key: key,
			TypeclassPath: path, Interval: interval, Started: started,
		}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	mk("a", "game.scripts.beta", 10, true)
	mk("b", "game.scripts.alpha", 10, true)
	mk("c", "game.scripts.alpha", 10, true) // duplicate path
	mk("d", "game.scripts.idle", -1, true)  // no timer
	mk("e", "game.scripts.off", 10, false)  // not started
	mk("f", "", 10, true)                   // no typeclass

	paths, err := repo.TimerUnsafePaths()
	if err != nil {
		t.Fatalf("TimerUnsafePaths: %v", err)
	}
	want := []string{"game.scripts.alpha", "game.scripts.beta"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("Expected %v, got %v", want, paths)
	}
}

// === Script Lifecycle Tests ===

// TestScriptStartStop verifies run state, timers, and persistence.
func TestScriptStartStop(t *testing.T) {
	repo, _ := testRepo(t)
	repo.Create(&storage.EntityData{
		Category: storage.CategoryScript, Key: "tick",
		TypeclassPath: "game.scripts.tick", Interval: 3600,
	})
	scripts, _ := repo.Scripts(ScriptSelector{Key: "tick"})
	script := scripts[0]

	if err := script.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !script.Started() || !script.Running() {
		t.Error("Expected started script with live timer")
	}
	if repo.Runner().Count() != 1 {
		t.Errorf("Expected 1 live timer, got %d", repo.Runner().Count())
	}

	if err := script.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if script.Started() || script.Running() {
		t.Error("Expected stopped script with no timer")
	}
}

// TestScriptStartHooks verifies the at_start hook fires on start.
func TestScriptStartHooks(t *testing.T) {
	repo, reg := testRepo(t)
	fired := false
	reg.SetResolver(func(path string) (*registry.Typeclass, error) {
		return &registry.Typeclass{
			Path:    path,
			AtStart: func() error { fired = true; return nil },
		}, nil
	})

	repo.Create(&storage.EntityData{
		Category: storage.CategoryScript, Key: "hooked",
		TypeclassPath: "game.scripts.hooked", Interval: -1,
	})
	scripts, _ := repo.Scripts(ScriptSelector{Key: "hooked"})
	if err := scripts[0].Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !fired {
		t.Error("Expected at_start hook to fire")
	}
}

// TestRemoveStopsTimer verifies removing a running script cancels its timer.
func TestRemoveStopsTimer(t *testing.T) {
	repo, _ := testRepo(t)
	repo.Create(&storage.EntityData{
		Category: storage.CategoryScript, Key: "doomed",
		TypeclassPath: "game.scripts.doomed", Interval: 3600,
	})
	scripts, _ := repo.Scripts(ScriptSelector{Key: "doomed"})
	if err := scripts[0].Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := repo.Remove(scripts[0].ID()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if repo.Runner().Count() != 0 {
		t.Errorf("Expected no timers after removal, got %d", repo.Runner().Count())
	}
}
