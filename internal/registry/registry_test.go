package registry

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/zot/world/internal/config"
)

func countingRegistry() (*Registry, *int) {
	reg := New(config.DefaultConfig())
	resolves := 0
	reg.SetResolver(func(path string) (*Typeclass, error) {
		resolves++
		return &Typeclass{Path: path, Commands: []string{"look"}}, nil
	})
	return reg, &resolves
}

// === Typeclass Cache Tests ===

// TestTypeclassCachesResolution verifies resolution happens once per path.
func TestTypeclassCachesResolution(t *testing.T) {
	reg, resolves := countingRegistry()

	for i := 0; i < 3; i++ {
		tc, err := reg.Typeclass("game.objects.rock")
		if err != nil {
			t.Fatalf("Typeclass: %v", err)
		}
		if tc.Path != "game.objects.rock" {
			t.Errorf("Bad typeclass: %+v", tc)
		}
	}
	if *resolves != 1 {
		t.Errorf("Expected 1 resolution, got %d", *resolves)
	}
}

// TestTypeclassClearForcesReresolve verifies ClearClasses drops cached
// entries so lookups re-resolve.
func TestTypeclassClearForcesReresolve(t *testing.T) {
	reg, resolves := countingRegistry()
	reg.Typeclass("game.objects.rock")

	if n := reg.ClearClasses(); n != 1 {
		t.Errorf("Expected 1 cleared, got %d", n)
	}
	reg.Typeclass("game.objects.rock")
	if *resolves != 2 {
		t.Errorf("Expected re-resolution after clear, got %d", *resolves)
	}
}

// TestTypeclassNoResolver verifies lookups fail without a resolver.
func TestTypeclassNoResolver(t *testing.T) {
	reg := New(config.DefaultConfig())
	if _, err := reg.Typeclass("game.anything"); err == nil {
		t.Error("Expected error without a resolver")
	}
}

// TestTypeclassResolverError verifies resolver failures are not cached.
func TestTypeclassResolverError(t *testing.T) {
	reg := New(config.DefaultConfig())
	reg.SetResolver(func(path string) (*Typeclass, error) {
		return nil, fmt.Errorf("module %s is not loaded", path)
	})

	if _, err := reg.Typeclass("gone.module"); err == nil {
		t.Error("Expected resolver error")
	}
	classes, _, _, _ := reg.Counts()
	if classes != 0 {
		t.Errorf("Expected failed resolution uncached, got %d entries", classes)
	}
}

// === Prototype Tests ===

// TestPrototypes verifies register/lookup/clear of dynamic classes.
func TestPrototypes(t *testing.T) {
	reg := New(config.DefaultConfig())
	reg.RegisterPrototype("goblin", &Typeclass{Path: "game.objects.monster"})

	tc, ok := reg.Prototype("goblin")
	if !ok || tc.Path != "game.objects.monster" {
		t.Errorf("Bad prototype lookup: %+v (%v)", tc, ok)
	}
	if _, ok := reg.Prototype("dragon"); ok {
		t.Error("Expected missing prototype")
	}

	if n := reg.ClearPrototypes(); n != 1 {
		t.Errorf("Expected 1 cleared, got %d", n)
	}
	if _, ok := reg.Prototype("goblin"); ok {
		t.Error("Expected prototype gone after clear")
	}
}

// === Exit Cache Tests ===

// TestExitCache verifies destination caching and clearing.
func TestExitCache(t *testing.T) {
	reg := New(config.DefaultConfig())
	resolves := 0
	reg.SetExitResolver(func(exitID int64) (int64, error) {
		resolves++
		return exitID * 10, nil
	})

	for i := 0; i < 2; i++ {
		dest, err := reg.ResolveExit(4)
		if err != nil {
			t.Fatalf("ResolveExit: %v", err)
		}
		if dest != 40 {
			t.Errorf("Expected 40, got %d", dest)
		}
	}
	if resolves != 1 {
		t.Errorf("Expected 1 resolution, got %d", resolves)
	}

	reg.ClearExits()
	reg.ResolveExit(4)
	if resolves != 2 {
		t.Errorf("Expected re-resolution after clear, got %d", resolves)
	}
}

// === Cmdset Cache Tests ===

// TestCmdsetBuildsFromTypeclass verifies lazy build and separate clearing.
func TestCmdsetBuildsFromTypeclass(t *testing.T) {
	reg, resolves := countingRegistry()

	cmds, err := reg.Cmdset("game.objects.rock")
	if err != nil {
		t.Fatalf("Cmdset: %v", err)
	}
	if !reflect.DeepEqual(cmds, []string{"look"}) {
		t.Errorf("Bad command set: %v", cmds)
	}

	// Second lookup uses the cmdset cache, not the resolver.
	reg.Cmdset("game.objects.rock")
	if *resolves != 1 {
		t.Errorf("Expected 1 resolution, got %d", *resolves)
	}

	if n := reg.ClearCmdsets(); n != 1 {
		t.Errorf("Expected 1 cleared, got %d", n)
	}
	classes, _, _, _ := reg.Counts()
	if classes != 1 {
		t.Error("Clearing cmdsets must not touch the typeclass cache")
	}
}

// === Channel Refresh Tests ===

// TestRefreshChannels verifies the hook is optional and errors propagate.
func TestRefreshChannels(t *testing.T) {
	reg := New(config.DefaultConfig())
	if err := reg.RefreshChannels(); err != nil {
		t.Errorf("Expected nil without a refresher, got %v", err)
	}

	reg.SetChannelRefresher(func() error { return fmt.Errorf("storage offline") })
	if err := reg.RefreshChannels(); err == nil {
		t.Error("Expected refresher error to propagate")
	}
}
