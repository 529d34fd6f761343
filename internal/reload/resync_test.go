package reload

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zot/world/internal/config"
	"github.com/zot/world/internal/entity"
	"github.com/zot/world/internal/registry"
	"github.com/zot/world/internal/storage"
)

// failingLister simulates a repository that cannot list a category.
type failingLister struct{}

func (failingLister) ListCategory(category string) ([]*entity.Entity, error) {
	return nil, fmt.Errorf("storage offline")
}

// messageRecorder collects reported sweep messages.
type messageRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *messageRecorder) report(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message)
}

func (r *messageRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func sweepFixture(t *testing.T) *entity.Repository {
	t.Helper()
	cfg := config.DefaultConfig()
	reg := registry.New(cfg)
	reg.SetResolver(func(path string) (*registry.Typeclass, error) {
		return &registry.Typeclass{Path: path, Commands: []string{"look"}}, nil
	})
	repo, err := entity.NewRepository(cfg, storage.NewMemoryStorage(), reg)
	if err != nil {
		t.Fatalf("Creating repository: %v", err)
	}
	return repo
}

// === Reset Sweep Tests ===

// TestResyncAllReportsSuccess verifies a clean sweep completes and reports
// its completion message.
func TestResyncAllReportsSuccess(t *testing.T) {
	repo := sweepFixture(t)
	rec := &messageRecorder{}
	s := NewSweeper(config.DefaultConfig(), repo, rec.report)

	select {
	case err := <-s.ResyncAll():
		if err != nil {
			t.Fatalf("Unexpected sweep error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Sweep did not complete")
	}

	found := false
	for _, msg := range rec.all() {
		if strings.Contains(msg, "asynchronous reset sweep finished") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected completion message, got %v", rec.all())
	}
}

// TestResyncAllRebuildsCaches verifies the sweep rebuilds command sets and
// drops lock caches on live entities.
func TestResyncAllRebuildsCaches(t *testing.T) {
	repo := sweepFixture(t)
	e, err := repo.Create(&storage.EntityData{
		Category:      storage.CategoryObject,
		Key:           "rock",
		TypeclassPath: "game.objects.rock",
		Locks:         "view:all()",
	})
	if err != nil {
		t.Fatalf("Creating entity: %v", err)
	}

	// Warm the lock cache, then sweep.
	e.Locks().Check("view")
	if !e.Locks().Parsed() {
		t.Fatal("Expected warmed lock cache")
	}

	s := NewSweeper(config.DefaultConfig(), repo, func(string) {})
	select {
	case err := <-s.ResyncAll():
		if err != nil {
			t.Fatalf("Unexpected sweep error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Sweep did not complete")
	}

	if e.Locks().Parsed() {
		t.Error("Expected lock cache dropped by sweep")
	}
	if e.Cmdset() == nil || !e.Cmdset().Valid() {
		t.Error("Expected command set rebuilt by sweep")
	}
}

// TestResyncAllReportsTransientError verifies a failing sweep reports the
// retry recommendation instead of raising.
func TestResyncAllReportsTransientError(t *testing.T) {
	rec := &messageRecorder{}
	s := NewSweeper(config.DefaultConfig(), failingLister{}, rec.report)

	select {
	case err := <-s.ResyncAll():
		if err == nil {
			t.Fatal("Expected sweep error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Sweep did not complete")
	}

	found := false
	for _, msg := range rec.all() {
		if strings.Contains(msg, "exited with an error") && strings.Contains(msg, "reload again") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected transient-error message, got %v", rec.all())
	}
}

// TestResyncAllReportPanicContained verifies a panic in the report path
// does not escape the result handler; the sweep result still arrives.
func TestResyncAllReportPanicContained(t *testing.T) {
	repo := sweepFixture(t)
	s := NewSweeper(config.DefaultConfig(), repo, func(string) {
		panic("subscriber connection gone")
	})

	select {
	case err := <-s.ResyncAll():
		if err != nil {
			t.Fatalf("Unexpected sweep error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Sweep did not complete")
	}
}
