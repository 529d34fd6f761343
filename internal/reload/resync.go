package reload

import (
	"fmt"

	"github.com/zot/world/internal/config"
	"github.com/zot/world/internal/entity"
	"github.com/zot/world/internal/storage"
)

// EntityLister is the repository surface the sweep consumes.
type EntityLister interface {
	ListCategory(category string) ([]*entity.Entity, error)
}

// Sweeper rebuilds the code-derived per-instance caches of every live
// entity after a reload. The sweep runs in the background so the
// triggering reload returns immediately; each entity is an independent
// unit of work, so rebuilds interleave safely with live user actions.
type Sweeper struct {
	cfg    *config.Config
	repo   EntityLister
	report func(message string)
}

// NewSweeper creates a sweeper reporting through the given function.
func NewSweeper(cfg *config.Config, repo EntityLister, report func(string)) *Sweeper {
	return &Sweeper{cfg: cfg, repo: repo, report: report}
}

// ResyncAll starts the background sweep and returns immediately. The
// returned channel carries the sweep result after the completion handler
// has reported it; callers may ignore it (the reload trigger does).
func (s *Sweeper) ResyncAll() <-chan error {
	results := make(chan error, 1)
	go func() {
		results <- s.sweep()
	}()

	done := make(chan error, 1)
	go func() {
		err := <-results
		// A sweep failure is transient and non-fatal; a panic escaping
		// the report path must not be allowed to upgrade it to a crash.
		defer func() {
			if rec := recover(); rec != nil {
				s.cfg.Log(0, "Sweep: panic reporting sweep result: %v", rec)
			}
			done <- err
		}()
		if err != nil {
			s.report(fmt.Sprintf("%v\nreload: asynchronous reset sweep exited with an error."+
				" This might be harmless and just due to some modules or scripts not having"+
				" had time to restart before being touched by the sweep."+
				" Wait a moment, then reload again to see if the problem persists.", err))
		} else {
			s.report(" ... reload: asynchronous reset sweep finished.")
		}
	}()
	return done
}

// sweep touches every live entity of every category, rebuilding its
// command set cache (behavior-bearing categories) and dropping its lock
// cache. Unhandled failures become the sweep's error result.
func (s *Sweeper) sweep() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during reset sweep: %v", rec)
		}
	}()

	for _, category := range storage.Categories {
		entities, lerr := s.repo.ListCategory(category)
		if lerr != nil {
			return fmt.Errorf("listing %s entities: %w", category, lerr)
		}
		for _, e := range entities {
			s.resetOne(e)
		}
		s.cfg.Log(2, "Sweep: reset %d %s entitie(s)", len(entities), category)
	}
	return nil
}

// resetOne rebuilds one entity's caches. Failures here are isolated: a
// single entity that is still mid-reinitialization must not take down the
// rest of the sweep.
func (s *Sweeper) resetOne(e *entity.Entity) {
	defer func() {
		if rec := recover(); rec != nil {
			s.cfg.Log(1, "Sweep: panic resetting entity #%d: %v", e.ID(), rec)
		}
	}()

	if err := e.ResetCmdset(); err != nil {
		s.cfg.Log(2, "Sweep: cmdset rebuild for entity #%d: %v", e.ID(), err)
	}
	e.ResetLocks()
}
