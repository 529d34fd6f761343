package entity

import (
	"fmt"
	"sync"
	"time"

	"github.com/zot/world/internal/config"
	"github.com/zot/world/internal/registry"
)

// Script is a background behavior entity, optionally timer-driven.
// Its run/stop state is the only durable state this package mutates.
type Script struct {
	*Entity
	repo *Repository
}

// Interval returns the repeat period in seconds; -1 means no timer.
func (s *Script) Interval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Interval
}

// Persistent reports whether the script survives a server restart.
func (s *Script) Persistent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Persistent
}

// Started reports the recorded run state.
func (s *Script) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Started
}

// ObjID returns the object this script is attached to (0 = global).
func (s *Script) ObjID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ObjID
}

// Start runs the script's start hook, spawns its repeat timer if it has
// one, and records the run state.
func (s *Script) Start() error {
	tc, err := s.repo.reg.Typeclass(s.TypeclassPath())
	if err != nil {
		return fmt.Errorf("script #%d: %w", s.ID(), err)
	}

	if tc.AtStart != nil {
		if err := tc.AtStart(); err != nil {
			return fmt.Errorf("script #%d at_start: %w", s.ID(), err)
		}
	}

	// Only a positive interval spawns a ticker; interval 0 is stored as
	// timer-bearing but has nothing to fire.
	if s.Interval() > 0 {
		s.repo.runner.startTimer(s.ID(), time.Duration(s.Interval())*time.Second, tc)
	}

	s.mu.Lock()
	s.data.Started = true
	s.mu.Unlock()
	return s.repo.update(s.Entity)
}

// Stop cancels the script's timer, runs its stop hook, and records the
// run state.
func (s *Script) Stop() error {
	s.repo.runner.stopTimer(s.ID())

	var hookErr error
	if tc, err := s.repo.reg.Typeclass(s.TypeclassPath()); err == nil && tc.AtStop != nil {
		hookErr = tc.AtStop()
	}

	s.mu.Lock()
	s.data.Started = false
	s.mu.Unlock()
	if err := s.repo.update(s.Entity); err != nil {
		return err
	}
	if hookErr != nil {
		return fmt.Errorf("script #%d at_stop: %w", s.ID(), hookErr)
	}
	return nil
}

// Running reports whether the script currently has a live timer.
func (s *Script) Running() bool {
	return s.repo.runner.running(s.ID())
}

// ScriptRunner owns the repeat timers of running scripts. Each timer is
// an independent goroutine so a hung repeat hook on one script never
// blocks the others.
type ScriptRunner struct {
	cfg    *config.Config
	reg    *registry.Registry
	timers map[int64]chan struct{}
	mu     sync.Mutex
}

// NewScriptRunner creates a script runner.
func NewScriptRunner(cfg *config.Config, reg *registry.Registry) *ScriptRunner {
	return &ScriptRunner{
		cfg:    cfg,
		reg:    reg,
		timers: make(map[int64]chan struct{}),
	}
}

// startTimer spawns the repeat loop for a script, replacing any previous one.
func (r *ScriptRunner) startTimer(id int64, interval time.Duration, tc *registry.Typeclass) {
	r.mu.Lock()
	if done, ok := r.timers[id]; ok {
		close(done)
	}
	done := make(chan struct{})
	r.timers[id] = done
	r.mu.Unlock()

	go r.repeatLoop(id, interval, tc, done)
	r.cfg.Log(2, "ScriptRunner: started timer for script #%d (every %s)", id, interval)
}

// stopTimer cancels a script's repeat loop, if any.
func (r *ScriptRunner) stopTimer(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if done, ok := r.timers[id]; ok {
		close(done)
		delete(r.timers, id)
		r.cfg.Log(2, "ScriptRunner: stopped timer for script #%d", id)
	}
}

// running reports whether a script has a live timer.
func (r *ScriptRunner) running(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[id]
	return ok
}

// Count returns the number of live timers.
func (r *ScriptRunner) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// StopAll cancels every live timer (used at shutdown).
func (r *ScriptRunner) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, done := range r.timers {
		close(done)
		delete(r.timers, id)
	}
}

// repeatLoop fires the script's repeat hook on its interval until stopped.
func (r *ScriptRunner) repeatLoop(id int64, interval time.Duration, tc *registry.Typeclass, done chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.fireRepeat(id, tc)
		}
	}
}

// fireRepeat runs one repeat hook invocation with panic containment.
func (r *ScriptRunner) fireRepeat(id int64, tc *registry.Typeclass) {
	defer func() {
		if rec := recover(); rec != nil {
			r.cfg.Log(0, "ScriptRunner: PANIC in script #%d at_repeat: %v", id, rec)
		}
	}()

	if tc.AtRepeat == nil {
		return
	}
	if err := tc.AtRepeat(); err != nil {
		r.cfg.Log(1, "ScriptRunner: script #%d at_repeat: %v", id, err)
	}
}
