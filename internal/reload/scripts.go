package reload

import (
	"fmt"

	"github.com/zot/world/internal/config"
	"github.com/zot/world/internal/entity"
	"github.com/zot/world/internal/registry"
)

// ScriptStore is the script repository surface the validator consumes.
type ScriptStore interface {
	Scripts(sel entity.ScriptSelector) ([]*entity.Script, error)
	PurgeNonPersistent(sel entity.ScriptSelector) (int, error)
}

// Validator re-examines scripts against the currently loaded code,
// starting those that should run and stopping those that are now invalid.
type Validator struct {
	cfg   *config.Config
	reg   *registry.Registry
	store ScriptStore
}

// NewValidator creates a script validator.
func NewValidator(cfg *config.Config, reg *registry.Registry, store ScriptStore) *Validator {
	return &Validator{cfg: cfg, reg: reg, store: store}
}

// Validate checks every selected script. In init mode, used only at
// process cold-start, non-persistent scripts are purged outright (in one
// storage transaction) and persistent ones are force-started regardless
// of their recorded state, since run state did not survive the restart.
// Individual script failures are logged and skipped; purged is counted
// separately from stopped.
func (v *Validator) Validate(sel entity.ScriptSelector, initMode bool) (started, stopped, purged int, err error) {
	if initMode {
		purged, err = v.store.PurgeNonPersistent(sel)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("purging non-persistent scripts: %w", err)
		}
		if purged > 0 {
			v.cfg.Log(1, "Validator: purged %d non-persistent script(s)", purged)
		}
	}

	scripts, err := v.store.Scripts(sel)
	if err != nil {
		return 0, 0, purged, fmt.Errorf("listing scripts: %w", err)
	}

	for _, script := range scripts {
		v.validateOne(script, initMode, &started, &stopped)
	}
	return started, stopped, purged, nil
}

// validateOne validates a single script with panic containment.
func (v *Validator) validateOne(script *entity.Script, initMode bool, started, stopped *int) {
	defer func() {
		if rec := recover(); rec != nil {
			v.cfg.Log(0, "Validator: PANIC validating script #%d: %v", script.ID(), rec)
		}
	}()

	valid := v.scriptValid(script)

	switch {
	case initMode && valid:
		// Run state did not survive the restart; force-start.
		if err := script.Start(); err != nil {
			v.cfg.Log(0, "Validator: error starting script #%d: %v", script.ID(), err)
			return
		}
		*started++
	case valid && !script.Started():
		if err := script.Start(); err != nil {
			v.cfg.Log(0, "Validator: error starting script #%d: %v", script.ID(), err)
			return
		}
		*started++
	case !valid && script.Started():
		if err := script.Stop(); err != nil {
			v.cfg.Log(0, "Validator: error stopping script #%d: %v", script.ID(), err)
			return
		}
		*stopped++
	}
}

// scriptValid reports whether the script's typeclass resolves against the
// currently loaded code.
func (v *Validator) scriptValid(script *entity.Script) bool {
	if script.TypeclassPath() == "" {
		return false
	}
	tc, err := v.reg.Typeclass(script.TypeclassPath())
	return err == nil && tc != nil
}
