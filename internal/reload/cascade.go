package reload

import (
	"fmt"

	"github.com/zot/world/internal/config"
	"github.com/zot/world/internal/registry"
)

// Cascade resets every in-memory cache whose validity is tied to code
// identity. It runs on every reload cycle, even when nothing was
// reloaded, because code-free cache entries may still reference stale
// class values.
type Cascade struct {
	cfg *config.Config
	reg *registry.Registry
}

// NewCascade creates a cascade over the live registry.
func NewCascade(cfg *config.Config, reg *registry.Registry) *Cascade {
	return &Cascade{cfg: cfg, reg: reg}
}

// InvalidateAll runs the cache invalidation steps in their fixed order:
// the dynamic prototype registry, the typeclass cache, the exit routing
// cache, and a refresh of the channel distribution table. Later steps
// assume earlier ones already ran, but a failing step never prevents the
// rest; a failed cache simply stays in its prior state until the next
// cycle. Returns a description of each failed step.
func (c *Cascade) InvalidateAll() []string {
	steps := []struct {
		name string
		run  func() error
	}{
		{"prototype registry", func() error {
			n := c.reg.ClearPrototypes()
			c.cfg.Log(2, "Cascade: cleared %d prototype(s)", n)
			return nil
		}},
		{"typeclass cache", func() error {
			n := c.reg.ClearClasses()
			c.cfg.Log(2, "Cascade: cleared %d typeclass(es)", n)
			return nil
		}},
		{"exit cache", func() error {
			n := c.reg.ClearExits()
			c.cfg.Log(2, "Cascade: cleared %d exit route(s)", n)
			return nil
		}},
		{"channel distribution", c.reg.RefreshChannels},
	}

	var failed []string
	for _, step := range steps {
		if err := c.runStep(step.name, step.run); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", step.name, err))
			c.cfg.Log(0, "Cascade: %s failed (cache keeps prior state): %v", step.name, err)
		}
	}
	return failed
}

// ResetCmdsets clears the command set cache. This is its own trigger:
// command sets rebuild lazily, so clearing them is cheap and safe even
// outside a full reload.
func (c *Cascade) ResetCmdsets() int {
	n := c.reg.ClearCmdsets()
	c.cfg.Log(2, "Cascade: cleared %d cmdset(s)", n)
	return n
}

// runStep runs one invalidation step with panic containment.
func (c *Cascade) runStep(name string, run func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return run()
}
