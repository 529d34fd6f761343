package reload

import (
	"fmt"
	"strings"

	"github.com/zot/world/internal/config"
	"github.com/zot/world/internal/entity"
	"github.com/zot/world/internal/registry"
)

// Reloader is the trigger surface for live code reload. Its entry points
// never return an error; every internal failure is contained and turned
// into reported text while the remaining work continues.
type Reloader struct {
	cfg        *config.Config
	src        Source
	repo       *entity.Repository
	classifier *Classifier
	reimporter *Reimporter
	cascade    *Cascade
	validator  *Validator
	sweeper    *Sweeper
	reporter   *Reporter
}

// New wires a reloader over the server's code source, repository, and
// registry, reporting through the given channel lookup.
func New(cfg *config.Config, src Source, repo *entity.Repository, reg *registry.Registry, lookup ChannelLookup) *Reloader {
	reporter := NewReporter(cfg, lookup)
	return &Reloader{
		cfg:        cfg,
		src:        src,
		repo:       repo,
		classifier: NewClassifier(cfg),
		reimporter: NewReimporter(cfg, src),
		cascade:    NewCascade(cfg, reg),
		validator:  NewValidator(cfg, reg, repo),
		sweeper:    NewSweeper(cfg, repo, reporter.Report),
		reporter:   reporter,
	}
}

// Reporter returns the progress reporter.
func (r *Reloader) Reporter() *Reporter {
	return r.reporter
}

// ReloadModules runs a full reload cycle: detect changed modules,
// classify them for safety, reimport the safe set, invalidate the
// code-derived caches, and kick off the background entity resync sweep.
func (r *Reloader) ReloadModules() {
	defer r.contain("module reload")

	r.reporter.Report(strings.Repeat("-", 50) + "\n Cleaning module caches ...")

	modified, err := r.src.Modified()
	if err != nil {
		r.reporter.Report(fmt.Sprintf(" Could not detect modified modules: %v", err))
		return
	}

	timerUnsafe, err := r.repo.TimerUnsafePaths()
	if err != nil {
		r.reporter.Report(fmt.Sprintf(" Could not scan running scripts: %v (treating none as timer-unsafe)", err))
		timerUnsafe = nil
	}

	cls := r.classifier.Classify(modified, timerUnsafe)
	if warning := classificationWarning(cls); warning != "" {
		r.reporter.Report(warning)
	}

	if len(cls.Safe) > 0 {
		r.reporter.Report(fmt.Sprintf(" Reloading module(s):\n  %v ...", cls.Safe))
		reloaded, failures := r.reimporter.Reimport(cls.Safe)
		if len(failures) == 0 {
			r.reporter.Report(" ...all safe modules reloaded.")
		} else {
			r.reporter.Report(fmt.Sprintf(" ...%d module(s) reloaded, %d failed (old code stays active):\n  %s",
				len(reloaded), len(failures), failureList(failures)))
		}
	} else {
		r.reporter.Report(" Nothing was reloaded.")
	}

	// The cascade runs even when nothing was reloaded: cache entries may
	// reference stale class values regardless.
	if failed := r.cascade.InvalidateAll(); len(failed) > 0 {
		r.reporter.Report(" WARNING: some cache invalidation steps failed:\n  " + strings.Join(failed, "\n  "))
	}

	r.reporter.Report(" Starting asynchronous entity reset sweep ...")
	r.sweeper.ResyncAll()
}

// ReloadScripts runs a validation pass over the script table. Init mode
// is used only at process cold-start.
func (r *Reloader) ReloadScripts(sel entity.ScriptSelector, initMode bool) {
	defer r.contain("script validation")

	r.reporter.Report(" Validating scripts ...")
	started, stopped, purged, err := r.validator.Validate(sel, initMode)
	if err != nil {
		r.reporter.Report(fmt.Sprintf(" Script validation failed: %v", err))
		return
	}

	message := fmt.Sprintf(" Started %d script(s). Stopped %d invalid script(s).", started, stopped)
	if purged > 0 {
		message += fmt.Sprintf(" Purged %d non-persistent script(s).", purged)
	}
	r.reporter.Report(message)
}

// ReloadCommands clears the command set cache. Command sets rebuild
// lazily on next access.
func (r *Reloader) ReloadCommands() {
	defer r.contain("command cache reset")

	r.cascade.ResetCmdsets()
	r.reporter.Report(" Cleaned cmdset cache.\n" + strings.Repeat("-", 50))
}

// contain converts a panic escaping a trigger into reported text.
func (r *Reloader) contain(what string) {
	if rec := recover(); rec != nil {
		r.reporter.Report(fmt.Sprintf(" %s aborted by internal error: %v", what, rec))
	}
}

// classificationWarning formats the operator warning for refused modules.
func classificationWarning(cls Classification) string {
	if len(cls.UnsafeDir) == 0 && len(cls.UnsafeMod) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n WARNING: Some modules can not be reloaded")
	b.WriteString("\n since it would not be safe to do so.\n")
	if len(cls.UnsafeDir) > 0 {
		b.WriteString("\n -The following module(s) are located in protected directories and")
		b.WriteString("\n  should not be reloaded without a server reboot:\n")
		b.WriteString(fmt.Sprintf("   %v\n", cls.UnsafeDir))
	}
	if len(cls.UnsafeMod) > 0 {
		b.WriteString("\n -The following module(s) contain at least one script typeclass with a timer")
		b.WriteString("\n  component that has already spawned instances - these cannot be safely")
		b.WriteString("\n  cleaned from memory on the fly. Stop all the affected scripts or restart")
		b.WriteString("\n  the server to safely reload:\n")
		b.WriteString(fmt.Sprintf("   %v\n", cls.UnsafeMod))
	}
	return b.String()
}

// failureList formats reimport failures one per line.
func failureList(failures map[string]error) string {
	var lines []string
	for _, path := range sortedKeys(failures) {
		lines = append(lines, fmt.Sprintf("%s: %v", path, failures[path]))
	}
	return strings.Join(lines, "\n  ")
}

// sortedKeys returns the sorted keys of a failure map.
func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return dedupeSorted(keys)
}
