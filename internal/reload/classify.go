package reload

import (
	"sort"
	"strings"

	"github.com/zot/world/internal/config"
)

// Classification partitions a detected-modified set into three disjoint
// sets: modules reloadable now, modules under protected directories, and
// modules blocked by live script timers.
type Classification struct {
	Safe      []string // reloadable now
	UnsafeDir []string // structurally protected, reboot required
	UnsafeMod []string // backing a running timer script, stop it or reboot
}

// Total returns the number of classified modules.
func (c Classification) Total() int {
	return len(c.Safe) + len(c.UnsafeDir) + len(c.UnsafeMod)
}

// Classifier decides which modified modules are safe to reload live.
type Classifier struct {
	// Protected prefixes mark modules that back core infrastructure the
	// process cannot safely mutate under itself.
	Protected []string
	// Except prefixes override Protected for user-extensible code inside
	// otherwise-protected namespaces.
	Except []string
}

// NewClassifier creates a classifier from the reload configuration.
func NewClassifier(cfg *config.Config) *Classifier {
	return &Classifier{
		Protected: cfg.Reload.ProtectedPrefixes,
		Except:    cfg.Reload.ExceptPrefixes,
	}
}

// Classify partitions the modified set. timerUnsafe is the set of
// typeclass paths backing running, timer-bearing scripts; any modified
// module that is a prefix ancestor of one of those paths is unsafe even
// when an except prefix would otherwise allow it.
func (c *Classifier) Classify(modified, timerUnsafe []string) Classification {
	var result Classification
	for _, mod := range dedupeSorted(modified) {
		switch {
		case !c.safeDir(mod):
			result.UnsafeDir = append(result.UnsafeDir, mod)
		case !c.safeMod(mod, timerUnsafe):
			result.UnsafeMod = append(result.UnsafeMod, mod)
		default:
			result.Safe = append(result.Safe, mod)
		}
	}
	return result
}

// safeDir checks that a module is not under a protected prefix, unless an
// except prefix allows it.
func (c *Classifier) safeDir(mod string) bool {
	for _, protected := range c.Protected {
		if !strings.HasPrefix(mod, protected) {
			continue
		}
		excepted := false
		for _, except := range c.Except {
			if strings.HasPrefix(mod, except) {
				excepted = true
				break
			}
		}
		if !excepted {
			return false
		}
	}
	return true
}

// safeMod checks that no running timer script's typeclass path lives
// under this module.
func (c *Classifier) safeMod(mod string, timerUnsafe []string) bool {
	for _, unsafe := range timerUnsafe {
		if strings.HasPrefix(unsafe, mod) {
			return false
		}
	}
	return true
}

// dedupeSorted returns the sorted, deduplicated copy of a string set.
func dedupeSorted(values []string) []string {
	seen := make(map[string]bool, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	sort.Strings(result)
	return result
}
