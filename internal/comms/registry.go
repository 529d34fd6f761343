package comms

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zot/world/internal/config"
)

// Lister returns the names of every channel entity currently in storage.
type Lister func() ([]string, error)

// Registry is the channel distribution table: channel name -> live
// channel. Update resynchronizes it with storage without dropping the
// subscribers of channels that survive.
type Registry struct {
	cfg      *config.Config
	list     Lister
	channels map[string]*Channel
	mu       sync.RWMutex
}

// NewRegistry creates a channel registry over a storage lister.
func NewRegistry(cfg *config.Config, list Lister) *Registry {
	return &Registry{
		cfg:      cfg,
		list:     list,
		channels: make(map[string]*Channel),
	}
}

// Get looks up a channel by name.
func (r *Registry) Get(name string) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("channel %q not found", name)
	}
	return ch, nil
}

// Names returns all channel names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Update resynchronizes the distribution table with storage. Channels
// that survive keep their live subscribers; new channels are added and
// removed channels are dropped.
func (r *Registry) Update() error {
	names, err := r.list()
	if err != nil {
		return err
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	added, removed := 0, 0
	for _, name := range names {
		if _, ok := r.channels[name]; !ok {
			r.channels[name] = NewChannel(r.cfg, name)
			added++
		}
	}
	for name := range r.channels {
		if !wanted[name] {
			delete(r.channels, name)
			removed++
		}
	}

	r.cfg.Log(2, "Channels: distribution table updated (%d added, %d removed, %d total)",
		added, removed, len(r.channels))
	return nil
}

// Count returns the number of live channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
