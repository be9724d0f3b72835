package pool

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/containers"
	"github.com/spaghettifunk/prism/engine/core"
)

// CreateFunc builds the native object for a descriptor.
type CreateFunc[D any] func(desc D) (interface{}, error)

// DestroyFunc releases a native object created by a CreateFunc.
type DestroyFunc func(native interface{})

// ReleaseListener is notified right before a native state object is destroyed.
type ReleaseListener func(native interface{})

/**
 * @brief A pooled immutable render state. Shared by every holder that asked
 * for a structurally identical descriptor.
 */
type State[D any] struct {
	Descriptor D
	Native     interface{}

	refCount int
	erased   bool
	pool     *StatePool[D]
}

func (s *State[D]) RefCount() int {
	return s.refCount
}

type Options struct {
	Name          string
	ReclaimPolicy config.ReclaimPolicy
	// Number of reclaimable entries tolerated before Release compacts the
	// pool. 0 disables automatic compaction.
	MaxDeadStates int
	Metrics       *core.RenderMetrics
}

/**
 * @brief Sorted, reference counted cache of immutable states. Lookups are
 * binary searches with the descriptor comparator. Not safe for concurrent use.
 */
type StatePool[D any] struct {
	name      string
	compare   func(a, b D) int
	create    CreateFunc[D]
	destroy   DestroyFunc
	policy    config.ReclaimPolicy
	maxDead   int
	metrics   *core.RenderMetrics
	entries   []*State[D]
	dead      int
	listeners []ReleaseListener
}

func NewStatePool[D any](compare func(a, b D) int, create CreateFunc[D], destroy DestroyFunc, opts Options) *StatePool[D] {
	if opts.ReclaimPolicy == "" {
		opts.ReclaimPolicy = config.ReclaimLazy
	}
	if opts.Metrics == nil {
		opts.Metrics = core.NewRenderMetrics()
	}
	return &StatePool[D]{
		name:    opts.Name,
		compare: compare,
		create:  create,
		destroy: destroy,
		policy:  opts.ReclaimPolicy,
		maxDead: opts.MaxDeadStates,
		metrics: opts.Metrics,
	}
}

func (p *StatePool[D]) OnRelease(listener ReleaseListener) {
	p.listeners = append(p.listeners, listener)
}

func (p *StatePool[D]) find(desc D) (int, bool) {
	return containers.FindInSortedArray(p.entries, func(s *State[D]) int {
		return p.compare(s.Descriptor, desc)
	})
}

// CreateOrShare returns the pooled state for desc, creating it when no
// equivalent descriptor is pooled yet. A reclaimable entry is revived with
// its native object intact. On creation failure the pool is left unchanged.
func (p *StatePool[D]) CreateOrShare(desc D) (*State[D], error) {
	index, found := p.find(desc)
	if found {
		s := p.entries[index]
		if s.refCount == 0 {
			p.dead--
			core.LogDebug("%s pool: revived state at %d", p.name, index)
		}
		s.refCount++
		p.metrics.StatesShared.Add(1)
		return s, nil
	}

	native, err := p.create(desc)
	if err != nil {
		err = fmt.Errorf("%s pool: failed to create native state: %w", p.name, err)
		core.LogError("%s", err)
		return nil, err
	}
	s := &State[D]{
		Descriptor: desc,
		Native:     native,
		refCount:   1,
		pool:       p,
	}
	p.entries, _, _ = containers.InsertSorted(p.entries, s, func(e *State[D]) int {
		return p.compare(e.Descriptor, desc)
	})
	p.metrics.StatesCreated.Add(1)
	core.LogDebug("%s pool: created state at %d (size=%d)", p.name, index, len(p.entries))
	return s, nil
}

// Release drops one reference. Releasing a state that has no holders or
// belongs to another pool is a programming error.
func (p *StatePool[D]) Release(s *State[D]) error {
	if s == nil || s.pool != p || s.erased {
		return core.Misuse(core.ErrInvalidHandle, "%s pool: release of a state not owned by this pool", p.name)
	}
	if s.refCount == 0 {
		return core.Misuse(core.ErrInvalidHandle, "%s pool: release of a state with no holders", p.name)
	}
	s.refCount--
	if s.refCount > 0 {
		return nil
	}

	if p.policy == config.ReclaimEager {
		index, found := p.find(s.Descriptor)
		if found && p.entries[index] == s {
			p.entries = containers.RemoveAt(p.entries, index)
		}
		p.erase(s)
		return nil
	}

	p.dead++
	if p.maxDead > 0 && p.dead > p.maxDead {
		p.Compact()
	}
	return nil
}

func (p *StatePool[D]) erase(s *State[D]) {
	for _, l := range p.listeners {
		l(s.Native)
	}
	if p.destroy != nil {
		p.destroy(s.Native)
	}
	s.erased = true
	s.Native = nil
	p.metrics.StatesReclaimed.Add(1)
}

// Compact destroys every entry without holders and returns how many were removed.
func (p *StatePool[D]) Compact() int {
	kept := p.entries[:0]
	removed := 0
	for _, s := range p.entries {
		if s.refCount > 0 {
			kept = append(kept, s)
			continue
		}
		p.erase(s)
		removed++
	}
	for i := len(kept); i < len(p.entries); i++ {
		p.entries[i] = nil
	}
	p.entries = kept
	p.dead = 0
	if removed > 0 {
		core.LogDebug("%s pool: compacted %d states (size=%d)", p.name, removed, len(p.entries))
	}
	return removed
}

// Clear destroys every entry regardless of holders. Used at shutdown.
func (p *StatePool[D]) Clear() {
	for _, s := range p.entries {
		if s.refCount > 0 {
			core.LogWarn("%s pool: destroying state with %d holders", p.name, s.refCount)
		}
		p.erase(s)
	}
	p.entries = nil
	p.dead = 0
}

// Len counts pooled entries including reclaimable ones.
func (p *StatePool[D]) Len() int {
	return len(p.entries)
}

// Live counts entries with at least one holder.
func (p *StatePool[D]) Live() int {
	return len(p.entries) - p.dead
}

func (p *StatePool[D]) Dead() int {
	return p.dead
}

// Descriptors returns the pooled descriptors in sorted order.
func (p *StatePool[D]) Descriptors() []D {
	out := make([]D, len(p.entries))
	for i, s := range p.entries {
		out[i] = s.Descriptor
	}
	return out
}
