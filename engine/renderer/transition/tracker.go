package transition

import (
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Default batch size before queued barriers are flushed on their own.
const DefaultMaxPendingBarriers = 16

type BarrierKind uint8

const (
	BarrierTransition BarrierKind = iota
	// Orders unordered-access reads and writes on the same resource.
	BarrierUAV
)

// Barrier is one queued transition record. Never persisted past a recording pass.
type Barrier struct {
	Kind     BarrierKind
	Resource *metadata.GPUResource
	Before   metadata.ResourceState
	After    metadata.ResourceState
}

// Recorder writes a batch of barriers into the native command stream. The
// slice is reused after the call returns.
type Recorder interface {
	RecordBarriers(barriers []Barrier) error
}

type RecorderFunc func(barriers []Barrier) error

func (f RecorderFunc) RecordBarriers(barriers []Barrier) error {
	return f(barriers)
}

// CachedState describes how a secondary command stream uses a resource: the
// state it found the resource in, the state its first use needs and the state
// it leaves the resource in.
type CachedState struct {
	Resource *metadata.GPUResource
	Initial  metadata.ResourceState
	Begin    metadata.ResourceState
	End      metadata.ResourceState
}

type Options struct {
	MaxPendingBarriers int
	// Secondary streams defer the first transition of every resource to the
	// primary stream that executes them.
	Secondary bool
	Metrics   *core.RenderMetrics
}

/**
 * @brief Per command stream resource state machine. Queues the minimal set of
 * barriers needed before each GPU operation and records them in batches.
 */
type Tracker struct {
	recorder   Recorder
	maxPending int
	secondary  bool
	metrics    *core.RenderMetrics

	pending []Barrier
	cached  []CachedState
	lookup  map[*metadata.GPUResource]int
}

func NewTracker(recorder Recorder, opts Options) *Tracker {
	if opts.MaxPendingBarriers <= 0 {
		opts.MaxPendingBarriers = DefaultMaxPendingBarriers
	}
	if opts.Metrics == nil {
		opts.Metrics = core.NewRenderMetrics()
	}
	return &Tracker{
		recorder:   recorder,
		maxPending: opts.MaxPendingBarriers,
		secondary:  opts.Secondary,
		metrics:    opts.Metrics,
		pending:    make([]Barrier, 0, opts.MaxPendingBarriers),
		lookup:     make(map[*metadata.GPUResource]int),
	}
}

func (t *Tracker) Secondary() bool {
	return t.secondary
}

// Pending returns the number of queued barriers.
func (t *Tracker) Pending() int {
	return len(t.pending)
}

func (t *Tracker) validate(res *metadata.GPUResource, desired metadata.ResourceState) error {
	if res == nil || res.Destroyed {
		return core.Misuse(core.ErrInvalidHandle, "transition of a destroyed resource")
	}
	if !res.BindFlags.Supports(res.Class, desired) {
		return core.Misuse(core.ErrUnsupportedUsage, "%s cannot enter %s", res, desired)
	}
	return nil
}

func (t *Tracker) pendingIndex(res *metadata.GPUResource) int {
	for i := range t.pending {
		if t.pending[i].Kind == BarrierTransition && t.pending[i].Resource == res {
			return i
		}
	}
	return -1
}

// RequireState makes sure res will be in desired before the next recorded
// GPU operation. A transition already queued for res is retargeted, or
// dropped when it would return the resource to its recorded state.
func (t *Tracker) RequireState(res *metadata.GPUResource, desired metadata.ResourceState) error {
	if err := t.validate(res, desired); err != nil {
		return err
	}

	if t.secondary {
		if _, seen := t.lookup[res]; !seen && !res.HasPending {
			t.lookup[res] = len(t.cached)
			t.cached = append(t.cached, CachedState{
				Resource: res,
				Initial:  res.CurrentState,
				Begin:    desired,
				End:      desired,
			})
			res.CurrentState = desired
			return nil
		}
	}

	if res.EffectiveState() == desired {
		return nil
	}

	if i := t.pendingIndex(res); i >= 0 {
		t.metrics.BarriersMerged.Add(1)
		if t.pending[i].Before == desired {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			res.HasPending = false
			return nil
		}
		t.pending[i].After = desired
		res.PendingState = desired
		return nil
	}

	if len(t.pending) >= t.maxPending {
		if _, err := t.Flush(); err != nil {
			return err
		}
	}
	t.pending = append(t.pending, Barrier{
		Kind:     BarrierTransition,
		Resource: res,
		Before:   res.CurrentState,
		After:    desired,
	})
	res.PendingState = desired
	res.HasPending = true
	return nil
}

// InsertUAVBarrier queues a barrier between unordered-access operations on res.
func (t *Tracker) InsertUAVBarrier(res *metadata.GPUResource) error {
	if err := t.validate(res, metadata.ResourceStateUnorderedAccess); err != nil {
		return err
	}
	if res.EffectiveState() != metadata.ResourceStateUnorderedAccess {
		return core.Misuse(core.ErrInvalidTransition, "UAV barrier on %s in %s", res, res.EffectiveState())
	}
	if len(t.pending) >= t.maxPending {
		if _, err := t.Flush(); err != nil {
			return err
		}
	}
	t.pending = append(t.pending, Barrier{
		Kind:     BarrierUAV,
		Resource: res,
		Before:   metadata.ResourceStateUnorderedAccess,
		After:    metadata.ResourceStateUnorderedAccess,
	})
	return nil
}

// Flush records every queued barrier in one batch and then commits the new
// current states. On a recorder error nothing is committed.
func (t *Tracker) Flush() (int, error) {
	n := len(t.pending)
	if n == 0 {
		return 0, nil
	}
	if err := t.recorder.RecordBarriers(t.pending); err != nil {
		core.LogError("failed to record %d barriers: %s", n, err)
		return 0, err
	}
	for i := range t.pending {
		b := &t.pending[i]
		if b.Kind == BarrierTransition {
			b.Resource.CurrentState = b.After
			b.Resource.HasPending = false
			if t.secondary {
				if j, ok := t.lookup[b.Resource]; ok {
					t.cached[j].End = b.After
				}
			}
		}
		t.pending[i] = Barrier{}
	}
	t.pending = t.pending[:0]
	t.metrics.BarriersRecorded.Add(uint64(n))
	t.metrics.BarrierBatches.Add(1)
	core.LogDebug("recorded %d barriers", n)
	return n, nil
}

// Finish ends a secondary recording pass. Every resource it touched is put
// back in the state it was found in, and the usage summary is returned for
// the primary stream that will execute it.
func (t *Tracker) Finish() ([]CachedState, error) {
	if _, err := t.Flush(); err != nil {
		return nil, err
	}
	cached := t.cached
	for _, c := range cached {
		c.Resource.CurrentState = c.Initial
	}
	t.cached = nil
	t.lookup = make(map[*metadata.GPUResource]int)
	return cached, nil
}

// ExecuteSecondary is called on a primary stream before it executes a
// secondary. Resources are transitioned into the state the secondary
// expects and then assumed to be in the state it leaves them in.
func (t *Tracker) ExecuteSecondary(states []CachedState) error {
	for _, c := range states {
		if err := t.RequireState(c.Resource, c.Begin); err != nil {
			return err
		}
	}
	if _, err := t.Flush(); err != nil {
		return err
	}
	for _, c := range states {
		if t.secondary {
			if j, ok := t.lookup[c.Resource]; ok {
				t.cached[j].End = c.End
			}
		}
		c.Resource.CurrentState = c.End
	}
	return nil
}

// ValidateReleasable reports ErrNotTerminal unless res may be handed to the
// compositor or left idle.
func (t *Tracker) ValidateReleasable(res *metadata.GPUResource) error {
	if res.HasPending || !res.CurrentState.IsTerminal() {
		return core.Misuse(core.ErrNotTerminal, "%s left in %s", res, res.EffectiveState())
	}
	return nil
}

// Reset drops queued barriers and cached secondary states without recording
// them. Resources keep their recorded states.
func (t *Tracker) Reset() {
	for i := range t.pending {
		if t.pending[i].Kind == BarrierTransition {
			t.pending[i].Resource.HasPending = false
		}
		t.pending[i] = Barrier{}
	}
	t.pending = t.pending[:0]
	for _, c := range t.cached {
		c.Resource.CurrentState = c.Initial
	}
	t.cached = nil
	t.lookup = make(map[*metadata.GPUResource]int)
}
