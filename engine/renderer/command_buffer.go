package renderer

import (
	"github.com/spaghettifunk/prism/engine/containers"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/statecache"
	"github.com/spaghettifunk/prism/engine/renderer/transition"
	"golang.org/x/exp/slices"
)

type CommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY CommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

func (s CommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_READY:
		return "ready"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "recording"
	case COMMAND_BUFFER_STATE_RECORDING_ENDED:
		return "recording_ended"
	case COMMAND_BUFFER_STATE_SUBMITTED:
		return "submitted"
	}
	return "not_allocated"
}

/**
 * @brief Records commands into a backend command stream. Binding the object
 * that is already bound is skipped, and every resource is transitioned into
 * the state a command needs before the command is recorded.
 * A command buffer is used by one goroutine at a time.
 */
type CommandBuffer struct {
	system    *RenderSystem
	stream    CommandStream
	secondary bool
	// Command buffer state.
	State CommandBufferState

	cache    *statecache.Cache
	tracker  *transition.Tracker
	pipeline *PipelineState
	touched  map[*metadata.GPUResource]struct{}
	// State each resource binding needs when a command runs.
	required map[statecache.Key]metadata.ResourceState
	pushed   map[statecache.Category][]pushedState
	// Usage summary of a ended secondary command buffer.
	secondaryStates []transition.CachedState
}

func (rs *RenderSystem) CreateCommandBuffer(secondary bool) (*CommandBuffer, error) {
	stream, err := rs.backend.CreateCommandStream(secondary)
	if err != nil {
		core.LogError("failed to allocate command stream: %s", err)
		return nil, err
	}
	cb := &CommandBuffer{
		system:    rs,
		stream:    stream,
		secondary: secondary,
		State:     COMMAND_BUFFER_STATE_READY,
		touched:   make(map[*metadata.GPUResource]struct{}),
		required:  make(map[statecache.Key]metadata.ResourceState),
		pushed:    make(map[statecache.Category][]pushedState),
	}
	cb.cache = statecache.New(stream, rs.limits, rs.Metrics)
	cb.tracker = transition.NewTracker(stream, transition.Options{
		MaxPendingBarriers: rs.cfg.Renderer.MaxPendingBarriers,
		Secondary:          secondary,
		Metrics:            rs.Metrics,
	})
	rs.Events.Register(core.EVENT_CODE_STATE_RELEASED, cb, cb.onRelease)
	rs.Events.Register(core.EVENT_CODE_RESOURCE_DESTROYED, cb, cb.onRelease)
	return cb, nil
}

func (cb *CommandBuffer) onRelease(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	cb.cache.NotifyRelease(data.Payload)
	if p, ok := data.Payload.(*PipelineState); ok && cb.pipeline == p {
		cb.pipeline = nil
	}
	// Every command buffer must see the release.
	return false
}

func (cb *CommandBuffer) Stream() CommandStream {
	return cb.stream
}

func (cb *CommandBuffer) IsSecondary() bool {
	return cb.secondary
}

// PendingBarriers counts transitions queued but not yet recorded.
func (cb *CommandBuffer) PendingBarriers() int {
	return cb.tracker.Pending()
}

func (cb *CommandBuffer) Bound(category statecache.Category, slot uint32) interface{} {
	return cb.cache.Bound(statecache.Key{Category: category, Slot: slot})
}

func (cb *CommandBuffer) checkRecording() error {
	if cb.State != COMMAND_BUFFER_STATE_RECORDING {
		return core.Misuse(core.ErrNotRecording, "command buffer is %s", cb.State)
	}
	return nil
}

func (cb *CommandBuffer) Begin() error {
	switch cb.State {
	case COMMAND_BUFFER_STATE_NOT_ALLOCATED, COMMAND_BUFFER_STATE_RECORDING:
		return core.Misuse(core.ErrInvalidCommandBuffer, "begin of a command buffer that is %s", cb.State)
	}
	if err := cb.stream.Begin(); err != nil {
		return err
	}
	cb.cache.Reset()
	cb.tracker.Reset()
	cb.pipeline = nil
	cb.secondaryStates = nil
	cb.touched = make(map[*metadata.GPUResource]struct{})
	cb.required = make(map[statecache.Key]metadata.ResourceState)
	cb.pushed = make(map[statecache.Category][]pushedState)
	cb.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

// End records the remaining barriers. A secondary command buffer puts every
// resource it touched back in the state it found it in; the primary that
// executes it takes care of the transitions.
func (cb *CommandBuffer) End() error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if cb.secondary {
		states, err := cb.tracker.Finish()
		if err != nil {
			return err
		}
		cb.secondaryStates = states
	} else if _, err := cb.tracker.Flush(); err != nil {
		return err
	}
	if err := cb.stream.End(); err != nil {
		return err
	}
	cb.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (cb *CommandBuffer) require(res *metadata.GPUResource, state metadata.ResourceState) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if err := cb.tracker.RequireState(res, state); err != nil {
		return err
	}
	cb.touched[res] = struct{}{}
	return nil
}

func (cb *CommandBuffer) bind(category statecache.Category, slot uint32, object interface{}) error {
	_, err := cb.cache.Bind(statecache.Key{Category: category, Slot: slot}, object)
	return err
}

func (cb *CommandBuffer) bindResource(category statecache.Category, slot uint32, res *metadata.GPUResource, state metadata.ResourceState) error {
	if err := cb.require(res, state); err != nil {
		return err
	}
	key := statecache.Key{Category: category, Slot: slot}
	if _, err := cb.cache.Bind(key, res); err != nil {
		return err
	}
	cb.required[key] = state
	return nil
}

// pushedState is the required state of a binding saved by PushBinding.
type pushedState struct {
	slot  uint32
	state metadata.ResourceState
	ok    bool
}

// resourceUse is a resource a command reads or writes and the state it needs.
type resourceUse struct {
	res   *metadata.GPUResource
	state metadata.ResourceState
}

// bindingScope selects the resource bindings a command reads.
type bindingScope uint8

const (
	// Copies and clears only touch their operands.
	scopeOperands bindingScope = iota
	scopeCompute
	scopeGraphics
)

func (s bindingScope) reads(category statecache.Category) bool {
	switch s {
	case scopeGraphics:
		return true
	case scopeCompute:
		switch category {
		case statecache.CategoryRenderTarget, statecache.CategoryDepthTarget,
			statecache.CategoryVertexBuffer, statecache.CategoryIndexBuffer:
			return false
		}
		return true
	}
	return false
}

// prepare brings every resource the command reads through its bindings, plus
// extra, into the state it is used in and records the barriers. A resource
// used in two different states by the same command is rejected.
func (cb *CommandBuffer) prepare(scope bindingScope, extra ...resourceUse) error {
	keys := make([]statecache.Key, 0, len(cb.required))
	for key := range cb.required {
		if scope.reads(key.Category) {
			keys = append(keys, key)
		}
	}
	slices.SortFunc(keys, func(a, b statecache.Key) int {
		if c := containers.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return containers.Compare(a.Slot, b.Slot)
	})

	uses := make([]resourceUse, 0, len(keys)+len(extra))
	for _, key := range keys {
		res, ok := cb.cache.Bound(key).(*metadata.GPUResource)
		if !ok || res == nil {
			continue
		}
		uses = append(uses, resourceUse{res: res, state: cb.required[key]})
	}
	uses = append(uses, extra...)

	states := make(map[*metadata.GPUResource]metadata.ResourceState, len(uses))
	for _, u := range uses {
		if prev, seen := states[u.res]; seen && prev != u.state {
			return core.Misuse(core.ErrInvalidTransition, "%s is used as %s and %s by one command", u.res, prev, u.state)
		}
		states[u.res] = u.state
	}
	for _, u := range uses {
		if err := cb.require(u.res, u.state); err != nil {
			return err
		}
	}
	return cb.flush()
}

func (cb *CommandBuffer) flush() error {
	_, err := cb.tracker.Flush()
	return err
}

// copyResources moves src and dst into their copy states, records copy and
// queues the transitions back to the states the two were in before.
func (cb *CommandBuffer) copyResources(src, dst *metadata.GPUResource, record func() error) error {
	if src == dst {
		return core.Misuse(core.ErrInvalidTransition, "copy of %s onto itself", src)
	}
	srcBefore, dstBefore := src.EffectiveState(), dst.EffectiveState()
	if err := cb.prepare(scopeOperands,
		resourceUse{res: src, state: metadata.ResourceStateCopySource},
		resourceUse{res: dst, state: metadata.ResourceStateCopyDestination},
	); err != nil {
		return err
	}
	if err := record(); err != nil {
		return err
	}
	if err := cb.require(src, srcBefore); err != nil {
		return err
	}
	return cb.require(dst, dstBefore)
}

// SetPipelineState binds the pipeline and its pooled states. Pipelines that
// share a state do not rebind it.
func (cb *CommandBuffer) SetPipelineState(p *PipelineState) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if p == nil || p.released {
		return core.Misuse(core.ErrInvalidHandle, "bind of a released pipeline")
	}
	if err := cb.bind(statecache.CategoryPipeline, 0, p); err != nil {
		return err
	}
	if p.Descriptor.Kind == metadata.PipelineKindGraphics {
		if err := cb.bind(statecache.CategoryBlend, 0, p.BlendState()); err != nil {
			return err
		}
		if err := cb.bind(statecache.CategoryDepthStencil, 0, p.DepthStencilState()); err != nil {
			return err
		}
		if err := cb.bind(statecache.CategoryRasterizer, 0, p.RasterizerState()); err != nil {
			return err
		}
	}
	if err := cb.bind(statecache.CategoryBindingLayout, 0, p.BindingLayout()); err != nil {
		return err
	}
	cb.pipeline = p
	return nil
}

func (cb *CommandBuffer) SetVertexBuffer(slot uint32, res *metadata.GPUResource) error {
	return cb.bindResource(statecache.CategoryVertexBuffer, slot, res, metadata.ResourceStateVertexAndConstantBuffer)
}

func (cb *CommandBuffer) SetIndexBuffer(res *metadata.GPUResource) error {
	return cb.bindResource(statecache.CategoryIndexBuffer, 0, res, metadata.ResourceStateIndexBuffer)
}

func (cb *CommandBuffer) SetConstantBuffer(slot uint32, res *metadata.GPUResource) error {
	return cb.bindResource(statecache.CategoryConstantBuffer, slot, res, metadata.ResourceStateVertexAndConstantBuffer)
}

// SetStorageBuffer binds a buffer or texture for unordered access.
func (cb *CommandBuffer) SetStorageBuffer(slot uint32, res *metadata.GPUResource) error {
	return cb.bindResource(statecache.CategoryStorageBuffer, slot, res, metadata.ResourceStateUnorderedAccess)
}

func (cb *CommandBuffer) SetTexture(unit uint32, res *metadata.GPUResource) error {
	return cb.bindResource(statecache.CategoryTexture, unit, res, metadata.ResourceStateShaderResource)
}

// SetSampler binds a backend sampler handle. Samplers have no resource state.
func (cb *CommandBuffer) SetSampler(unit uint32, sampler interface{}) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	return cb.bind(statecache.CategorySampler, unit, sampler)
}

func (cb *CommandBuffer) SetRenderTarget(res *metadata.GPUResource) error {
	return cb.bindResource(statecache.CategoryRenderTarget, 0, res, metadata.ResourceStateRenderTarget)
}

func (cb *CommandBuffer) SetDepthTarget(res *metadata.GPUResource, readOnly bool) error {
	state := metadata.ResourceStateDepthWrite
	if readOnly {
		state = metadata.ResourceStateDepthRead
	}
	return cb.bindResource(statecache.CategoryDepthTarget, 0, res, state)
}

func (cb *CommandBuffer) checkPipeline(kind metadata.PipelineKind) error {
	if cb.pipeline == nil {
		return core.Misuse(core.ErrInvalidHandle, "no pipeline state bound")
	}
	if cb.pipeline.Descriptor.Kind != kind {
		return core.Misuse(core.ErrInvalidHandle, "pipeline %s cannot be used for this command", cb.pipeline.Name)
	}
	return nil
}

func (cb *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if err := cb.checkPipeline(metadata.PipelineKindGraphics); err != nil {
		return err
	}
	if err := cb.prepare(scopeGraphics); err != nil {
		return err
	}
	return cb.stream.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

func (cb *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if err := cb.checkPipeline(metadata.PipelineKindGraphics); err != nil {
		return err
	}
	if cb.Bound(statecache.CategoryIndexBuffer, 0) == nil {
		return core.Misuse(core.ErrInvalidHandle, "indexed draw without an index buffer")
	}
	if err := cb.prepare(scopeGraphics); err != nil {
		return err
	}
	return cb.stream.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
}

func (cb *CommandBuffer) DrawIndirect(args *metadata.GPUResource, offset uint64) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if args == nil {
		return core.Misuse(core.ErrInvalidHandle, "indirect draw without an argument buffer")
	}
	if err := cb.checkPipeline(metadata.PipelineKindGraphics); err != nil {
		return err
	}
	if offset >= args.Size {
		return core.Misuse(core.ErrOutOfBounds, "indirect offset %d in %s of %d bytes", offset, args, args.Size)
	}
	if err := cb.prepare(scopeGraphics, resourceUse{res: args, state: metadata.ResourceStateIndirectArgument}); err != nil {
		return err
	}
	return cb.stream.DrawIndirect(args, offset)
}

func (cb *CommandBuffer) Dispatch(x, y, z uint32) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if err := cb.checkPipeline(metadata.PipelineKindCompute); err != nil {
		return err
	}
	if err := cb.prepare(scopeCompute); err != nil {
		return err
	}
	return cb.stream.Dispatch(x, y, z)
}

// CopyBuffer copies size bytes between two buffers. Both are returned to the
// states they were in once the copy is recorded.
func (cb *CommandBuffer) CopyBuffer(src, dst *metadata.GPUResource, srcOffset, dstOffset, size uint64) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if src == nil || dst == nil || src.Class != metadata.ResourceClassBuffer || dst.Class != metadata.ResourceClassBuffer {
		return core.Misuse(core.ErrInvalidHandle, "buffer copy between %s and %s", src, dst)
	}
	if srcOffset+size > src.Size || dstOffset+size > dst.Size {
		return core.Misuse(core.ErrOutOfBounds, "copy of %d bytes from %s+%d to %s+%d", size, src, srcOffset, dst, dstOffset)
	}
	return cb.copyResources(src, dst, func() error {
		return cb.stream.CopyBuffer(src, dst, srcOffset, dstOffset, size)
	})
}

func (cb *CommandBuffer) CopyTexture(src, dst *metadata.GPUResource) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if src == nil || dst == nil || src.Class != metadata.ResourceClassTexture || dst.Class != metadata.ResourceClassTexture {
		return core.Misuse(core.ErrInvalidHandle, "texture copy between %s and %s", src, dst)
	}
	if src.Width != dst.Width || src.Height != dst.Height || src.MipLevelCount != dst.MipLevelCount || src.SampleCount != dst.SampleCount {
		return core.Misuse(core.ErrOutOfBounds, "texture copy from %s to %s", src, dst)
	}
	return cb.copyResources(src, dst, func() error {
		return cb.stream.CopyTexture(src, dst)
	})
}

func (cb *CommandBuffer) ClearRenderTarget(target *metadata.GPUResource, color [4]float64) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if target == nil {
		return core.Misuse(core.ErrInvalidHandle, "clear of a nil render target")
	}
	if err := cb.prepare(scopeOperands, resourceUse{res: target, state: metadata.ResourceStateRenderTarget}); err != nil {
		return err
	}
	return cb.stream.ClearRenderTarget(target, color)
}

// Present hands target to the compositor. The transition is recorded right
// away.
func (cb *CommandBuffer) Present(target *metadata.GPUResource) error {
	if err := cb.require(target, metadata.ResourceStatePresent); err != nil {
		return err
	}
	if err := cb.flush(); err != nil {
		return err
	}
	return cb.tracker.ValidateReleasable(target)
}

func (cb *CommandBuffer) InsertUAVBarrier(res *metadata.GPUResource) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if err := cb.tracker.InsertUAVBarrier(res); err != nil {
		return err
	}
	cb.touched[res] = struct{}{}
	return nil
}

// RestoreUsageState moves res back into the state its bind flags make it rest in.
func (cb *CommandBuffer) RestoreUsageState(res *metadata.GPUResource) error {
	if res == nil {
		return core.Misuse(core.ErrInvalidHandle, "restore of a nil resource")
	}
	return cb.require(res, res.UsageState)
}

func (cb *CommandBuffer) PushBinding(category statecache.Category, slot uint32) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if err := cb.cache.Push(category, slot); err != nil {
		return err
	}
	state, ok := cb.required[statecache.Key{Category: category, Slot: slot}]
	cb.pushed[category] = append(cb.pushed[category], pushedState{slot: slot, state: state, ok: ok})
	return nil
}

// PopBinding restores the last pushed binding of category. A restored
// resource is moved back into its state by the next command that reads it.
func (cb *CommandBuffer) PopBinding(category statecache.Category) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if _, err := cb.cache.Pop(category); err != nil {
		return err
	}
	if stack := cb.pushed[category]; len(stack) > 0 {
		saved := stack[len(stack)-1]
		cb.pushed[category] = stack[:len(stack)-1]
		key := statecache.Key{Category: category, Slot: saved.slot}
		if saved.ok {
			cb.required[key] = saved.state
		} else {
			delete(cb.required, key)
		}
	}
	if category == statecache.CategoryPipeline {
		cb.pipeline, _ = cb.cache.Bound(statecache.Key{Category: category}).(*PipelineState)
	}
	return nil
}

// Execute runs an ended secondary command buffer. The resources it uses are
// first transitioned into the states its commands expect.
func (cb *CommandBuffer) Execute(secondary *CommandBuffer) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if secondary == nil || !secondary.secondary || secondary.system != cb.system {
		return core.Misuse(core.ErrInvalidCommandBuffer, "only secondary command buffers can be executed")
	}
	if secondary.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return core.Misuse(core.ErrInvalidCommandBuffer, "execute of a secondary command buffer that is %s", secondary.State)
	}
	if err := cb.tracker.ExecuteSecondary(secondary.secondaryStates); err != nil {
		return err
	}
	if err := cb.stream.ExecuteSecondary(secondary.stream); err != nil {
		return err
	}
	// The secondary left the native bindings in an unknown state.
	cb.cache.Invalidate()
	cb.pipeline = nil
	for res := range secondary.touched {
		cb.touched[res] = struct{}{}
	}
	return nil
}

func (cb *CommandBuffer) Destroy() {
	if cb.State == COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return
	}
	cb.system.Events.Unregister(core.EVENT_CODE_STATE_RELEASED, cb)
	cb.system.Events.Unregister(core.EVENT_CODE_RESOURCE_DESTROYED, cb)
	cb.tracker.Reset()
	cb.stream.Destroy()
	cb.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}
