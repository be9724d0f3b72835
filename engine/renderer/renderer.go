package renderer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/containers"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipelinecache"
	"github.com/spaghettifunk/prism/engine/renderer/pool"
	"github.com/spaghettifunk/prism/engine/renderer/statecache"
)

/**
 * @brief Owns a backend together with everything shared between the command
 * buffers recording against it: the render state pools, the resource
 * registry and the pipeline cache store.
 */
type RenderSystem struct {
	cfg          *config.Config
	backend      RendererBackend
	rendererType RendererType
	limits       statecache.Limits
	syncTimeout  time.Duration

	Metrics *core.RenderMetrics
	Events  *core.EventBus

	locks *LockPool
	ids   *core.Identifiers
	clock *core.Clock

	blendStates        *pool.StatePool[metadata.BlendDescriptor]
	depthStencilStates *pool.StatePool[metadata.DepthStencilDescriptor]
	rasterizerStates   *pool.StatePool[metadata.RasterizerDescriptor]
	bindingLayouts     *pool.StatePool[metadata.BindingLayout]

	pipelineStore *pipelinecache.Store

	resources       map[uint32]*metadata.GPUResource
	pendingDestroys *containers.RingQueue[*metadata.GPUResource]
	lastSubmission  uint64
}

// PoolStats describes the occupancy of one render state pool.
type PoolStats struct {
	Name    string
	Entries int
	Live    int
	Dead    int
}

// NewRenderSystem initializes the backend named in cfg. events may be nil, in
// which case the render system gets its own bus.
func NewRenderSystem(cfg *config.Config, events *core.EventBus) (*RenderSystem, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		core.LogWarn("invalid log level %q: %s", cfg.Log.Level, err)
	}
	core.SetPanicOnMisuse(cfg.Debug.PanicOnMisuse)

	rendererType, err := ParseRendererType(cfg.Renderer.Backend)
	if err != nil {
		return nil, err
	}
	backend, err := NewBackend(rendererType)
	if err != nil {
		core.LogError("renderer backend %s is not compiled in, available: %v", rendererType, AvailableBackends())
		return nil, err
	}
	if err := backend.Initialize(cfg); err != nil {
		core.LogError("failed to initialize the %s backend: %s", rendererType, err)
		return nil, err
	}
	syncTimeout, _ := cfg.SyncTimeout()

	if events == nil {
		events = core.NewEventBus()
	}
	rs := &RenderSystem{
		cfg:             cfg,
		backend:         backend,
		rendererType:    rendererType,
		syncTimeout:     syncTimeout,
		Metrics:         core.NewRenderMetrics(),
		Events:          events,
		locks:           NewLockPool(),
		ids:             core.NewIdentifiers(256),
		clock:           core.NewClock(),
		resources:       make(map[uint32]*metadata.GPUResource),
		pendingDestroys: containers.NewRingQueue[*metadata.GPUResource](cfg.Renderer.MaxPendingDestroys),
	}
	rs.limits = clampLimits(backend.Limits(), cfg.Renderer)
	rs.createStatePools()

	if cfg.PipelineCache.Enabled {
		store, err := pipelinecache.NewStore(cfg.PipelineCache.Dir, backend.DeviceIdentity(), events)
		if err != nil {
			core.LogWarn("pipeline cache disabled: %s", err)
		} else {
			rs.pipelineStore = store
			if cfg.PipelineCache.Watch {
				if err := store.Watch(); err != nil {
					core.LogWarn("pipeline cache watch disabled: %s", err)
				}
			}
		}
	}

	core.LogInfo("render system initialized with the %s backend (%s)", rendererType, backend.DeviceIdentity())
	return rs, nil
}

func clampLimits(device statecache.Limits, cfg config.RendererConfig) statecache.Limits {
	pick := func(dev, configured int) int {
		if dev <= 0 || (configured > 0 && configured < dev) {
			return configured
		}
		return dev
	}
	return statecache.Limits{
		TextureUnits: pick(device.TextureUnits, cfg.MaxTextureUnits),
		BufferSlots:  pick(device.BufferSlots, cfg.MaxBufferSlots),
		SamplerUnits: pick(device.SamplerUnits, cfg.MaxSamplerUnits),
	}
}

func (rs *RenderSystem) createStatePools() {
	opts := func(name string) pool.Options {
		return pool.Options{
			Name:          name,
			ReclaimPolicy: rs.cfg.Renderer.ReclaimPolicy,
			MaxDeadStates: rs.cfg.Renderer.MaxDeadStates,
			Metrics:       rs.Metrics,
		}
	}
	rs.blendStates = pool.NewStatePool(metadata.CompareBlend, rs.backend.CreateBlendState, rs.backend.DestroyState, opts("blend"))
	rs.depthStencilStates = pool.NewStatePool(metadata.CompareDepthStencil, rs.backend.CreateDepthStencilState, rs.backend.DestroyState, opts("depth_stencil"))
	rs.rasterizerStates = pool.NewStatePool(metadata.CompareRasterizer, rs.backend.CreateRasterizerState, rs.backend.DestroyState, opts("rasterizer"))
	rs.bindingLayouts = pool.NewStatePool(metadata.CompareBindingLayout, rs.backend.CreateBindingLayout, rs.backend.DestroyState, opts("binding_layout"))

	// State managers forget a native state before it is destroyed, so a new
	// state that reuses the handle is not elided as already bound.
	notify := func(native interface{}) {
		rs.Events.Fire(core.EVENT_CODE_STATE_RELEASED, rs, core.EventContext{Payload: native})
	}
	rs.blendStates.OnRelease(notify)
	rs.depthStencilStates.OnRelease(notify)
	rs.rasterizerStates.OnRelease(notify)
	rs.bindingLayouts.OnRelease(notify)
}

func (rs *RenderSystem) Backend() RendererBackend {
	return rs.backend
}

func (rs *RenderSystem) Type() RendererType {
	return rs.rendererType
}

func (rs *RenderSystem) Config() *config.Config {
	return rs.cfg
}

// Limits are the slot counts every command buffer binding cache is created with.
func (rs *RenderSystem) Limits() statecache.Limits {
	return rs.limits
}

func (rs *RenderSystem) PipelineStore() *pipelinecache.Store {
	return rs.pipelineStore
}

// LastSubmission is the index returned by the most recent Submit.
func (rs *RenderSystem) LastSubmission() uint64 {
	return rs.lastSubmission
}

func (rs *RenderSystem) PoolStats() []PoolStats {
	var stats []PoolStats
	_ = rs.locks.SafeCall(StateManagement, func() error {
		stats = []PoolStats{
			{Name: "blend", Entries: rs.blendStates.Len(), Live: rs.blendStates.Live(), Dead: rs.blendStates.Dead()},
			{Name: "depth_stencil", Entries: rs.depthStencilStates.Len(), Live: rs.depthStencilStates.Live(), Dead: rs.depthStencilStates.Dead()},
			{Name: "rasterizer", Entries: rs.rasterizerStates.Len(), Live: rs.rasterizerStates.Live(), Dead: rs.rasterizerStates.Dead()},
			{Name: "binding_layout", Entries: rs.bindingLayouts.Len(), Live: rs.bindingLayouts.Live(), Dead: rs.bindingLayouts.Dead()},
		}
		return nil
	})
	return stats
}

// CompactStatePools destroys every pooled state that has no holders left.
func (rs *RenderSystem) CompactStatePools() int {
	removed := 0
	_ = rs.locks.SafeCall(StateManagement, func() error {
		removed += rs.blendStates.Compact()
		removed += rs.depthStencilStates.Compact()
		removed += rs.rasterizerStates.Compact()
		removed += rs.bindingLayouts.Compact()
		return nil
	})
	return removed
}

// Submit queues the ended primary command buffers for execution. Every
// resource they reference is stamped with the returned submission index.
func (rs *RenderSystem) Submit(cbs ...*CommandBuffer) (uint64, error) {
	if len(cbs) == 0 {
		return rs.lastSubmission, nil
	}
	streams := make([]CommandStream, 0, len(cbs))
	for _, cb := range cbs {
		if cb == nil || cb.system != rs {
			return 0, core.Misuse(core.ErrInvalidCommandBuffer, "submit of a foreign command buffer")
		}
		if cb.secondary {
			return 0, core.Misuse(core.ErrInvalidCommandBuffer, "secondary command buffers are executed, not submitted")
		}
		if cb.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
			return 0, core.Misuse(core.ErrInvalidCommandBuffer, "submit of a command buffer in state %s", cb.State)
		}
		for res := range cb.touched {
			if res.Native == nil {
				return 0, core.Misuse(core.ErrInvalidHandle, "%s was released before submission", res)
			}
		}
		streams = append(streams, cb.stream)
	}

	var submission uint64
	err := rs.locks.SafeCall(SubmitManagement, func() error {
		var err error
		submission, err = rs.backend.Submit(streams)
		return err
	})
	if err != nil {
		core.LogError("failed to submit %d command buffers: %s", len(cbs), err)
		return 0, err
	}
	for _, cb := range cbs {
		for res := range cb.touched {
			res.LastSubmission = submission
		}
		cb.State = COMMAND_BUFFER_STATE_SUBMITTED
	}
	rs.lastSubmission = submission
	return submission, nil
}

// SyncDevice waits for the last submission to retire, bounded by the
// configured timeout, and then destroys resources that are no longer in use.
func (rs *RenderSystem) SyncDevice(ctx context.Context) error {
	rs.clock.Start()
	err := rs.backend.SyncDevice(ctx, rs.lastSubmission, rs.syncTimeout)
	rs.clock.Stop()
	rs.Metrics.SyncWaits.Add(1)
	if err != nil {
		if errors.Is(err, core.ErrNotReady) {
			core.LogWarn("device sync timed out after %s waiting for submission %d", rs.clock.Elapsed(), rs.lastSubmission)
		} else {
			core.LogError("device sync failed: %s", err)
		}
		return err
	}
	core.LogDebug("device synced in %s", rs.clock.Elapsed())
	rs.CollectGarbage()
	return nil
}

func (rs *RenderSystem) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("resize to %dx%d: %w", width, height, core.ErrInvalidDescriptor)
	}
	if err := rs.SyncDevice(context.Background()); err != nil {
		return err
	}
	if err := rs.backend.Resized(width, height); err != nil {
		return err
	}
	rs.cfg.Application.Width = width
	rs.cfg.Application.Height = height

	data := core.EventContext{}
	data.Data.U32[0] = width
	data.Data.U32[1] = height
	rs.Events.Fire(core.EVENT_CODE_RESIZED, rs, data)
	return nil
}

// Shutdown waits for the device, destroys every resource and pooled state
// and then the backend itself.
func (rs *RenderSystem) Shutdown() error {
	if err := rs.SyncDevice(context.Background()); err != nil {
		core.LogWarn("shutting down with work in flight: %s", err)
	}
	_ = rs.locks.SafeCall(ResourceManagement, func() error {
		for !rs.pendingDestroys.IsEmpty() {
			res, _ := rs.pendingDestroys.Dequeue()
			rs.releaseResource(res)
		}
		for _, res := range rs.resources {
			core.LogWarn("%s was never destroyed", res)
			rs.releaseResource(res)
		}
		return nil
	})
	_ = rs.locks.SafeCall(StateManagement, func() error {
		rs.blendStates.Clear()
		rs.depthStencilStates.Clear()
		rs.rasterizerStates.Clear()
		rs.bindingLayouts.Clear()
		return nil
	})
	if rs.pipelineStore != nil {
		if err := rs.pipelineStore.Close(); err != nil {
			core.LogWarn("failed to close the pipeline cache store: %s", err)
		}
	}
	core.LogInfo("render system shut down: %s", rs.Metrics)
	return rs.backend.Shutdown()
}
