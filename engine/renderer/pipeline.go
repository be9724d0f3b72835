package renderer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipelinecache"
	"github.com/spaghettifunk/prism/engine/renderer/pool"
)

/**
 * @brief A compiled pipeline. Its blend, depth-stencil and rasterizer states
 * and its binding layout are pooled and may be shared with other pipelines.
 */
type PipelineState struct {
	Name        string
	Descriptor  metadata.PipelineDescriptor
	Permutation pipelinecache.Permutation
	/** @brief Set when the native pipeline was restored from a cached binary. */
	FromCache bool

	blend        *pool.State[metadata.BlendDescriptor]
	depthStencil *pool.State[metadata.DepthStencilDescriptor]
	rasterizer   *pool.State[metadata.RasterizerDescriptor]
	layout       *pool.State[metadata.BindingLayout]

	native   interface{}
	released bool
}

func (p *PipelineState) Native() interface{} {
	return p.native
}

func (p *PipelineState) Released() bool {
	return p.released
}

// Native handles of the pooled states. Compute pipelines only carry a layout.
func (p *PipelineState) BlendState() interface{}        { return stateNative(p.blend) }
func (p *PipelineState) DepthStencilState() interface{} { return stateNative(p.depthStencil) }
func (p *PipelineState) RasterizerState() interface{}   { return stateNative(p.rasterizer) }
func (p *PipelineState) BindingLayout() interface{}     { return stateNative(p.layout) }

func stateNative[D any](s *pool.State[D]) interface{} {
	if s == nil {
		return nil
	}
	return s.Native
}

// CreatePipelineState builds a pipeline, sharing pooled states with existing
// pipelines, and restores it from the pipeline cache when a binary for this
// device is stored.
func (rs *RenderSystem) CreatePipelineState(desc metadata.PipelineDescriptor) (*PipelineState, error) {
	if desc.Name == "" {
		return nil, core.Misuse(core.ErrInvalidDescriptor, "pipeline without a name")
	}
	desc.Blend = desc.Blend.Normalized()
	desc.DepthStencil = desc.DepthStencil.Normalized()
	desc.Rasterizer = desc.Rasterizer.Normalized()

	p := &PipelineState{
		Name:       desc.Name,
		Descriptor: desc,
	}
	if desc.FlipYPosition {
		p.Permutation = pipelinecache.PermutationFlippedYPosition
	}

	err := rs.locks.SafeCall(StateManagement, func() error {
		var err error
		if desc.Kind == metadata.PipelineKindGraphics {
			if p.blend, err = rs.blendStates.CreateOrShare(desc.Blend); err != nil {
				return err
			}
			if p.depthStencil, err = rs.depthStencilStates.CreateOrShare(desc.DepthStencil); err != nil {
				return err
			}
			if p.rasterizer, err = rs.rasterizerStates.CreateOrShare(desc.Rasterizer); err != nil {
				return err
			}
		}
		p.layout, err = rs.bindingLayouts.CreateOrShare(desc.Layout)
		return err
	})
	if err != nil {
		rs.releasePooledStates(p)
		return nil, err
	}

	build := &PipelineBuild{
		Descriptor:   &p.Descriptor,
		Blend:        p.BlendState(),
		DepthStencil: p.DepthStencilState(),
		Rasterizer:   p.RasterizerState(),
		Layout:       p.BindingLayout(),
	}
	err = rs.locks.SafeCall(PipelineManagement, func() error {
		native, err := rs.backend.CreatePipeline(build)
		if err != nil {
			return err
		}
		p.native = native
		if err := rs.loadOrCompile(p); err != nil {
			rs.backend.DestroyPipeline(native)
			p.native = nil
			return err
		}
		return nil
	})
	if err != nil {
		core.LogError("failed to create pipeline %s: %s", desc.Name, err)
		rs.releasePooledStates(p)
		return nil, err
	}
	core.LogDebug("created pipeline %s (%s, cached=%t)", p.Name, p.Permutation, p.FromCache)
	return p, nil
}

// Must hold PipelineManagement.
func (rs *RenderSystem) loadOrCompile(p *PipelineState) error {
	name := pipelineCacheName(&p.Descriptor)

	if rs.pipelineStore != nil {
		blob, err := rs.pipelineStore.Load(name)
		if err == nil {
			err = blob.LoadInto(rs.backend, p.native, p.Permutation)
		}
		if err == nil {
			p.FromCache = true
			rs.Metrics.CacheHits.Add(1)
			return nil
		}
		if !errors.Is(err, core.ErrCacheMiss) {
			core.LogWarn("pipeline cache for %s unusable, recompiling: %s", p.Name, err)
		}
	}

	rs.Metrics.CacheMisses.Add(1)
	if err := rs.backend.CompilePipeline(p.native, p.Permutation); err != nil {
		return err
	}
	if rs.pipelineStore == nil {
		return nil
	}

	tag, payload, err := rs.backend.PipelineBinary(p.native, p.Permutation)
	if err != nil || len(payload) == 0 {
		if err != nil && !errors.Is(err, core.ErrNoNativePipeline) {
			core.LogWarn("no binary for pipeline %s: %s", p.Name, err)
		}
		return nil
	}
	blob, err := rs.pipelineStore.Load(name)
	if err != nil {
		blob = pipelinecache.New()
	}
	if err := blob.Store(p.Permutation, tag, payload); err != nil {
		return err
	}
	if err := rs.pipelineStore.Save(name, blob); err != nil {
		core.LogWarn("failed to persist pipeline cache for %s: %s", p.Name, err)
	}
	return nil
}

// pipelineCacheName identifies everything a native pipeline binary is built
// from. The store further scopes it to the device identity.
func pipelineCacheName(desc *metadata.PipelineDescriptor) string {
	var b bytes.Buffer
	b.Write(desc.Shader.VertexSource)
	b.WriteByte(0)
	b.Write(desc.Shader.FragmentSource)
	b.WriteByte(0)
	b.Write(desc.Shader.ComputeSource)
	fmt.Fprintf(&b, "|%d|%+v|%+v|%+v|%s|%v|%v|%v",
		desc.Kind, desc.Blend, desc.DepthStencil, desc.Rasterizer, desc.Layout,
		desc.Topology, desc.ColorFormats, desc.DepthFormat)
	return desc.Name + "-" + uuid.NewSHA1(uuid.NameSpaceURL, b.Bytes()).String()
}

// ReleasePipelineState destroys the native pipeline and drops its references
// to the pooled states.
func (rs *RenderSystem) ReleasePipelineState(p *PipelineState) error {
	if p == nil || p.released {
		return core.Misuse(core.ErrInvalidHandle, "release of a released pipeline")
	}
	p.released = true
	rs.Events.Fire(core.EVENT_CODE_STATE_RELEASED, rs, core.EventContext{Payload: p})

	_ = rs.locks.SafeCall(PipelineManagement, func() error {
		rs.backend.DestroyPipeline(p.native)
		p.native = nil
		return nil
	})
	return rs.releasePooledStates(p)
}

func (rs *RenderSystem) releasePooledStates(p *PipelineState) error {
	var errs []error
	_ = rs.locks.SafeCall(StateManagement, func() error {
		if p.blend != nil {
			errs = append(errs, rs.blendStates.Release(p.blend))
			p.blend = nil
		}
		if p.depthStencil != nil {
			errs = append(errs, rs.depthStencilStates.Release(p.depthStencil))
			p.depthStencil = nil
		}
		if p.rasterizer != nil {
			errs = append(errs, rs.rasterizerStates.Release(p.rasterizer))
			p.rasterizer = nil
		}
		if p.layout != nil {
			errs = append(errs, rs.bindingLayouts.Release(p.layout))
			p.layout = nil
		}
		return nil
	})
	return errors.Join(errs...)
}
