//go:build !(js && wasm)

package webgpu

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/statecache"
	"github.com/spaghettifunk/prism/engine/renderer/transition"
)

var errNotBound = errors.New("nothing bound")

type op func(enc hal.CommandEncoder)

/**
 * @brief A command stream over a hal command encoder. hal has no secondary
 * command buffers, so a secondary stream keeps its commands as a list and
 * the primary stream replays them on its own encoder.
 */
type Stream struct {
	backend   *Backend
	secondary bool
	encoder   hal.CommandEncoder
	recording bool
	cmdBuffer hal.CommandBuffer

	ops   []op
	bound map[statecache.Key]interface{}
}

func (s *Stream) Begin() error {
	if s.recording {
		return fmt.Errorf("stream already recording: %w", core.ErrInvalidCommandBuffer)
	}
	if s.cmdBuffer != nil {
		s.backend.device.FreeCommandBuffer(s.cmdBuffer)
		s.cmdBuffer = nil
	}
	s.ops = s.ops[:0]
	for k := range s.bound {
		delete(s.bound, k)
	}
	if !s.secondary {
		if err := s.encoder.BeginEncoding("prism"); err != nil {
			return err
		}
	}
	s.recording = true
	return nil
}

func (s *Stream) End() error {
	if !s.recording {
		return core.ErrNotRecording
	}
	s.recording = false
	if s.secondary {
		return nil
	}
	cb, err := s.encoder.EndEncoding()
	if err != nil {
		return err
	}
	s.cmdBuffer = cb
	return nil
}

func (s *Stream) emit(fn op) error {
	if !s.recording {
		return core.ErrNotRecording
	}
	if s.secondary {
		s.ops = append(s.ops, fn)
		return nil
	}
	fn(s.encoder)
	return nil
}

func (s *Stream) RecordBarriers(barriers []transition.Barrier) error {
	var buffers []hal.BufferBarrier
	var textures []hal.TextureBarrier
	for _, b := range barriers {
		before, after := b.Before, b.After
		if b.Kind == transition.BarrierUAV {
			before, after = metadata.ResourceStateUnorderedAccess, metadata.ResourceStateUnorderedAccess
		}
		switch native := b.Resource.Native.(type) {
		case *bufferResource:
			buffers = append(buffers, hal.BufferBarrier{
				Buffer: native.buffer,
				Usage: hal.BufferUsageTransition{
					OldUsage: bufferStateUsage(before),
					NewUsage: bufferStateUsage(after),
				},
			})
		case *textureResource:
			textures = append(textures, hal.TextureBarrier{
				Texture: native.texture,
				Range:   hal.TextureRange{Aspect: native.aspect, MipLevelCount: native.mips, ArrayLayerCount: 1},
				Usage: hal.TextureUsageTransition{
					OldUsage: textureStateUsage(before),
					NewUsage: textureStateUsage(after),
				},
			})
		default:
			return fmt.Errorf("barrier on %s: %w", b.Resource, core.ErrInvalidHandle)
		}
	}
	return s.emit(func(enc hal.CommandEncoder) {
		if len(buffers) > 0 {
			enc.TransitionBuffers(buffers)
		}
		if len(textures) > 0 {
			enc.TransitionTextures(textures)
		}
	})
}

func (s *Stream) BindNative(key statecache.Key, object interface{}) error {
	if object == nil {
		delete(s.bound, key)
		return nil
	}
	s.bound[key] = object
	return nil
}

func buffer(object interface{}) hal.Buffer {
	if res, ok := object.(*metadata.GPUResource); ok {
		if native, ok := res.Native.(*bufferResource); ok {
			return native.buffer
		}
	}
	return nil
}

func texture(object interface{}) *textureResource {
	if res, ok := object.(*metadata.GPUResource); ok {
		if native, ok := res.Native.(*textureResource); ok {
			return native
		}
	}
	return nil
}

type vertexBinding struct {
	slot   uint32
	buffer hal.Buffer
}

// drawState is a snapshot of the bindings a draw reads, taken when the draw
// is recorded so that later binds do not leak into replayed secondary commands.
type drawState struct {
	pipeline     hal.RenderPipeline
	target       *textureResource
	depth        *textureResource
	depthRead    bool
	vertices     []vertexBinding
	index        hal.Buffer
	stencilRef   uint32
	blendColor   *gputypes.Color
	hasStencilOp bool
}

func (s *Stream) boundPipeline() (*pipeline, *renderer.PipelineState, error) {
	ps, ok := s.bound[statecache.Key{Category: statecache.CategoryPipeline}].(*renderer.PipelineState)
	if !ok {
		return nil, nil, fmt.Errorf("pipeline: %w", errNotBound)
	}
	p, ok := ps.Native().(*pipeline)
	if !ok {
		return nil, nil, core.ErrInvalidHandle
	}
	return p, ps, nil
}

func (s *Stream) snapshot() (*drawState, error) {
	p, ps, err := s.boundPipeline()
	if err != nil {
		return nil, err
	}
	native := p.render[ps.Permutation]
	if native == nil {
		return nil, fmt.Errorf("%s is not compiled for %s: %w", ps.Name, ps.Permutation, core.ErrNoNativePipeline)
	}
	st := &drawState{pipeline: native}
	st.target = texture(s.bound[statecache.Key{Category: statecache.CategoryRenderTarget}])
	if st.target == nil {
		return nil, fmt.Errorf("render target: %w", errNotBound)
	}
	if res, ok := s.bound[statecache.Key{Category: statecache.CategoryDepthTarget}].(*metadata.GPUResource); ok {
		st.depth = texture(res)
		st.depthRead = res.EffectiveState() == metadata.ResourceStateDepthRead
	}
	for key, object := range s.bound {
		if key.Category == statecache.CategoryVertexBuffer {
			if buf := buffer(object); buf != nil {
				st.vertices = append(st.vertices, vertexBinding{slot: key.Slot, buffer: buf})
			}
		}
	}
	sort.Slice(st.vertices, func(i, j int) bool { return st.vertices[i].slot < st.vertices[j].slot })
	st.index = buffer(s.bound[statecache.Key{Category: statecache.CategoryIndexBuffer}])

	if ds, ok := ps.DepthStencilState().(*depthStencilState); ok {
		st.stencilRef = ds.reference
		st.hasStencilOp = ps.Descriptor.DepthStencil.StencilTestEnabled
	}
	if bs, ok := ps.BlendState().(*blendState); ok && bs.usesConstant {
		c := bs.constant
		st.blendColor = &c
	}
	return st, nil
}

func (st *drawState) begin(enc hal.CommandEncoder) hal.RenderPassEncoder {
	desc := &hal.RenderPassDescriptor{
		Label: "prism draw",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:    st.target.target(),
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		}},
	}
	if st.depth != nil {
		desc.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:            st.depth.target(),
			DepthLoadOp:     gputypes.LoadOpLoad,
			DepthStoreOp:    gputypes.StoreOpStore,
			DepthReadOnly:   st.depthRead,
			StencilLoadOp:   gputypes.LoadOpLoad,
			StencilStoreOp:  gputypes.StoreOpStore,
			StencilReadOnly: st.depthRead,
		}
	}
	pass := enc.BeginRenderPass(desc)
	pass.SetPipeline(st.pipeline)
	for _, v := range st.vertices {
		pass.SetVertexBuffer(v.slot, v.buffer, 0)
	}
	if st.index != nil {
		pass.SetIndexBuffer(st.index, gputypes.IndexFormatUint32, 0)
	}
	if st.hasStencilOp {
		pass.SetStencilReference(st.stencilRef)
	}
	if st.blendColor != nil {
		pass.SetBlendConstant(st.blendColor)
	}
	return pass
}

func (s *Stream) draw(fn func(pass hal.RenderPassEncoder)) error {
	st, err := s.snapshot()
	if err != nil {
		return err
	}
	return s.emit(func(enc hal.CommandEncoder) {
		pass := st.begin(enc)
		fn(pass)
		pass.End()
	})
}

func (s *Stream) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	return s.draw(func(pass hal.RenderPassEncoder) {
		pass.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	})
}

func (s *Stream) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error {
	return s.draw(func(pass hal.RenderPassEncoder) {
		pass.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
	})
}

func (s *Stream) DrawIndirect(args *metadata.GPUResource, offset uint64) error {
	buf := buffer(args)
	if buf == nil {
		return core.ErrInvalidHandle
	}
	return s.draw(func(pass hal.RenderPassEncoder) {
		pass.DrawIndirect(buf, offset)
	})
}

func (s *Stream) Dispatch(x, y, z uint32) error {
	p, ps, err := s.boundPipeline()
	if err != nil {
		return err
	}
	if p.compute == nil {
		return fmt.Errorf("%s is not compiled: %w", ps.Name, core.ErrNoNativePipeline)
	}
	native := p.compute
	return s.emit(func(enc hal.CommandEncoder) {
		pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: "prism dispatch"})
		pass.SetPipeline(native)
		pass.Dispatch(x, y, z)
		pass.End()
	})
}

func (s *Stream) CopyBuffer(src, dst *metadata.GPUResource, srcOffset, dstOffset, size uint64) error {
	from, to := buffer(src), buffer(dst)
	if from == nil || to == nil {
		return core.ErrInvalidHandle
	}
	return s.emit(func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(from, to, []hal.BufferCopy{{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size}})
	})
}

func (s *Stream) CopyTexture(src, dst *metadata.GPUResource) error {
	from, to := texture(src), texture(dst)
	if from == nil || to == nil {
		return core.ErrInvalidHandle
	}
	regions := make([]hal.TextureCopy, 0, from.mips)
	for level := uint32(0); level < from.mips; level++ {
		width, height := metadata.MipExtent(src.Width, src.Height, level)
		regions = append(regions, hal.TextureCopy{
			SrcBase: hal.ImageCopyTexture{Texture: from.texture, MipLevel: level, Aspect: from.aspect},
			DstBase: hal.ImageCopyTexture{Texture: to.texture, MipLevel: level, Aspect: to.aspect},
			Size:    hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		})
	}
	return s.emit(func(enc hal.CommandEncoder) {
		enc.CopyTextureToTexture(from.texture, to.texture, regions)
	})
}

func (s *Stream) ClearRenderTarget(target *metadata.GPUResource, color [4]float64) error {
	tex := texture(target)
	if tex == nil {
		return core.ErrInvalidHandle
	}
	return s.emit(func(enc hal.CommandEncoder) {
		pass := enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: "prism clear",
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:       tex.target(),
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: gputypes.Color{R: color[0], G: color[1], B: color[2], A: color[3]},
			}},
		})
		pass.End()
	})
}

func (s *Stream) ExecuteSecondary(secondary renderer.CommandStream) error {
	sec, ok := secondary.(*Stream)
	if !ok || !sec.secondary || sec.recording {
		return fmt.Errorf("not an ended secondary stream: %w", core.ErrInvalidCommandBuffer)
	}
	ops := append([]op(nil), sec.ops...)
	return s.emit(func(enc hal.CommandEncoder) {
		for _, fn := range ops {
			fn(enc)
		}
	})
}

func (s *Stream) Destroy() {
	if s.encoder == nil {
		return
	}
	if s.recording {
		s.encoder.DiscardEncoding()
		s.recording = false
	}
	if s.cmdBuffer != nil {
		s.backend.device.FreeCommandBuffer(s.cmdBuffer)
		s.cmdBuffer = nil
	}
	s.encoder.Destroy()
	s.encoder = nil
}
