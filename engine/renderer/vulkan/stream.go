package vulkan

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipelinecache"
	"github.com/spaghettifunk/prism/engine/renderer/statecache"
	"github.com/spaghettifunk/prism/engine/renderer/transition"
)

var errNotBound = errors.New("nothing bound")

type op func(cmd vk.CommandBuffer)

/**
 * @brief A command stream over a primary command buffer. Render passes
 * cannot be begun inside a secondary command buffer, so a secondary stream
 * keeps its commands as a list which the primary replays.
 */
type Stream struct {
	backend   *Backend
	secondary bool
	cb        *VulkanCommandBuffer
	recording bool

	ops   []op
	bound map[statecache.Key]interface{}
}

func (s *Stream) context() *VulkanContext {
	return s.backend.context
}

func (s *Stream) Begin() error {
	if s.recording {
		return fmt.Errorf("stream already recording: %w", core.ErrInvalidCommandBuffer)
	}
	s.release()
	s.ops = s.ops[:0]
	for k := range s.bound {
		delete(s.bound, k)
	}
	if !s.secondary {
		cb, err := NewVulkanCommandBuffer(s.context(), s.context().Device.CommandPool, true)
		if err != nil {
			return err
		}
		if err := cb.Begin(true, false, false); err != nil {
			cb.Free(s.context(), s.context().Device.CommandPool)
			return err
		}
		s.cb = cb
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
	return s.cb.End()
}

// release frees a command buffer which was ended but never submitted.
func (s *Stream) release() {
	if s.cb != nil {
		s.cb.Free(s.context(), s.context().Device.CommandPool)
		s.cb = nil
	}
}

func (s *Stream) emit(fn op) error {
	if !s.recording {
		return core.ErrNotRecording
	}
	if s.secondary {
		s.ops = append(s.ops, fn)
		return nil
	}
	fn(s.cb.Handle)
	return nil
}

func (s *Stream) RecordBarriers(barriers []transition.Barrier) error {
	var buffers []vk.BufferMemoryBarrier
	var images []vk.ImageMemoryBarrier
	var srcStages, dstStages vk.PipelineStageFlags
	queue := uint32(s.context().Device.QueueIndex)

	for _, b := range barriers {
		before, after := b.Before, b.After
		if b.Kind == transition.BarrierUAV {
			before, after = metadata.ResourceStateUnorderedAccess, metadata.ResourceStateUnorderedAccess
		}
		from, to := accessFor(before), accessFor(after)
		srcStages |= from.stages
		dstStages |= to.stages

		switch native := b.Resource.Native.(type) {
		case *VulkanBuffer:
			buffers = append(buffers, vk.BufferMemoryBarrier{
				SType:               vk.StructureTypeBufferMemoryBarrier,
				SrcAccessMask:       from.access,
				DstAccessMask:       to.access,
				SrcQueueFamilyIndex: queue,
				DstQueueFamilyIndex: queue,
				Buffer:              native.Handle,
				Offset:              0,
				Size:                vk.DeviceSize(native.Size),
			})
		case *VulkanImage:
			images = append(images, vk.ImageMemoryBarrier{
				SType:               vk.StructureTypeImageMemoryBarrier,
				SrcAccessMask:       from.access,
				DstAccessMask:       to.access,
				OldLayout:           from.layout,
				NewLayout:           to.layout,
				SrcQueueFamilyIndex: queue,
				DstQueueFamilyIndex: queue,
				Image:               native.Handle,
				SubresourceRange:    native.subresourceRange(),
			})
		default:
			return fmt.Errorf("barrier on %s: %w", b.Resource, core.ErrInvalidHandle)
		}
	}
	if len(buffers) == 0 && len(images) == 0 {
		return nil
	}
	return s.emit(func(cmd vk.CommandBuffer) {
		vk.CmdPipelineBarrier(cmd, srcStages, dstStages, 0,
			0, nil,
			uint32(len(buffers)), buffers,
			uint32(len(images)), images)
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

func buffer(object interface{}) *VulkanBuffer {
	if res, ok := object.(*metadata.GPUResource); ok {
		if native, ok := res.Native.(*VulkanBuffer); ok {
			return native
		}
	}
	return nil
}

func image(object interface{}) *VulkanImage {
	if res, ok := object.(*metadata.GPUResource); ok {
		if native, ok := res.Native.(*VulkanImage); ok {
			return native
		}
	}
	return nil
}

type vertexBinding struct {
	slot   uint32
	buffer vk.Buffer
}

// drawState is a snapshot of the bindings a draw reads, taken when the draw
// is recorded so that later binds do not leak into replayed secondary commands.
type drawState struct {
	pipeline    *VulkanPipeline
	flipped     bool
	renderpass  *VulkanRenderpass
	framebuffer *VulkanFramebuffer
	vertices    []vertexBinding
	index       vk.Buffer
}

func (s *Stream) boundPipeline() (*VulkanPipeline, *renderer.PipelineState, error) {
	ps, ok := s.bound[statecache.Key{Category: statecache.CategoryPipeline}].(*renderer.PipelineState)
	if !ok {
		return nil, nil, fmt.Errorf("pipeline: %w", errNotBound)
	}
	p, ok := ps.Native().(*pipeline)
	if !ok {
		return nil, nil, core.ErrInvalidHandle
	}
	native := p.native[ps.Permutation]
	if native == nil {
		return nil, nil, fmt.Errorf("%s is not compiled for %s: %w", ps.Name, ps.Permutation, core.ErrNoNativePipeline)
	}
	return native, ps, nil
}

func (s *Stream) snapshot() (*drawState, error) {
	native, ps, err := s.boundPipeline()
	if err != nil {
		return nil, err
	}
	if native.BindPoint != vk.PipelineBindPointGraphics {
		return nil, fmt.Errorf("%s is not a graphics pipeline: %w", ps.Name, core.ErrInvalidDescriptor)
	}
	target := image(s.bound[statecache.Key{Category: statecache.CategoryRenderTarget}])
	if target == nil {
		return nil, fmt.Errorf("render target: %w", errNotBound)
	}
	if target.Format != ps.Descriptor.ColorFormats[0] {
		return nil, fmt.Errorf("%s renders to %v, bound target is %v: %w", ps.Name, ps.Descriptor.ColorFormats[0], target.Format, core.ErrInvalidDescriptor)
	}

	st := &drawState{
		pipeline: native,
		flipped:  ps.Permutation == pipelinecache.PermutationFlippedYPosition,
	}
	key := renderpassKey{color: target.vkFormat(), depth: vk.FormatUndefined}
	var depth *VulkanImage
	if ps.Descriptor.DepthFormat != gputypes.TextureFormatUndefined {
		res, ok := s.bound[statecache.Key{Category: statecache.CategoryDepthTarget}].(*metadata.GPUResource)
		if ok {
			depth = image(res)
		}
		if depth == nil {
			return nil, fmt.Errorf("%s needs a depth target: %w", ps.Name, errNotBound)
		}
		key.depth = depth.vkFormat()
		key.depthRead = res.EffectiveState() == metadata.ResourceStateDepthRead
	}

	if st.renderpass, err = s.context().Renderpass(key); err != nil {
		return nil, err
	}
	if st.framebuffer, err = s.context().Framebuffer(st.renderpass, target, depth); err != nil {
		return nil, err
	}

	for key, object := range s.bound {
		if key.Category == statecache.CategoryVertexBuffer {
			if buf := buffer(object); buf != nil {
				st.vertices = append(st.vertices, vertexBinding{slot: key.Slot, buffer: buf.Handle})
			}
		}
	}
	sort.Slice(st.vertices, func(i, j int) bool { return st.vertices[i].slot < st.vertices[j].slot })
	if buf := buffer(s.bound[statecache.Key{Category: statecache.CategoryIndexBuffer}]); buf != nil {
		st.index = buf.Handle
	}
	return st, nil
}

// viewport covers the whole framebuffer. The flipped permutation uses a
// negative height so that Y points up.
func (st *drawState) viewport() vk.Viewport {
	w, h := float32(st.framebuffer.Width), float32(st.framebuffer.Height)
	if st.flipped {
		return vk.Viewport{X: 0, Y: h, Width: w, Height: -h, MinDepth: 0, MaxDepth: 1}
	}
	return vk.Viewport{X: 0, Y: 0, Width: w, Height: h, MinDepth: 0, MaxDepth: 1}
}

func (st *drawState) begin(cmd vk.CommandBuffer) {
	st.renderpass.RenderpassBegin(cmd, st.framebuffer, nil)
	st.pipeline.Bind(cmd)
	vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{st.viewport()})
	vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{Width: st.framebuffer.Width, Height: st.framebuffer.Height},
	}})
	for _, v := range st.vertices {
		vk.CmdBindVertexBuffers(cmd, v.slot, 1, []vk.Buffer{v.buffer}, []vk.DeviceSize{0})
	}
	if st.index != nil {
		vk.CmdBindIndexBuffer(cmd, st.index, 0, vk.IndexTypeUint32)
	}
}

func (s *Stream) draw(fn op) error {
	st, err := s.snapshot()
	if err != nil {
		return err
	}
	return s.emit(func(cmd vk.CommandBuffer) {
		st.begin(cmd)
		fn(cmd)
		st.renderpass.RenderpassEnd(cmd)
	})
}

func (s *Stream) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	return s.draw(func(cmd vk.CommandBuffer) {
		vk.CmdDraw(cmd, vertexCount, instanceCount, firstVertex, firstInstance)
	})
}

func (s *Stream) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error {
	return s.draw(func(cmd vk.CommandBuffer) {
		vk.CmdDrawIndexed(cmd, indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
	})
}

// drawIndirectStride is the size of VkDrawIndirectCommand.
const drawIndirectStride = 16

func (s *Stream) DrawIndirect(args *metadata.GPUResource, offset uint64) error {
	buf := buffer(args)
	if buf == nil {
		return core.ErrInvalidHandle
	}
	if offset+drawIndirectStride > buf.Size {
		return fmt.Errorf("indirect arguments at %d in %s: %w", offset, args, core.ErrOutOfBounds)
	}
	return s.draw(func(cmd vk.CommandBuffer) {
		vk.CmdDrawIndirect(cmd, buf.Handle, vk.DeviceSize(offset), 1, drawIndirectStride)
	})
}

func (s *Stream) Dispatch(x, y, z uint32) error {
	native, ps, err := s.boundPipeline()
	if err != nil {
		return err
	}
	if native.BindPoint != vk.PipelineBindPointCompute {
		return fmt.Errorf("%s is not a compute pipeline: %w", ps.Name, core.ErrInvalidDescriptor)
	}
	return s.emit(func(cmd vk.CommandBuffer) {
		native.Bind(cmd)
		vk.CmdDispatch(cmd, x, y, z)
	})
}

func (s *Stream) CopyBuffer(src, dst *metadata.GPUResource, srcOffset, dstOffset, size uint64) error {
	from, to := buffer(src), buffer(dst)
	if from == nil || to == nil {
		return core.ErrInvalidHandle
	}
	region := vk.BufferCopy{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}
	return s.emit(func(cmd vk.CommandBuffer) {
		vk.CmdCopyBuffer(cmd, from.Handle, to.Handle, 1, []vk.BufferCopy{region})
	})
}

func (s *Stream) CopyTexture(src, dst *metadata.GPUResource) error {
	from, to := image(src), image(dst)
	if from == nil || to == nil {
		return core.ErrInvalidHandle
	}
	regions := make([]vk.ImageCopy, 0, max(from.MipLevels, 1))
	for level := uint32(0); level < max(from.MipLevels, 1); level++ {
		width, height := metadata.MipExtent(from.Width, from.Height, level)
		regions = append(regions, vk.ImageCopy{
			SrcSubresource: from.subresourceLayers(level),
			SrcOffset:      vk.Offset3D{X: 0, Y: 0, Z: 0},
			DstSubresource: to.subresourceLayers(level),
			DstOffset:      vk.Offset3D{X: 0, Y: 0, Z: 0},
			Extent:         vk.Extent3D{Width: width, Height: height, Depth: 1},
		})
	}
	return s.emit(func(cmd vk.CommandBuffer) {
		vk.CmdCopyImage(cmd,
			from.Handle, accessFor(metadata.ResourceStateCopySource).layout,
			to.Handle, accessFor(metadata.ResourceStateCopyDestination).layout,
			uint32(len(regions)), regions)
	})
}

func (s *Stream) ClearRenderTarget(target *metadata.GPUResource, color [4]float64) error {
	img := image(target)
	if img == nil {
		return core.ErrInvalidHandle
	}
	rp, err := s.context().Renderpass(renderpassKey{color: img.vkFormat(), depth: vk.FormatUndefined, clear: true})
	if err != nil {
		return err
	}
	fb, err := s.context().Framebuffer(rp, img, nil)
	if err != nil {
		return err
	}
	clearColor := []float32{float32(color[0]), float32(color[1]), float32(color[2]), float32(color[3])}
	return s.emit(func(cmd vk.CommandBuffer) {
		rp.RenderpassBegin(cmd, fb, clearColor)
		rp.RenderpassEnd(cmd)
	})
}

func (s *Stream) ExecuteSecondary(secondary renderer.CommandStream) error {
	sec, ok := secondary.(*Stream)
	if !ok || !sec.secondary || sec.recording {
		return fmt.Errorf("not an ended secondary stream: %w", core.ErrInvalidCommandBuffer)
	}
	ops := append([]op(nil), sec.ops...)
	return s.emit(func(cmd vk.CommandBuffer) {
		for _, fn := range ops {
			fn(cmd)
		}
	})
}

func (s *Stream) Destroy() {
	if s.backend == nil {
		return
	}
	// An abandoned recording is dropped with the buffer.
	s.recording = false
	s.release()
	s.ops = nil
	s.backend = nil
}
