//go:build !(js && wasm)

// Package webgpu implements the renderer backend on top of the wgpu hardware
// abstraction layer. One backend value drives a single hal variant (DX12,
// Metal, GLES or the noop device); the hal implementations themselves are
// linked in by blank-importing the matching package under
// github.com/gogpu/wgpu/hal.
package webgpu

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipelinecache"
	"github.com/spaghettifunk/prism/engine/renderer/statecache"
)

var variants = map[renderer.RendererType]gputypes.Backend{
	renderer.DirectX:  gputypes.BackendDX12,
	renderer.Metal:    gputypes.BackendMetal,
	renderer.OpenGL:   gputypes.BackendGL,
	renderer.Software: gputypes.BackendEmpty,
}

func init() {
	for t, variant := range variants {
		variant := variant
		renderer.RegisterBackend(t, func() renderer.RendererBackend {
			return New(variant)
		})
	}
}

type bufferResource struct {
	buffer hal.Buffer
}

type textureResource struct {
	texture hal.Texture
	view    hal.TextureView
	// mip 0 only, nil when the texture has a single level
	attachment hal.TextureView
	aspect     gputypes.TextureAspect
	mips       uint32
}

// target is the view render passes draw into.
func (t *textureResource) target() hal.TextureView {
	if t.attachment != nil {
		return t.attachment
	}
	return t.view
}

type inflight struct {
	index   uint64
	buffers []hal.CommandBuffer
}

type Backend struct {
	variant gputypes.Backend

	mu       sync.Mutex
	instance hal.Instance
	adapter  hal.Adapter
	info     gputypes.AdapterInfo
	device   hal.Device
	queue    hal.Queue
	limits   gputypes.Limits

	inflight []inflight
}

func New(variant gputypes.Backend) *Backend {
	return &Backend{variant: variant}
}

func (b *Backend) Initialize(cfg *config.Config) error {
	api, ok := hal.GetBackend(b.variant)
	if !ok {
		return fmt.Errorf("hal backend %s is not linked in: %w", b.variant, core.ErrBackendNotAvailable)
	}

	flags := gputypes.InstanceFlagsNone
	if cfg.Debug.Validation {
		flags = gputypes.InstanceFlagsDebug | gputypes.InstanceFlagsValidation
	}
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{
		Backends: gputypes.Backends(1) << b.variant,
		Flags:    flags,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s instance: %w", b.variant, err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return fmt.Errorf("no %s adapter found: %w", b.variant, core.ErrBackendNotAvailable)
	}
	exposed := adapters[0]
	open, err := exposed.Adapter.Open(0, exposed.Capabilities.Limits)
	if err != nil {
		exposed.Adapter.Destroy()
		instance.Destroy()
		return fmt.Errorf("failed to open %s: %w", exposed.Info.Name, err)
	}

	b.instance = instance
	b.adapter = exposed.Adapter
	b.info = exposed.Info
	b.limits = exposed.Capabilities.Limits
	b.device = open.Device
	b.queue = open.Queue

	core.LogInfo("opened %s adapter %s (%s)", b.info.Backend, b.info.Name, b.info.Driver)
	return nil
}

func (b *Backend) Shutdown() error {
	if b.device == nil {
		return nil
	}
	err := b.device.WaitIdle()
	b.retire(^uint64(0))
	b.device.Destroy()
	b.adapter.Destroy()
	b.instance.Destroy()
	b.device, b.queue, b.adapter, b.instance = nil, nil, nil, nil
	return err
}

// Resized is a no-op, render targets are owned by the caller.
func (b *Backend) Resized(width, height uint32) error {
	return nil
}

func (b *Backend) DeviceIdentity() string {
	return fmt.Sprintf("%s/%s/%s/%s", b.info.Backend, b.info.Name, b.info.Driver, b.info.DriverInfo)
}

func (b *Backend) Limits() statecache.Limits {
	return statecache.Limits{
		TextureUnits: int(b.limits.MaxSampledTexturesPerShaderStage),
		BufferSlots:  int(b.limits.MaxUniformBuffersPerShaderStage),
		SamplerUnits: int(b.limits.MaxSamplersPerShaderStage),
	}
}

func (b *Backend) AllocateNativeResource(res *metadata.GPUResource) (interface{}, error) {
	switch res.Class {
	case metadata.ResourceClassBuffer:
		buf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
			Label: res.Label,
			Size:  res.Size,
			Usage: bufferUsage(res.BindFlags),
		})
		if err != nil {
			return nil, err
		}
		return &bufferResource{buffer: buf}, nil

	case metadata.ResourceClassTexture:
		tex, err := b.device.CreateTexture(&hal.TextureDescriptor{
			Label:         res.Label,
			Size:          hal.Extent3D{Width: res.Width, Height: res.Height, DepthOrArrayLayers: 1},
			MipLevelCount: res.MipLevelCount,
			SampleCount:   res.SampleCount,
			Dimension:     gputypes.TextureDimension2D,
			Format:        res.Format,
			Usage:         textureUsage(res.BindFlags),
		})
		if err != nil {
			return nil, err
		}
		aspect := textureAspect(res.Format)
		view, err := b.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
			Label:           res.Label,
			Format:          res.Format,
			Dimension:       gputypes.TextureViewDimension2D,
			Aspect:          aspect,
			MipLevelCount:   res.MipLevelCount,
			ArrayLayerCount: 1,
		})
		if err != nil {
			b.device.DestroyTexture(tex)
			return nil, err
		}
		native := &textureResource{texture: tex, view: view, aspect: aspect, mips: res.MipLevelCount}
		if res.MipLevelCount > 1 && res.BindFlags&(metadata.BindColorAttachment|metadata.BindDepthStencilAttachment) != 0 {
			native.attachment, err = b.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
				Label:           res.Label + " attachment",
				Format:          res.Format,
				Dimension:       gputypes.TextureViewDimension2D,
				Aspect:          aspect,
				MipLevelCount:   1,
				ArrayLayerCount: 1,
			})
			if err != nil {
				b.device.DestroyTextureView(view)
				b.device.DestroyTexture(tex)
				return nil, err
			}
		}
		return native, nil
	}
	return nil, fmt.Errorf("unknown resource class %d: %w", res.Class, core.ErrInvalidDescriptor)
}

func (b *Backend) ReleaseNativeResource(res *metadata.GPUResource) {
	switch native := res.Native.(type) {
	case *bufferResource:
		b.device.DestroyBuffer(native.buffer)
	case *textureResource:
		if native.attachment != nil {
			b.device.DestroyTextureView(native.attachment)
		}
		b.device.DestroyTextureView(native.view)
		b.device.DestroyTexture(native.texture)
	}
}

func (b *Backend) CreateBlendState(desc metadata.BlendDescriptor) (interface{}, error) {
	return translateBlend(desc), nil
}

func (b *Backend) CreateDepthStencilState(desc metadata.DepthStencilDescriptor) (interface{}, error) {
	return translateDepthStencil(desc), nil
}

func (b *Backend) CreateRasterizerState(desc metadata.RasterizerDescriptor) (interface{}, error) {
	if desc.PolygonMode != metadata.PolygonModeFill {
		return nil, fmt.Errorf("polygon mode %d: %w", desc.PolygonMode, core.ErrUnsupportedUsage)
	}
	return translateRasterizer(desc), nil
}

func (b *Backend) CreateBindingLayout(layout metadata.BindingLayout) (interface{}, error) {
	entries := layout.BindGroupLayoutEntries()
	native, err := b.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   layout.String(),
		Entries: entries,
	})
	if err != nil {
		return nil, err
	}
	return &bindGroupLayout{layout: native, entries: len(entries)}, nil
}

// DestroyState releases what a pooled state owns on the device. Only binding
// layouts hold a device object.
func (b *Backend) DestroyState(native interface{}) {
	if l, ok := native.(*bindGroupLayout); ok {
		b.device.DestroyBindGroupLayout(l.layout)
	}
}

func (b *Backend) CreatePipeline(build *renderer.PipelineBuild) (interface{}, error) {
	p := &pipeline{
		desc:  *build.Descriptor,
		built: *build,
	}
	p.built.Descriptor = &p.desc
	return p, nil
}

func (b *Backend) CompilePipeline(native interface{}, permutation pipelinecache.Permutation) error {
	p, ok := native.(*pipeline)
	if !ok {
		return core.ErrInvalidHandle
	}
	return p.compile(b.device, permutation)
}

// hal does not expose driver pipeline caches.
func (b *Backend) LoadPipelineBinary(native interface{}, permutation pipelinecache.Permutation, formatTag uint32, payload []byte) error {
	return core.ErrNoNativePipeline
}

func (b *Backend) PipelineBinary(native interface{}, permutation pipelinecache.Permutation) (uint32, []byte, error) {
	return 0, nil, core.ErrNoNativePipeline
}

func (b *Backend) DestroyPipeline(native interface{}) {
	if p, ok := native.(*pipeline); ok {
		p.destroy(b.device)
	}
}

func (b *Backend) CreateCommandStream(secondary bool) (renderer.CommandStream, error) {
	s := &Stream{backend: b, secondary: secondary, bound: make(map[statecache.Key]interface{})}
	if secondary {
		return s, nil
	}
	encoder, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "prism"})
	if err != nil {
		return nil, err
	}
	s.encoder = encoder
	return s, nil
}

func (b *Backend) Submit(streams []renderer.CommandStream) (uint64, error) {
	buffers := make([]hal.CommandBuffer, 0, len(streams))
	for _, cs := range streams {
		s, ok := cs.(*Stream)
		if !ok || s.secondary || s.cmdBuffer == nil {
			return 0, fmt.Errorf("stream cannot be submitted: %w", core.ErrInvalidCommandBuffer)
		}
		buffers = append(buffers, s.cmdBuffer)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	index, err := b.queue.Submit(buffers)
	if err != nil {
		return 0, err
	}
	for _, cs := range streams {
		cs.(*Stream).cmdBuffer = nil
	}
	b.inflight = append(b.inflight, inflight{index: index, buffers: buffers})
	return index, nil
}

func (b *Backend) CompletedSubmission() uint64 {
	completed := b.queue.PollCompleted()
	b.retire(completed)
	return completed
}

// retire frees the command buffers of every submission up to completed.
func (b *Backend) retire(completed uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, f := range b.inflight {
		if f.index > completed {
			break
		}
		for _, buf := range f.buffers {
			b.device.FreeCommandBuffer(buf)
		}
		n++
	}
	b.inflight = b.inflight[n:]
}

func (b *Backend) SyncDevice(ctx context.Context, submission uint64, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		if b.CompletedSubmission() >= submission {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("submission %d: %w", submission, core.ErrNotReady)
		case <-ticker.C:
		}
	}
}
