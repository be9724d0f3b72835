// Package vulkan implements the renderer backend on top of Vulkan. The
// backend renders headless: callers own their render targets and nothing is
// presented to a surface.
package vulkan

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipelinecache"
	"github.com/spaghettifunk/prism/engine/renderer/statecache"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

func init() {
	renderer.RegisterBackend(renderer.Vulkan, func() renderer.RendererBackend {
		return New()
	})
}

// inflight is one queue submission whose fence has not been seen signaled.
type inflight struct {
	index uint64
	fence *VulkanFence
	cbs   []*VulkanCommandBuffer
}

type Backend struct {
	context *VulkanContext

	mu        sync.Mutex
	submitted uint64
	completed uint64
	inflight  []inflight
	// Reset fences ready for the next submission.
	fences []*VulkanFence

	// Pipeline cache data is only valid on a device reporting the same UUID.
	cacheUUID uuid.UUID
}

func New() *Backend {
	return &Backend{context: NewContext()}
}

func (b *Backend) Initialize(cfg *config.Config) error {
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return fmt.Errorf("vulkan loader not found (%s): %w", err, core.ErrBackendNotAvailable)
	}
	if err := vk.Init(); err != nil {
		return fmt.Errorf("failed to initialize vk (%s): %w", err, core.ErrBackendNotAvailable)
	}

	if err := b.createInstance(cfg); err != nil {
		return err
	}
	if err := DeviceCreate(b.context); err != nil {
		b.destroyInstance()
		return err
	}

	id, err := uuid.FromBytes(b.context.Device.Properties.PipelineCacheUUID[:])
	if err != nil {
		b.Shutdown()
		return err
	}
	b.cacheUUID = id
	core.LogInfo("Vulkan renderer initialized successfully.")
	return nil
}

func (b *Backend) createInstance(cfg *config.Config) error {
	vc := b.context

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(cfg.Application.Name),
		PEngineName:        VulkanSafeString("Prism Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	var extensions []string
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	debug := cfg.Debug.Validation && layerAvailable(validationLayer)
	if cfg.Debug.Validation && !debug {
		core.LogWarn("Validation requested but %s is not installed.", validationLayer)
	}
	if debug {
		layers = append(layers, validationLayer)
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
	}
	for _, name := range extensions {
		core.LogDebug("Required extension: %s", name)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if res := vk.CreateInstance(&createInfo, vc.Allocator, &vc.Instance); res != vk.Success {
		return vulkanError("vkCreateInstance", res)
	}
	if err := vk.InitInstance(vc.Instance); err != nil {
		vk.DestroyInstance(vc.Instance, vc.Allocator)
		vc.Instance = nil
		return err
	}
	core.LogInfo("Vulkan Instance created.")

	if debug {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if res := vk.CreateDebugReportCallback(vc.Instance, &debugCreateInfo, vc.Allocator, &dbg); res != vk.Success {
			core.LogWarn("vkCreateDebugReportCallback failed with %s", VulkanResultString(res))
		} else {
			vc.debugMessenger = dbg
			core.LogDebug("Vulkan debugger created.")
		}
	}
	return nil
}

// layerAvailable reports whether an instance layer is installed.
func layerAvailable(name string) bool {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return false
	}
	layers := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, layers); res != vk.Success {
		return false
	}
	for i := range layers {
		layers[i].Deref()
		if cString(layers[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

func (b *Backend) destroyInstance() {
	vc := b.context
	if vc.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(vc.Instance, vc.debugMessenger, vc.Allocator)
		vc.debugMessenger = vk.NullDebugReportCallback
	}
	if vc.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(vc.Instance, vc.Allocator)
		vc.Instance = nil
	}
}

func (b *Backend) Shutdown() error {
	vc := b.context
	if vc.Device.LogicalDevice == nil {
		return nil
	}
	var err error
	if res := vk.DeviceWaitIdle(vc.Device.LogicalDevice); res != vk.Success {
		err = vulkanError("vkDeviceWaitIdle", res)
	}

	// Destroy in the opposite order of creation.
	b.mu.Lock()
	b.retire()
	for _, f := range b.inflight {
		for _, cb := range f.cbs {
			cb.Free(vc, vc.Device.CommandPool)
		}
		f.fence.FenceDestroy(vc)
	}
	b.inflight = nil
	for _, f := range b.fences {
		f.FenceDestroy(vc)
	}
	b.fences = nil
	b.mu.Unlock()

	vc.destroyCaches()

	core.LogDebug("Destroying Vulkan device...")
	DeviceDestroy(vc)
	b.destroyInstance()
	return err
}

// Resized is a no-op, render targets are owned by the caller.
func (b *Backend) Resized(width, height uint32) error {
	return nil
}

func (b *Backend) DeviceIdentity() string {
	d := b.context.Device
	v := vk.Version(d.Properties.DriverVersion)
	return fmt.Sprintf("vulkan/%s/%s/%d.%d.%d", b.cacheUUID, d.Name, v.Major(), v.Minor(), v.Patch())
}

func (b *Backend) Limits() statecache.Limits {
	l := b.context.Device.Limits
	return statecache.Limits{
		TextureUnits: int(l.MaxPerStageDescriptorSampledImages),
		BufferSlots:  int(l.MaxPerStageDescriptorUniformBuffers),
		SamplerUnits: int(l.MaxPerStageDescriptorSamplers),
	}
}

func (b *Backend) AllocateNativeResource(res *metadata.GPUResource) (interface{}, error) {
	switch res.Class {
	case metadata.ResourceClassBuffer:
		return BufferCreate(b.context, res)
	case metadata.ResourceClassTexture:
		return ImageCreate(b.context, res)
	}
	return nil, fmt.Errorf("unknown resource class %d: %w", res.Class, core.ErrInvalidDescriptor)
}

func (b *Backend) ReleaseNativeResource(res *metadata.GPUResource) {
	switch native := res.Native.(type) {
	case *VulkanBuffer:
		native.Destroy(b.context)
	case *VulkanImage:
		b.context.forgetImage(native.attachmentView())
		native.Destroy(b.context)
	}
}

func (b *Backend) CreateBlendState(desc metadata.BlendDescriptor) (interface{}, error) {
	return translateBlend(desc), nil
}

func (b *Backend) CreateDepthStencilState(desc metadata.DepthStencilDescriptor) (interface{}, error) {
	return translateDepthStencil(desc), nil
}

func (b *Backend) CreateRasterizerState(desc metadata.RasterizerDescriptor) (interface{}, error) {
	enabled := b.context.Device.EnabledFeatures
	switch {
	case desc.SampleCount > 1:
		return nil, fmt.Errorf("%d samples: %w", desc.SampleCount, core.ErrUnsupportedUsage)
	case desc.ConservativeRaster:
		return nil, fmt.Errorf("conservative rasterization: %w", core.ErrUnsupportedUsage)
	case desc.PolygonMode != metadata.PolygonModeFill && enabled.FillModeNonSolid != vk.True:
		return nil, fmt.Errorf("polygon mode %d: %w", desc.PolygonMode, core.ErrUnsupportedUsage)
	case desc.DepthClampEnabled && enabled.DepthClamp != vk.True:
		return nil, fmt.Errorf("depth clamp: %w", core.ErrUnsupportedUsage)
	}
	return &rasterizerState{desc: desc}, nil
}

func (b *Backend) CreateBindingLayout(layout metadata.BindingLayout) (interface{}, error) {
	return DescriptorSetLayoutCreate(b.context, layout)
}

// DestroyState releases what a pooled state owns on the device. Only binding
// layouts hold a device object.
func (b *Backend) DestroyState(native interface{}) {
	if l, ok := native.(*VulkanDescriptorSetLayout); ok {
		l.Destroy(b.context)
	}
}

func (b *Backend) CreatePipeline(build *renderer.PipelineBuild) (interface{}, error) {
	desc := build.Descriptor
	if desc.Kind == metadata.PipelineKindGraphics {
		if len(desc.ColorFormats) != 1 {
			return nil, fmt.Errorf("%s has %d color targets, one is supported: %w", desc.Name, len(desc.ColorFormats), core.ErrUnsupportedUsage)
		}
		if _, ok := textureFormat(desc.ColorFormats[0]); !ok {
			return nil, fmt.Errorf("%s color format %v: %w", desc.Name, desc.ColorFormats[0], core.ErrInvalidDescriptor)
		}
		if desc.DepthFormat != gputypes.TextureFormatUndefined && !isDepthFormat(desc.DepthFormat) {
			return nil, fmt.Errorf("%s depth format %v: %w", desc.Name, desc.DepthFormat, core.ErrInvalidDescriptor)
		}
	}
	p := &pipeline{
		desc:  *desc,
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
	return b.context.locks.SafeCall(PipelineManagement, func() error {
		return p.compile(b.context, permutation, nil)
	})
}

// LoadPipelineBinary compiles the permutation through a pipeline cache seeded
// with payload. Data of another device is rejected before the driver sees it.
func (b *Backend) LoadPipelineBinary(native interface{}, permutation pipelinecache.Permutation, formatTag uint32, payload []byte) error {
	p, ok := native.(*pipeline)
	if !ok {
		return core.ErrInvalidHandle
	}
	if formatTag != PipelineCacheFormatTag {
		return fmt.Errorf("format tag %#x: %w", formatTag, core.ErrCacheMismatch)
	}
	if err := checkPipelineCacheHeader(payload, b.cacheUUID); err != nil {
		return err
	}
	return b.context.locks.SafeCall(PipelineManagement, func() error {
		return p.compile(b.context, permutation, payload)
	})
}

func (b *Backend) PipelineBinary(native interface{}, permutation pipelinecache.Permutation) (uint32, []byte, error) {
	p, ok := native.(*pipeline)
	if !ok {
		return 0, nil, core.ErrInvalidHandle
	}
	var payload []byte
	err := b.context.locks.SafeCall(PipelineManagement, func() error {
		cache := p.caches[permutation]
		if cache == nil {
			return core.ErrNoNativePipeline
		}
		var err error
		payload, err = pipelineCacheData(b.context, cache)
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	return PipelineCacheFormatTag, payload, nil
}

func (b *Backend) DestroyPipeline(native interface{}) {
	if p, ok := native.(*pipeline); ok {
		b.context.locks.SafeCall(PipelineManagement, func() error {
			p.destroy(b.context)
			return nil
		})
	}
}

func (b *Backend) CreateCommandStream(secondary bool) (renderer.CommandStream, error) {
	return &Stream{backend: b, secondary: secondary, bound: make(map[statecache.Key]interface{})}, nil
}

// fence takes a reset fence from the free list. Callers hold mu.
func (b *Backend) fence() (*VulkanFence, error) {
	if n := len(b.fences); n > 0 {
		f := b.fences[n-1]
		b.fences = b.fences[:n-1]
		return f, nil
	}
	return NewFence(b.context, false)
}

func (b *Backend) Submit(streams []renderer.CommandStream) (uint64, error) {
	vc := b.context
	cbs := make([]*VulkanCommandBuffer, 0, len(streams))
	handles := make([]vk.CommandBuffer, 0, len(streams))
	for _, cs := range streams {
		s, ok := cs.(*Stream)
		if !ok || s.secondary || s.recording || s.cb == nil {
			return 0, fmt.Errorf("stream cannot be submitted: %w", core.ErrInvalidCommandBuffer)
		}
		cbs = append(cbs, s.cb)
		handles = append(handles, s.cb.Handle)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	fence, err := b.fence()
	if err != nil {
		return 0, err
	}
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(handles)),
		PCommandBuffers:    handles,
	}
	var res vk.Result
	vc.locks.SafeCall(QueueManagement, func() error {
		res = vk.QueueSubmit(vc.Device.Queue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle)
		return nil
	})
	if res != vk.Success {
		b.fences = append(b.fences, fence)
		return 0, vulkanError("vkQueueSubmit", res)
	}

	b.submitted++
	for _, cs := range streams {
		s := cs.(*Stream)
		s.cb.UpdateSubmitted()
		s.cb = nil
	}
	b.inflight = append(b.inflight, inflight{index: b.submitted, fence: fence, cbs: cbs})
	return b.submitted, nil
}

func (b *Backend) CompletedSubmission() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retire()
	return b.completed
}

// retire polls fences in submission order and recycles everything owned by
// the submissions found complete. Callers hold mu.
func (b *Backend) retire() {
	vc := b.context
	n := 0
	for _, f := range b.inflight {
		if err := f.fence.FenceWait(vc, 0); err != nil {
			if !errors.Is(err, core.ErrNotReady) {
				core.LogError("submission %d: %s", f.index, err)
			}
			break
		}
		for _, cb := range f.cbs {
			cb.Free(vc, vc.Device.CommandPool)
		}
		if err := f.fence.FenceReset(vc); err != nil {
			core.LogWarn("dropping fence of submission %d: %s", f.index, err)
			f.fence.FenceDestroy(vc)
		} else {
			b.fences = append(b.fences, f.fence)
		}
		b.completed = f.index
		n++
	}
	b.inflight = b.inflight[n:]
}

// SyncDevice waits on the fence of the submission in short slices, so that
// ctx is checked while the GPU is busy.
func (b *Backend) SyncDevice(ctx context.Context, submission uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		done, err := b.waitSlice(submission, time.Until(deadline))
		if err != nil || done {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("submission %d: %w", submission, core.ErrNotReady)
		}
	}
}

func (b *Backend) waitSlice(submission uint64, remaining time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.completed >= submission {
		return true, nil
	}
	if submission > b.submitted {
		return false, fmt.Errorf("submission %d was never made: %w", submission, core.ErrNotReady)
	}

	slice := fenceWaitSliceNs
	if remaining <= 0 {
		slice = 0
	} else if uint64(remaining) < slice {
		slice = uint64(remaining)
	}
	for _, f := range b.inflight {
		if f.index == submission {
			if err := f.fence.FenceWait(b.context, slice); err != nil && !errors.Is(err, core.ErrNotReady) {
				return false, err
			}
			break
		}
	}
	b.retire()
	return b.completed >= submission, nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
