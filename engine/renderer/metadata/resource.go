package metadata

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

/**
 * @brief The usage state a GPU resource is in from the point of view of the
 * device. Transitions between states are recorded as barriers.
 */
type ResourceState uint8

const (
	/** @brief Idle, no pending access. Valid for release. */
	ResourceStateCommon ResourceState = iota
	ResourceStateRenderTarget
	ResourceStateCopySource
	ResourceStateCopyDestination
	ResourceStateShaderResource
	ResourceStateUnorderedAccess
	/** @brief Handed over to the compositor. Valid for release. */
	ResourceStatePresent
	ResourceStateIndexBuffer
	ResourceStateVertexAndConstantBuffer
	ResourceStateStreamOut
	ResourceStateDepthWrite
	ResourceStateDepthRead
	ResourceStateIndirectArgument

	resourceStateCount
)

var resourceStateNames = [resourceStateCount]string{
	"common",
	"render_target",
	"copy_source",
	"copy_destination",
	"shader_resource",
	"unordered_access",
	"present",
	"index_buffer",
	"vertex_and_constant_buffer",
	"stream_out",
	"depth_write",
	"depth_read",
	"indirect_argument",
}

func (s ResourceState) String() string {
	if s < resourceStateCount {
		return resourceStateNames[s]
	}
	return fmt.Sprintf("resource_state(%d)", uint8(s))
}

// IsWrite reports whether the GPU may write the resource in this state.
func (s ResourceState) IsWrite() bool {
	switch s {
	case ResourceStateRenderTarget, ResourceStateCopyDestination, ResourceStateUnorderedAccess,
		ResourceStateStreamOut, ResourceStateDepthWrite:
		return true
	}
	return false
}

// IsTerminal reports whether a resource may be left in this state when it is
// released or handed to the compositor.
func (s ResourceState) IsTerminal() bool {
	return s == ResourceStateCommon || s == ResourceStatePresent
}

/** @brief Buffer or texture. */
type ResourceClass uint8

const (
	ResourceClassBuffer ResourceClass = iota
	ResourceClassTexture
)

func (c ResourceClass) String() string {
	if c == ResourceClassTexture {
		return "texture"
	}
	return "buffer"
}

/** @brief How a resource may be bound. Fixed at creation. */
type BindFlags uint32

const (
	BindVertexBuffer BindFlags = 1 << iota
	BindIndexBuffer
	BindConstantBuffer
	BindStreamOutput
	BindIndirect
	BindSampled
	BindStorage
	BindColorAttachment
	BindDepthStencilAttachment
	BindCopySrc
	BindCopyDst
)

const (
	bufferOnlyFlags  = BindVertexBuffer | BindIndexBuffer | BindConstantBuffer | BindStreamOutput | BindIndirect
	textureOnlyFlags = BindColorAttachment | BindDepthStencilAttachment
)

func (f BindFlags) Has(flags BindFlags) bool {
	return f&flags == flags
}

func (f BindFlags) Any(flags BindFlags) bool {
	return f&flags != 0
}

// ValidFor reports whether the flags make sense for the resource class.
func (f BindFlags) ValidFor(class ResourceClass) bool {
	if class == ResourceClassBuffer {
		return !f.Any(textureOnlyFlags)
	}
	return !f.Any(bufferOnlyFlags)
}

// Supports reports whether a resource of the given class created with these
// flags may be transitioned into state.
func (f BindFlags) Supports(class ResourceClass, state ResourceState) bool {
	switch state {
	case ResourceStateCommon:
		return true
	case ResourceStateRenderTarget, ResourceStatePresent:
		return class == ResourceClassTexture && f.Any(BindColorAttachment)
	case ResourceStateCopySource:
		return f.Any(BindCopySrc)
	case ResourceStateCopyDestination:
		return f.Any(BindCopyDst)
	case ResourceStateShaderResource:
		return f.Any(BindSampled | BindStorage)
	case ResourceStateUnorderedAccess:
		return f.Any(BindStorage)
	case ResourceStateIndexBuffer:
		return class == ResourceClassBuffer && f.Any(BindIndexBuffer)
	case ResourceStateVertexAndConstantBuffer:
		return class == ResourceClassBuffer && f.Any(BindVertexBuffer|BindConstantBuffer)
	case ResourceStateStreamOut:
		return class == ResourceClassBuffer && f.Any(BindStreamOutput)
	case ResourceStateDepthWrite, ResourceStateDepthRead:
		return class == ResourceClassTexture && f.Any(BindDepthStencilAttachment)
	case ResourceStateIndirectArgument:
		return class == ResourceClassBuffer && f.Any(BindIndirect)
	}
	return false
}

// DefaultUsageState is the state a resource naturally rests in between uses,
// derived from the most specific bind flag.
func DefaultUsageState(class ResourceClass, f BindFlags) ResourceState {
	if class == ResourceClassBuffer {
		switch {
		case f.Any(BindVertexBuffer | BindConstantBuffer):
			return ResourceStateVertexAndConstantBuffer
		case f.Any(BindIndexBuffer):
			return ResourceStateIndexBuffer
		case f.Any(BindStorage):
			return ResourceStateUnorderedAccess
		case f.Any(BindStreamOutput):
			return ResourceStateStreamOut
		case f.Any(BindIndirect):
			return ResourceStateIndirectArgument
		}
		return ResourceStateCommon
	}
	switch {
	case f.Any(BindColorAttachment):
		return ResourceStateRenderTarget
	case f.Any(BindDepthStencilAttachment):
		return ResourceStateDepthWrite
	case f.Any(BindStorage):
		return ResourceStateUnorderedAccess
	case f.Any(BindSampled):
		return ResourceStateShaderResource
	}
	return ResourceStateCommon
}

/**
 * @brief Describes a buffer to be created by the render system.
 */
type BufferDescriptor struct {
	Label     string
	Size      uint64
	BindFlags BindFlags
	/** @brief Optional state the resource starts in. Defaults to common. */
	InitialState ResourceState
}

/**
 * @brief Describes a 2D texture to be created by the render system.
 */
type TextureDescriptor struct {
	Label         string
	Width         uint32
	Height        uint32
	MipLevelCount uint32
	SampleCount   uint32
	Format        gputypes.TextureFormat
	BindFlags     BindFlags
	InitialState  ResourceState
}

/**
 * @brief A buffer or texture tracked by the render system. Owned by the
 * resource registry. The state fields are maintained by the transition
 * tracker of the command buffer currently recording with it.
 */
type GPUResource struct {
	/** @brief The unique resource identifier. */
	ID    uint32
	Label string
	Class ResourceClass
	/** @brief Immutable bind flags given at creation. */
	BindFlags BindFlags

	/** @brief Size in bytes for buffers. */
	Size uint64
	/** @brief Texture dimensions and format. Zero for buffers. */
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat
	/** @brief Mip levels and samples per texel. Barriers cover every level. */
	MipLevelCount uint32
	SampleCount   uint32

	/** @brief The last state the GPU is guaranteed to observe. */
	CurrentState ResourceState
	/** @brief Target of a queued but not yet recorded transition. Valid when HasPending is set. */
	PendingState ResourceState
	HasPending   bool
	/** @brief The resting state for this resource derived from its bind flags. */
	UsageState ResourceState

	/** @brief Backend handle, opaque to the core. */
	Native interface{}

	/** @brief Submission index of the last command buffer referencing the resource. */
	LastSubmission uint64
	Destroyed      bool
}

// MaxMipLevels is the length of the full mip chain of a width x height texture.
func MaxMipLevels(width, height uint32) uint32 {
	levels := uint32(1)
	for size := max(width, height); size > 1; size >>= 1 {
		levels++
	}
	return levels
}

// MipExtent is the size of mip level of a width x height texture.
func MipExtent(width, height, level uint32) (uint32, uint32) {
	return max(width>>level, 1), max(height>>level, 1)
}

// EffectiveState is the state the resource will be in once queued transitions are recorded.
func (r *GPUResource) EffectiveState() ResourceState {
	if r.HasPending {
		return r.PendingState
	}
	return r.CurrentState
}

func (r *GPUResource) String() string {
	if r.Label != "" {
		return fmt.Sprintf("%s#%d(%s)", r.Class, r.ID, r.Label)
	}
	return fmt.Sprintf("%s#%d", r.Class, r.ID)
}
