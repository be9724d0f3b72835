package renderer

import (
	"context"
	"time"

	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipelinecache"
	"github.com/spaghettifunk/prism/engine/renderer/statecache"
	"github.com/spaghettifunk/prism/engine/renderer/transition"
)

/**
 * @brief Native objects a pipeline is assembled from. The state handles come
 * from the render state pools and may be shared with other pipelines.
 */
type PipelineBuild struct {
	Descriptor   *metadata.PipelineDescriptor
	Blend        interface{}
	DepthStencil interface{}
	Rasterizer   interface{}
	Layout       interface{}
}

// RendererBackend is implemented once per native graphics API.
type RendererBackend interface {
	Initialize(cfg *config.Config) error
	Shutdown() error
	Resized(width, height uint32) error
	// DeviceIdentity names adapter and driver. Pipeline binaries are only
	// reused on a device with the same identity.
	DeviceIdentity() string
	Limits() statecache.Limits

	AllocateNativeResource(res *metadata.GPUResource) (interface{}, error)
	ReleaseNativeResource(res *metadata.GPUResource)

	CreateBlendState(desc metadata.BlendDescriptor) (interface{}, error)
	CreateDepthStencilState(desc metadata.DepthStencilDescriptor) (interface{}, error)
	CreateRasterizerState(desc metadata.RasterizerDescriptor) (interface{}, error)
	CreateBindingLayout(layout metadata.BindingLayout) (interface{}, error)
	DestroyState(native interface{})

	CreatePipeline(build *PipelineBuild) (interface{}, error)
	CompilePipeline(native interface{}, permutation pipelinecache.Permutation) error
	// LoadPipelineBinary satisfies pipelinecache.Loader.
	LoadPipelineBinary(native interface{}, permutation pipelinecache.Permutation, formatTag uint32, payload []byte) error
	PipelineBinary(native interface{}, permutation pipelinecache.Permutation) (formatTag uint32, payload []byte, err error)
	DestroyPipeline(native interface{})

	CreateCommandStream(secondary bool) (CommandStream, error)
	// Submit queues the streams for execution and returns the submission index.
	Submit(streams []CommandStream) (uint64, error)
	// CompletedSubmission is the highest submission index the GPU has retired.
	CompletedSubmission() uint64
	// SyncDevice blocks until submission has retired or timeout elapses, in
	// which case core.ErrNotReady is returned.
	SyncDevice(ctx context.Context, submission uint64, timeout time.Duration) error
}

/**
 * @brief A native command list. The render system drives it through a
 * CommandBuffer which elides redundant binds and inserts barriers.
 */
type CommandStream interface {
	transition.Recorder
	statecache.Binder

	Begin() error
	End() error
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error
	DrawIndirect(args *metadata.GPUResource, offset uint64) error
	Dispatch(x, y, z uint32) error
	CopyBuffer(src, dst *metadata.GPUResource, srcOffset, dstOffset, size uint64) error
	CopyTexture(src, dst *metadata.GPUResource) error
	ClearRenderTarget(target *metadata.GPUResource, color [4]float64) error
	ExecuteSecondary(secondary CommandStream) error
	Destroy()
}
