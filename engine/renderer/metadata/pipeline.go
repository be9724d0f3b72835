package metadata

import "github.com/gogpu/gputypes"

type PipelineKind uint8

const (
	PipelineKindGraphics PipelineKind = iota
	PipelineKindCompute
)

/**
 * @brief Shader stages of a pipeline. Sources are opaque to the core and
 * handed to the backend as-is.
 */
type ShaderDescriptor struct {
	Name           string
	VertexSource   []byte
	FragmentSource []byte
	ComputeSource  []byte
}

/**
 * @brief Everything needed to build a pipeline state object. Blend,
 * depth-stencil, rasterizer and layout are deduplicated through the render
 * state pools; the shader and the remaining fields belong to the pipeline.
 */
type PipelineDescriptor struct {
	Name         string
	Kind         PipelineKind
	Shader       ShaderDescriptor
	Layout       BindingLayout
	Blend        BlendDescriptor
	DepthStencil DepthStencilDescriptor
	Rasterizer   RasterizerDescriptor
	Topology     gputypes.PrimitiveTopology
	ColorFormats []gputypes.TextureFormat
	DepthFormat  gputypes.TextureFormat
	/** @brief Build the flipped Y position permutation, used when rendering into a framebuffer with a bottom-left origin. */
	FlipYPosition bool
}

func DefaultGraphicsPipeline(name string, shader ShaderDescriptor) PipelineDescriptor {
	return PipelineDescriptor{
		Name:         name,
		Kind:         PipelineKindGraphics,
		Shader:       shader,
		Blend:        DefaultBlendDescriptor(),
		DepthStencil: DefaultDepthStencilDescriptor(),
		Rasterizer:   DefaultRasterizerDescriptor(),
		Topology:     gputypes.PrimitiveTopologyTriangleList,
		ColorFormats: []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm},
	}
}
