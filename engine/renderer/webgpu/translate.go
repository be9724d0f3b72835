//go:build !(js && wasm)

package webgpu

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Shader entry points looked up in every WGSL source.
const (
	VertexEntryPoint   = "vs_main"
	FragmentEntryPoint = "fs_main"
	ComputeEntryPoint  = "cs_main"
)

// Native form of a pooled blend state. Target formats are filled in when a
// pipeline is compiled.
type blendState struct {
	targets         [metadata.MaxColorAttachments]gputypes.ColorTargetState
	alphaToCoverage bool
	sampleMask      uint32
	constant        gputypes.Color
	usesConstant    bool
}

type depthStencilState struct {
	state     hal.DepthStencilState
	enabled   bool
	reference uint32
}

type rasterizerState struct {
	primitive   gputypes.PrimitiveState
	sampleCount uint32
	depthBias   metadata.DepthBiasDescriptor
}

type bindGroupLayout struct {
	layout  hal.BindGroupLayout
	entries int
}

func translateBlend(desc metadata.BlendDescriptor) *blendState {
	s := &blendState{
		alphaToCoverage: desc.AlphaToCoverageEnabled,
		sampleMask:      desc.SampleMask,
		usesConstant:    desc.UsesConstant(),
		constant: gputypes.Color{
			R: float64(desc.BlendConstant[0]),
			G: float64(desc.BlendConstant[1]),
			B: float64(desc.BlendConstant[2]),
			A: float64(desc.BlendConstant[3]),
		},
	}
	for i, t := range desc.Targets {
		s.targets[i].WriteMask = t.WriteMask
		if t.BlendEnabled {
			s.targets[i].Blend = &gputypes.BlendState{Color: t.Color, Alpha: t.Alpha}
		}
	}
	return s
}

// colorTargets pairs the blend targets with the attachment formats of a pipeline.
func (s *blendState) colorTargets(formats []gputypes.TextureFormat) []gputypes.ColorTargetState {
	targets := make([]gputypes.ColorTargetState, 0, len(formats))
	for i, format := range formats {
		if i >= metadata.MaxColorAttachments {
			break
		}
		t := s.targets[i]
		t.Format = format
		targets = append(targets, t)
	}
	return targets
}

// gputypes reserves zero for an undefined operation, hal starts at keep.
func stencilOp(op gputypes.StencilOperation) hal.StencilOperation {
	if op == gputypes.StencilOperationUndefined {
		return hal.StencilOperationKeep
	}
	return hal.StencilOperation(op - 1)
}

func stencilFace(f gputypes.StencilFaceState) hal.StencilFaceState {
	return hal.StencilFaceState{
		Compare:     f.Compare,
		FailOp:      stencilOp(f.FailOp),
		DepthFailOp: stencilOp(f.DepthFailOp),
		PassOp:      stencilOp(f.PassOp),
	}
}

func translateDepthStencil(desc metadata.DepthStencilDescriptor) *depthStencilState {
	return &depthStencilState{
		enabled:   desc.DepthTestEnabled || desc.StencilTestEnabled,
		reference: desc.StencilReference,
		state: hal.DepthStencilState{
			DepthWriteEnabled: desc.DepthWriteEnabled,
			DepthCompare:      desc.DepthCompare,
			StencilFront:      stencilFace(desc.StencilFront),
			StencilBack:       stencilFace(desc.StencilBack),
			StencilReadMask:   desc.StencilReadMask,
			StencilWriteMask:  desc.StencilWriteMask,
		},
	}
}

func translateRasterizer(desc metadata.RasterizerDescriptor) *rasterizerState {
	return &rasterizerState{
		primitive: gputypes.PrimitiveState{
			FrontFace:      desc.FrontFace,
			CullMode:       desc.CullMode,
			UnclippedDepth: desc.DepthClampEnabled,
		},
		sampleCount: desc.SampleCount,
		depthBias:   desc.DepthBias,
	}
}

// flipFrontFace mirrors the winding order, since flipping the Y position
// turns clockwise triangles counter-clockwise.
func flipFrontFace(face gputypes.FrontFace) gputypes.FrontFace {
	if face == gputypes.FrontFaceCCW {
		return gputypes.FrontFaceCW
	}
	return gputypes.FrontFaceCCW
}

func bufferUsage(flags metadata.BindFlags) gputypes.BufferUsage {
	usage := gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	if flags.Has(metadata.BindVertexBuffer) {
		usage |= gputypes.BufferUsageVertex
	}
	if flags.Has(metadata.BindIndexBuffer) {
		usage |= gputypes.BufferUsageIndex
	}
	if flags.Has(metadata.BindConstantBuffer) {
		usage |= gputypes.BufferUsageUniform
	}
	if flags.Any(metadata.BindStorage | metadata.BindStreamOutput) {
		usage |= gputypes.BufferUsageStorage
	}
	if flags.Has(metadata.BindIndirect) {
		usage |= gputypes.BufferUsageIndirect
	}
	return usage
}

func textureUsage(flags metadata.BindFlags) gputypes.TextureUsage {
	usage := gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	if flags.Has(metadata.BindSampled) {
		usage |= gputypes.TextureUsageTextureBinding
	}
	if flags.Has(metadata.BindStorage) {
		usage |= gputypes.TextureUsageStorageBinding
	}
	if flags.Any(metadata.BindColorAttachment | metadata.BindDepthStencilAttachment) {
		usage |= gputypes.TextureUsageRenderAttachment
	}
	return usage
}

func bufferStateUsage(state metadata.ResourceState) gputypes.BufferUsage {
	switch state {
	case metadata.ResourceStateCopySource:
		return gputypes.BufferUsageCopySrc
	case metadata.ResourceStateCopyDestination:
		return gputypes.BufferUsageCopyDst
	case metadata.ResourceStateIndexBuffer:
		return gputypes.BufferUsageIndex
	case metadata.ResourceStateVertexAndConstantBuffer:
		return gputypes.BufferUsageVertex | gputypes.BufferUsageUniform
	case metadata.ResourceStateUnorderedAccess, metadata.ResourceStateStreamOut:
		return gputypes.BufferUsageStorage
	case metadata.ResourceStateShaderResource:
		return gputypes.BufferUsageStorage | gputypes.BufferUsageUniform
	case metadata.ResourceStateIndirectArgument:
		return gputypes.BufferUsageIndirect
	}
	return gputypes.BufferUsageNone
}

func textureStateUsage(state metadata.ResourceState) gputypes.TextureUsage {
	switch state {
	case metadata.ResourceStateCopySource:
		return gputypes.TextureUsageCopySrc
	case metadata.ResourceStateCopyDestination:
		return gputypes.TextureUsageCopyDst
	case metadata.ResourceStateShaderResource:
		return gputypes.TextureUsageTextureBinding
	case metadata.ResourceStateUnorderedAccess:
		return gputypes.TextureUsageStorageBinding
	case metadata.ResourceStateRenderTarget, metadata.ResourceStateDepthWrite,
		metadata.ResourceStateDepthRead, metadata.ResourceStatePresent:
		return gputypes.TextureUsageRenderAttachment
	}
	return gputypes.TextureUsageNone
}

func isDepthFormat(format gputypes.TextureFormat) bool {
	switch format {
	case gputypes.TextureFormatDepth16Unorm, gputypes.TextureFormatDepth24Plus,
		gputypes.TextureFormatDepth24PlusStencil8, gputypes.TextureFormatDepth32Float,
		gputypes.TextureFormatDepth32FloatStencil8, gputypes.TextureFormatStencil8:
		return true
	}
	return false
}

func textureAspect(format gputypes.TextureFormat) gputypes.TextureAspect {
	if isDepthFormat(format) {
		return gputypes.TextureAspectDepthOnly
	}
	return gputypes.TextureAspectAll
}
