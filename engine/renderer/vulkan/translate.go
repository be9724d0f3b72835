package vulkan

import (
	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

var formats = map[gputypes.TextureFormat]vk.Format{
	gputypes.TextureFormatR8Unorm:              vk.FormatR8Unorm,
	gputypes.TextureFormatR16Float:             vk.FormatR16Sfloat,
	gputypes.TextureFormatR32Float:             vk.FormatR32Sfloat,
	gputypes.TextureFormatR32Uint:              vk.FormatR32Uint,
	gputypes.TextureFormatRG8Unorm:             vk.FormatR8g8Unorm,
	gputypes.TextureFormatRG16Float:            vk.FormatR16g16Sfloat,
	gputypes.TextureFormatRG32Float:            vk.FormatR32g32Sfloat,
	gputypes.TextureFormatRGBA8Unorm:           vk.FormatR8g8b8a8Unorm,
	gputypes.TextureFormatRGBA8UnormSrgb:       vk.FormatR8g8b8a8Srgb,
	gputypes.TextureFormatBGRA8Unorm:           vk.FormatB8g8r8a8Unorm,
	gputypes.TextureFormatBGRA8UnormSrgb:       vk.FormatB8g8r8a8Srgb,
	gputypes.TextureFormatRGBA16Float:          vk.FormatR16g16b16a16Sfloat,
	gputypes.TextureFormatRGBA32Float:          vk.FormatR32g32b32a32Sfloat,
	gputypes.TextureFormatDepth16Unorm:         vk.FormatD16Unorm,
	gputypes.TextureFormatDepth24Plus:          vk.FormatX8D24UnormPack32,
	gputypes.TextureFormatDepth24PlusStencil8:  vk.FormatD24UnormS8Uint,
	gputypes.TextureFormatDepth32Float:         vk.FormatD32Sfloat,
	gputypes.TextureFormatDepth32FloatStencil8: vk.FormatD32SfloatS8Uint,
	gputypes.TextureFormatStencil8:             vk.FormatS8Uint,
}

func textureFormat(format gputypes.TextureFormat) (vk.Format, bool) {
	f, ok := formats[format]
	return f, ok
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

func imageAspect(format gputypes.TextureFormat) vk.ImageAspectFlags {
	switch format {
	case gputypes.TextureFormatDepth24PlusStencil8, gputypes.TextureFormatDepth32FloatStencil8:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	case gputypes.TextureFormatStencil8:
		return vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	if isDepthFormat(format) {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func bufferUsage(flags metadata.BindFlags) vk.BufferUsageFlags {
	usage := vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit
	if flags.Has(metadata.BindVertexBuffer) {
		usage |= vk.BufferUsageVertexBufferBit
	}
	if flags.Has(metadata.BindIndexBuffer) {
		usage |= vk.BufferUsageIndexBufferBit
	}
	if flags.Has(metadata.BindConstantBuffer) {
		usage |= vk.BufferUsageUniformBufferBit
	}
	if flags.Any(metadata.BindStorage | metadata.BindStreamOutput) {
		usage |= vk.BufferUsageStorageBufferBit
	}
	if flags.Has(metadata.BindIndirect) {
		usage |= vk.BufferUsageIndirectBufferBit
	}
	return vk.BufferUsageFlags(usage)
}

func imageUsage(flags metadata.BindFlags) vk.ImageUsageFlags {
	usage := vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit
	if flags.Has(metadata.BindSampled) {
		usage |= vk.ImageUsageSampledBit
	}
	if flags.Has(metadata.BindStorage) {
		usage |= vk.ImageUsageStorageBit
	}
	if flags.Has(metadata.BindColorAttachment) {
		usage |= vk.ImageUsageColorAttachmentBit
	}
	if flags.Has(metadata.BindDepthStencilAttachment) {
		usage |= vk.ImageUsageDepthStencilAttachmentBit
	}
	return vk.ImageUsageFlags(usage)
}

/**
 * @brief How a resource state is seen by the GPU: the image layout it needs,
 * the memory accesses it performs and the pipeline stages doing them.
 */
type stateAccess struct {
	layout vk.ImageLayout
	access vk.AccessFlags
	stages vk.PipelineStageFlags
}

const shaderStages = vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit

func accessFor(state metadata.ResourceState) stateAccess {
	switch state {
	case metadata.ResourceStateRenderTarget:
		return stateAccess{
			layout: vk.ImageLayoutColorAttachmentOptimal,
			access: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
			stages: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		}
	case metadata.ResourceStateCopySource:
		return stateAccess{
			layout: vk.ImageLayoutTransferSrcOptimal,
			access: vk.AccessFlags(vk.AccessTransferReadBit),
			stages: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		}
	case metadata.ResourceStateCopyDestination:
		return stateAccess{
			layout: vk.ImageLayoutTransferDstOptimal,
			access: vk.AccessFlags(vk.AccessTransferWriteBit),
			stages: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		}
	case metadata.ResourceStateShaderResource:
		return stateAccess{
			layout: vk.ImageLayoutShaderReadOnlyOptimal,
			access: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessUniformReadBit),
			stages: vk.PipelineStageFlags(shaderStages),
		}
	case metadata.ResourceStateUnorderedAccess:
		return stateAccess{
			layout: vk.ImageLayoutGeneral,
			access: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
			stages: vk.PipelineStageFlags(shaderStages),
		}
	case metadata.ResourceStateIndexBuffer:
		return stateAccess{
			layout: vk.ImageLayoutGeneral,
			access: vk.AccessFlags(vk.AccessIndexReadBit),
			stages: vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
		}
	case metadata.ResourceStateVertexAndConstantBuffer:
		return stateAccess{
			layout: vk.ImageLayoutGeneral,
			access: vk.AccessFlags(vk.AccessVertexAttributeReadBit | vk.AccessUniformReadBit),
			stages: vk.PipelineStageFlags(vk.PipelineStageVertexInputBit | shaderStages),
		}
	case metadata.ResourceStateStreamOut:
		return stateAccess{
			layout: vk.ImageLayoutGeneral,
			access: vk.AccessFlags(vk.AccessShaderWriteBit),
			stages: vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit),
		}
	case metadata.ResourceStateDepthWrite:
		return stateAccess{
			layout: vk.ImageLayoutDepthStencilAttachmentOptimal,
			access: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit),
			stages: vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit),
		}
	case metadata.ResourceStateDepthRead:
		return stateAccess{
			layout: vk.ImageLayoutDepthStencilReadOnlyOptimal,
			access: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessShaderReadBit),
			stages: vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageFragmentShaderBit),
		}
	case metadata.ResourceStateIndirectArgument:
		return stateAccess{
			layout: vk.ImageLayoutGeneral,
			access: vk.AccessFlags(vk.AccessIndirectCommandReadBit),
			stages: vk.PipelineStageFlags(vk.PipelineStageDrawIndirectBit),
		}
	}
	// Common and present: nothing headless reads the image after
	// presentation but the host, so both rest in the general layout.
	return stateAccess{
		layout: vk.ImageLayoutGeneral,
		access: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		stages: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
	}
}

func blendFactor(f gputypes.BlendFactor) vk.BlendFactor {
	switch f {
	case gputypes.BlendFactorZero:
		return vk.BlendFactorZero
	case gputypes.BlendFactorSrc:
		return vk.BlendFactorSrcColor
	case gputypes.BlendFactorOneMinusSrc:
		return vk.BlendFactorOneMinusSrcColor
	case gputypes.BlendFactorSrcAlpha:
		return vk.BlendFactorSrcAlpha
	case gputypes.BlendFactorOneMinusSrcAlpha:
		return vk.BlendFactorOneMinusSrcAlpha
	case gputypes.BlendFactorDst:
		return vk.BlendFactorDstColor
	case gputypes.BlendFactorOneMinusDst:
		return vk.BlendFactorOneMinusDstColor
	case gputypes.BlendFactorDstAlpha:
		return vk.BlendFactorDstAlpha
	case gputypes.BlendFactorOneMinusDstAlpha:
		return vk.BlendFactorOneMinusDstAlpha
	case gputypes.BlendFactorSrcAlphaSaturated:
		return vk.BlendFactorSrcAlphaSaturate
	case gputypes.BlendFactorConstant:
		return vk.BlendFactorConstantColor
	case gputypes.BlendFactorOneMinusConstant:
		return vk.BlendFactorOneMinusConstantColor
	}
	return vk.BlendFactorOne
}

func blendOp(op gputypes.BlendOperation) vk.BlendOp {
	switch op {
	case gputypes.BlendOperationSubtract:
		return vk.BlendOpSubtract
	case gputypes.BlendOperationReverseSubtract:
		return vk.BlendOpReverseSubtract
	case gputypes.BlendOperationMin:
		return vk.BlendOpMin
	case gputypes.BlendOperationMax:
		return vk.BlendOpMax
	}
	return vk.BlendOpAdd
}

func logicOp(op metadata.LogicOp) vk.LogicOp {
	switch op {
	case metadata.LogicOpClear:
		return vk.LogicOpClear
	case metadata.LogicOpSet:
		return vk.LogicOpSet
	case metadata.LogicOpCopyInverted:
		return vk.LogicOpCopyInverted
	case metadata.LogicOpNoop:
		return vk.LogicOpNoOp
	case metadata.LogicOpInvert:
		return vk.LogicOpInvert
	case metadata.LogicOpAnd:
		return vk.LogicOpAnd
	case metadata.LogicOpOr:
		return vk.LogicOpOr
	case metadata.LogicOpXor:
		return vk.LogicOpXor
	}
	return vk.LogicOpCopy
}

func compareOp(f gputypes.CompareFunction) vk.CompareOp {
	switch f {
	case gputypes.CompareFunctionNever:
		return vk.CompareOpNever
	case gputypes.CompareFunctionLess:
		return vk.CompareOpLess
	case gputypes.CompareFunctionEqual:
		return vk.CompareOpEqual
	case gputypes.CompareFunctionLessEqual:
		return vk.CompareOpLessOrEqual
	case gputypes.CompareFunctionGreater:
		return vk.CompareOpGreater
	case gputypes.CompareFunctionNotEqual:
		return vk.CompareOpNotEqual
	case gputypes.CompareFunctionGreaterEqual:
		return vk.CompareOpGreaterOrEqual
	}
	return vk.CompareOpAlways
}

func stencilOp(op gputypes.StencilOperation) vk.StencilOp {
	switch op {
	case gputypes.StencilOperationZero:
		return vk.StencilOpZero
	case gputypes.StencilOperationReplace:
		return vk.StencilOpReplace
	case gputypes.StencilOperationInvert:
		return vk.StencilOpInvert
	case gputypes.StencilOperationIncrementClamp:
		return vk.StencilOpIncrementAndClamp
	case gputypes.StencilOperationDecrementClamp:
		return vk.StencilOpDecrementAndClamp
	case gputypes.StencilOperationIncrementWrap:
		return vk.StencilOpIncrementAndWrap
	case gputypes.StencilOperationDecrementWrap:
		return vk.StencilOpDecrementAndWrap
	}
	return vk.StencilOpKeep
}

func stencilFace(f gputypes.StencilFaceState, desc *metadata.DepthStencilDescriptor) vk.StencilOpState {
	return vk.StencilOpState{
		FailOp:      stencilOp(f.FailOp),
		PassOp:      stencilOp(f.PassOp),
		DepthFailOp: stencilOp(f.DepthFailOp),
		CompareOp:   compareOp(f.Compare),
		CompareMask: desc.StencilReadMask,
		WriteMask:   desc.StencilWriteMask,
		Reference:   desc.StencilReference,
	}
}

func topology(t gputypes.PrimitiveTopology) vk.PrimitiveTopology {
	switch t {
	case gputypes.PrimitiveTopologyPointList:
		return vk.PrimitiveTopologyPointList
	case gputypes.PrimitiveTopologyLineList:
		return vk.PrimitiveTopologyLineList
	case gputypes.PrimitiveTopologyLineStrip:
		return vk.PrimitiveTopologyLineStrip
	case gputypes.PrimitiveTopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	}
	return vk.PrimitiveTopologyTriangleList
}

func cullMode(mode gputypes.CullMode) vk.CullModeFlags {
	switch mode {
	case gputypes.CullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case gputypes.CullModeBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	}
	return vk.CullModeFlags(vk.CullModeNone)
}

// frontFace mirrors the winding for the flipped permutation, since a negative
// viewport height turns clockwise triangles counter-clockwise.
func frontFace(face gputypes.FrontFace, flipped bool) vk.FrontFace {
	cw := face == gputypes.FrontFaceCW
	if flipped {
		cw = !cw
	}
	if cw {
		return vk.FrontFaceClockwise
	}
	return vk.FrontFaceCounterClockwise
}

func polygonMode(mode metadata.PolygonMode) vk.PolygonMode {
	switch mode {
	case metadata.PolygonModeWireframe:
		return vk.PolygonModeLine
	case metadata.PolygonModePoints:
		return vk.PolygonModePoint
	}
	return vk.PolygonModeFill
}

func shaderStageFlags(stages gputypes.ShaderStages) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlagBits
	if stages&gputypes.ShaderStageVertex != 0 {
		flags |= vk.ShaderStageVertexBit
	}
	if stages&gputypes.ShaderStageFragment != 0 {
		flags |= vk.ShaderStageFragmentBit
	}
	if stages&gputypes.ShaderStageCompute != 0 {
		flags |= vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(flags)
}

func descriptorType(t metadata.BindingType) vk.DescriptorType {
	switch t {
	case metadata.BindingTypeStorageBuffer, metadata.BindingTypeReadOnlyStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	case metadata.BindingTypeTexture:
		return vk.DescriptorTypeSampledImage
	case metadata.BindingTypeStorageTexture:
		return vk.DescriptorTypeStorageImage
	case metadata.BindingTypeSampler:
		return vk.DescriptorTypeSampler
	}
	return vk.DescriptorTypeUniformBuffer
}
