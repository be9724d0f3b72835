package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Native form of a pooled blend state. Only as many attachments as the
// pipeline has color targets are handed to the driver.
type blendState struct {
	attachments     [metadata.MaxColorAttachments]vk.PipelineColorBlendAttachmentState
	logicOpEnable   bool
	logicOp         vk.LogicOp
	constants       [4]float32
	alphaToCoverage bool
	sampleMask      uint32
}

type depthStencilState struct {
	info vk.PipelineDepthStencilStateCreateInfo
}

type rasterizerState struct {
	desc metadata.RasterizerDescriptor
}

func translateBlend(desc metadata.BlendDescriptor) *blendState {
	s := &blendState{
		logicOpEnable:   desc.LogicOp != metadata.LogicOpDisabled,
		logicOp:         logicOp(desc.LogicOp),
		constants:       desc.BlendConstant,
		alphaToCoverage: desc.AlphaToCoverageEnabled,
		sampleMask:      desc.SampleMask,
	}
	for i, t := range desc.Targets {
		s.attachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         vkBool(t.BlendEnabled),
			SrcColorBlendFactor: blendFactor(t.Color.SrcFactor),
			DstColorBlendFactor: blendFactor(t.Color.DstFactor),
			ColorBlendOp:        blendOp(t.Color.Operation),
			SrcAlphaBlendFactor: blendFactor(t.Alpha.SrcFactor),
			DstAlphaBlendFactor: blendFactor(t.Alpha.DstFactor),
			AlphaBlendOp:        blendOp(t.Alpha.Operation),
			// Both APIs number the channels red, green, blue, alpha from bit 0.
			ColorWriteMask: vk.ColorComponentFlags(t.WriteMask),
		}
	}
	return s
}

func (s *blendState) info(targets int) vk.PipelineColorBlendStateCreateInfo {
	targets = min(targets, metadata.MaxColorAttachments)
	return vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vkBool(s.logicOpEnable),
		LogicOp:         s.logicOp,
		AttachmentCount: uint32(targets),
		PAttachments:    append([]vk.PipelineColorBlendAttachmentState(nil), s.attachments[:targets]...),
		BlendConstants:  s.constants,
	}
}

func translateDepthStencil(desc metadata.DepthStencilDescriptor) *depthStencilState {
	return &depthStencilState{
		info: vk.PipelineDepthStencilStateCreateInfo{
			SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:       vkBool(desc.DepthTestEnabled),
			DepthWriteEnable:      vkBool(desc.DepthTestEnabled && desc.DepthWriteEnabled),
			DepthCompareOp:        compareOp(desc.DepthCompare),
			DepthBoundsTestEnable: vk.False,
			StencilTestEnable:     vkBool(desc.StencilTestEnabled),
			Front:                 stencilFace(desc.StencilFront, &desc),
			Back:                  stencilFace(desc.StencilBack, &desc),
			MinDepthBounds:        0,
			MaxDepthBounds:        1,
		},
	}
}

func (s *rasterizerState) info(flipped bool) vk.PipelineRasterizationStateCreateInfo {
	d := s.desc
	bias := d.DepthBias.ConstantFactor != 0 || d.DepthBias.SlopeFactor != 0
	return vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vkBool(d.DepthClampEnabled),
		RasterizerDiscardEnable: vkBool(d.DiscardEnabled),
		PolygonMode:             polygonMode(d.PolygonMode),
		CullMode:                cullMode(d.CullMode),
		FrontFace:               frontFace(d.FrontFace, flipped),
		DepthBiasEnable:         vkBool(bias),
		DepthBiasConstantFactor: d.DepthBias.ConstantFactor,
		DepthBiasClamp:          d.DepthBias.Clamp,
		DepthBiasSlopeFactor:    d.DepthBias.SlopeFactor,
		LineWidth:               1.0,
	}
}

func (s *rasterizerState) sampleCount() vk.SampleCountFlagBits {
	return vk.SampleCountFlagBits(max(s.desc.SampleCount, 1))
}
