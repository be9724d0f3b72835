package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

/**
 * @brief Represents a single shader stage.
 */
type VulkanShaderStage struct {
	/** @brief The internal shader module Handle. */
	Handle vk.ShaderModule
	/** @brief The pipeline shader stage creation info. */
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

// NewShaderStage creates a shader module from SPIR-V code.
func NewShaderStage(context *VulkanContext, name string, code []byte, shaderStageFlag vk.ShaderStageFlagBits) (*VulkanShaderStage, error) {
	words, err := spirvWords(code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    words,
	}

	stage := &VulkanShaderStage{}
	if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &stage.Handle); res != vk.Success {
		return nil, fmt.Errorf("%s: %w", name, vulkanError("vkCreateShaderModule", res))
	}

	// Shader stage info
	stage.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  shaderStageFlag,
		Module: stage.Handle,
		PName:  VulkanSafeString(ShaderEntryPoint),
	}
	return stage, nil
}

func (s *VulkanShaderStage) Destroy(context *VulkanContext) {
	if s.Handle != nil {
		vk.DestroyShaderModule(context.Device.LogicalDevice, s.Handle, context.Allocator)
		s.Handle = nil
	}
}
