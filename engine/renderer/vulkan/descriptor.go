package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

/**
 * @brief A descriptor set layout built from a pooled binding layout. Shared
 * by every pipeline layout created with it.
 */
type VulkanDescriptorSetLayout struct {
	Handle vk.DescriptorSetLayout
	/** @brief The number of bindings in this set. */
	BindingCount uint32
}

func descriptorSetLayoutBindings(layout metadata.BindingLayout) []vk.DescriptorSetLayoutBinding {
	bindings := make([]vk.DescriptorSetLayoutBinding, 0, layout.Len())
	for _, b := range layout.Bindings() {
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         b.Slot,
			DescriptorType:  descriptorType(b.Type),
			DescriptorCount: max(b.ArraySize, 1),
			StageFlags:      shaderStageFlags(b.Stages),
		})
	}
	return bindings
}

func DescriptorSetLayoutCreate(context *VulkanContext, layout metadata.BindingLayout) (*VulkanDescriptorSetLayout, error) {
	bindings := descriptorSetLayoutBindings(layout)
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var handle vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		return nil, vulkanError("vkCreateDescriptorSetLayout", res)
	}
	return &VulkanDescriptorSetLayout{Handle: handle, BindingCount: uint32(len(bindings))}, nil
}

func (l *VulkanDescriptorSetLayout) Destroy(context *VulkanContext) {
	if l.Handle != nil {
		vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, l.Handle, context.Allocator)
		l.Handle = nil
	}
}
