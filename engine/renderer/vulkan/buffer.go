package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64
}

func BufferCreate(context *VulkanContext, res *metadata.GPUResource) (*VulkanBuffer, error) {
	buffer := &VulkanBuffer{Size: res.Size}

	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(res.Size),
		Usage:       bufferUsage(res.BindFlags),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if result := vk.CreateBuffer(context.Device.LogicalDevice, &bufferCreateInfo, context.Allocator, &handle); result != vk.Success {
		return nil, vulkanError("vkCreateBuffer", result)
	}
	buffer.Handle = handle

	var memoryRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, handle, &memoryRequirements)
	memory, err := context.allocate(memoryRequirements)
	if err != nil {
		buffer.Destroy(context)
		return nil, err
	}
	buffer.Memory = memory
	if result := vk.BindBufferMemory(context.Device.LogicalDevice, handle, memory, 0); result != vk.Success {
		buffer.Destroy(context)
		return nil, vulkanError("vkBindBufferMemory", result)
	}
	return buffer, nil
}

func (vb *VulkanBuffer) Destroy(context *VulkanContext) {
	if vb.Handle != nil {
		vk.DestroyBuffer(context.Device.LogicalDevice, vb.Handle, context.Allocator)
		vb.Handle = nil
	}
	if vb.Memory != nil {
		vk.FreeMemory(context.Device.LogicalDevice, vb.Memory, context.Allocator)
		vb.Memory = nil
	}
	vb.Size = 0
}
