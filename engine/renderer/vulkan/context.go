package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
)

type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks

	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice

	// Render passes are keyed by attachment formats and load operation,
	// framebuffers by render pass and attachment views.
	renderpasses map[renderpassKey]*VulkanRenderpass
	framebuffers map[framebufferKey]*VulkanFramebuffer

	locks *renderer.LockPool
}

func NewContext() *VulkanContext {
	return &VulkanContext{
		Allocator:    nil,
		Device:       &VulkanDevice{QueueIndex: -1},
		renderpasses: make(map[renderpassKey]*VulkanRenderpass),
		framebuffers: make(map[framebufferKey]*VulkanFramebuffer),
		locks:        renderer.NewLockPool(),
	}
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) (uint32, error) {
	memoryProperties := vc.Device.Memory
	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (memoryProperties.MemoryTypes[i].PropertyFlags&propertyFlags) == propertyFlags {
			return i, nil
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return 0, fmt.Errorf("no memory type for filter %#x", typeFilter)
}

// allocate backs memory requirements with device local memory.
func (vc *VulkanContext) allocate(reqs vk.MemoryRequirements) (vk.DeviceMemory, error) {
	reqs.Deref()
	index, err := vc.FindMemoryIndex(reqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return nil, err
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: index,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(vc.Device.LogicalDevice, &info, vc.Allocator, &memory); res != vk.Success {
		return nil, vulkanError("vkAllocateMemory", res)
	}
	return memory, nil
}

// destroyCaches releases every cached framebuffer and render pass.
func (vc *VulkanContext) destroyCaches() {
	vc.locks.SafeCall(FramebufferManagement, func() error {
		for key, fb := range vc.framebuffers {
			fb.Destroy(vc)
			delete(vc.framebuffers, key)
		}
		for key, rp := range vc.renderpasses {
			rp.RenderpassDestroy(vc)
			delete(vc.renderpasses, key)
		}
		return nil
	})
}
