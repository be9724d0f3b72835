package vulkan

import (
	"fmt"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	// Mip 0 view for framebuffers, nil when the image has a single level.
	Attachment vk.ImageView
	Width      uint32
	Height     uint32
	MipLevels  uint32
	Format     gputypes.TextureFormat
	// Layout the image is in once every recorded barrier has executed.
	Layout vk.ImageLayout
}

func (vi *VulkanImage) vkFormat() vk.Format {
	f, _ := textureFormat(vi.Format)
	return f
}

// attachmentView is the view framebuffers bind.
func (vi *VulkanImage) attachmentView() vk.ImageView {
	if vi.Attachment != nil {
		return vi.Attachment
	}
	return vi.View
}

func (vi *VulkanImage) subresourceRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     imageAspect(vi.Format),
		BaseMipLevel:   0,
		LevelCount:     max(vi.MipLevels, 1),
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

func (vi *VulkanImage) subresourceLayers(level uint32) vk.ImageSubresourceLayers {
	return vk.ImageSubresourceLayers{
		AspectMask:     imageAspect(vi.Format),
		MipLevel:       level,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

// ImageCreate allocates a device local 2D image with a view and moves it
// into the general layout, which is where the common state rests.
func ImageCreate(context *VulkanContext, res *metadata.GPUResource) (*VulkanImage, error) {
	format, ok := textureFormat(res.Format)
	if !ok {
		return nil, fmt.Errorf("texture format %v has no vulkan equivalent: %w", res.Format, core.ErrInvalidDescriptor)
	}
	if res.SampleCount > 1 {
		return nil, fmt.Errorf("texture %q with %d samples: %w", res.Label, res.SampleCount, core.ErrUnsupportedUsage)
	}
	image := &VulkanImage{
		Width:     res.Width,
		Height:    res.Height,
		MipLevels: max(res.MipLevelCount, 1),
		Format:    res.Format,
		Layout:    vk.ImageLayoutUndefined,
	}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  res.Width,
			Height: res.Height,
			Depth:  1,
		},
		MipLevels:     image.MipLevels,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsage(res.BindFlags),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	var handle vk.Image
	if result := vk.CreateImage(context.Device.LogicalDevice, &imageCreateInfo, context.Allocator, &handle); result != vk.Success {
		return nil, vulkanError("vkCreateImage", result)
	}
	image.Handle = handle

	var memoryRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(context.Device.LogicalDevice, handle, &memoryRequirements)
	memory, err := context.allocate(memoryRequirements)
	if err != nil {
		image.Destroy(context)
		return nil, err
	}
	image.Memory = memory
	if result := vk.BindImageMemory(context.Device.LogicalDevice, handle, memory, 0); result != vk.Success {
		image.Destroy(context)
		return nil, vulkanError("vkBindImageMemory", result)
	}

	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            handle,
		ViewType:         vk.ImageViewType2d,
		Format:           format,
		SubresourceRange: image.subresourceRange(),
	}
	var view vk.ImageView
	if result := vk.CreateImageView(context.Device.LogicalDevice, &viewCreateInfo, context.Allocator, &view); result != vk.Success {
		image.Destroy(context)
		return nil, vulkanError("vkCreateImageView", result)
	}
	image.View = view

	if image.MipLevels > 1 && res.BindFlags&(metadata.BindColorAttachment|metadata.BindDepthStencilAttachment) != 0 {
		viewCreateInfo.SubresourceRange.LevelCount = 1
		var attachment vk.ImageView
		if result := vk.CreateImageView(context.Device.LogicalDevice, &viewCreateInfo, context.Allocator, &attachment); result != vk.Success {
			image.Destroy(context)
			return nil, vulkanError("vkCreateImageView", result)
		}
		image.Attachment = attachment
	}

	cb, err := AllocateAndBeginSingleUse(context, context.Device.CommandPool)
	if err != nil {
		image.Destroy(context)
		return nil, err
	}
	image.TransitionLayout(cb.Handle, accessFor(metadata.ResourceStateCommon), uint32(context.Device.QueueIndex))
	if err := cb.EndSingleUse(context, context.Device.CommandPool, context.Device.Queue); err != nil {
		image.Destroy(context)
		return nil, err
	}
	return image, nil
}

// TransitionLayout records a barrier moving the image from its current
// layout into the one of to.
func (vi *VulkanImage) TransitionLayout(cmd vk.CommandBuffer, to stateAccess, queueIndex uint32) {
	src := vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	var srcAccess vk.AccessFlags
	if vi.Layout != vk.ImageLayoutUndefined {
		src = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
		srcAccess = vk.AccessFlags(vk.AccessMemoryWriteBit)
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       to.access,
		OldLayout:           vi.Layout,
		NewLayout:           to.layout,
		SrcQueueFamilyIndex: queueIndex,
		DstQueueFamilyIndex: queueIndex,
		Image:               vi.Handle,
		SubresourceRange:    vi.subresourceRange(),
	}
	vk.CmdPipelineBarrier(cmd, src, to.stages, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	vi.Layout = to.layout
}

func (vi *VulkanImage) Destroy(context *VulkanContext) {
	if vi.Attachment != nil {
		vk.DestroyImageView(context.Device.LogicalDevice, vi.Attachment, context.Allocator)
		vi.Attachment = nil
	}
	if vi.View != nil {
		vk.DestroyImageView(context.Device.LogicalDevice, vi.View, context.Allocator)
		vi.View = nil
	}
	if vi.Memory != nil {
		vk.FreeMemory(context.Device.LogicalDevice, vi.Memory, context.Allocator)
		vi.Memory = nil
	}
	if vi.Handle != nil {
		vk.DestroyImage(context.Device.LogicalDevice, vi.Handle, context.Allocator)
		vi.Handle = nil
	}
}
