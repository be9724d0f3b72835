package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
)

type framebufferKey struct {
	renderpass vk.RenderPass
	color      vk.ImageView
	depth      vk.ImageView
	width      uint32
	height     uint32
}

type VulkanFramebuffer struct {
	Handle      vk.Framebuffer
	Attachments []vk.ImageView
	Renderpass  *VulkanRenderpass
	Width       uint32
	Height      uint32
}

func FramebufferCreate(context *VulkanContext, renderpass *VulkanRenderpass, width uint32, height uint32, attachments []vk.ImageView) (*VulkanFramebuffer, error) {
	outFramebuffer := &VulkanFramebuffer{
		// Take a copy of the attachments.
		Attachments: append([]vk.ImageView(nil), attachments...),
		Renderpass:  renderpass,
		Width:       width,
		Height:      height,
	}

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(outFramebuffer.Attachments)),
		PAttachments:    outFramebuffer.Attachments,
		Width:           width,
		Height:          height,
		Layers:          1,
	}

	var pFramebuffer vk.Framebuffer
	if res := vk.CreateFramebuffer(context.Device.LogicalDevice, &framebufferCreateInfo, context.Allocator, &pFramebuffer); res != vk.Success {
		core.LogError("failed to create framebuffer: %s", VulkanResultString(res))
		return nil, vulkanError("vkCreateFramebuffer", res)
	}
	outFramebuffer.Handle = pFramebuffer
	return outFramebuffer, nil
}

// Framebuffer returns the cached framebuffer binding color and depth to rp.
// depth may be nil.
func (vc *VulkanContext) Framebuffer(rp *VulkanRenderpass, color, depth *VulkanImage) (*VulkanFramebuffer, error) {
	key := framebufferKey{
		renderpass: rp.Handle,
		color:      color.attachmentView(),
		width:      color.Width,
		height:     color.Height,
	}
	attachments := []vk.ImageView{color.attachmentView()}
	if depth != nil && rp.key.hasDepth() {
		key.depth = depth.attachmentView()
		attachments = append(attachments, key.depth)
	}

	var fb *VulkanFramebuffer
	err := vc.locks.SafeCall(FramebufferManagement, func() error {
		if cached, ok := vc.framebuffers[key]; ok {
			fb = cached
			return nil
		}
		created, err := FramebufferCreate(vc, rp, color.Width, color.Height, attachments)
		if err != nil {
			return err
		}
		vc.framebuffers[key] = created
		fb = created
		return nil
	})
	return fb, err
}

// forgetImage destroys every framebuffer referencing the view. Called once
// the image itself is released, when no submission can still use them.
func (vc *VulkanContext) forgetImage(view vk.ImageView) {
	vc.locks.SafeCall(FramebufferManagement, func() error {
		for key, fb := range vc.framebuffers {
			if key.color == view || key.depth == view {
				fb.Destroy(vc)
				delete(vc.framebuffers, key)
			}
		}
		return nil
	})
}

func (vfb *VulkanFramebuffer) Destroy(context *VulkanContext) {
	if vfb.Handle != nil {
		vk.DestroyFramebuffer(context.Device.LogicalDevice, vfb.Handle, context.Allocator)
	}
	vfb.Attachments = nil
	vfb.Handle = nil
	vfb.Renderpass = nil
}
