package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
)

// renderpassKey selects a cached render pass. Passes which only differ in
// load operations or layouts stay compatible for pipeline creation.
type renderpassKey struct {
	color     vk.Format
	depth     vk.Format
	clear     bool
	depthRead bool
}

type VulkanRenderpass struct {
	Handle vk.RenderPass
	key    renderpassKey
}

func (k renderpassKey) hasDepth() bool {
	return k.depth != vk.FormatUndefined
}

func (k renderpassKey) depthLayout() vk.ImageLayout {
	if k.depthRead {
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	}
	return vk.ImageLayoutDepthStencilAttachmentOptimal
}

// RenderpassCreate builds a single subpass pass over one color attachment and
// an optional depth attachment. Attachments are expected to already be in
// the layout of their tracked state and are left there.
func RenderpassCreate(context *VulkanContext, key renderpassKey) (*VulkanRenderpass, error) {
	loadOp := vk.AttachmentLoadOpLoad
	if key.clear {
		loadOp = vk.AttachmentLoadOpClear
	}

	attachmentDescriptions := []vk.AttachmentDescription{{
		Format:         key.color,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         loadOp,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
		FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
	}}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}},
	}

	if key.hasDepth() {
		storeOp := vk.AttachmentStoreOpStore
		if key.depthRead {
			storeOp = vk.AttachmentStoreOpDontCare
		}
		attachmentDescriptions = append(attachmentDescriptions, vk.AttachmentDescription{
			Format:         key.depth,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        storeOp,
			StencilLoadOp:  vk.AttachmentLoadOpLoad,
			StencilStoreOp: storeOp,
			InitialLayout:  key.depthLayout(),
			FinalLayout:    key.depthLayout(),
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     key.depthLayout(),
		}
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
	}

	var pRenderPass vk.RenderPass
	if res := vk.CreateRenderPass(context.Device.LogicalDevice, &renderpassCreateInfo, context.Allocator, &pRenderPass); res != vk.Success {
		return nil, vulkanError("vkCreateRenderPass", res)
	}
	return &VulkanRenderpass{Handle: pRenderPass, key: key}, nil
}

// Renderpass returns the cached pass for key, creating it on first use.
func (vc *VulkanContext) Renderpass(key renderpassKey) (*VulkanRenderpass, error) {
	var rp *VulkanRenderpass
	err := vc.locks.SafeCall(FramebufferManagement, func() error {
		if cached, ok := vc.renderpasses[key]; ok {
			rp = cached
			return nil
		}
		created, err := RenderpassCreate(vc, key)
		if err != nil {
			return err
		}
		core.LogDebug("created render pass (color %d, depth %d, clear %t).", key.color, key.depth, key.clear)
		vc.renderpasses[key] = created
		rp = created
		return nil
	})
	return rp, err
}

func (vr *VulkanRenderpass) RenderpassDestroy(context *VulkanContext) {
	if vr.Handle != nil {
		vk.DestroyRenderPass(context.Device.LogicalDevice, vr.Handle, context.Allocator)
		vr.Handle = nil
	}
}

func (vr *VulkanRenderpass) RenderpassBegin(cmd vk.CommandBuffer, framebuffer *VulkanFramebuffer, clearColor []float32) {
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  vr.Handle,
		Framebuffer: framebuffer.Handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{
				Width:  framebuffer.Width,
				Height: framebuffer.Height,
			},
		},
	}
	if vr.key.clear {
		clearValues := make([]vk.ClearValue, 1)
		clearValues[0].SetColor(clearColor)
		beginInfo.ClearValueCount = 1
		beginInfo.PClearValues = clearValues
	}
	vk.CmdBeginRenderPass(cmd, &beginInfo, vk.SubpassContentsInline)
}

func (vr *VulkanRenderpass) RenderpassEnd(cmd vk.CommandBuffer) {
	vk.CmdEndRenderPass(cmd)
}
