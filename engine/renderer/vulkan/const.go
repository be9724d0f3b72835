package vulkan

import "github.com/spaghettifunk/prism/engine/renderer"

/**
 * @brief Format tag stored next to every pipeline binary produced by this
 * backend. The payload is the data of a VkPipelineCache.
 */
const PipelineCacheFormatTag uint32 = 0x564b5043

/** @brief Entry point looked up in every SPIR-V module. */
const ShaderEntryPoint = "main"

/** @brief Per fence wait slice while syncing, so a cancelled context is noticed. */
const fenceWaitSliceNs uint64 = 1_000_000

const (
	CommandPoolManagement renderer.LockGroup = "command_pool_management"
	QueueManagement       renderer.LockGroup = "queue_management"
	PipelineManagement    renderer.LockGroup = "pipeline_management"
	FramebufferManagement renderer.LockGroup = "framebuffer_management"
)
