package vulkan

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipelinecache"
)

/**
 * @brief Holds a Vulkan pipeline. The layout is owned by the pipeline
 * object it was compiled for.
 */
type VulkanPipeline struct {
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout. */
	PipelineLayout vk.PipelineLayout
	BindPoint      vk.PipelineBindPoint
}

func (vp *VulkanPipeline) Bind(cmd vk.CommandBuffer) {
	vk.CmdBindPipeline(cmd, vp.BindPoint, vp.Handle)
}

func (vp *VulkanPipeline) Destroy(context *VulkanContext) {
	if vp.Handle != nil {
		vk.DestroyPipeline(context.Device.LogicalDevice, vp.Handle, context.Allocator)
		vp.Handle = nil
	}
}

// pipeline is compiled lazily, one native pipeline per permutation. Every
// permutation owns the VkPipelineCache it was created through, whose data is
// the binary persisted between runs.
type pipeline struct {
	desc  metadata.PipelineDescriptor
	built renderer.PipelineBuild

	stages []*VulkanShaderStage
	layout vk.PipelineLayout
	native [pipelinecache.PermutationCount]*VulkanPipeline
	caches [pipelinecache.PermutationCount]vk.PipelineCache
}

// Vulkan pipeline cache header, version one: length, version, vendor ID,
// device ID and the cache UUID of the device.
const (
	pipelineCacheHeaderSize    = 32
	pipelineCacheHeaderVersion = 1
)

// checkPipelineCacheHeader rejects data written by another device or driver.
func checkPipelineCacheHeader(payload []byte, device uuid.UUID) error {
	if len(payload) < pipelineCacheHeaderSize {
		return fmt.Errorf("pipeline cache data of %d bytes: %w", len(payload), core.ErrCacheMismatch)
	}
	if size := binary.LittleEndian.Uint32(payload); size < pipelineCacheHeaderSize {
		return fmt.Errorf("pipeline cache header of %d bytes: %w", size, core.ErrCacheMismatch)
	}
	if version := binary.LittleEndian.Uint32(payload[4:]); version != pipelineCacheHeaderVersion {
		return fmt.Errorf("pipeline cache header version %d: %w", version, core.ErrCacheMismatch)
	}
	id, err := uuid.FromBytes(payload[16:pipelineCacheHeaderSize])
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrCacheMismatch, err)
	}
	if id != device {
		return fmt.Errorf("pipeline cache for device %s: %w", id, core.ErrCacheMismatch)
	}
	return nil
}

func createPipelineCache(context *VulkanContext, seed []byte) (vk.PipelineCache, error) {
	createInfo := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	if len(seed) > 0 {
		createInfo.InitialDataSize = uint64(len(seed))
		createInfo.PInitialData = unsafe.Pointer(&seed[0])
	}
	var cache vk.PipelineCache
	if res := vk.CreatePipelineCache(context.Device.LogicalDevice, &createInfo, context.Allocator, &cache); res != vk.Success {
		return nil, vulkanError("vkCreatePipelineCache", res)
	}
	return cache, nil
}

func pipelineCacheData(context *VulkanContext, cache vk.PipelineCache) ([]byte, error) {
	var size uint64
	if res := vk.GetPipelineCacheData(context.Device.LogicalDevice, cache, &size, nil); res != vk.Success {
		return nil, vulkanError("vkGetPipelineCacheData", res)
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if res := vk.GetPipelineCacheData(context.Device.LogicalDevice, cache, &size, unsafe.Pointer(&data[0])); res != vk.Success {
		return nil, vulkanError("vkGetPipelineCacheData", res)
	}
	return data[:size], nil
}

func (p *pipeline) shaderStages(context *VulkanContext) ([]vk.PipelineShaderStageCreateInfo, error) {
	if p.stages == nil {
		type source struct {
			name string
			code []byte
			flag vk.ShaderStageFlagBits
		}
		var sources []source
		if p.desc.Kind == metadata.PipelineKindCompute {
			sources = append(sources, source{"compute", p.desc.Shader.ComputeSource, vk.ShaderStageComputeBit})
		} else {
			sources = append(sources, source{"vertex", p.desc.Shader.VertexSource, vk.ShaderStageVertexBit})
			if len(p.desc.Shader.FragmentSource) > 0 && !p.desc.Rasterizer.DiscardEnabled {
				sources = append(sources, source{"fragment", p.desc.Shader.FragmentSource, vk.ShaderStageFragmentBit})
			}
		}
		for _, s := range sources {
			if len(s.code) == 0 {
				p.destroyStages(context)
				return nil, fmt.Errorf("%s has no %s source: %w", p.desc.Name, s.name, core.ErrInvalidDescriptor)
			}
			stage, err := NewShaderStage(context, p.desc.Name+"."+s.name, s.code, s.flag)
			if err != nil {
				p.destroyStages(context)
				return nil, err
			}
			p.stages = append(p.stages, stage)
		}
	}
	infos := make([]vk.PipelineShaderStageCreateInfo, len(p.stages))
	for i, s := range p.stages {
		infos[i] = s.ShaderStageCreateInfo
	}
	return infos, nil
}

func (p *pipeline) pipelineLayout(context *VulkanContext) (vk.PipelineLayout, error) {
	if p.layout != nil {
		return p.layout, nil
	}
	var setLayouts []vk.DescriptorSetLayout
	if l, ok := p.built.Layout.(*VulkanDescriptorSetLayout); ok && l.BindingCount > 0 {
		setLayouts = append(setLayouts, l.Handle)
	}
	createInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}
	var layout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(context.Device.LogicalDevice, &createInfo, context.Allocator, &layout); res != vk.Success {
		return nil, vulkanError("vkCreatePipelineLayout", res)
	}
	p.layout = layout
	return layout, nil
}

// compile creates the native pipeline of a permutation. seed is the data of
// a previous pipeline cache, nil to compile from scratch.
func (p *pipeline) compile(context *VulkanContext, permutation pipelinecache.Permutation, seed []byte) error {
	if p.native[permutation] != nil {
		return nil
	}
	stages, err := p.shaderStages(context)
	if err != nil {
		return err
	}
	layout, err := p.pipelineLayout(context)
	if err != nil {
		return err
	}
	cache, err := createPipelineCache(context, seed)
	if err != nil {
		return err
	}

	native := &VulkanPipeline{PipelineLayout: layout}
	handles := make([]vk.Pipeline, 1)
	var res vk.Result
	if p.desc.Kind == metadata.PipelineKindCompute {
		native.BindPoint = vk.PipelineBindPointCompute
		createInfo := vk.ComputePipelineCreateInfo{
			SType:  vk.StructureTypeComputePipelineCreateInfo,
			Layout: layout,
			Stage:  stages[0],
		}
		res = vk.CreateComputePipelines(context.Device.LogicalDevice, cache, 1, []vk.ComputePipelineCreateInfo{createInfo}, context.Allocator, handles)
	} else {
		native.BindPoint = vk.PipelineBindPointGraphics
		createInfo, err := p.graphicsCreateInfo(context, layout, stages, permutation)
		if err != nil {
			vk.DestroyPipelineCache(context.Device.LogicalDevice, cache, context.Allocator)
			return err
		}
		res = vk.CreateGraphicsPipelines(context.Device.LogicalDevice, cache, 1, []vk.GraphicsPipelineCreateInfo{createInfo}, context.Allocator, handles)
	}
	if res != vk.Success {
		vk.DestroyPipelineCache(context.Device.LogicalDevice, cache, context.Allocator)
		return fmt.Errorf("%s (%s): %w", p.desc.Name, permutation, vulkanError("vkCreatePipelines", res))
	}
	native.Handle = handles[0]
	p.native[permutation] = native
	p.caches[permutation] = cache
	return nil
}

func (p *pipeline) renderpassKey() renderpassKey {
	color, _ := textureFormat(p.desc.ColorFormats[0])
	key := renderpassKey{color: color, depth: vk.FormatUndefined}
	if p.desc.DepthFormat != gputypes.TextureFormatUndefined {
		key.depth, _ = textureFormat(p.desc.DepthFormat)
	}
	return key
}

func (p *pipeline) graphicsCreateInfo(context *VulkanContext, layout vk.PipelineLayout, stages []vk.PipelineShaderStageCreateInfo, permutation pipelinecache.Permutation) (vk.GraphicsPipelineCreateInfo, error) {
	blend, _ := p.built.Blend.(*blendState)
	ds, _ := p.built.DepthStencil.(*depthStencilState)
	rast, _ := p.built.Rasterizer.(*rasterizerState)
	if blend == nil || ds == nil || rast == nil {
		return vk.GraphicsPipelineCreateInfo{}, fmt.Errorf("%s is missing render states: %w", p.desc.Name, core.ErrInvalidHandle)
	}

	// Compatible with every load and layout variant of the same formats.
	rp, err := context.Renderpass(p.renderpassKey())
	if err != nil {
		return vk.GraphicsPipelineCreateInfo{}, err
	}

	// Vertex input comes from storage buffers bound by the shaders.
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               topology(p.desc.Topology),
		PrimitiveRestartEnable: vk.False,
	}

	// Viewport and scissor are set per draw from the render target size.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	rasterizerCreateInfo := rast.info(permutation == pipelinecache.PermutationFlippedYPosition)
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples:  rast.sampleCount(),
		SampleShadingEnable:   vk.False,
		MinSampleShading:      1.0,
		PSampleMask:           []vk.SampleMask{vk.SampleMask(blend.sampleMask)},
		AlphaToCoverageEnable: vkBool(blend.alphaToCoverage),
		AlphaToOneEnable:      vk.False,
	}
	colorBlendStateCreateInfo := blend.info(len(p.desc.ColorFormats))

	createInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              layout,
		RenderPass:          rp.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	if rp.key.hasDepth() {
		depthStencil := ds.info
		createInfo.PDepthStencilState = &depthStencil
	}
	return createInfo, nil
}

func (p *pipeline) destroyStages(context *VulkanContext) {
	for _, s := range p.stages {
		s.Destroy(context)
	}
	p.stages = nil
}

func (p *pipeline) destroy(context *VulkanContext) {
	for i, native := range p.native {
		if native != nil {
			native.Destroy(context)
			p.native[i] = nil
		}
	}
	for i, cache := range p.caches {
		if cache != nil {
			vk.DestroyPipelineCache(context.Device.LogicalDevice, cache, context.Allocator)
			p.caches[i] = nil
		}
	}
	if p.layout != nil {
		vk.DestroyPipelineLayout(context.Device.LogicalDevice, p.layout, context.Allocator)
		p.layout = nil
	}
	p.destroyStages(context)
}
