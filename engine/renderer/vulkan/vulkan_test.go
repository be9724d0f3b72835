package vulkan

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipelinecache"
	"github.com/spaghettifunk/prism/engine/renderer/transition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSystem opens the Vulkan backend, or skips on machines without a driver.
func newSystem(t *testing.T) *renderer.RenderSystem {
	t.Helper()
	cfg := config.Default()
	cfg.Renderer.Backend = "vulkan"
	cfg.Renderer.SyncTimeout = "2s"
	cfg.Log.Level = "warn"
	cfg.PipelineCache.Dir = t.TempDir()

	rs, err := renderer.NewRenderSystem(cfg, nil)
	if errors.Is(err, core.ErrBackendNotAvailable) {
		t.Skipf("no Vulkan device: %s", err)
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Shutdown() })
	return rs
}

func cacheHeader(id uuid.UUID) []byte {
	header := make([]byte, pipelineCacheHeaderSize+8)
	binary.LittleEndian.PutUint32(header, pipelineCacheHeaderSize)
	binary.LittleEndian.PutUint32(header[4:], pipelineCacheHeaderVersion)
	copy(header[16:], id[:])
	return header
}

func TestStateAccessMapping(t *testing.T) {
	rt := accessFor(metadata.ResourceStateRenderTarget)
	assert.Equal(t, vk.ImageLayoutColorAttachmentOptimal, rt.layout)
	assert.NotZero(t, rt.access&vk.AccessFlags(vk.AccessColorAttachmentWriteBit))

	assert.Equal(t, vk.ImageLayoutTransferSrcOptimal, accessFor(metadata.ResourceStateCopySource).layout)
	assert.Equal(t, vk.ImageLayoutTransferDstOptimal, accessFor(metadata.ResourceStateCopyDestination).layout)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, accessFor(metadata.ResourceStateShaderResource).layout)
	assert.Equal(t, vk.ImageLayoutDepthStencilReadOnlyOptimal, accessFor(metadata.ResourceStateDepthRead).layout)
	assert.Equal(t, vk.ImageLayoutGeneral, accessFor(metadata.ResourceStateUnorderedAccess).layout)

	indirect := accessFor(metadata.ResourceStateIndirectArgument)
	assert.Equal(t, vk.AccessFlags(vk.AccessIndirectCommandReadBit), indirect.access)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageDrawIndirectBit), indirect.stages)

	common := accessFor(metadata.ResourceStateCommon)
	assert.Equal(t, common, accessFor(metadata.ResourceStatePresent))
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit), common.stages)
}

func TestFlippedPermutationMirrorsWinding(t *testing.T) {
	assert.Equal(t, vk.FrontFaceCounterClockwise, frontFace(gputypes.FrontFaceCCW, false))
	assert.Equal(t, vk.FrontFaceClockwise, frontFace(gputypes.FrontFaceCCW, true))
	assert.Equal(t, vk.FrontFaceCounterClockwise, frontFace(gputypes.FrontFaceCW, true))

	r := &rasterizerState{desc: metadata.RasterizerDescriptor{FrontFace: gputypes.FrontFaceCCW}}
	assert.Equal(t, vk.FrontFaceClockwise, r.info(true).FrontFace)
	assert.Equal(t, vk.SampleCountFlagBits(1), r.sampleCount())
}

func TestDepthStencilTranslation(t *testing.T) {
	ds := translateDepthStencil(metadata.DepthStencilDescriptor{
		DepthTestEnabled:   false,
		DepthWriteEnabled:  true,
		DepthCompare:       gputypes.CompareFunctionLessEqual,
		StencilTestEnabled: true,
		StencilReadMask:    0xf0,
		StencilWriteMask:   0x0f,
		StencilReference:   3,
		StencilFront: gputypes.StencilFaceState{
			Compare: gputypes.CompareFunctionEqual,
			PassOp:  gputypes.StencilOperationReplace,
		},
	})
	assert.Equal(t, vk.Bool32(vk.False), ds.info.DepthWriteEnable, "no depth writes without the depth test")
	assert.Equal(t, vk.CompareOpLessOrEqual, ds.info.DepthCompareOp)
	assert.Equal(t, vk.CompareOpEqual, ds.info.Front.CompareOp)
	assert.Equal(t, vk.StencilOpReplace, ds.info.Front.PassOp)
	assert.Equal(t, uint32(0xf0), ds.info.Front.CompareMask)
	assert.Equal(t, uint32(3), ds.info.Back.Reference)
	assert.Equal(t, vk.StencilOpKeep, stencilOp(gputypes.StencilOperationUndefined))
	assert.Equal(t, vk.CompareOpAlways, compareOp(gputypes.CompareFunctionAlways))
}

func TestBlendTranslationHandsOnlyUsedTargets(t *testing.T) {
	desc := metadata.BlendDescriptor{LogicOp: metadata.LogicOpXor, SampleMask: ^uint32(0)}
	desc.Targets[0].BlendEnabled = true
	desc.Targets[0].Color = gputypes.BlendComponent{
		SrcFactor: gputypes.BlendFactorSrcAlpha,
		DstFactor: gputypes.BlendFactorOneMinusSrcAlpha,
		Operation: gputypes.BlendOperationAdd,
	}
	desc.Targets[0].WriteMask = gputypes.ColorWriteMaskAll

	info := translateBlend(desc).info(1)
	require.Len(t, info.PAttachments, 1)
	assert.Equal(t, vk.Bool32(vk.True), info.LogicOpEnable)
	assert.Equal(t, vk.LogicOpXor, info.LogicOp)
	assert.Equal(t, vk.BlendFactorSrcAlpha, info.PAttachments[0].SrcColorBlendFactor)
	assert.Equal(t, vk.BlendFactorOneMinusSrcAlpha, info.PAttachments[0].DstColorBlendFactor)
	assert.Equal(t, vk.ColorComponentFlags(0xf), info.PAttachments[0].ColorWriteMask)
}

func TestFormatAndUsageMapping(t *testing.T) {
	f, ok := textureFormat(gputypes.TextureFormatBGRA8Unorm)
	assert.True(t, ok)
	assert.Equal(t, vk.FormatB8g8r8a8Unorm, f)
	_, ok = textureFormat(gputypes.TextureFormatUndefined)
	assert.False(t, ok)

	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), imageAspect(gputypes.TextureFormatDepth32Float))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit), imageAspect(gputypes.TextureFormatDepth24PlusStencil8))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), imageAspect(gputypes.TextureFormatRGBA8Unorm))

	usage := bufferUsage(metadata.BindVertexBuffer | metadata.BindIndirect)
	assert.NotZero(t, usage&vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	assert.NotZero(t, usage&vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit))
	assert.NotZero(t, usage&vk.BufferUsageFlags(vk.BufferUsageTransferDstBit), "barrier resolution may copy into any buffer")
	assert.Zero(t, usage&vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit))

	img := imageUsage(metadata.BindColorAttachment)
	assert.NotZero(t, img&vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit))
	assert.Zero(t, img&vk.ImageUsageFlags(vk.ImageUsageSampledBit))
}

func TestSpirvWords(t *testing.T) {
	code := make([]byte, 8)
	binary.LittleEndian.PutUint32(code, spirvMagic)
	binary.LittleEndian.PutUint32(code[4:], 0x00010300)
	words, err := spirvWords(code)
	require.NoError(t, err)
	assert.Equal(t, []uint32{spirvMagic, 0x00010300}, words)

	_, err = spirvWords([]byte("@vertex fn main"))
	assert.ErrorIs(t, err, core.ErrInvalidDescriptor)
	_, err = spirvWords(make([]byte, 8))
	assert.ErrorIs(t, err, core.ErrInvalidDescriptor)
}

func TestPipelineCacheHeaderMustMatchDevice(t *testing.T) {
	device := uuid.New()
	assert.NoError(t, checkPipelineCacheHeader(cacheHeader(device), device))
	assert.ErrorIs(t, checkPipelineCacheHeader(cacheHeader(uuid.New()), device), core.ErrCacheMismatch)
	assert.ErrorIs(t, checkPipelineCacheHeader([]byte{1, 2, 3}, device), core.ErrCacheMismatch)

	stale := cacheHeader(device)
	binary.LittleEndian.PutUint32(stale[4:], 2)
	assert.ErrorIs(t, checkPipelineCacheHeader(stale, device), core.ErrCacheMismatch)
}

func TestLoadPipelineBinaryRejectsForeignData(t *testing.T) {
	b := New()
	b.cacheUUID = uuid.New()
	p := &pipeline{}

	err := b.LoadPipelineBinary(p, pipelinecache.PermutationDefault, 0x12345678, cacheHeader(b.cacheUUID))
	assert.ErrorIs(t, err, core.ErrCacheMismatch)
	err = b.LoadPipelineBinary(p, pipelinecache.PermutationDefault, PipelineCacheFormatTag, cacheHeader(uuid.New()))
	assert.ErrorIs(t, err, core.ErrCacheMismatch)

	_, _, err = b.PipelineBinary(p, pipelinecache.PermutationFlippedYPosition)
	assert.ErrorIs(t, err, core.ErrNoNativePipeline)
	assert.ErrorIs(t, b.CompilePipeline("not a pipeline", pipelinecache.PermutationDefault), core.ErrInvalidHandle)
}

func TestRasterizerNeedsEnabledFeatures(t *testing.T) {
	b := New()
	_, err := b.CreateRasterizerState(metadata.RasterizerDescriptor{PolygonMode: metadata.PolygonModeWireframe})
	assert.ErrorIs(t, err, core.ErrUnsupportedUsage)
	_, err = b.CreateRasterizerState(metadata.RasterizerDescriptor{DepthClampEnabled: true})
	assert.ErrorIs(t, err, core.ErrUnsupportedUsage)
	_, err = b.CreateRasterizerState(metadata.RasterizerDescriptor{SampleCount: 4})
	assert.ErrorIs(t, err, core.ErrUnsupportedUsage)

	b.context.Device.EnabledFeatures.FillModeNonSolid = vk.True
	native, err := b.CreateRasterizerState(metadata.RasterizerDescriptor{PolygonMode: metadata.PolygonModeWireframe})
	require.NoError(t, err)
	assert.Equal(t, vk.PolygonModeLine, native.(*rasterizerState).info(false).PolygonMode)
}

func TestImageCoversMipChain(t *testing.T) {
	b := New()
	_, err := ImageCreate(b.context, &metadata.GPUResource{
		Label: "msaa", Width: 4, Height: 4, SampleCount: 4,
		Format: gputypes.TextureFormatRGBA8Unorm,
	})
	assert.ErrorIs(t, err, core.ErrUnsupportedUsage)

	img := &VulkanImage{MipLevels: 5, Format: gputypes.TextureFormatRGBA8Unorm}
	assert.Equal(t, uint32(5), img.subresourceRange().LevelCount)
	assert.Equal(t, uint32(3), img.subresourceLayers(3).MipLevel)
	assert.Equal(t, uint32(1), (&VulkanImage{}).subresourceRange().LevelCount)
}

func TestGraphicsPipelineNeedsOneColorTarget(t *testing.T) {
	b := New()
	desc := metadata.DefaultGraphicsPipeline("mrt", metadata.ShaderDescriptor{})
	desc.ColorFormats = []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA16Float}
	_, err := b.CreatePipeline(&renderer.PipelineBuild{Descriptor: &desc})
	assert.ErrorIs(t, err, core.ErrUnsupportedUsage)

	desc.ColorFormats = desc.ColorFormats[:1]
	desc.DepthFormat = gputypes.TextureFormatRGBA8Unorm
	_, err = b.CreatePipeline(&renderer.PipelineBuild{Descriptor: &desc})
	assert.ErrorIs(t, err, core.ErrInvalidDescriptor)

	desc.DepthFormat = gputypes.TextureFormatDepth32Float
	native, err := b.CreatePipeline(&renderer.PipelineBuild{Descriptor: &desc})
	require.NoError(t, err)
	key := native.(*pipeline).renderpassKey()
	assert.True(t, key.hasDepth())
	assert.Equal(t, vk.FormatD32Sfloat, key.depth)
}

func TestBarrierRecordingNeedsNativeResource(t *testing.T) {
	s := &Stream{backend: New(), secondary: true, recording: true}
	err := s.RecordBarriers([]transition.Barrier{{
		Resource: &metadata.GPUResource{Label: "orphan"},
		Before:   metadata.ResourceStateCommon,
		After:    metadata.ResourceStateCopySource,
	}})
	assert.ErrorIs(t, err, core.ErrInvalidHandle)
	assert.Empty(t, s.ops)
}

func TestSecondaryStreamKeepsOps(t *testing.T) {
	s := &Stream{backend: New(), secondary: true, recording: true}
	src := &metadata.GPUResource{Label: "src", Native: &VulkanBuffer{Size: 64}}
	dst := &metadata.GPUResource{Label: "dst", Native: &VulkanBuffer{Size: 64}}
	require.NoError(t, s.CopyBuffer(src, dst, 0, 0, 64))
	require.NoError(t, s.RecordBarriers([]transition.Barrier{{
		Kind:     transition.BarrierUAV,
		Resource: dst,
	}}))
	assert.Len(t, s.ops, 2)
	require.NoError(t, s.End())
	assert.ErrorIs(t, s.CopyBuffer(src, dst, 0, 0, 64), core.ErrNotRecording)
}

func TestCopyAndClearOnDevice(t *testing.T) {
	rs := newSystem(t)
	b := rs.Backend().(*Backend)
	assert.Contains(t, b.DeviceIdentity(), b.context.Device.Name)

	src, err := rs.CreateBuffer(metadata.BufferDescriptor{Label: "src", Size: 256, BindFlags: metadata.BindCopySrc})
	require.NoError(t, err)
	dst, err := rs.CreateBuffer(metadata.BufferDescriptor{Label: "dst", Size: 256, BindFlags: metadata.BindCopyDst})
	require.NoError(t, err)
	target, err := rs.CreateTexture(metadata.TextureDescriptor{
		Label:     "backbuffer",
		Width:     32,
		Height:    32,
		BindFlags: metadata.BindColorAttachment | metadata.BindCopySrc,
	})
	require.NoError(t, err)

	cb, err := rs.CreateCommandBuffer(false)
	require.NoError(t, err)
	defer cb.Destroy()

	for frame := 0; frame < 2; frame++ {
		require.NoError(t, cb.Begin())
		require.NoError(t, cb.CopyBuffer(src, dst, 0, 0, 128))
		require.NoError(t, cb.ClearRenderTarget(target, [4]float64{0, 0, 0, 1}))
		require.NoError(t, cb.Present(target))
		require.NoError(t, cb.End())

		_, err = rs.Submit(cb)
		require.NoError(t, err)
		require.NoError(t, rs.SyncDevice(context.Background()))
	}

	assert.Empty(t, b.inflight, "retired command buffers are freed")
	assert.NotEmpty(t, b.fences, "fences are recycled")
	assert.Equal(t, uint64(2), b.CompletedSubmission())

	require.NoError(t, rs.DestroyResource(target))
	require.NoError(t, rs.SyncDevice(context.Background()))
}
