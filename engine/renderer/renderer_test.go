package renderer_test

import (
	"context"
	"sync"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/null"
	"github.com/spaghettifunk/prism/engine/renderer/statecache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Renderer.Backend = "null"
	cfg.Renderer.SyncTimeout = "50ms"
	cfg.Log.Level = "warn"
	cfg.PipelineCache.Dir = t.TempDir()
	return cfg
}

func newSystem(t *testing.T, cfg *config.Config) (*renderer.RenderSystem, *null.Backend) {
	t.Helper()
	if cfg == nil {
		cfg = newConfig(t)
	}
	rs, err := renderer.NewRenderSystem(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Shutdown() })
	return rs, rs.Backend().(*null.Backend)
}

func shader(name string) metadata.ShaderDescriptor {
	return metadata.ShaderDescriptor{
		Name:           name,
		VertexSource:   []byte("vs:" + name),
		FragmentSource: []byte("fs:" + name),
	}
}

func stream(cb *renderer.CommandBuffer) *null.Stream {
	return cb.Stream().(*null.Stream)
}

func poolStats(rs *renderer.RenderSystem, name string) renderer.PoolStats {
	for _, s := range rs.PoolStats() {
		if s.Name == name {
			return s
		}
	}
	return renderer.PoolStats{}
}

func TestPipelinesShareBlendState(t *testing.T) {
	rs, _ := newSystem(t, nil)

	opaque, err := rs.CreatePipelineState(metadata.DefaultGraphicsPipeline("opaque", shader("opaque")))
	require.NoError(t, err)
	frontDesc := metadata.DefaultGraphicsPipeline("front", shader("front"))
	frontDesc.Rasterizer.CullMode = gputypes.CullModeFront
	front, err := rs.CreatePipelineState(frontDesc)
	require.NoError(t, err)

	assert.Same(t, opaque.BlendState(), front.BlendState())
	assert.NotSame(t, opaque.RasterizerState(), front.RasterizerState())
	assert.Equal(t, 1, poolStats(rs, "blend").Entries)
	assert.Equal(t, 2, poolStats(rs, "rasterizer").Entries)

	cb, err := rs.CreateCommandBuffer(false)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.SetPipelineState(opaque))
	require.NoError(t, cb.Draw(3, 1, 0, 0))
	require.NoError(t, cb.SetPipelineState(front))
	require.NoError(t, cb.Draw(3, 1, 0, 0))
	require.NoError(t, cb.End())

	s := stream(cb)
	assert.Equal(t, 2, s.BindCount(statecache.CategoryPipeline))
	assert.Equal(t, 1, s.BindCount(statecache.CategoryBlend))
	assert.Equal(t, 1, s.BindCount(statecache.CategoryDepthStencil))
	assert.Equal(t, 2, s.BindCount(statecache.CategoryRasterizer))
	assert.Equal(t, []string{"draw 3 1 0 0", "draw 3 1 0 0"}, s.Commands)
}

func TestReleasedStatesAreReclaimed(t *testing.T) {
	rs, backend := newSystem(t, nil)

	a, err := rs.CreatePipelineState(metadata.DefaultGraphicsPipeline("a", shader("a")))
	require.NoError(t, err)
	bDesc := metadata.DefaultGraphicsPipeline("b", shader("b"))
	bDesc.Rasterizer.CullMode = gputypes.CullModeFront
	b, err := rs.CreatePipelineState(bDesc)
	require.NoError(t, err)

	require.NoError(t, rs.ReleasePipelineState(a))
	assert.Equal(t, 1, poolStats(rs, "blend").Live)
	assert.Equal(t, 1, poolStats(rs, "rasterizer").Dead)

	require.NoError(t, rs.ReleasePipelineState(b))
	assert.Equal(t, 1, backend.Live("blend"), "lazy reclamation keeps the native state")
	assert.Equal(t, 1, poolStats(rs, "blend").Dead)

	// blend, depth-stencil, two rasterizers and the layout
	assert.Equal(t, 5, rs.CompactStatePools())
	assert.Equal(t, 0, backend.Live("blend"))
	assert.Equal(t, 0, backend.Live("pipeline"))

	assert.ErrorIs(t, rs.ReleasePipelineState(a), core.ErrInvalidHandle)
}

func TestEagerReleaseForgetsBinding(t *testing.T) {
	cfg := newConfig(t)
	cfg.Renderer.ReclaimPolicy = config.ReclaimEager
	rs, backend := newSystem(t, cfg)

	cb, err := rs.CreateCommandBuffer(false)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())

	first, err := rs.CreatePipelineState(metadata.DefaultGraphicsPipeline("p", shader("p")))
	require.NoError(t, err)
	require.NoError(t, cb.SetPipelineState(first))
	require.NoError(t, rs.ReleasePipelineState(first))
	assert.Equal(t, 0, backend.Live("blend"))
	assert.Nil(t, cb.Bound(statecache.CategoryBlend, 0))

	second, err := rs.CreatePipelineState(metadata.DefaultGraphicsPipeline("p", shader("p")))
	require.NoError(t, err)
	require.NoError(t, cb.SetPipelineState(second))
	assert.Equal(t, 2, stream(cb).BindCount(statecache.CategoryBlend))
	require.NoError(t, cb.End())
}

func TestStateCreationFailureLeavesPoolsUnchanged(t *testing.T) {
	rs, backend := newSystem(t, nil)
	backend.FailStateCreation(true)

	_, err := rs.CreatePipelineState(metadata.DefaultGraphicsPipeline("broken", shader("broken")))
	assert.Error(t, err)
	for _, s := range rs.PoolStats() {
		assert.Zero(t, s.Entries, s.Name)
	}

	backend.FailStateCreation(false)
	_, err = rs.CreatePipelineState(metadata.DefaultGraphicsPipeline("fixed", shader("fixed")))
	assert.NoError(t, err)
}

func TestRenderTargetPresentEveryFrame(t *testing.T) {
	rs, _ := newSystem(t, nil)
	rt, err := rs.CreateTexture(metadata.TextureDescriptor{
		Label:     "backbuffer",
		Width:     64,
		Height:    64,
		BindFlags: metadata.BindColorAttachment,
	})
	require.NoError(t, err)
	assert.Equal(t, metadata.ResourceStateCommon, rt.CurrentState)
	assert.Equal(t, metadata.ResourceStateRenderTarget, rt.UsageState)

	cb, err := rs.CreateCommandBuffer(false)
	require.NoError(t, err)
	for frame := 0; frame < 3; frame++ {
		require.NoError(t, cb.Begin())
		require.NoError(t, cb.ClearRenderTarget(rt, [4]float64{0, 0, 0, 1}))
		require.NoError(t, cb.Present(rt))
		require.NoError(t, cb.End())
		_, err := rs.Submit(cb)
		require.NoError(t, err)

		s := stream(cb)
		require.Equal(t, 2, s.BarrierCount(), "frame %d", frame)
		first := s.Barriers[0][0]
		if frame == 0 {
			assert.Equal(t, metadata.ResourceStateCommon, first.Before)
		} else {
			assert.Equal(t, metadata.ResourceStatePresent, first.Before)
		}
		assert.Equal(t, metadata.ResourceStateRenderTarget, first.After)
		assert.Equal(t, metadata.ResourceStatePresent, rt.CurrentState)
	}
	assert.Equal(t, uint64(3), rt.LastSubmission)
}

func TestQueuedTransitionIsRetargeted(t *testing.T) {
	rs, _ := newSystem(t, nil)
	p, err := rs.CreatePipelineState(metadata.DefaultGraphicsPipeline("p", shader("p")))
	require.NoError(t, err)
	tex, err := rs.CreateTexture(metadata.TextureDescriptor{
		Width: 8, Height: 8,
		BindFlags: metadata.BindColorAttachment | metadata.BindSampled,
	})
	require.NoError(t, err)
	other, err := rs.CreateTexture(metadata.TextureDescriptor{Width: 8, Height: 8, BindFlags: metadata.BindSampled})
	require.NoError(t, err)

	cb, err := rs.CreateCommandBuffer(false)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.SetPipelineState(p))
	require.NoError(t, cb.SetTexture(0, tex))
	assert.Equal(t, 1, cb.PendingBarriers())
	require.NoError(t, cb.SetTexture(0, other))
	require.NoError(t, cb.SetRenderTarget(tex))
	assert.Equal(t, 2, cb.PendingBarriers())
	require.NoError(t, cb.Draw(3, 1, 0, 0))

	s := stream(cb)
	require.Equal(t, 2, s.BarrierCount())
	assert.Same(t, tex, s.Barriers[0][0].Resource)
	assert.Equal(t, metadata.ResourceStateRenderTarget, s.Barriers[0][0].After)
	assert.Equal(t, metadata.ResourceStateShaderResource, other.CurrentState)
	assert.Equal(t, uint64(1), rs.Metrics.BarriersMerged.Load())

	// a render target cannot be sampled by the draw writing it
	require.NoError(t, cb.SetTexture(0, tex))
	assert.ErrorIs(t, cb.Draw(3, 1, 0, 0), core.ErrInvalidTransition)
	assert.Equal(t, []string{"draw 3 1 0 0"}, s.Commands)
	assert.Equal(t, metadata.ResourceStateRenderTarget, tex.CurrentState)
}

func TestCopyRestoresBoundResource(t *testing.T) {
	rs, _ := newSystem(t, nil)
	p, err := rs.CreatePipelineState(metadata.DefaultGraphicsPipeline("p", shader("p")))
	require.NoError(t, err)
	tex, err := rs.CreateTexture(metadata.TextureDescriptor{Width: 8, Height: 8, BindFlags: metadata.BindSampled | metadata.BindCopySrc})
	require.NoError(t, err)
	dst, err := rs.CreateTexture(metadata.TextureDescriptor{Width: 8, Height: 8, BindFlags: metadata.BindCopyDst})
	require.NoError(t, err)

	cb, err := rs.CreateCommandBuffer(false)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.SetPipelineState(p))
	require.NoError(t, cb.SetTexture(0, tex))
	require.NoError(t, cb.Draw(3, 1, 0, 0))
	require.NoError(t, cb.CopyTexture(tex, dst))
	assert.Equal(t, metadata.ResourceStateCopySource, tex.CurrentState)
	assert.Equal(t, metadata.ResourceStateShaderResource, tex.EffectiveState())

	require.NoError(t, cb.Draw(3, 1, 0, 0))
	assert.Equal(t, metadata.ResourceStateShaderResource, tex.CurrentState)
	assert.False(t, tex.HasPending)
	assert.Equal(t, metadata.ResourceStateCommon, dst.CurrentState)

	s := stream(cb)
	last := s.Barriers[len(s.Barriers)-1]
	require.Len(t, last, 2)
	assert.Same(t, tex, last[0].Resource)
	assert.Equal(t, metadata.ResourceStateCopySource, last[0].Before)
	assert.Equal(t, metadata.ResourceStateShaderResource, last[0].After)
	require.Len(t, s.Commands, 3)
	assert.Equal(t, "draw 3 1 0 0", s.Commands[2])

	assert.ErrorIs(t, cb.CopyTexture(tex, tex), core.ErrInvalidTransition)
	require.NoError(t, cb.End())
}

func TestDrawRequiresBoundStates(t *testing.T) {
	rs, _ := newSystem(t, nil)
	p, err := rs.CreatePipelineState(metadata.DefaultGraphicsPipeline("p", shader("p")))
	require.NoError(t, err)
	tex, err := rs.CreateTexture(metadata.TextureDescriptor{
		Width: 8, Height: 8,
		BindFlags: metadata.BindColorAttachment | metadata.BindSampled,
	})
	require.NoError(t, err)

	cb, err := rs.CreateCommandBuffer(false)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.SetPipelineState(p))
	require.NoError(t, cb.SetTexture(0, tex))
	require.NoError(t, cb.Draw(3, 1, 0, 0))

	require.NoError(t, cb.ClearRenderTarget(tex, [4]float64{0, 0, 0, 1}))
	assert.Equal(t, metadata.ResourceStateRenderTarget, tex.CurrentState)
	require.NoError(t, cb.Draw(3, 1, 0, 0))
	assert.Equal(t, metadata.ResourceStateShaderResource, tex.CurrentState)

	// the queued restore is dropped by the next draw
	require.NoError(t, cb.RestoreUsageState(tex))
	assert.Equal(t, 1, cb.PendingBarriers())
	require.NoError(t, cb.Draw(3, 1, 0, 0))
	assert.Zero(t, cb.PendingBarriers())
	assert.Equal(t, metadata.ResourceStateShaderResource, tex.CurrentState)
	require.NoError(t, cb.End())

	s := stream(cb)
	assert.Equal(t, 3, s.BarrierCount())
	assert.Len(t, s.Commands, 4)
}

func TestDeferredDestroyWaitsForSubmission(t *testing.T) {
	rs, backend := newSystem(t, nil)
	backend.SetAutoComplete(false)

	p, err := rs.CreatePipelineState(metadata.DefaultGraphicsPipeline("p", shader("p")))
	require.NoError(t, err)
	vb, err := rs.CreateBuffer(metadata.BufferDescriptor{Label: "vertices", Size: 256, BindFlags: metadata.BindVertexBuffer})
	require.NoError(t, err)

	cb, err := rs.CreateCommandBuffer(false)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.SetPipelineState(p))
	require.NoError(t, cb.SetVertexBuffer(0, vb))
	require.NoError(t, cb.Draw(3, 1, 0, 0))
	require.NoError(t, cb.End())
	submission, err := rs.Submit(cb)
	require.NoError(t, err)

	require.NoError(t, rs.DestroyResource(vb))
	assert.Zero(t, rs.CollectGarbage())
	assert.Equal(t, 1, backend.Live("buffer"))
	assert.ErrorIs(t, rs.SyncDevice(context.Background()), core.ErrNotReady)

	backend.Complete(submission)
	require.NoError(t, rs.SyncDevice(context.Background()))
	assert.Equal(t, 0, backend.Live("buffer"))
	assert.Zero(t, rs.PendingDestroys())
	_, ok := rs.Resource(vb.ID)
	assert.False(t, ok)

	assert.ErrorIs(t, rs.DestroyResource(vb), core.ErrInvalidHandle)
}

func TestDestroyRetriesAfterFullQueue(t *testing.T) {
	cfg := newConfig(t)
	cfg.Renderer.MaxPendingDestroys = 1
	rs, backend := newSystem(t, cfg)
	backend.SetAutoComplete(false)

	p, err := rs.CreatePipelineState(metadata.DefaultGraphicsPipeline("p", shader("p")))
	require.NoError(t, err)
	first, err := rs.CreateBuffer(metadata.BufferDescriptor{Size: 64, BindFlags: metadata.BindVertexBuffer})
	require.NoError(t, err)
	second, err := rs.CreateBuffer(metadata.BufferDescriptor{Size: 64, BindFlags: metadata.BindConstantBuffer})
	require.NoError(t, err)

	cb, err := rs.CreateCommandBuffer(false)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.SetPipelineState(p))
	require.NoError(t, cb.SetVertexBuffer(0, first))
	require.NoError(t, cb.SetConstantBuffer(0, second))
	require.NoError(t, cb.Draw(3, 1, 0, 0))
	require.NoError(t, cb.End())
	submission, err := rs.Submit(cb)
	require.NoError(t, err)

	require.NoError(t, rs.DestroyResource(first))
	assert.ErrorIs(t, rs.DestroyResource(second), core.ErrNotReady)
	assert.False(t, second.Destroyed)
	assert.Equal(t, 1, rs.PendingDestroys())
	require.NoError(t, cb.Begin())
	assert.NoError(t, cb.SetConstantBuffer(0, second), "a failed destroy leaves the resource usable")
	require.NoError(t, cb.End())

	backend.Complete(submission)
	require.NoError(t, rs.DestroyResource(second))
	assert.True(t, second.Destroyed)
	require.NoError(t, rs.SyncDevice(context.Background()))
	assert.Equal(t, 0, backend.Live("buffer"))
}

func TestDestroyedResourceCannotBeUsed(t *testing.T) {
	rs, _ := newSystem(t, nil)
	tex, err := rs.CreateTexture(metadata.TextureDescriptor{Width: 4, Height: 4, BindFlags: metadata.BindSampled})
	require.NoError(t, err)

	cb, err := rs.CreateCommandBuffer(false)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.SetTexture(0, tex))
	require.NoError(t, rs.DestroyResource(tex))
	assert.Nil(t, cb.Bound(statecache.CategoryTexture, 0))
	assert.ErrorIs(t, cb.SetTexture(0, tex), core.ErrInvalidHandle)
}

func TestPipelineCacheSurvivesRestart(t *testing.T) {
	cfg := newConfig(t)
	desc := metadata.DefaultGraphicsPipeline("cached", shader("cached"))
	desc.FlipYPosition = true

	first, backend := newSystem(t, cfg)
	p, err := first.CreatePipelineState(desc)
	require.NoError(t, err)
	assert.False(t, p.FromCache)
	assert.Equal(t, 1, backend.Compiles())
	assert.Equal(t, uint64(1), first.Metrics.CacheMisses.Load())

	second, backend := newSystem(t, cfg)
	p, err = second.CreatePipelineState(desc)
	require.NoError(t, err)
	assert.True(t, p.FromCache)
	assert.Zero(t, backend.Compiles())
	assert.Equal(t, 1, backend.Loads())
	assert.Equal(t, uint64(1), second.Metrics.CacheHits.Load())

	third, backend := newSystem(t, cfg)
	backend.RejectBinaries(true)
	p, err = third.CreatePipelineState(desc)
	require.NoError(t, err)
	assert.False(t, p.FromCache)
	assert.Equal(t, 1, backend.Compiles())
}

func TestSecondaryCommandBuffer(t *testing.T) {
	rs, _ := newSystem(t, nil)
	tex, err := rs.CreateTexture(metadata.TextureDescriptor{Width: 4, Height: 4, BindFlags: metadata.BindSampled})
	require.NoError(t, err)

	secondary, err := rs.CreateCommandBuffer(true)
	require.NoError(t, err)
	require.NoError(t, secondary.Begin())
	require.NoError(t, secondary.SetTexture(0, tex))
	require.NoError(t, secondary.End())
	assert.Zero(t, stream(secondary).BarrierCount())
	assert.Equal(t, metadata.ResourceStateCommon, tex.CurrentState)

	primary, err := rs.CreateCommandBuffer(false)
	require.NoError(t, err)
	require.NoError(t, primary.Begin())
	require.NoError(t, primary.Execute(secondary))
	require.NoError(t, primary.End())

	s := stream(primary)
	require.Equal(t, 1, s.BarrierCount())
	assert.Equal(t, metadata.ResourceStateShaderResource, s.Barriers[0][0].After)
	assert.Equal(t, metadata.ResourceStateShaderResource, tex.CurrentState)

	_, err = rs.Submit(secondary)
	assert.ErrorIs(t, err, core.ErrInvalidCommandBuffer)
	submission, err := rs.Submit(primary)
	require.NoError(t, err)
	assert.Equal(t, submission, tex.LastSubmission)
}

func TestPushPopBinding(t *testing.T) {
	rs, _ := newSystem(t, nil)
	flags := metadata.BindSampled
	a, err := rs.CreateTexture(metadata.TextureDescriptor{Width: 4, Height: 4, BindFlags: flags})
	require.NoError(t, err)
	b, err := rs.CreateTexture(metadata.TextureDescriptor{Width: 4, Height: 4, BindFlags: flags})
	require.NoError(t, err)

	cb, err := rs.CreateCommandBuffer(false)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.SetTexture(0, a))
	require.NoError(t, cb.PushBinding(statecache.CategoryTexture, 0))
	require.NoError(t, cb.SetTexture(0, b))
	require.NoError(t, cb.PopBinding(statecache.CategoryTexture))
	assert.Same(t, a, cb.Bound(statecache.CategoryTexture, 0))
	assert.ErrorIs(t, cb.PopBinding(statecache.CategoryTexture), core.ErrStackEmpty)
}

func TestPopRestoresRequiredState(t *testing.T) {
	rs, _ := newSystem(t, nil)
	p, err := rs.CreatePipelineState(metadata.DefaultGraphicsPipeline("p", shader("p")))
	require.NoError(t, err)
	depth, err := rs.CreateTexture(metadata.TextureDescriptor{
		Width:     8,
		Height:    8,
		Format:    gputypes.TextureFormatDepth32Float,
		BindFlags: metadata.BindDepthStencilAttachment,
	})
	require.NoError(t, err)

	cb, err := rs.CreateCommandBuffer(false)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.SetPipelineState(p))
	require.NoError(t, cb.SetDepthTarget(depth, false))
	require.NoError(t, cb.PushBinding(statecache.CategoryDepthTarget, 0))
	require.NoError(t, cb.SetDepthTarget(depth, true))
	require.NoError(t, cb.Draw(3, 1, 0, 0))
	assert.Equal(t, metadata.ResourceStateDepthRead, depth.CurrentState)

	require.NoError(t, cb.PopBinding(statecache.CategoryDepthTarget))
	require.NoError(t, cb.Draw(3, 1, 0, 0))
	assert.Equal(t, metadata.ResourceStateDepthWrite, depth.CurrentState)
	require.NoError(t, cb.End())
}

func TestMisuseIsReported(t *testing.T) {
	rs, _ := newSystem(t, nil)

	_, err := rs.CreateBuffer(metadata.BufferDescriptor{Size: 16, BindFlags: metadata.BindColorAttachment})
	assert.ErrorIs(t, err, core.ErrInvalidBindFlags)
	_, err = rs.CreateBuffer(metadata.BufferDescriptor{})
	assert.ErrorIs(t, err, core.ErrInvalidDescriptor)

	tex, err := rs.CreateTexture(metadata.TextureDescriptor{Width: 4, Height: 4, BindFlags: metadata.BindSampled})
	require.NoError(t, err)
	cb, err := rs.CreateCommandBuffer(false)
	require.NoError(t, err)

	assert.ErrorIs(t, cb.Draw(3, 1, 0, 0), core.ErrNotRecording)
	_, err = rs.Submit(cb)
	assert.ErrorIs(t, err, core.ErrInvalidCommandBuffer)

	require.NoError(t, cb.Begin())
	assert.ErrorIs(t, cb.Present(tex), core.ErrUnsupportedUsage)
	assert.ErrorIs(t, cb.Draw(3, 1, 0, 0), core.ErrInvalidHandle)
	assert.ErrorIs(t, cb.InsertUAVBarrier(tex), core.ErrUnsupportedUsage)

	src, err := rs.CreateBuffer(metadata.BufferDescriptor{Size: 16, BindFlags: metadata.BindCopySrc})
	require.NoError(t, err)
	dst, err := rs.CreateBuffer(metadata.BufferDescriptor{Size: 8, BindFlags: metadata.BindCopyDst})
	require.NoError(t, err)
	assert.ErrorIs(t, cb.CopyBuffer(src, dst, 0, 0, 16), core.ErrOutOfBounds)
	assert.NoError(t, cb.CopyBuffer(src, dst, 8, 0, 8))

	_, err = renderer.ParseRendererType("glide")
	assert.ErrorIs(t, err, core.ErrBackendNotAvailable)
}

func TestTextureMipAndSampleCounts(t *testing.T) {
	rs, _ := newSystem(t, nil)

	plain, err := rs.CreateTexture(metadata.TextureDescriptor{Width: 64, Height: 32, BindFlags: metadata.BindSampled | metadata.BindCopySrc})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), plain.MipLevelCount)
	assert.Equal(t, uint32(1), plain.SampleCount)

	chain, err := rs.CreateTexture(metadata.TextureDescriptor{
		Width: 64, Height: 32, MipLevelCount: 7,
		BindFlags: metadata.BindSampled | metadata.BindCopyDst,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(7), chain.MipLevelCount)

	msaa, err := rs.CreateTexture(metadata.TextureDescriptor{
		Width: 64, Height: 32, SampleCount: 4,
		BindFlags: metadata.BindColorAttachment,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(4), msaa.SampleCount)

	for _, desc := range []metadata.TextureDescriptor{
		{Width: 64, Height: 32, MipLevelCount: 8, BindFlags: metadata.BindSampled},
		{Width: 64, Height: 32, SampleCount: 3, BindFlags: metadata.BindColorAttachment},
		{Width: 64, Height: 32, SampleCount: 4, MipLevelCount: 2, BindFlags: metadata.BindColorAttachment},
		{Width: 64, Height: 32, SampleCount: 4, BindFlags: metadata.BindStorage},
	} {
		_, err := rs.CreateTexture(desc)
		assert.ErrorIs(t, err, core.ErrInvalidDescriptor, "%+v", desc)
	}

	cb, err := rs.CreateCommandBuffer(false)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	assert.ErrorIs(t, cb.CopyTexture(plain, chain), core.ErrOutOfBounds)
}

func TestStorageBufferUAVBarrier(t *testing.T) {
	rs, _ := newSystem(t, nil)
	desc := metadata.PipelineDescriptor{
		Name:   "blur",
		Kind:   metadata.PipelineKindCompute,
		Shader: metadata.ShaderDescriptor{Name: "blur", ComputeSource: []byte("cs")},
	}
	p, err := rs.CreatePipelineState(desc)
	require.NoError(t, err)
	assert.Nil(t, p.BlendState())

	buf, err := rs.CreateBuffer(metadata.BufferDescriptor{Size: 64, BindFlags: metadata.BindStorage | metadata.BindVertexBuffer})
	require.NoError(t, err)

	cb, err := rs.CreateCommandBuffer(false)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.SetPipelineState(p))
	require.NoError(t, cb.SetStorageBuffer(0, buf))
	require.NoError(t, cb.Dispatch(8, 1, 1))
	require.NoError(t, cb.InsertUAVBarrier(buf))
	require.NoError(t, cb.Dispatch(8, 1, 1))
	require.NoError(t, cb.RestoreUsageState(buf))
	require.NoError(t, cb.End())

	s := stream(cb)
	require.Len(t, s.Barriers, 3)
	assert.Equal(t, metadata.ResourceStateVertexAndConstantBuffer, buf.CurrentState)
	assert.Equal(t, []string{"dispatch 8 1 1", "dispatch 8 1 1"}, s.Commands)
}

func TestLockPoolGroupsAreIndependent(t *testing.T) {
	locks := renderer.NewLockPool()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locks.SafeCall(renderer.StateManagement, func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, counter)

	err := locks.SafeCall(renderer.StateManagement, func() error {
		return locks.SafeCall(renderer.ResourceManagement, func() error { return nil })
	})
	assert.NoError(t, err)
}
