package metadata

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
)

func TestBindFlagsSupports(t *testing.T) {
	rt := BindColorAttachment | BindSampled
	assert.True(t, rt.Supports(ResourceClassTexture, ResourceStateRenderTarget))
	assert.True(t, rt.Supports(ResourceClassTexture, ResourceStatePresent))
	assert.True(t, rt.Supports(ResourceClassTexture, ResourceStateShaderResource))
	assert.False(t, rt.Supports(ResourceClassTexture, ResourceStateUnorderedAccess))
	assert.False(t, rt.Supports(ResourceClassTexture, ResourceStateCopyDestination))

	vb := BindVertexBuffer | BindCopyDst
	assert.True(t, vb.Supports(ResourceClassBuffer, ResourceStateVertexAndConstantBuffer))
	assert.True(t, vb.Supports(ResourceClassBuffer, ResourceStateCopyDestination))
	assert.False(t, vb.Supports(ResourceClassBuffer, ResourceStateIndexBuffer))
	assert.True(t, BindFlags(0).Supports(ResourceClassBuffer, ResourceStateCommon))

	assert.True(t, vb.ValidFor(ResourceClassBuffer))
	assert.False(t, vb.ValidFor(ResourceClassTexture))
	assert.False(t, rt.ValidFor(ResourceClassBuffer))
}

func TestDefaultUsageState(t *testing.T) {
	assert.Equal(t, ResourceStateVertexAndConstantBuffer, DefaultUsageState(ResourceClassBuffer, BindConstantBuffer))
	assert.Equal(t, ResourceStateIndexBuffer, DefaultUsageState(ResourceClassBuffer, BindIndexBuffer|BindCopyDst))
	assert.Equal(t, ResourceStateUnorderedAccess, DefaultUsageState(ResourceClassBuffer, BindStorage))
	assert.Equal(t, ResourceStateCommon, DefaultUsageState(ResourceClassBuffer, BindCopySrc))
	assert.Equal(t, ResourceStateRenderTarget, DefaultUsageState(ResourceClassTexture, BindColorAttachment|BindSampled))
	assert.Equal(t, ResourceStateDepthWrite, DefaultUsageState(ResourceClassTexture, BindDepthStencilAttachment))
	assert.Equal(t, ResourceStateShaderResource, DefaultUsageState(ResourceClassTexture, BindSampled))
}

func TestResourceStateClassification(t *testing.T) {
	assert.True(t, ResourceStatePresent.IsTerminal())
	assert.True(t, ResourceStateCommon.IsTerminal())
	assert.False(t, ResourceStateRenderTarget.IsTerminal())
	assert.True(t, ResourceStateRenderTarget.IsWrite())
	assert.False(t, ResourceStateShaderResource.IsWrite())
	assert.Equal(t, "render_target", ResourceStateRenderTarget.String())
	assert.Equal(t, "resource_state(200)", ResourceState(200).String())
}

func TestEffectiveState(t *testing.T) {
	r := &GPUResource{CurrentState: ResourceStateCommon}
	assert.Equal(t, ResourceStateCommon, r.EffectiveState())
	r.PendingState, r.HasPending = ResourceStateCopySource, true
	assert.Equal(t, ResourceStateCopySource, r.EffectiveState())
}

func TestMipChain(t *testing.T) {
	assert.Equal(t, uint32(1), MaxMipLevels(1, 1))
	assert.Equal(t, uint32(7), MaxMipLevels(64, 32))
	assert.Equal(t, uint32(9), MaxMipLevels(300, 2))

	w, h := MipExtent(64, 32, 6)
	assert.Equal(t, uint32(1), w)
	assert.Equal(t, uint32(1), h)
	w, h = MipExtent(64, 32, 2)
	assert.Equal(t, uint32(16), w)
	assert.Equal(t, uint32(8), h)
}

func TestCompareBlend(t *testing.T) {
	a := DefaultBlendDescriptor()
	b := DefaultBlendDescriptor()
	assert.Equal(t, 0, CompareBlend(a, b))

	b.Targets[0].BlendEnabled = true
	assert.Equal(t, -1, CompareBlend(a, b))
	assert.Equal(t, 1, CompareBlend(b, a))

	c := a
	c.BlendConstant[2] = 0.5
	assert.NotEqual(t, 0, CompareBlend(a, c))
}

func TestBlendNormalized(t *testing.T) {
	a := DefaultBlendDescriptor()
	a.Targets[0].BlendEnabled = true
	alpha := gputypes.BlendStateAlpha()
	a.Targets[0].Color, a.Targets[0].Alpha = alpha.Color, alpha.Alpha
	a.Targets[3].WriteMask = gputypes.ColorWriteMaskRed
	a.BlendConstant = [4]float32{1, 1, 1, 1}

	n := a.Normalized()
	assert.Equal(t, n.Targets[0], n.Targets[3])
	assert.Equal(t, [4]float32{}, n.BlendConstant)

	// Disabled targets drop their factors.
	d := DefaultBlendDescriptor()
	d.Targets[0].Color.SrcFactor = gputypes.BlendFactorDst
	assert.Equal(t, 0, CompareBlend(d.Normalized(), DefaultBlendDescriptor().Normalized()))

	// Constant factors keep the blend constant.
	k := DefaultBlendDescriptor()
	k.Targets[0].BlendEnabled = true
	k.Targets[0].Color.SrcFactor = gputypes.BlendFactorConstant
	k.BlendConstant = [4]float32{0.25, 0, 0, 1}
	assert.Equal(t, k.BlendConstant, k.Normalized().BlendConstant)
}

func TestDepthStencilNormalized(t *testing.T) {
	a := DefaultDepthStencilDescriptor()
	a.DepthTestEnabled = false
	b := a
	b.DepthCompare = gputypes.CompareFunctionGreater
	b.StencilFront.PassOp = gputypes.StencilOperationReplace

	assert.NotEqual(t, 0, CompareDepthStencil(a, b))
	assert.Equal(t, 0, CompareDepthStencil(a.Normalized(), b.Normalized()))
}

func TestCompareRasterizer(t *testing.T) {
	a := DefaultRasterizerDescriptor()
	b := a
	b.CullMode = gputypes.CullModeNone
	assert.Equal(t, 1, CompareRasterizer(a, b))

	c := a
	c.LineWidth = 3
	assert.NotEqual(t, 0, CompareRasterizer(a, c))
	assert.Equal(t, 0, CompareRasterizer(a.Normalized(), c.Normalized()))
}

func TestBindingLayout(t *testing.T) {
	bindings := []BindingDescriptor{
		{Name: "camera", Slot: 0, Type: BindingTypeConstantBuffer, Stages: gputypes.ShaderStageVertex},
		{Name: "albedo", Slot: 1, Type: BindingTypeTexture, Stages: gputypes.ShaderStageFragment},
		{Name: "albedo_sampler", Slot: 2, Type: BindingTypeSampler, Stages: gputypes.ShaderStageFragment},
	}
	a := NewBindingLayout(bindings...)
	bindings[0].Name = "mutated"
	assert.Equal(t, "camera", a.At(0).Name)

	b := NewBindingLayout(a.Bindings()...)
	assert.Equal(t, 0, CompareBindingLayout(a, b))
	assert.Equal(t, -1, CompareBindingLayout(NewBindingLayout(a.Bindings()[:2]...), a))

	_, ok := a.Lookup("albedo")
	assert.True(t, ok)

	entries := a.BindGroupLayoutEntries()
	if assert.Len(t, entries, 3) {
		assert.NotNil(t, entries[0].Buffer)
		assert.Equal(t, gputypes.BufferBindingTypeUniform, entries[0].Buffer.Type)
		assert.NotNil(t, entries[1].Texture)
		assert.NotNil(t, entries[2].Sampler)
		assert.Equal(t, uint32(2), entries[2].Binding)
	}
}
