package metadata

import (
	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/prism/engine/containers"
)

/** @brief Maximum number of color attachments a blend state describes. */
const MaxColorAttachments = 8

/** @brief Framebuffer logic operation applied instead of blending. */
type LogicOp uint8

const (
	LogicOpDisabled LogicOp = iota
	LogicOpClear
	LogicOpSet
	LogicOpCopy
	LogicOpCopyInverted
	LogicOpNoop
	LogicOpInvert
	LogicOpAnd
	LogicOpOr
	LogicOpXor
)

type PolygonMode uint8

const (
	PolygonModeFill PolygonMode = iota
	PolygonModeWireframe
	PolygonModePoints
)

/**
 * @brief Blending for a single color attachment.
 */
type BlendTargetDescriptor struct {
	BlendEnabled bool
	Color        gputypes.BlendComponent
	Alpha        gputypes.BlendComponent
	WriteMask    gputypes.ColorWriteMask
}

func DefaultBlendTarget() BlendTargetDescriptor {
	state := gputypes.BlendStateReplace()
	return BlendTargetDescriptor{
		Color:     state.Color,
		Alpha:     state.Alpha,
		WriteMask: gputypes.ColorWriteMaskAll,
	}
}

/**
 * @brief Immutable description of the output merger blend state.
 */
type BlendDescriptor struct {
	AlphaToCoverageEnabled bool
	/** @brief When false every target uses the settings of Targets[0]. */
	IndependentBlendEnabled bool
	SampleMask              uint32
	LogicOp                 LogicOp
	/** @brief Constant blend color, only meaningful when a target uses a constant factor. */
	BlendConstant [4]float32
	Targets       [MaxColorAttachments]BlendTargetDescriptor
}

func DefaultBlendDescriptor() BlendDescriptor {
	d := BlendDescriptor{SampleMask: ^uint32(0)}
	for i := range d.Targets {
		d.Targets[i] = DefaultBlendTarget()
	}
	return d
}

// UsesConstant reports whether any enabled target reads the blend constant.
func (d BlendDescriptor) UsesConstant() bool {
	for _, t := range d.Targets {
		if t.BlendEnabled && (t.Color.UsesConstant() || t.Alpha.UsesConstant()) {
			return true
		}
	}
	return false
}

// Normalized returns a copy where fields with no effect on rendering are set
// to canonical values, so that descriptors which blend identically also
// compare equal.
func (d BlendDescriptor) Normalized() BlendDescriptor {
	if !d.IndependentBlendEnabled {
		for i := 1; i < MaxColorAttachments; i++ {
			d.Targets[i] = d.Targets[0]
		}
	}
	if d.LogicOp != LogicOpDisabled {
		for i := range d.Targets {
			d.Targets[i].BlendEnabled = false
		}
	}
	def := DefaultBlendTarget()
	for i := range d.Targets {
		if !d.Targets[i].BlendEnabled {
			d.Targets[i].Color = def.Color
			d.Targets[i].Alpha = def.Alpha
		}
	}
	if !d.UsesConstant() {
		d.BlendConstant = [4]float32{}
	}
	return d
}

func compareBlendComponent(a, b gputypes.BlendComponent) int {
	if c := containers.Compare(a.SrcFactor, b.SrcFactor); c != 0 {
		return c
	}
	if c := containers.Compare(a.DstFactor, b.DstFactor); c != 0 {
		return c
	}
	return containers.Compare(a.Operation, b.Operation)
}

func compareBlendTarget(a, b BlendTargetDescriptor) int {
	if c := containers.CompareBool(a.BlendEnabled, b.BlendEnabled); c != 0 {
		return c
	}
	if c := compareBlendComponent(a.Color, b.Color); c != 0 {
		return c
	}
	if c := compareBlendComponent(a.Alpha, b.Alpha); c != 0 {
		return c
	}
	return containers.Compare(a.WriteMask, b.WriteMask)
}

// CompareBlend orders blend descriptors field by field.
func CompareBlend(a, b BlendDescriptor) int {
	if c := containers.CompareBool(a.AlphaToCoverageEnabled, b.AlphaToCoverageEnabled); c != 0 {
		return c
	}
	if c := containers.CompareBool(a.IndependentBlendEnabled, b.IndependentBlendEnabled); c != 0 {
		return c
	}
	if c := containers.Compare(a.SampleMask, b.SampleMask); c != 0 {
		return c
	}
	if c := containers.Compare(a.LogicOp, b.LogicOp); c != 0 {
		return c
	}
	for i := range a.BlendConstant {
		if c := containers.Compare(a.BlendConstant[i], b.BlendConstant[i]); c != 0 {
			return c
		}
	}
	for i := range a.Targets {
		if c := compareBlendTarget(a.Targets[i], b.Targets[i]); c != 0 {
			return c
		}
	}
	return 0
}

/**
 * @brief Immutable description of the depth and stencil tests.
 */
type DepthStencilDescriptor struct {
	DepthTestEnabled   bool
	DepthWriteEnabled  bool
	DepthCompare       gputypes.CompareFunction
	StencilTestEnabled bool
	StencilReadMask    uint32
	StencilWriteMask   uint32
	/** @brief Reference value baked into the state unless set dynamically on the command buffer. */
	StencilReference uint32
	StencilFront     gputypes.StencilFaceState
	StencilBack      gputypes.StencilFaceState
}

func DefaultDepthStencilDescriptor() DepthStencilDescriptor {
	return DepthStencilDescriptor{
		DepthTestEnabled:  true,
		DepthWriteEnabled: true,
		DepthCompare:      gputypes.CompareFunctionLess,
		StencilReadMask:   0xFF,
		StencilWriteMask:  0xFF,
		StencilFront:      gputypes.DefaultStencilFaceState(),
		StencilBack:       gputypes.DefaultStencilFaceState(),
	}
}

func (d DepthStencilDescriptor) Normalized() DepthStencilDescriptor {
	if !d.DepthTestEnabled {
		d.DepthWriteEnabled = false
		d.DepthCompare = gputypes.CompareFunctionAlways
	}
	if !d.StencilTestEnabled {
		d.StencilReadMask = 0xFF
		d.StencilWriteMask = 0xFF
		d.StencilReference = 0
		d.StencilFront = gputypes.DefaultStencilFaceState()
		d.StencilBack = gputypes.DefaultStencilFaceState()
	}
	return d
}

func compareStencilFace(a, b gputypes.StencilFaceState) int {
	if c := containers.Compare(a.Compare, b.Compare); c != 0 {
		return c
	}
	if c := containers.Compare(a.FailOp, b.FailOp); c != 0 {
		return c
	}
	if c := containers.Compare(a.DepthFailOp, b.DepthFailOp); c != 0 {
		return c
	}
	return containers.Compare(a.PassOp, b.PassOp)
}

// CompareDepthStencil orders depth-stencil descriptors field by field.
func CompareDepthStencil(a, b DepthStencilDescriptor) int {
	if c := containers.CompareBool(a.DepthTestEnabled, b.DepthTestEnabled); c != 0 {
		return c
	}
	if c := containers.CompareBool(a.DepthWriteEnabled, b.DepthWriteEnabled); c != 0 {
		return c
	}
	if c := containers.Compare(a.DepthCompare, b.DepthCompare); c != 0 {
		return c
	}
	if c := containers.CompareBool(a.StencilTestEnabled, b.StencilTestEnabled); c != 0 {
		return c
	}
	if c := containers.Compare(a.StencilReadMask, b.StencilReadMask); c != 0 {
		return c
	}
	if c := containers.Compare(a.StencilWriteMask, b.StencilWriteMask); c != 0 {
		return c
	}
	if c := containers.Compare(a.StencilReference, b.StencilReference); c != 0 {
		return c
	}
	if c := compareStencilFace(a.StencilFront, b.StencilFront); c != 0 {
		return c
	}
	return compareStencilFace(a.StencilBack, b.StencilBack)
}

type DepthBiasDescriptor struct {
	ConstantFactor float32
	SlopeFactor    float32
	Clamp          float32
}

/**
 * @brief Immutable description of the rasterizer stage.
 */
type RasterizerDescriptor struct {
	PolygonMode        PolygonMode
	CullMode           gputypes.CullMode
	FrontFace          gputypes.FrontFace
	DepthClampEnabled  bool
	DiscardEnabled     bool
	ScissorTestEnabled bool
	SampleCount        uint32
	LineWidth          float32
	DepthBias          DepthBiasDescriptor
	ConservativeRaster bool
}

func DefaultRasterizerDescriptor() RasterizerDescriptor {
	return RasterizerDescriptor{
		CullMode:    gputypes.CullModeBack,
		FrontFace:   gputypes.FrontFaceCCW,
		SampleCount: 1,
		LineWidth:   1,
	}
}

func (d RasterizerDescriptor) Normalized() RasterizerDescriptor {
	if d.SampleCount == 0 {
		d.SampleCount = 1
	}
	if d.PolygonMode != PolygonModeWireframe {
		d.LineWidth = 1
	}
	return d
}

// CompareRasterizer orders rasterizer descriptors field by field.
func CompareRasterizer(a, b RasterizerDescriptor) int {
	if c := containers.Compare(a.PolygonMode, b.PolygonMode); c != 0 {
		return c
	}
	if c := containers.Compare(a.CullMode, b.CullMode); c != 0 {
		return c
	}
	if c := containers.Compare(a.FrontFace, b.FrontFace); c != 0 {
		return c
	}
	if c := containers.CompareBool(a.DepthClampEnabled, b.DepthClampEnabled); c != 0 {
		return c
	}
	if c := containers.CompareBool(a.DiscardEnabled, b.DiscardEnabled); c != 0 {
		return c
	}
	if c := containers.CompareBool(a.ScissorTestEnabled, b.ScissorTestEnabled); c != 0 {
		return c
	}
	if c := containers.Compare(a.SampleCount, b.SampleCount); c != 0 {
		return c
	}
	if c := containers.Compare(a.LineWidth, b.LineWidth); c != 0 {
		return c
	}
	if c := containers.Compare(a.DepthBias.ConstantFactor, b.DepthBias.ConstantFactor); c != 0 {
		return c
	}
	if c := containers.Compare(a.DepthBias.SlopeFactor, b.DepthBias.SlopeFactor); c != 0 {
		return c
	}
	if c := containers.Compare(a.DepthBias.Clamp, b.DepthBias.Clamp); c != 0 {
		return c
	}
	return containers.CompareBool(a.ConservativeRaster, b.ConservativeRaster)
}
