package testbed

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

//go:embed shaders/triangle.wgsl
var triangleWGSL []byte

// Size of the staging upload copied every frame.
const stagingSize = 4096

type TestGame struct {
	*engine.Game

	// Directory holding the SPIR-V modules built by `mage build:shaders`.
	ShaderDir string
}

type gameState struct {
	rs *renderer.RenderSystem

	elapsed float64
	frame   uint64

	target  *metadata.GPUResource
	staging *metadata.GPUResource
	data    *metadata.GPUResource

	opaque  *renderer.PipelineState
	overlay *renderer.PipelineState

	cb *renderer.CommandBuffer
}

func NewTestGame() *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Name:  "Prism Testbed",
			State: &gameState{},
		},
		ShaderDir: filepath.Join("testbed", "shaders"),
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

// shader picks the triangle source the backend consumes.
func (g *TestGame) shader(t renderer.RendererType) (metadata.ShaderDescriptor, error) {
	desc := metadata.ShaderDescriptor{Name: "triangle"}
	if t != renderer.Vulkan {
		desc.VertexSource = triangleWGSL
		desc.FragmentSource = triangleWGSL
		return desc, nil
	}
	vert, err := os.ReadFile(filepath.Join(g.ShaderDir, "triangle.vert.spv"))
	if err != nil {
		return desc, fmt.Errorf("run `mage build:shaders` first: %w", err)
	}
	frag, err := os.ReadFile(filepath.Join(g.ShaderDir, "triangle.frag.spv"))
	if err != nil {
		return desc, fmt.Errorf("run `mage build:shaders` first: %w", err)
	}
	desc.VertexSource = vert
	desc.FragmentSource = frag
	return desc, nil
}

func (g *TestGame) Initialize(rs *renderer.RenderSystem) error {
	core.LogDebug("TestGame Initialize fn....")
	state := g.state()
	state.rs = rs

	shader, err := g.shader(rs.Type())
	if err != nil {
		return err
	}

	// Both pipelines use the default blend state, which the pool shares.
	opaque := metadata.DefaultGraphicsPipeline("opaque", shader)
	if state.opaque, err = rs.CreatePipelineState(opaque); err != nil {
		return err
	}
	overlay := metadata.DefaultGraphicsPipeline("overlay", shader)
	overlay.Rasterizer.CullMode = gputypes.CullModeNone
	overlay.FlipYPosition = true
	if state.overlay, err = rs.CreatePipelineState(overlay); err != nil {
		return err
	}
	core.LogInfo("pipelines ready (opaque cached: %t, overlay cached: %t)", state.opaque.FromCache, state.overlay.FromCache)

	if state.staging, err = rs.CreateBuffer(metadata.BufferDescriptor{
		Label:     "staging",
		Size:      stagingSize,
		BindFlags: metadata.BindCopySrc,
	}); err != nil {
		return err
	}
	if state.data, err = rs.CreateBuffer(metadata.BufferDescriptor{
		Label:     "data",
		Size:      stagingSize,
		BindFlags: metadata.BindCopyDst | metadata.BindStorage,
	}); err != nil {
		return err
	}

	state.cb, err = rs.CreateCommandBuffer(false)
	return err
}

func (g *TestGame) Update(deltaTime float64) error {
	g.state().elapsed += deltaTime
	return nil
}

func (g *TestGame) Render(rs *renderer.RenderSystem, deltaTime float64) error {
	state := g.state()
	if state.target == nil {
		return fmt.Errorf("no render target")
	}
	cb := state.cb

	pulse := 0.5 + 0.5*math.Sin(state.elapsed)
	if err := cb.Begin(); err != nil {
		return err
	}
	if err := cb.CopyBuffer(state.staging, state.data, 0, 0, stagingSize); err != nil {
		return err
	}
	if err := cb.SetRenderTarget(state.target); err != nil {
		return err
	}
	if err := cb.ClearRenderTarget(state.target, [4]float64{0.1, 0.1, pulse, 1}); err != nil {
		return err
	}
	for _, ps := range []*renderer.PipelineState{state.opaque, state.overlay} {
		if err := cb.SetPipelineState(ps); err != nil {
			return err
		}
		if err := cb.Draw(3, 1, 0, 0); err != nil {
			return err
		}
	}
	if err := cb.Present(state.target); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}

	if _, err := rs.Submit(cb); err != nil {
		return err
	}
	state.frame++
	return rs.SyncDevice(context.Background())
}

// OnResize replaces the render target with one of the new size.
func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.state()
	if state.rs == nil {
		return nil
	}
	if state.target != nil {
		if err := state.rs.DestroyResource(state.target); err != nil {
			return err
		}
	}
	target, err := state.rs.CreateTexture(metadata.TextureDescriptor{
		Label:     "backbuffer",
		Width:     width,
		Height:    height,
		Format:    gputypes.TextureFormatRGBA8Unorm,
		BindFlags: metadata.BindColorAttachment | metadata.BindSampled | metadata.BindCopySrc,
	})
	if err != nil {
		return err
	}
	state.target = target
	core.LogDebug("render target resized to %dx%d", width, height)
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.state()
	if state.rs == nil {
		return nil
	}
	for _, s := range state.rs.PoolStats() {
		core.LogInfo("pool %s: %d entries, %d live, %d dead", s.Name, s.Entries, s.Live, s.Dead)
	}
	if state.cb != nil {
		state.cb.Destroy()
	}
	for _, ps := range []*renderer.PipelineState{state.opaque, state.overlay} {
		if ps != nil {
			if err := state.rs.ReleasePipelineState(ps); err != nil {
				core.LogWarn("failed to release %s: %s", ps.Name, err)
			}
		}
	}
	for _, res := range []*metadata.GPUResource{state.target, state.staging, state.data} {
		if res != nil {
			if err := state.rs.DestroyResource(res); err != nil {
				core.LogWarn("failed to destroy %s: %s", res, err)
			}
		}
	}
	core.LogInfo("testbed rendered %d frames", state.frame)
	return nil
}
