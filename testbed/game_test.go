package testbed

import (
	"context"
	"testing"

	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/renderer"
	_ "github.com/spaghettifunk/prism/engine/renderer/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestbedOnNullBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Renderer.Backend = "null"
	cfg.Application.Frames = 4
	cfg.Log.Level = "warn"
	cfg.PipelineCache.Dir = t.TempDir()

	tb := NewTestGame()
	e, err := engine.New(tb.Game, cfg)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())

	state := tb.state()
	require.NotNil(t, state.target)
	assert.Equal(t, cfg.Application.Width, state.target.Width)

	var shared bool
	for _, s := range e.RenderSystem().PoolStats() {
		if s.Name == "blend" {
			shared = s.Entries == 1 && s.Live == 1
		}
	}
	assert.True(t, shared, "both pipelines share one blend state")

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(4), state.frame)
	assert.Equal(t, uint64(4), e.RenderSystem().LastSubmission())

	old := state.target
	require.NoError(t, e.RenderSystem().Resize(64, 32))
	assert.NotSame(t, old, state.target)
	assert.Equal(t, uint32(64), state.target.Width)

	require.NoError(t, e.Shutdown())
}

func TestVulkanShaderNeedsCompiledModules(t *testing.T) {
	tb := NewTestGame()
	tb.ShaderDir = t.TempDir()
	_, err := tb.shader(renderer.Vulkan)
	assert.Error(t, err)

	desc, err := tb.shader(renderer.Software)
	require.NoError(t, err)
	assert.Equal(t, triangleWGSL, desc.VertexSource)
}
