package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/renderer"
	_ "github.com/spaghettifunk/prism/engine/renderer/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGame struct {
	updates  int
	renders  int
	resizes  [][2]uint32
	shutdown bool
}

func (c *countingGame) game() *Game {
	return &Game{
		Name:         "counting",
		FnInitialize: func(rs *renderer.RenderSystem) error { return nil },
		FnUpdate: func(deltaTime float64) error {
			c.updates++
			return nil
		},
		FnRender: func(rs *renderer.RenderSystem, deltaTime float64) error {
			c.renders++
			return nil
		},
		FnOnResize: func(width, height uint32) error {
			c.resizes = append(c.resizes, [2]uint32{width, height})
			return nil
		},
		FnShutdown: func() error {
			c.shutdown = true
			return nil
		},
	}
}

func nullConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Renderer.Backend = "null"
	cfg.Log.Level = "warn"
	cfg.PipelineCache.Dir = t.TempDir()
	return cfg
}

func TestEngineRunsConfiguredFrames(t *testing.T) {
	cfg := nullConfig(t)
	cfg.Application.Frames = 5
	c := &countingGame{}

	e, err := New(c.game(), cfg)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	assert.Equal(t, EngineStageInitialized, e.Stage())
	assert.Equal(t, [][2]uint32{{cfg.Application.Width, cfg.Application.Height}}, c.resizes)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 5, c.updates)
	assert.Equal(t, 5, c.renders)

	require.NoError(t, e.RenderSystem().Resize(320, 200))
	assert.Equal(t, [2]uint32{320, 200}, c.resizes[len(c.resizes)-1])

	require.NoError(t, e.Shutdown())
	assert.True(t, c.shutdown)
	assert.Equal(t, EngineStageShutdown, e.Stage())
	require.NoError(t, e.Shutdown(), "shutting down twice is a no-op")
}

func TestEngineStopsOnQuitAndCancel(t *testing.T) {
	c := &countingGame{}
	g := c.game()
	e, err := New(g, nullConfig(t))
	require.NoError(t, err)
	g.FnUpdate = func(deltaTime float64) error {
		c.updates++
		if c.updates == 3 {
			e.Quit()
		}
		return nil
	}
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 3, c.renders)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))
	assert.Equal(t, 3, c.renders, "a cancelled context renders nothing")
	require.NoError(t, e.Shutdown())
}

func TestEngineNeedsHooksAndInitialization(t *testing.T) {
	_, err := New(&Game{Name: "empty"}, nil)
	assert.Error(t, err)

	c := &countingGame{}
	e, err := New(c.game(), nullConfig(t))
	require.NoError(t, err)
	assert.Error(t, e.Run(context.Background()))
}

func TestApplicationConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prism.toml")
	cfg := config.Default()
	cfg.Renderer.Backend = "vulkan"
	cfg.Application.Frames = 10
	require.NoError(t, cfg.Save(path))

	app := &ApplicationConfig{Path: path, Frames: -1}
	loaded, err := app.Load()
	require.NoError(t, err)
	assert.Equal(t, "vulkan", loaded.Renderer.Backend)
	assert.Equal(t, uint64(10), loaded.Application.Frames)

	app = &ApplicationConfig{Path: path, Backend: "NULL", Frames: 0, LogLevel: "debug"}
	loaded, err = app.Load()
	require.NoError(t, err)
	assert.Equal(t, "null", loaded.Renderer.Backend)
	assert.Equal(t, uint64(0), loaded.Application.Frames)
	assert.Equal(t, "debug", loaded.Log.Level)

	app = &ApplicationConfig{Path: filepath.Join(t.TempDir(), "missing.toml"), Frames: -1}
	loaded, err = app.Load()
	require.NoError(t, err)
	assert.Equal(t, config.Default().Renderer.Backend, loaded.Renderer.Backend)

	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nreclaim_policy = \"sometimes\"\n"), 0o644))
	_, err = (&ApplicationConfig{Path: path, Frames: -1}).Load()
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
