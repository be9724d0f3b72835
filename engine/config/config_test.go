package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Renderer, cfg.Renderer)
}

func TestLoadOverridesAndClamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prism.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[log]
level = "debug"

[renderer]
backend = "Vulkan"
reclaim_policy = "eager"
max_texture_units = 512
sync_timeout = "250ms"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "vulkan", cfg.Renderer.Backend)
	assert.Equal(t, ReclaimEager, cfg.Renderer.ReclaimPolicy)
	assert.Equal(t, MaxResourceSlots, cfg.Renderer.MaxTextureUnits)
	assert.Equal(t, 16, cfg.Renderer.MaxPendingBarriers)

	timeout, err := cfg.SyncTimeout()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, timeout)
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prism.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nreclaim_policy = \"sometimes\"\n"), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prism.toml")
	cfg := Default()
	cfg.Renderer.Backend = "null"
	cfg.Renderer.MaxDeadStates = 4
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "null", loaded.Renderer.Backend)
	assert.Equal(t, 4, loaded.Renderer.MaxDeadStates)
}
