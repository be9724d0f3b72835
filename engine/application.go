package engine

import (
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
)

// ApplicationConfig names the configuration file the engine starts from and
// the command line overrides applied on top of it.
type ApplicationConfig struct {
	// Path of the toml file. A missing file yields the defaults.
	Path string
	// Renderer backend, if not empty.
	Backend string
	// Frames to run, if not negative.
	Frames int64
	// Log level, if not empty.
	LogLevel string
}

func (a *ApplicationConfig) Load() (*config.Config, error) {
	cfg, err := config.Load(a.Path)
	if err != nil {
		return nil, err
	}
	if a.Backend != "" {
		cfg.Renderer.Backend = a.Backend
	}
	if a.Frames >= 0 {
		cfg.Application.Frames = uint64(a.Frames)
	}
	if a.LogLevel != "" {
		cfg.Log.Level = a.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	core.LogDebug("application config loaded from %q (backend %s)", a.Path, cfg.Renderer.Backend)
	return cfg, nil
}
