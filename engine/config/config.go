package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/prism/engine/core"
)

// Hard cap for texture units, buffer slots and sampler units tracked per
// command buffer.
const MaxResourceSlots = 64

type ReclaimPolicy string

const (
	// Released states linger until rediscovered or compacted.
	ReclaimLazy ReclaimPolicy = "lazy"
	// Released states are destroyed as soon as the last holder lets go.
	ReclaimEager ReclaimPolicy = "eager"
)

type ApplicationConfig struct {
	Name string `toml:"name"`
	// Number of frames to run before exiting. 0 runs until interrupted.
	Frames uint64 `toml:"frames"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type RendererConfig struct {
	Backend            string        `toml:"backend"`
	ReclaimPolicy      ReclaimPolicy `toml:"reclaim_policy"`
	MaxDeadStates      int           `toml:"max_dead_states"`
	MaxPendingBarriers int           `toml:"max_pending_barriers"`
	MaxTextureUnits    int           `toml:"max_texture_units"`
	MaxBufferSlots     int           `toml:"max_buffer_slots"`
	MaxSamplerUnits    int           `toml:"max_sampler_units"`
	MaxPendingDestroys int           `toml:"max_pending_destroys"`
	SyncTimeout        string        `toml:"sync_timeout"`
}

type PipelineCacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
	Watch   bool   `toml:"watch"`
}

type DebugConfig struct {
	PanicOnMisuse bool `toml:"panic_on_misuse"`
	Validation    bool `toml:"validation"`
}

type Config struct {
	Application   ApplicationConfig   `toml:"application"`
	Log           LogConfig           `toml:"log"`
	Renderer      RendererConfig      `toml:"renderer"`
	PipelineCache PipelineCacheConfig `toml:"pipeline_cache"`
	Debug         DebugConfig         `toml:"debug"`
}

var ErrInvalidConfig = errors.New("invalid configuration")

func Default() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:   "Prism Testbed",
			Frames: 3,
			Width:  1280,
			Height: 720,
		},
		Log: LogConfig{
			Level: "info",
		},
		Renderer: RendererConfig{
			Backend:            "software",
			ReclaimPolicy:      ReclaimLazy,
			MaxDeadStates:      32,
			MaxPendingBarriers: 16,
			MaxTextureUnits:    MaxResourceSlots,
			MaxBufferSlots:     MaxResourceSlots,
			MaxSamplerUnits:    MaxResourceSlots,
			MaxPendingDestroys: 256,
			SyncTimeout:        "1s",
		},
		PipelineCache: PipelineCacheConfig{
			Enabled: true,
			Dir:     filepath.Join(os.TempDir(), "prism", "pipeline-cache"),
		},
	}
}

// Load reads a TOML file on top of the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			core.LogWarn("config file %s not found, using defaults", path)
			return cfg, nil
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate normalizes ranges and rejects values the renderer cannot honor.
func (c *Config) Validate() error {
	r := &c.Renderer
	r.Backend = strings.ToLower(r.Backend)
	switch r.ReclaimPolicy {
	case ReclaimLazy, ReclaimEager:
	case "":
		r.ReclaimPolicy = ReclaimLazy
	default:
		return fmt.Errorf("reclaim_policy %q: %w", r.ReclaimPolicy, ErrInvalidConfig)
	}
	if r.MaxPendingBarriers <= 0 {
		return fmt.Errorf("max_pending_barriers must be positive: %w", ErrInvalidConfig)
	}
	r.MaxTextureUnits = clampSlots(r.MaxTextureUnits)
	r.MaxBufferSlots = clampSlots(r.MaxBufferSlots)
	r.MaxSamplerUnits = clampSlots(r.MaxSamplerUnits)
	if r.MaxPendingDestroys <= 0 {
		r.MaxPendingDestroys = 256
	}
	if _, err := c.SyncTimeout(); err != nil {
		return fmt.Errorf("sync_timeout %q: %w", r.SyncTimeout, ErrInvalidConfig)
	}
	return nil
}

func (c *Config) SyncTimeout() (time.Duration, error) {
	if c.Renderer.SyncTimeout == "" {
		return time.Second, nil
	}
	return time.ParseDuration(c.Renderer.SyncTimeout)
}

func clampSlots(n int) int {
	if n <= 0 || n > MaxResourceSlots {
		return MaxResourceSlots
	}
	return n
}
