package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything it owned
	EngineStageShutdown
)

// Frames between two metric reports.
const metricsInterval = 60

type Engine struct {
	currentStage Stage
	gameInstance *Game
	cfg          *config.Config
	events       *core.EventBus
	renderSystem *renderer.RenderSystem
	isRunning    atomic.Bool
	clock        *core.Clock
	lastTime     time.Duration
	frame        uint64
}

func New(g *Game, cfg *config.Config) (*Engine, error) {
	if g == nil || g.FnInitialize == nil || g.FnUpdate == nil || g.FnRender == nil {
		return nil, fmt.Errorf("game is missing its hooks")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		cfg:          cfg,
		events:       core.NewEventBus(),
		clock:        core.NewClock(),
	}, nil
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) RenderSystem() *renderer.RenderSystem {
	return e.renderSystem
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return fmt.Errorf("engine initialized twice")
	}
	e.currentStage = EngineStageInitializing

	// register some events
	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	rs, err := renderer.NewRenderSystem(e.cfg, e.events)
	if err != nil {
		return err
	}
	e.renderSystem = rs

	if err := e.gameInstance.FnInitialize(rs); err != nil {
		return err
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.cfg.Application.Width, e.cfg.Application.Height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	core.LogInfo("%s initialized with the %s renderer", e.gameInstance.Name, rs.Type())
	return nil
}

// Run drives the frame loop until ctx is done, a quit event arrives or the
// configured number of frames has been rendered.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine is not initialized")
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	frames := e.cfg.Application.Frames
	for e.isRunning.Load() {
		if err := ctx.Err(); err != nil {
			core.LogInfo("frame loop interrupted: %s", err)
			break
		}
		if frames > 0 && e.frame >= frames {
			break
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := (currentTime - e.lastTime).Seconds()
		frameStart := time.Now()

		if err := e.gameInstance.FnUpdate(delta); err != nil {
			core.LogError("Game update failed, shutting down: %s", err)
			return err
		}

		// Call the game's render routine.
		if err := e.gameInstance.FnRender(e.renderSystem, delta); err != nil {
			core.LogError("Game render failed, shutting down: %s", err)
			return err
		}

		e.renderSystem.Metrics.FrameUpdate(time.Since(frameStart).Seconds())
		e.frame++
		if e.frame%metricsInterval == 0 {
			fps, ms := e.renderSystem.Metrics.Frame()
			core.LogInfo("frame %d: %.0f fps, %.3f ms avg, %s", e.frame, fps, ms, e.renderSystem.Metrics)
		}

		// Update last time
		e.lastTime = currentTime
	}
	e.isRunning.Store(false)
	e.currentStage = EngineStageInitialized
	core.LogInfo("frame loop stopped after %d frames", e.frame)
	return nil
}

// Quit stops the frame loop after the current frame.
func (e *Engine) Quit() {
	e.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
}

// Shutdown waits for the device and releases the game and the render system.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.isRunning.Store(false)
	e.currentStage = EngineStageShuttingDown

	var err error
	if e.gameInstance.FnShutdown != nil {
		err = e.gameInstance.FnShutdown()
	}
	if e.renderSystem != nil {
		if rerr := e.renderSystem.Shutdown(); rerr != nil && err == nil {
			err = rerr
		}
	}
	e.events.Shutdown()
	e.currentStage = EngineStageShutdown
	return err
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	if code != core.EVENT_CODE_RESIZED || e.gameInstance.FnOnResize == nil {
		return false
	}
	width, height := data.Data.U32[0], data.Data.U32[1]
	core.LogDebug("Window resize: %d, %d", width, height)
	if err := e.gameInstance.FnOnResize(width, height); err != nil {
		core.LogError("game failed to resize: %s", err)
	}
	// Let other listeners see the event as well.
	return false
}
