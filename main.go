/*
Command prism runs the testbed game on the configured renderer backend
until the frame budget is spent or the process is interrupted.
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/gogpu/wgpu/hal/noop"
	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/core"
	_ "github.com/spaghettifunk/prism/engine/renderer/null"
	_ "github.com/spaghettifunk/prism/engine/renderer/vulkan"
	_ "github.com/spaghettifunk/prism/engine/renderer/webgpu"
	"github.com/spaghettifunk/prism/testbed"
)

func main() {
	app := &engine.ApplicationConfig{}
	flag.StringVar(&app.Path, "config", "prism.toml", "path of the configuration file")
	flag.StringVar(&app.Backend, "backend", "", "renderer backend, overrides the configuration")
	flag.Int64Var(&app.Frames, "frames", -1, "frames to render, 0 runs until interrupted")
	flag.StringVar(&app.LogLevel, "log-level", "", "log level, overrides the configuration")
	flag.Parse()

	cfg, err := app.Load()
	if err != nil {
		core.LogFatal("failed to load the configuration: %s", err)
	}

	tb := testbed.NewTestGame()
	e, err := engine.New(tb.Game, cfg)
	if err != nil {
		core.LogFatal("%s", err)
	}

	if err := e.Initialize(); err != nil {
		core.LogError("failed to initialize the engine: %s", err)
		_ = e.Shutdown()
		os.Exit(1)
	}

	// capture sigterm and other system call here
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	// run engine
	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown failed: %s", err)
	}
	if runErr != nil {
		core.LogError("engine stopped: %s", runErr)
		os.Exit(1)
	}
}
