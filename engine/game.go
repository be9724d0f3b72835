package engine

import (
	"github.com/spaghettifunk/prism/engine/renderer"
)

type Game struct {
	Name         string
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

type Initialize func(rs *renderer.RenderSystem) error
type Update func(deltaTime float64) error
type Render func(rs *renderer.RenderSystem, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
