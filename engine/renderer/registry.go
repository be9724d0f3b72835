package renderer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spaghettifunk/prism/engine/core"
)

type RendererType uint8

const (
	Vulkan RendererType = iota
	DirectX
	Metal
	OpenGL
	Software
	Null
)

var rendererTypeNames = map[RendererType]string{
	Vulkan:   "vulkan",
	DirectX:  "directx",
	Metal:    "metal",
	OpenGL:   "opengl",
	Software: "software",
	Null:     "null",
}

func (t RendererType) String() string {
	if name, ok := rendererTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("renderer(%d)", uint8(t))
}

func ParseRendererType(name string) (RendererType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range rendererTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown renderer %q: %w", name, core.ErrBackendNotAvailable)
}

// BackendFactory builds an uninitialized backend.
type BackendFactory func() RendererBackend

var (
	backendsMu sync.RWMutex
	backends   = make(map[RendererType]BackendFactory)
)

// RegisterBackend is called from the init function of each backend package.
func RegisterBackend(t RendererType, factory BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[t] = factory
}

func NewBackend(t RendererType) (RendererBackend, error) {
	backendsMu.RLock()
	factory, ok := backends[t]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", t, core.ErrBackendNotAvailable)
	}
	return factory(), nil
}

func AvailableBackends() []RendererType {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	out := make([]RendererType, 0, len(backends))
	for t := range backends {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
