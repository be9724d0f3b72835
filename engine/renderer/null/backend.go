// Package null provides a backend that records every command instead of
// talking to a device. It is used by tests and for headless dry runs.
package null

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipelinecache"
	"github.com/spaghettifunk/prism/engine/renderer/statecache"
)

// FormatTag marks pipeline binaries produced by this backend.
const FormatTag uint32 = 0x4C4C554E

func init() {
	renderer.RegisterBackend(renderer.Null, func() renderer.RendererBackend {
		return New()
	})
}

// Object is the native handle of every state, resource and pipeline.
type Object struct {
	Kind string
	ID   uint64
	// Descriptor the object was created from.
	Desc interface{}
}

func (o *Object) String() string {
	return fmt.Sprintf("%s#%d", o.Kind, o.ID)
}

type pipeline struct {
	Object
	compiled [pipelinecache.PermutationCount]bool
	loaded   [pipelinecache.PermutationCount]bool
}

type Backend struct {
	mu           sync.Mutex
	nextID       atomic.Uint64
	identity     string
	limits       statecache.Limits
	autoComplete bool
	failStates   bool
	rejectBinary bool

	submitted uint64
	completed uint64

	live      map[*Object]struct{}
	destroyed []*Object
	compiles  int
	loads     int
}

func New() *Backend {
	return &Backend{
		identity:     "null-device/1",
		limits:       statecache.DefaultLimits(),
		autoComplete: true,
		live:         make(map[*Object]struct{}),
	}
}

func (b *Backend) Initialize(cfg *config.Config) error {
	core.LogDebug("null backend initialized for %s", cfg.Application.Name)
	return nil
}

func (b *Backend) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.live); n > 0 {
		core.LogWarn("null backend: %d objects alive at shutdown", n)
	}
	return nil
}

func (b *Backend) Resized(width, height uint32) error {
	return nil
}

func (b *Backend) DeviceIdentity() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.identity
}

// SetDeviceIdentity simulates a driver update.
func (b *Backend) SetDeviceIdentity(identity string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.identity = identity
}

func (b *Backend) Limits() statecache.Limits {
	return b.limits
}

func (b *Backend) SetLimits(limits statecache.Limits) {
	b.limits = limits
}

// SetAutoComplete controls whether submissions retire as soon as they are
// submitted. When disabled, Complete retires them.
func (b *Backend) SetAutoComplete(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoComplete = enabled
}

// Complete retires every submission up to index.
func (b *Backend) Complete(index uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index > b.submitted {
		index = b.submitted
	}
	if index > b.completed {
		b.completed = index
	}
}

// FailStateCreation makes state object creation fail.
func (b *Backend) FailStateCreation(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failStates = fail
}

// RejectBinaries makes the device refuse cached pipeline binaries.
func (b *Backend) RejectBinaries(reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectBinary = reject
}

func (b *Backend) newObject(kind string, desc interface{}) *Object {
	o := &Object{Kind: kind, ID: b.nextID.Add(1), Desc: desc}
	b.mu.Lock()
	b.live[o] = struct{}{}
	b.mu.Unlock()
	return o
}

func (b *Backend) destroy(o *Object) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.live, o)
	b.destroyed = append(b.destroyed, o)
}

// Live counts native objects that were created and not destroyed yet.
func (b *Backend) Live(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for o := range b.live {
		if kind == "" || o.Kind == kind {
			n++
		}
	}
	return n
}

// Destroyed returns the destroyed objects in destruction order.
func (b *Backend) Destroyed() []*Object {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Object(nil), b.destroyed...)
}

// Compiles and Loads count pipeline compilations and binary loads.
func (b *Backend) Compiles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.compiles
}

func (b *Backend) Loads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads
}

func (b *Backend) AllocateNativeResource(res *metadata.GPUResource) (interface{}, error) {
	return b.newObject(res.Class.String(), res.Label), nil
}

func (b *Backend) ReleaseNativeResource(res *metadata.GPUResource) {
	if o, ok := res.Native.(*Object); ok {
		b.destroy(o)
	}
}

func (b *Backend) createState(kind string, desc interface{}) (interface{}, error) {
	b.mu.Lock()
	fail := b.failStates
	b.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("null backend: %s creation failed", kind)
	}
	return b.newObject(kind, desc), nil
}

func (b *Backend) CreateBlendState(desc metadata.BlendDescriptor) (interface{}, error) {
	return b.createState("blend", desc)
}

func (b *Backend) CreateDepthStencilState(desc metadata.DepthStencilDescriptor) (interface{}, error) {
	return b.createState("depth_stencil", desc)
}

func (b *Backend) CreateRasterizerState(desc metadata.RasterizerDescriptor) (interface{}, error) {
	return b.createState("rasterizer", desc)
}

func (b *Backend) CreateBindingLayout(layout metadata.BindingLayout) (interface{}, error) {
	return b.createState("binding_layout", layout)
}

func (b *Backend) DestroyState(native interface{}) {
	if o, ok := native.(*Object); ok {
		b.destroy(o)
	}
}

func (b *Backend) CreatePipeline(build *renderer.PipelineBuild) (interface{}, error) {
	p := &pipeline{Object: Object{Kind: "pipeline", ID: b.nextID.Add(1), Desc: build.Descriptor.Name}}
	b.mu.Lock()
	b.live[&p.Object] = struct{}{}
	b.mu.Unlock()
	return p, nil
}

func (b *Backend) CompilePipeline(native interface{}, permutation pipelinecache.Permutation) error {
	p, ok := native.(*pipeline)
	if !ok {
		return core.ErrInvalidHandle
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p.compiled[permutation] = true
	b.compiles++
	return nil
}

func (b *Backend) binaryFor(p *pipeline, permutation pipelinecache.Permutation) []byte {
	return []byte(fmt.Sprintf("%s/%s/%s", b.identity, p.Desc, permutation))
}

func (b *Backend) LoadPipelineBinary(native interface{}, permutation pipelinecache.Permutation, formatTag uint32, payload []byte) error {
	p, ok := native.(*pipeline)
	if !ok {
		return core.ErrInvalidHandle
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rejectBinary || formatTag != FormatTag || string(payload) != string(b.binaryFor(p, permutation)) {
		return fmt.Errorf("null backend: binary for %s does not match this device", p.Desc)
	}
	p.loaded[permutation] = true
	b.loads++
	return nil
}

func (b *Backend) PipelineBinary(native interface{}, permutation pipelinecache.Permutation) (uint32, []byte, error) {
	p, ok := native.(*pipeline)
	if !ok {
		return 0, nil, core.ErrInvalidHandle
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !p.compiled[permutation] && !p.loaded[permutation] {
		return 0, nil, fmt.Errorf("null backend: %s is not compiled for %s", p.Desc, permutation)
	}
	return FormatTag, b.binaryFor(p, permutation), nil
}

func (b *Backend) DestroyPipeline(native interface{}) {
	if p, ok := native.(*pipeline); ok {
		b.destroy(&p.Object)
	}
}

func (b *Backend) CreateCommandStream(secondary bool) (renderer.CommandStream, error) {
	return &Stream{Secondary: secondary}, nil
}

func (b *Backend) Submit(streams []renderer.CommandStream) (uint64, error) {
	for _, s := range streams {
		if st, ok := s.(*Stream); !ok || st.recording {
			return 0, fmt.Errorf("null backend: stream cannot be submitted")
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted++
	if b.autoComplete {
		b.completed = b.submitted
	}
	return b.submitted, nil
}

func (b *Backend) CompletedSubmission() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

func (b *Backend) SyncDevice(ctx context.Context, submission uint64, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		if b.CompletedSubmission() >= submission {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("submission %d: %w", submission, core.ErrNotReady)
		case <-ticker.C:
		}
	}
}
