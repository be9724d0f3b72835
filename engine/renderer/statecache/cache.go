package statecache

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
)

type Category uint8

const (
	CategoryPipeline Category = iota
	CategoryBlend
	CategoryDepthStencil
	CategoryRasterizer
	CategoryBindingLayout
	CategoryRenderTarget
	CategoryDepthTarget
	CategoryIndexBuffer
	CategoryVertexBuffer
	CategoryTexture
	CategoryConstantBuffer
	CategoryStorageBuffer
	CategorySampler

	categoryCount
)

var categoryNames = [categoryCount]string{
	"pipeline", "blend", "depth_stencil", "rasterizer", "binding_layout",
	"render_target", "depth_target", "index_buffer", "vertex_buffer",
	"texture", "constant_buffer", "storage_buffer", "sampler",
}

func (c Category) String() string {
	if c < categoryCount {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Key addresses one binding point. Slot is 0 for categories with a single
// binding point.
type Key struct {
	Category Category
	Slot     uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%s[%d]", k.Category, k.Slot)
}

// Binder issues the native bind call. object is nil when a binding point is
// restored to empty.
type Binder interface {
	BindNative(key Key, object interface{}) error
}

type BinderFunc func(key Key, object interface{}) error

func (f BinderFunc) BindNative(key Key, object interface{}) error {
	return f(key, object)
}

// Limits are the device reported slot counts, each clamped to
// config.MaxResourceSlots.
type Limits struct {
	TextureUnits int
	BufferSlots  int
	SamplerUnits int
}

func DefaultLimits() Limits {
	return Limits{
		TextureUnits: config.MaxResourceSlots,
		BufferSlots:  config.MaxResourceSlots,
		SamplerUnits: config.MaxResourceSlots,
	}
}

type savedBinding struct {
	slot   uint32
	object interface{}
}

/**
 * @brief Tracks which objects are bound on a single command stream so that
 * rebinding the object already bound is skipped. Bound objects are compared
 * by identity, so they must be comparable handles (pointers).
 */
type Cache struct {
	binder  Binder
	limits  Limits
	metrics *core.RenderMetrics
	bound   [categoryCount][config.MaxResourceSlots]interface{}
	stacks  [categoryCount][]savedBinding
}

func New(binder Binder, limits Limits, metrics *core.RenderMetrics) *Cache {
	if metrics == nil {
		metrics = core.NewRenderMetrics()
	}
	limits.TextureUnits = clamp(limits.TextureUnits)
	limits.BufferSlots = clamp(limits.BufferSlots)
	limits.SamplerUnits = clamp(limits.SamplerUnits)
	return &Cache{
		binder:  binder,
		limits:  limits,
		metrics: metrics,
	}
}

func clamp(n int) int {
	if n <= 0 || n > config.MaxResourceSlots {
		return config.MaxResourceSlots
	}
	return n
}

func (c *Cache) slotCount(cat Category) int {
	switch cat {
	case CategoryTexture:
		return c.limits.TextureUnits
	case CategorySampler:
		return c.limits.SamplerUnits
	case CategoryConstantBuffer, CategoryStorageBuffer, CategoryVertexBuffer:
		return c.limits.BufferSlots
	}
	return 1
}

func (c *Cache) validate(key Key) error {
	if key.Category >= categoryCount {
		return core.Misuse(core.ErrSlotOutOfRange, "unknown binding category %d", key.Category)
	}
	if int(key.Slot) >= c.slotCount(key.Category) {
		return core.Misuse(core.ErrSlotOutOfRange, "%s exceeds %d slots", key, c.slotCount(key.Category))
	}
	return nil
}

// Bind issues the native bind unless object is already bound at key.
// Returns true when a native call was made.
func (c *Cache) Bind(key Key, object interface{}) (bool, error) {
	if err := c.validate(key); err != nil {
		return false, err
	}
	if c.bound[key.Category][key.Slot] == object {
		c.metrics.BindsElided.Add(1)
		return false, nil
	}
	if err := c.binder.BindNative(key, object); err != nil {
		return false, err
	}
	c.bound[key.Category][key.Slot] = object
	c.metrics.BindsIssued.Add(1)
	return true, nil
}

func (c *Cache) Bound(key Key) interface{} {
	if key.Category >= categoryCount || int(key.Slot) >= config.MaxResourceSlots {
		return nil
	}
	return c.bound[key.Category][key.Slot]
}

// Push saves the binding at key so a later Pop on the same category restores it.
func (c *Cache) Push(category Category, slot uint32) error {
	key := Key{Category: category, Slot: slot}
	if err := c.validate(key); err != nil {
		return err
	}
	c.stacks[category] = append(c.stacks[category], savedBinding{
		slot:   slot,
		object: c.bound[category][slot],
	})
	return nil
}

// Pop restores the most recently pushed binding of the category. The native
// bind is only issued if the restored object differs from the current one.
func (c *Cache) Pop(category Category) (bool, error) {
	if category >= categoryCount || len(c.stacks[category]) == 0 {
		return false, core.Misuse(core.ErrStackEmpty, "pop of %s", category)
	}
	stack := c.stacks[category]
	saved := stack[len(stack)-1]
	stack[len(stack)-1] = savedBinding{}
	c.stacks[category] = stack[:len(stack)-1]

	return c.Bind(Key{Category: category, Slot: saved.slot}, saved.object)
}

// StackDepth reports how many bindings are saved for category.
func (c *Cache) StackDepth(category Category) int {
	return len(c.stacks[category])
}

// NotifyRelease forgets every binding of object, so a new object that reuses
// its native handle is not mistaken for it.
func (c *Cache) NotifyRelease(object interface{}) {
	if object == nil {
		return
	}
	for cat := range c.bound {
		for slot := range c.bound[cat] {
			if c.bound[cat][slot] == object {
				c.bound[cat][slot] = nil
			}
		}
		for i := range c.stacks[cat] {
			if c.stacks[cat][i].object == object {
				c.stacks[cat][i].object = nil
			}
		}
	}
}

// Invalidate forgets the bound objects but keeps saved bindings. Used when
// the native binding state is unknown, e.g. after executing a secondary stream.
func (c *Cache) Invalidate() {
	c.bound = [categoryCount][config.MaxResourceSlots]interface{}{}
}

// Reset forgets bound objects and saved bindings, at the start of recording.
func (c *Cache) Reset() {
	c.Invalidate()
	for i := range c.stacks {
		c.stacks[i] = nil
	}
}

func (c *Cache) Limits() Limits {
	return c.limits
}
