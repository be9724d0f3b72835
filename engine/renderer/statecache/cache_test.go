package statecache

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handle struct{ name string }

type recordingBinder struct {
	calls []Key
	objs  []interface{}
	err   error
}

func (b *recordingBinder) BindNative(key Key, object interface{}) error {
	if b.err != nil {
		return b.err
	}
	b.calls = append(b.calls, key)
	b.objs = append(b.objs, object)
	return nil
}

func TestRedundantBindElided(t *testing.T) {
	binder := &recordingBinder{}
	metrics := core.NewRenderMetrics()
	c := New(binder, DefaultLimits(), metrics)
	x := &handle{"x"}

	issued, err := c.Bind(Key{Category: CategoryBlend}, x)
	require.NoError(t, err)
	assert.True(t, issued)
	issued, err = c.Bind(Key{Category: CategoryBlend}, x)
	require.NoError(t, err)
	assert.False(t, issued)

	assert.Len(t, binder.calls, 1)
	assert.Equal(t, uint64(1), metrics.BindsElided.Load())
}

func TestAlternatingBindsAllIssued(t *testing.T) {
	binder := &recordingBinder{}
	c := New(binder, DefaultLimits(), nil)
	x, y := &handle{"x"}, &handle{"y"}
	key := Key{Category: CategoryPipeline}

	for _, obj := range []*handle{x, y, x} {
		_, err := c.Bind(key, obj)
		require.NoError(t, err)
	}
	assert.Len(t, binder.calls, 3)
}

func TestSameIdentityDifferentSlots(t *testing.T) {
	binder := &recordingBinder{}
	c := New(binder, DefaultLimits(), nil)
	tex := &handle{"albedo"}

	_, _ = c.Bind(Key{Category: CategoryTexture, Slot: 0}, tex)
	_, _ = c.Bind(Key{Category: CategoryTexture, Slot: 1}, tex)
	_, _ = c.Bind(Key{Category: CategoryTexture, Slot: 1}, tex)
	assert.Len(t, binder.calls, 2)
	assert.Same(t, tex, c.Bound(Key{Category: CategoryTexture, Slot: 1}))
}

func TestSlotLimits(t *testing.T) {
	c := New(&recordingBinder{}, Limits{TextureUnits: 16, BufferSlots: 8, SamplerUnits: 4}, nil)

	_, err := c.Bind(Key{Category: CategoryTexture, Slot: 15}, &handle{})
	assert.NoError(t, err)
	_, err = c.Bind(Key{Category: CategoryTexture, Slot: 16}, &handle{})
	assert.ErrorIs(t, err, core.ErrSlotOutOfRange)
	_, err = c.Bind(Key{Category: CategorySampler, Slot: 4}, &handle{})
	assert.ErrorIs(t, err, core.ErrSlotOutOfRange)
	_, err = c.Bind(Key{Category: CategoryBlend, Slot: 1}, &handle{})
	assert.ErrorIs(t, err, core.ErrSlotOutOfRange)

	big := New(&recordingBinder{}, Limits{TextureUnits: 1000}, nil)
	_, err = big.Bind(Key{Category: CategoryTexture, Slot: 64}, &handle{})
	assert.ErrorIs(t, err, core.ErrSlotOutOfRange)
}

func TestBinderErrorKeepsCache(t *testing.T) {
	binder := &recordingBinder{err: errors.New("device lost")}
	c := New(binder, DefaultLimits(), nil)
	key := Key{Category: CategoryRasterizer}

	_, err := c.Bind(key, &handle{})
	assert.Error(t, err)
	assert.Nil(t, c.Bound(key))
}

func TestPushPopRestores(t *testing.T) {
	binder := &recordingBinder{}
	c := New(binder, DefaultLimits(), nil)
	a, b := &handle{"a"}, &handle{"b"}
	key := Key{Category: CategoryTexture, Slot: 2}

	_, _ = c.Bind(key, a)
	require.NoError(t, c.Push(CategoryTexture, 2))
	_, _ = c.Bind(key, b)

	issued, err := c.Pop(CategoryTexture)
	require.NoError(t, err)
	assert.True(t, issued)
	assert.Same(t, a, c.Bound(key))
	assert.Equal(t, []interface{}{a, b, a}, binder.objs)

	// Pop to an identical binding is free.
	require.NoError(t, c.Push(CategoryTexture, 2))
	issued, err = c.Pop(CategoryTexture)
	require.NoError(t, err)
	assert.False(t, issued)

	_, err = c.Pop(CategoryTexture)
	assert.ErrorIs(t, err, core.ErrStackEmpty)
}

func TestPushPopNestedOrder(t *testing.T) {
	c := New(&recordingBinder{}, DefaultLimits(), nil)
	a, b, d := &handle{"a"}, &handle{"b"}, &handle{"d"}
	key := Key{Category: CategoryPipeline}

	_, _ = c.Bind(key, a)
	_ = c.Push(CategoryPipeline, 0)
	_, _ = c.Bind(key, b)
	_ = c.Push(CategoryPipeline, 0)
	_, _ = c.Bind(key, d)
	assert.Equal(t, 2, c.StackDepth(CategoryPipeline))

	_, _ = c.Pop(CategoryPipeline)
	assert.Same(t, b, c.Bound(key))
	_, _ = c.Pop(CategoryPipeline)
	assert.Same(t, a, c.Bound(key))
}

func TestNotifyReleaseClearsBindings(t *testing.T) {
	binder := &recordingBinder{}
	c := New(binder, DefaultLimits(), nil)
	blend := &handle{"blend"}
	key := Key{Category: CategoryBlend}

	_, _ = c.Bind(key, blend)
	require.NoError(t, c.Push(CategoryBlend, 0))
	c.NotifyRelease(blend)
	assert.Nil(t, c.Bound(key))

	// Binding the same handle again must reach the device.
	issued, _ := c.Bind(key, blend)
	assert.True(t, issued)

	// The saved stack entry was cleared too.
	issued, _ = c.Pop(CategoryBlend)
	assert.True(t, issued)
	assert.Nil(t, c.Bound(key))
}

func TestInvalidateAndReset(t *testing.T) {
	binder := &recordingBinder{}
	c := New(binder, DefaultLimits(), nil)
	x := &handle{}
	key := Key{Category: CategoryVertexBuffer, Slot: 3}

	_, _ = c.Bind(key, x)
	_ = c.Push(CategoryVertexBuffer, 3)
	c.Invalidate()
	assert.Equal(t, 1, c.StackDepth(CategoryVertexBuffer))

	issued, _ := c.Bind(key, x)
	assert.True(t, issued)

	c.Reset()
	assert.Equal(t, 0, c.StackDepth(CategoryVertexBuffer))
	assert.Nil(t, c.Bound(key))
}
