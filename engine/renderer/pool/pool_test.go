package pool

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/containers"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nativeState struct {
	key       int
	destroyed bool
}

type fakeDevice struct {
	created   int
	destroyed int
	fail      bool
}

func (d *fakeDevice) create(key int) (interface{}, error) {
	if d.fail {
		return nil, errors.New("out of memory")
	}
	d.created++
	return &nativeState{key: key}, nil
}

func (d *fakeDevice) destroy(native interface{}) {
	d.destroyed++
	native.(*nativeState).destroyed = true
}

func newIntPool(dev *fakeDevice, policy config.ReclaimPolicy, maxDead int) *StatePool[int] {
	return NewStatePool(containers.Compare[int], dev.create, dev.destroy, Options{
		Name:          "test",
		ReclaimPolicy: policy,
		MaxDeadStates: maxDead,
	})
}

func TestCreateOrShareDeduplicates(t *testing.T) {
	dev := &fakeDevice{}
	p := newIntPool(dev, config.ReclaimLazy, 0)

	a, err := p.CreateOrShare(5)
	require.NoError(t, err)
	b, err := p.CreateOrShare(5)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 2, a.RefCount())
	assert.Equal(t, 1, dev.created)
	assert.Equal(t, 1, p.Len())
}

func TestCreateFailureLeavesPoolUnchanged(t *testing.T) {
	dev := &fakeDevice{}
	p := newIntPool(dev, config.ReclaimLazy, 0)
	_, err := p.CreateOrShare(1)
	require.NoError(t, err)

	dev.fail = true
	_, err = p.CreateOrShare(2)
	assert.Error(t, err)
	assert.Equal(t, []int{1}, p.Descriptors())
}

func TestLazyReleaseRevivesNativeObject(t *testing.T) {
	dev := &fakeDevice{}
	p := newIntPool(dev, config.ReclaimLazy, 0)

	a, _ := p.CreateOrShare(3)
	native := a.Native
	require.NoError(t, p.Release(a))
	assert.Equal(t, 0, dev.destroyed)
	assert.Equal(t, 1, p.Dead())
	assert.Equal(t, 0, p.Live())

	b, err := p.CreateOrShare(3)
	require.NoError(t, err)
	assert.Same(t, native, b.Native)
	assert.Equal(t, 1, dev.created)
	assert.Equal(t, 0, p.Dead())
}

func TestCompactDestroysUnheldStates(t *testing.T) {
	dev := &fakeDevice{}
	p := newIntPool(dev, config.ReclaimLazy, 0)

	var released []interface{}
	p.OnRelease(func(native interface{}) { released = append(released, native) })

	a, _ := p.CreateOrShare(1)
	b, _ := p.CreateOrShare(2)
	_, _ = p.CreateOrShare(3)
	require.NoError(t, p.Release(a))
	require.NoError(t, p.Release(b))

	assert.Equal(t, 2, p.Compact())
	assert.Equal(t, []int{3}, p.Descriptors())
	assert.Equal(t, 2, dev.destroyed)
	assert.Len(t, released, 2)

	assert.ErrorIs(t, p.Release(a), core.ErrInvalidHandle)
}

func TestAutoCompactThreshold(t *testing.T) {
	dev := &fakeDevice{}
	p := newIntPool(dev, config.ReclaimLazy, 2)

	for i := 0; i < 3; i++ {
		s, _ := p.CreateOrShare(i)
		require.NoError(t, p.Release(s))
	}
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 3, dev.destroyed)
}

func TestEagerReleaseDestroysImmediately(t *testing.T) {
	dev := &fakeDevice{}
	p := newIntPool(dev, config.ReclaimEager, 0)

	a, _ := p.CreateOrShare(1)
	b, _ := p.CreateOrShare(1)
	require.NoError(t, p.Release(a))
	assert.Equal(t, 0, dev.destroyed)

	require.NoError(t, p.Release(b))
	assert.Equal(t, 1, dev.destroyed)
	assert.Equal(t, 0, p.Len())

	c, _ := p.CreateOrShare(1)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, dev.created)
}

func TestReleaseMisuse(t *testing.T) {
	dev := &fakeDevice{}
	p := newIntPool(dev, config.ReclaimLazy, 0)
	other := newIntPool(dev, config.ReclaimLazy, 0)

	s, _ := p.CreateOrShare(1)
	assert.ErrorIs(t, other.Release(s), core.ErrInvalidHandle)
	require.NoError(t, p.Release(s))
	assert.ErrorIs(t, p.Release(s), core.ErrInvalidHandle)
	assert.ErrorIs(t, p.Release(nil), core.ErrInvalidHandle)
}

func TestRandomizedOperationsKeepInvariants(t *testing.T) {
	for _, policy := range []config.ReclaimPolicy{config.ReclaimLazy, config.ReclaimEager} {
		dev := &fakeDevice{}
		p := newIntPool(dev, policy, 8)
		rng := rand.New(rand.NewSource(1234))

		held := map[int][]*State[int]{}
		for step := 0; step < 5000; step++ {
			key := rng.Intn(64)
			switch op := rng.Intn(10); {
			case op < 5:
				s, err := p.CreateOrShare(key)
				require.NoError(t, err)
				require.Equal(t, key, s.Descriptor)
				held[key] = append(held[key], s)
			case op < 9:
				if len(held[key]) == 0 {
					continue
				}
				s := held[key][len(held[key])-1]
				held[key] = held[key][:len(held[key])-1]
				require.NoError(t, p.Release(s))
			default:
				p.Compact()
			}

			descs := p.Descriptors()
			require.True(t, containers.IsSortedFunc(descs, containers.Compare[int]), "pool must stay sorted and unique")
			for k, states := range held {
				if len(states) == 0 {
					continue
				}
				require.Equal(t, len(states), states[0].RefCount(), "key %d", k)
				for _, s := range states {
					require.Same(t, states[0], s)
				}
			}
		}
		assert.Equal(t, dev.created-dev.destroyed, p.Len())
	}
}
