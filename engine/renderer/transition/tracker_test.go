package transition

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	batches [][]Barrier
	err     error
}

func (r *recorder) RecordBarriers(barriers []Barrier) error {
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, append([]Barrier(nil), barriers...))
	return nil
}

func (r *recorder) total() int {
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func renderTarget(id uint32) *metadata.GPUResource {
	return &metadata.GPUResource{
		ID:        id,
		Class:     metadata.ResourceClassTexture,
		BindFlags: metadata.BindColorAttachment | metadata.BindSampled | metadata.BindCopySrc | metadata.BindStorage,
	}
}

func TestSameStateRecordsNothing(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec, Options{})
	res := renderTarget(1)

	require.NoError(t, tr.RequireState(res, metadata.ResourceStateCommon))
	n, err := tr.Flush()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, rec.batches)
}

func TestDifferentStateRecordsOne(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec, Options{})
	res := renderTarget(1)

	require.NoError(t, tr.RequireState(res, metadata.ResourceStateRenderTarget))
	assert.Equal(t, metadata.ResourceStateCommon, res.CurrentState, "current state only changes once recorded")
	assert.True(t, res.HasPending)

	n, err := tr.Flush()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, metadata.ResourceStateRenderTarget, res.CurrentState)
	assert.False(t, res.HasPending)
	assert.Equal(t, Barrier{Kind: BarrierTransition, Resource: res, Before: metadata.ResourceStateCommon, After: metadata.ResourceStateRenderTarget}, rec.batches[0][0])
}

func TestPendingBarrierRetargeted(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec, Options{})
	res := renderTarget(1)

	require.NoError(t, tr.RequireState(res, metadata.ResourceStateRenderTarget))
	require.NoError(t, tr.RequireState(res, metadata.ResourceStateShaderResource))
	assert.Equal(t, 1, tr.Pending())

	_, err := tr.Flush()
	require.NoError(t, err)
	require.Len(t, rec.batches, 1)
	assert.Equal(t, metadata.ResourceStateCommon, rec.batches[0][0].Before)
	assert.Equal(t, metadata.ResourceStateShaderResource, rec.batches[0][0].After)
}

func TestPendingBarrierDroppedWhenReturningToCurrent(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec, Options{})
	res := renderTarget(1)

	require.NoError(t, tr.RequireState(res, metadata.ResourceStateRenderTarget))
	require.NoError(t, tr.RequireState(res, metadata.ResourceStateCommon))
	assert.Equal(t, 0, tr.Pending())
	assert.False(t, res.HasPending)

	n, _ := tr.Flush()
	assert.Equal(t, 0, n)
}

func TestUnsupportedUsageRejected(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec, Options{})
	vb := &metadata.GPUResource{Class: metadata.ResourceClassBuffer, BindFlags: metadata.BindVertexBuffer}

	err := tr.RequireState(vb, metadata.ResourceStateUnorderedAccess)
	assert.ErrorIs(t, err, core.ErrUnsupportedUsage)
	assert.Equal(t, 0, tr.Pending())

	vb.Destroyed = true
	assert.ErrorIs(t, tr.RequireState(vb, metadata.ResourceStateCommon), core.ErrInvalidHandle)
}

func TestFlushWhenBatchFull(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec, Options{MaxPendingBarriers: 4})

	for i := 0; i < 9; i++ {
		require.NoError(t, tr.RequireState(renderTarget(uint32(i)), metadata.ResourceStateRenderTarget))
	}
	assert.Len(t, rec.batches, 2)
	assert.Equal(t, 1, tr.Pending())

	_, _ = tr.Flush()
	assert.Equal(t, 9, rec.total())
}

func TestRecorderErrorKeepsState(t *testing.T) {
	rec := &recorder{err: errors.New("closed")}
	tr := NewTracker(rec, Options{})
	res := renderTarget(1)

	require.NoError(t, tr.RequireState(res, metadata.ResourceStateRenderTarget))
	_, err := tr.Flush()
	assert.Error(t, err)
	assert.Equal(t, metadata.ResourceStateCommon, res.CurrentState)
	assert.Equal(t, 1, tr.Pending())
}

func TestUAVBarrier(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec, Options{})
	res := renderTarget(1)

	assert.ErrorIs(t, tr.InsertUAVBarrier(res), core.ErrInvalidTransition)

	require.NoError(t, tr.RequireState(res, metadata.ResourceStateUnorderedAccess))
	require.NoError(t, tr.InsertUAVBarrier(res))
	_, err := tr.Flush()
	require.NoError(t, err)

	require.Len(t, rec.batches[0], 2)
	assert.Equal(t, BarrierTransition, rec.batches[0][0].Kind)
	assert.Equal(t, BarrierUAV, rec.batches[0][1].Kind)
	assert.Equal(t, metadata.ResourceStateUnorderedAccess, res.CurrentState)
}

func TestRenderTargetPresentAcrossFrames(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec, Options{})
	res := renderTarget(1)
	res.CurrentState = metadata.ResourceStateRenderTarget

	for frame := 0; frame < 2; frame++ {
		before := rec.total()
		require.NoError(t, tr.RequireState(res, metadata.ResourceStatePresent))
		_, _ = tr.Flush()
		require.NoError(t, tr.ValidateReleasable(res))
		require.NoError(t, tr.RequireState(res, metadata.ResourceStateRenderTarget))
		_, _ = tr.Flush()
		assert.Equal(t, 2, rec.total()-before)
	}
}

func TestValidateReleasable(t *testing.T) {
	tr := NewTracker(&recorder{}, Options{})
	res := renderTarget(1)
	assert.NoError(t, tr.ValidateReleasable(res))

	require.NoError(t, tr.RequireState(res, metadata.ResourceStateRenderTarget))
	assert.ErrorIs(t, tr.ValidateReleasable(res), core.ErrNotTerminal)
	_, _ = tr.Flush()
	assert.ErrorIs(t, tr.ValidateReleasable(res), core.ErrNotTerminal)
}

func TestSecondaryCachesFirstTransition(t *testing.T) {
	secRec := &recorder{}
	sec := NewTracker(secRec, Options{Secondary: true})
	res := renderTarget(1)

	require.NoError(t, sec.RequireState(res, metadata.ResourceStateRenderTarget))
	require.NoError(t, sec.RequireState(res, metadata.ResourceStateShaderResource))
	states, err := sec.Finish()
	require.NoError(t, err)

	// Only the second transition is recorded in the secondary itself.
	require.Len(t, secRec.batches, 1)
	assert.Equal(t, metadata.ResourceStateRenderTarget, secRec.batches[0][0].Before)

	require.Len(t, states, 1)
	assert.Equal(t, CachedState{
		Resource: res,
		Initial:  metadata.ResourceStateCommon,
		Begin:    metadata.ResourceStateRenderTarget,
		End:      metadata.ResourceStateShaderResource,
	}, states[0])
	assert.Equal(t, metadata.ResourceStateCommon, res.CurrentState)

	primRec := &recorder{}
	prim := NewTracker(primRec, Options{})
	require.NoError(t, prim.ExecuteSecondary(states))
	require.Len(t, primRec.batches, 1)
	assert.Equal(t, metadata.ResourceStateRenderTarget, primRec.batches[0][0].After)
	assert.Equal(t, metadata.ResourceStateShaderResource, res.CurrentState)
}

func TestResetDropsQueued(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec, Options{})
	res := renderTarget(1)

	require.NoError(t, tr.RequireState(res, metadata.ResourceStateRenderTarget))
	tr.Reset()
	assert.False(t, res.HasPending)
	assert.Equal(t, 0, tr.Pending())
	n, _ := tr.Flush()
	assert.Equal(t, 0, n)
}
