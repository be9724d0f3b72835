package core

import (
	"fmt"
	"sync/atomic"
)

const AVG_COUNT uint8 = 30

// RenderMetrics collects per render system counters. Counters are updated
// with atomics because command buffers may be recorded on different goroutines.
type RenderMetrics struct {
	BindsIssued      atomic.Uint64
	BindsElided      atomic.Uint64
	BarriersRecorded atomic.Uint64
	BarrierBatches   atomic.Uint64
	BarriersMerged   atomic.Uint64
	StatesCreated    atomic.Uint64
	StatesShared     atomic.Uint64
	StatesReclaimed  atomic.Uint64
	CacheHits        atomic.Uint64
	CacheMisses      atomic.Uint64
	SyncWaits        atomic.Uint64

	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64
}

func NewRenderMetrics() *RenderMetrics {
	return &RenderMetrics{}
}

// FrameUpdate feeds the elapsed frame time in seconds. Not safe for
// concurrent use, call it from the frame loop only.
func (m *RenderMetrics) FrameUpdate(frameElapsedTime float64) {
	// Calculate frame ms average
	frameMS := frameElapsedTime * 1000.0
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		m.msAvg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.msAvg += m.msTimes[i]
		}
		m.msAvg /= float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	m.frames++
}

func (m *RenderMetrics) Frame() (float64, float64) {
	return m.fps, m.msAvg
}

func (m *RenderMetrics) String() string {
	return fmt.Sprintf(
		"binds=%d elided=%d barriers=%d batches=%d merged=%d states=%d shared=%d reclaimed=%d cache_hits=%d cache_misses=%d",
		m.BindsIssued.Load(), m.BindsElided.Load(),
		m.BarriersRecorded.Load(), m.BarrierBatches.Load(), m.BarriersMerged.Load(),
		m.StatesCreated.Load(), m.StatesShared.Load(), m.StatesReclaimed.Load(),
		m.CacheHits.Load(), m.CacheMisses.Load(),
	)
}
