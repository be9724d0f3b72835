package null

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/statecache"
	"github.com/spaghettifunk/prism/engine/renderer/transition"
)

// Bind is one recorded native bind call.
type Bind struct {
	Key    statecache.Key
	Object interface{}
}

// Stream records commands as plain values.
type Stream struct {
	Secondary bool

	recording bool
	// Barrier batches in recording order.
	Barriers [][]transition.Barrier
	Binds    []Bind
	Commands []string
}

func (s *Stream) Begin() error {
	if s.recording {
		return fmt.Errorf("null stream already recording")
	}
	s.recording = true
	s.Barriers = nil
	s.Binds = nil
	s.Commands = nil
	return nil
}

func (s *Stream) End() error {
	if !s.recording {
		return fmt.Errorf("null stream not recording")
	}
	s.recording = false
	return nil
}

func (s *Stream) RecordBarriers(barriers []transition.Barrier) error {
	s.Barriers = append(s.Barriers, append([]transition.Barrier(nil), barriers...))
	return nil
}

// BarrierCount is the number of barriers in every recorded batch.
func (s *Stream) BarrierCount() int {
	n := 0
	for _, batch := range s.Barriers {
		n += len(batch)
	}
	return n
}

func (s *Stream) BindNative(key statecache.Key, object interface{}) error {
	s.Binds = append(s.Binds, Bind{Key: key, Object: object})
	return nil
}

// BindCount counts recorded binds of a category.
func (s *Stream) BindCount(category statecache.Category) int {
	n := 0
	for _, b := range s.Binds {
		if b.Key.Category == category {
			n++
		}
	}
	return n
}

func (s *Stream) record(format string, args ...interface{}) error {
	if !s.recording {
		return fmt.Errorf("null stream not recording")
	}
	s.Commands = append(s.Commands, fmt.Sprintf(format, args...))
	return nil
}

func (s *Stream) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	return s.record("draw %d %d %d %d", vertexCount, instanceCount, firstVertex, firstInstance)
}

func (s *Stream) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error {
	return s.record("draw_indexed %d %d %d %d %d", indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
}

func (s *Stream) DrawIndirect(args *metadata.GPUResource, offset uint64) error {
	return s.record("draw_indirect %s %d", args, offset)
}

func (s *Stream) Dispatch(x, y, z uint32) error {
	return s.record("dispatch %d %d %d", x, y, z)
}

func (s *Stream) CopyBuffer(src, dst *metadata.GPUResource, srcOffset, dstOffset, size uint64) error {
	return s.record("copy_buffer %s %s %d %d %d", src, dst, srcOffset, dstOffset, size)
}

func (s *Stream) CopyTexture(src, dst *metadata.GPUResource) error {
	return s.record("copy_texture %s %s", src, dst)
}

func (s *Stream) ClearRenderTarget(target *metadata.GPUResource, color [4]float64) error {
	return s.record("clear %s %v", target, color)
}

func (s *Stream) ExecuteSecondary(secondary renderer.CommandStream) error {
	sec, ok := secondary.(*Stream)
	if !ok || !sec.Secondary {
		return fmt.Errorf("null stream: not a secondary stream")
	}
	return s.record("execute %d commands", len(sec.Commands))
}

func (s *Stream) Destroy() {
	s.recording = false
}
