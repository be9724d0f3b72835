package pipelinecache

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
)

// Permutation selects a variant of a pipeline compiled from the same shaders.
type Permutation uint8

const (
	PermutationDefault Permutation = iota
	// Vertex positions are flipped on Y, used when rendering into a
	// framebuffer with a bottom-left origin.
	PermutationFlippedYPosition

	PermutationCount
)

func (p Permutation) String() string {
	switch p {
	case PermutationDefault:
		return "default"
	case PermutationFlippedYPosition:
		return "flipped_y_position"
	}
	return fmt.Sprintf("permutation(%d)", uint8(p))
}

const (
	headerSize      = 4 * int(PermutationCount)
	entryHeaderSize = 8
)

// Entry is one compiled pipeline binary. FormatTag identifies the native
// binary format and is passed back to the driver untouched.
type Entry struct {
	FormatTag uint32
	Payload   []byte
}

// Loader feeds a cached binary to the native pipeline object.
type Loader interface {
	LoadPipelineBinary(native interface{}, permutation Permutation, formatTag uint32, payload []byte) error
}

/**
 * @brief Compiled pipeline binaries, one per permutation. A permutation with
 * an empty payload is absent.
 */
type Cache struct {
	entries [PermutationCount]Entry
}

func New() *Cache {
	return &Cache{}
}

func checkPermutation(p Permutation) error {
	if p >= PermutationCount {
		return core.Misuse(core.ErrSlotOutOfRange, "pipeline cache %s", p)
	}
	return nil
}

// Store keeps a copy of payload for the permutation. An empty payload removes it.
func (c *Cache) Store(p Permutation, formatTag uint32, payload []byte) error {
	if err := checkPermutation(p); err != nil {
		return err
	}
	if len(payload) == 0 {
		c.entries[p] = Entry{}
		return nil
	}
	c.entries[p] = Entry{
		FormatTag: formatTag,
		Payload:   append([]byte(nil), payload...),
	}
	return nil
}

func (c *Cache) Entry(p Permutation) (Entry, bool) {
	if p >= PermutationCount || len(c.entries[p].Payload) == 0 {
		return Entry{}, false
	}
	return c.entries[p], true
}

func (c *Cache) IsEmpty() bool {
	for _, e := range c.entries {
		if len(e.Payload) > 0 {
			return false
		}
	}
	return true
}

// Serialize writes the header of permutation offsets followed by every
// non-empty entry. An empty cache serializes to an empty blob.
//
//	header: uint32 offset per permutation, 0 when absent
//	entry:  uint32 format tag, int32 length, payload
func (c *Cache) Serialize() []byte {
	if c.IsEmpty() {
		return nil
	}
	size := headerSize
	for _, e := range c.entries {
		if len(e.Payload) > 0 {
			size += entryHeaderSize + len(e.Payload)
		}
	}

	blob := make([]byte, size)
	offset := headerSize
	for p, e := range c.entries {
		if len(e.Payload) == 0 {
			continue
		}
		binary.LittleEndian.PutUint32(blob[4*p:], uint32(offset))
		binary.LittleEndian.PutUint32(blob[offset:], e.FormatTag)
		binary.LittleEndian.PutUint32(blob[offset+4:], uint32(int32(len(e.Payload))))
		copy(blob[offset+entryHeaderSize:], e.Payload)
		offset += entryHeaderSize + len(e.Payload)
	}
	return blob
}

// Deserialize copies every entry of blob without interpreting the payloads.
func Deserialize(blob []byte) (*Cache, error) {
	c := New()
	if len(blob) == 0 {
		return c, nil
	}
	if len(blob) < headerSize {
		return nil, fmt.Errorf("blob of %d bytes is shorter than its header: %w", len(blob), core.ErrCorruptBlob)
	}
	for p := 0; p < int(PermutationCount); p++ {
		offset := int(binary.LittleEndian.Uint32(blob[4*p:]))
		if offset == 0 {
			continue
		}
		if offset < headerSize || offset+entryHeaderSize > len(blob) {
			return nil, fmt.Errorf("%s entry offset %d out of bounds: %w", Permutation(p), offset, core.ErrCorruptBlob)
		}
		tag := binary.LittleEndian.Uint32(blob[offset:])
		length := int32(binary.LittleEndian.Uint32(blob[offset+4:]))
		start := offset + entryHeaderSize
		if length < 0 || start+int(length) > len(blob) {
			return nil, fmt.Errorf("%s entry length %d out of bounds: %w", Permutation(p), length, core.ErrCorruptBlob)
		}
		if length == 0 {
			continue
		}
		c.entries[p] = Entry{
			FormatTag: tag,
			Payload:   append([]byte(nil), blob[start:start+int(length)]...),
		}
	}
	return c, nil
}

// LoadInto hands the binary of permutation p to the backend. ErrCacheMiss is
// returned when the permutation is absent; a driver rejection is wrapped in
// ErrCacheMismatch so the caller can fall back to compiling.
func (c *Cache) LoadInto(loader Loader, native interface{}, p Permutation) error {
	e, ok := c.Entry(p)
	if !ok {
		return fmt.Errorf("%s: %w", p, core.ErrCacheMiss)
	}
	if err := loader.LoadPipelineBinary(native, p, e.FormatTag, e.Payload); err != nil {
		core.LogWarn("pipeline binary for %s rejected: %s", p, err)
		return fmt.Errorf("%w: %s: %v", core.ErrCacheMismatch, p, err)
	}
	return nil
}
