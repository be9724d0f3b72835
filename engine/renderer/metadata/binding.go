package metadata

import (
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/prism/engine/containers"
)

/** @brief The kind of resource a binding slot expects. */
type BindingType uint8

const (
	BindingTypeConstantBuffer BindingType = iota
	BindingTypeStorageBuffer
	BindingTypeReadOnlyStorageBuffer
	BindingTypeTexture
	BindingTypeStorageTexture
	BindingTypeSampler
)

/**
 * @brief A single named slot in a binding layout.
 */
type BindingDescriptor struct {
	/** @brief Name used by backends that bind by uniform name. */
	Name   string
	Slot   uint32
	Type   BindingType
	Stages gputypes.ShaderStages
	/** @brief Number of array elements, 0 and 1 both mean a single binding. */
	ArraySize uint32
}

/**
 * @brief An ordered, immutable sequence of binding slots shared by pipeline states.
 */
type BindingLayout struct {
	bindings []BindingDescriptor
}

// NewBindingLayout copies bindings so the layout cannot be mutated through
// the caller's slice.
func NewBindingLayout(bindings ...BindingDescriptor) BindingLayout {
	return BindingLayout{bindings: append([]BindingDescriptor(nil), bindings...)}
}

func (l BindingLayout) Len() int {
	return len(l.bindings)
}

func (l BindingLayout) At(i int) BindingDescriptor {
	return l.bindings[i]
}

func (l BindingLayout) Bindings() []BindingDescriptor {
	return append([]BindingDescriptor(nil), l.bindings...)
}

// Lookup finds a binding by name.
func (l BindingLayout) Lookup(name string) (BindingDescriptor, bool) {
	for _, b := range l.bindings {
		if b.Name == name {
			return b, true
		}
	}
	return BindingDescriptor{}, false
}

func (l BindingLayout) String() string {
	names := make([]string, len(l.bindings))
	for i, b := range l.bindings {
		names[i] = b.Name
	}
	return "[" + strings.Join(names, ",") + "]"
}

func compareBinding(a, b BindingDescriptor) int {
	if c := containers.Compare(a.Slot, b.Slot); c != 0 {
		return c
	}
	if c := containers.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	if c := containers.Compare(a.Stages, b.Stages); c != 0 {
		return c
	}
	if c := containers.Compare(max(a.ArraySize, 1), max(b.ArraySize, 1)); c != 0 {
		return c
	}
	return strings.Compare(a.Name, b.Name)
}

// CompareBindingLayout orders layouts binding by binding, shorter first on a common prefix.
func CompareBindingLayout(a, b BindingLayout) int {
	return containers.CompareSlices(a.bindings, b.bindings, compareBinding)
}

// BindGroupLayoutEntries translates the layout to WebGPU bind group layout entries.
func (l BindingLayout) BindGroupLayoutEntries() []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(l.bindings))
	for _, b := range l.bindings {
		entry := gputypes.BindGroupLayoutEntry{
			Binding:    b.Slot,
			Visibility: b.Stages,
		}
		switch b.Type {
		case BindingTypeConstantBuffer:
			entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
		case BindingTypeStorageBuffer:
			entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
		case BindingTypeReadOnlyStorageBuffer:
			entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}
		case BindingTypeTexture:
			entry.Texture = &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		case BindingTypeStorageTexture:
			entry.StorageTexture = &gputypes.StorageTextureBindingLayout{
				Access:        gputypes.StorageTextureAccessWriteOnly,
				Format:        gputypes.TextureFormatRGBA8Unorm,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		case BindingTypeSampler:
			entry.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
		}
		entries = append(entries, entry)
	}
	return entries
}
