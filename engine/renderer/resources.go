package renderer

import (
	"context"
	"errors"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/prism/engine/containers"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

func (rs *RenderSystem) CreateBuffer(desc metadata.BufferDescriptor) (*metadata.GPUResource, error) {
	if desc.Size == 0 {
		return nil, core.Misuse(core.ErrInvalidDescriptor, "buffer %q has no size", desc.Label)
	}
	res := &metadata.GPUResource{
		Label:     desc.Label,
		Class:     metadata.ResourceClassBuffer,
		BindFlags: desc.BindFlags,
		Size:      desc.Size,
	}
	return rs.createResource(res, desc.InitialState)
}

func (rs *RenderSystem) CreateTexture(desc metadata.TextureDescriptor) (*metadata.GPUResource, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, core.Misuse(core.ErrInvalidDescriptor, "texture %q is %dx%d", desc.Label, desc.Width, desc.Height)
	}
	format := desc.Format
	if format == gputypes.TextureFormatUndefined {
		format = gputypes.TextureFormatRGBA8Unorm
	}
	mips := max(desc.MipLevelCount, 1)
	if limit := metadata.MaxMipLevels(desc.Width, desc.Height); mips > limit {
		return nil, core.Misuse(core.ErrInvalidDescriptor, "texture %q of %dx%d has at most %d mip levels, not %d", desc.Label, desc.Width, desc.Height, limit, mips)
	}
	samples := max(desc.SampleCount, 1)
	switch samples {
	case 1, 2, 4, 8, 16:
	default:
		return nil, core.Misuse(core.ErrInvalidDescriptor, "texture %q with %d samples", desc.Label, samples)
	}
	if samples > 1 && (mips > 1 || desc.BindFlags&metadata.BindStorage != 0) {
		return nil, core.Misuse(core.ErrInvalidDescriptor, "multisampled texture %q needs one mip level and no storage binding", desc.Label)
	}
	res := &metadata.GPUResource{
		Label:         desc.Label,
		Class:         metadata.ResourceClassTexture,
		BindFlags:     desc.BindFlags,
		Width:         desc.Width,
		Height:        desc.Height,
		Format:        format,
		MipLevelCount: mips,
		SampleCount:   samples,
	}
	return rs.createResource(res, desc.InitialState)
}

func (rs *RenderSystem) createResource(res *metadata.GPUResource, initial metadata.ResourceState) (*metadata.GPUResource, error) {
	if !res.BindFlags.ValidFor(res.Class) {
		return nil, core.Misuse(core.ErrInvalidBindFlags, "%s %q with bind flags %#x", res.Class, res.Label, uint32(res.BindFlags))
	}
	if !res.BindFlags.Supports(res.Class, initial) {
		return nil, core.Misuse(core.ErrUnsupportedUsage, "%s %q cannot start in %s", res.Class, res.Label, initial)
	}
	res.CurrentState = initial
	res.UsageState = metadata.DefaultUsageState(res.Class, res.BindFlags)

	err := rs.locks.SafeCall(ResourceManagement, func() error {
		res.ID = rs.ids.Acquire(res)
		native, err := rs.backend.AllocateNativeResource(res)
		if err != nil {
			_ = rs.ids.Release(res.ID)
			return err
		}
		res.Native = native
		rs.resources[res.ID] = res
		return nil
	})
	if err != nil {
		core.LogError("failed to allocate %s %q: %s", res.Class, res.Label, err)
		return nil, err
	}
	core.LogDebug("created %s in %s", res, res.CurrentState)
	return res, nil
}

// Resource looks a live resource up by id.
func (rs *RenderSystem) Resource(id uint32) (*metadata.GPUResource, bool) {
	var res *metadata.GPUResource
	_ = rs.locks.SafeCall(ResourceManagement, func() error {
		res = rs.resources[id]
		return nil
	})
	return res, res != nil
}

/**
 * @brief Marks a resource as destroyed. The native object is released once the
 * last submission that referenced it has retired, see CollectGarbage.
 */
func (rs *RenderSystem) DestroyResource(res *metadata.GPUResource) error {
	if res == nil || res.Destroyed {
		return core.Misuse(core.ErrInvalidHandle, "destroy of a released resource")
	}
	err := rs.enqueueDestroy(res)
	if errors.Is(err, containers.ErrQueueFull) {
		core.LogWarn("deferred destroy queue full, waiting for the device")
		if err := rs.SyncDevice(context.Background()); err != nil {
			return err
		}
		err = rs.enqueueDestroy(res)
	}
	if err != nil {
		return err
	}

	// Command buffers forget bindings of the resource right away.
	data := core.EventContext{Payload: res}
	data.Data.U32[0] = res.ID
	rs.Events.Fire(core.EVENT_CODE_RESOURCE_DESTROYED, rs, data)
	return nil
}

// enqueueDestroy marks res destroyed once it is queued. A full queue leaves
// it untouched so the caller may retry.
func (rs *RenderSystem) enqueueDestroy(res *metadata.GPUResource) error {
	return rs.locks.SafeCall(ResourceManagement, func() error {
		if err := rs.pendingDestroys.Enqueue(res); err != nil {
			return err
		}
		res.Destroyed = true
		return nil
	})
}

// CollectGarbage releases destroyed resources whose last submission has
// retired, in destruction order, and returns how many were released.
func (rs *RenderSystem) CollectGarbage() int {
	completed := rs.backend.CompletedSubmission()
	released := 0
	_ = rs.locks.SafeCall(ResourceManagement, func() error {
		for !rs.pendingDestroys.IsEmpty() {
			res, _ := rs.pendingDestroys.Peek()
			if res.LastSubmission > completed {
				break
			}
			_, _ = rs.pendingDestroys.Dequeue()
			rs.releaseResource(res)
			released++
		}
		return nil
	})
	if released > 0 {
		core.LogDebug("released %d resources up to submission %d", released, completed)
	}
	return released
}

// PendingDestroys counts resources waiting for the device to let go of them.
func (rs *RenderSystem) PendingDestroys() int {
	n := 0
	_ = rs.locks.SafeCall(ResourceManagement, func() error {
		n = rs.pendingDestroys.Len()
		return nil
	})
	return n
}

// Must hold ResourceManagement.
func (rs *RenderSystem) releaseResource(res *metadata.GPUResource) {
	if res.Native != nil {
		rs.backend.ReleaseNativeResource(res)
		res.Native = nil
	}
	res.Destroyed = true
	delete(rs.resources, res.ID)
	_ = rs.ids.Release(res.ID)
}
