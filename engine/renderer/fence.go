package renderer

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spaghettifunk/halcyon/engine/core"
	"github.com/spaghettifunk/halcyon/engine/renderer/device"
)

// TimeoutInfinite asks a fence wait to block until the fence signals.
const TimeoutInfinite uint64 = ^uint64(0)

// Fence is a client-owned GPU to CPU signal point. It transitions from
// unsignaled to signaled exactly once per submission round and must be
// Reset before reuse. The queue only references it during submit and wait.
type Fence struct {
	ID uuid.UUID

	dev       device.Device
	native    device.Fence
	submitted atomic.Bool
}

func NewFence(dev device.Device) (*Fence, error) {
	native, err := dev.CreateFence(false)
	if err != nil {
		return nil, core.Errorf("failed to create fence: %w", err)
	}
	return &Fence{
		ID:     uuid.New(),
		dev:    dev,
		native: native,
	}, nil
}

// Signaled reports the last observed fence state without blocking.
func (f *Fence) Signaled() bool {
	return f.native.Signaled()
}

// Reset returns the fence to the unsignaled state for reuse. Not valid
// while a submission referencing the fence is still pending.
func (f *Fence) Reset() error {
	if err := f.dev.ResetFence(f.native); err != nil {
		return core.Errorf("failed to reset fence %s: %w", f.ID, err)
	}
	f.submitted.Store(false)
	return nil
}

// Release destroys the native fence. The fence must not be in use by a
// pending submission.
func (f *Fence) Release() {
	f.dev.DestroyFence(f.native)
	f.native = nil
}
