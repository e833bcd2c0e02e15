package renderer

import (
	"sync"

	"github.com/spaghettifunk/halcyon/engine/core"
	"github.com/spaghettifunk/halcyon/engine/renderer/device"
)

// CommandQueue hands closed recordings and fences to the device. It keeps
// no state of its own beyond the submission lock: submission order is
// execution order for work that carries no explicit dependencies.
type CommandQueue struct {
	dev device.Device

	// Serializes Submit and SubmitFence so call order is queue order.
	// Waits deliberately run outside the lock.
	mu sync.Mutex
}

func NewCommandQueue(dev device.Device) *CommandQueue {
	return &CommandQueue{dev: dev}
}

// Submit enqueues a previously recorded command buffer for execution. The
// buffer must have been closed with End. On immediate-mode backends the
// commands already executed during recording and the device treats this as
// a no-op; the buffer still transitions to the submitted state.
func (q *CommandQueue) Submit(cb *CommandBuffer) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch cb.state {
	case COMMAND_BUFFER_STATE_RECORDING, COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return core.Errorf("command buffer %s submitted while still recording", cb.debugName)
	case COMMAND_BUFFER_STATE_RECORDING_ENDED:
	default:
		return core.Errorf("command buffer %s submitted without a closed recording", cb.debugName)
	}

	if err := q.dev.SubmitSlot(cb.slots[cb.current]); err != nil {
		return core.Errorf("failed to submit command buffer %s: %w", cb.debugName, err)
	}
	cb.state = COMMAND_BUFFER_STATE_SUBMITTED
	core.MetricsAddSubmission()
	return nil
}

// SubmitFence inserts a queue-ordered signal point. Everything submitted
// before it must complete before the fence signals. Device loss still
// transitions the fence so waiters wake up.
func (q *CommandQueue) SubmitFence(f *Fence) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.dev.SubmitFence(f.native); err != nil {
		return core.Errorf("failed to submit fence %s: %w", f.ID, err)
	}
	f.submitted.Store(true)
	return nil
}

// WaitFence blocks until f signals or timeoutNs elapses, returning false on
// timeout or device loss. TimeoutInfinite waits indefinitely. Waiting on a
// fence that was never submitted runs into the full timeout; submit first.
func (q *CommandQueue) WaitFence(f *Fence, timeoutNs uint64) bool {
	if !f.submitted.Load() {
		core.LogWarn("waiting on fence %s that has not been submitted", f.ID)
	}
	core.MetricsAddFenceWait()
	return q.dev.WaitForFence(f.native, timeoutNs)
}

// WaitIdle blocks until all queue-submitted work has completed. Equivalent
// to submitting a fresh fence and waiting on it forever, but backends stall
// the queue directly.
func (q *CommandQueue) WaitIdle() error {
	if err := q.dev.QueueWaitIdle(); err != nil {
		return core.Errorf("queue failed to wait in idle mode: %w", err)
	}
	return nil
}
