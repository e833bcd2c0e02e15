package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/halcyon/engine/core"
)

// vulkanFence pairs the native handle with a cached signal state, so
// Signaled never hits the driver and repeated waits on a signaled fence
// return immediately. Waits can come from any goroutine, hence the lock.
type vulkanFence struct {
	mu       sync.Mutex
	handle   vk.Fence
	signaled bool
}

func newVulkanFence(ctx *Context, createSignaled bool) (*vulkanFence, error) {
	fence := &vulkanFence{
		// Make sure to signal the fence if required.
		signaled: createSignaled,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if res := vk.CreateFence(ctx.LogicalDevice, &fenceCreateInfo, ctx.Allocator, &pFence); res != vk.Success {
		return nil, core.Errorf("failed to create fence: %s", VulkanResultString(res, true))
	}
	fence.handle = pFence
	return fence, nil
}

func (vf *vulkanFence) Signaled() bool {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	return vf.signaled
}

func (vf *vulkanFence) destroy(ctx *Context) {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	if vf.handle != nil {
		vk.DestroyFence(ctx.LogicalDevice, vf.handle, ctx.Allocator)
		vf.handle = nil
	}
	vf.signaled = false
}

// wait blocks until the fence signals or timeoutNs elapses. False covers
// both the timeout and device loss, logged apart.
func (vf *vulkanFence) wait(ctx *Context, timeoutNs uint64) bool {
	vf.mu.Lock()
	if vf.signaled {
		// If already signaled, do not wait.
		vf.mu.Unlock()
		return true
	}
	handle := vf.handle
	vf.mu.Unlock()

	result := vk.WaitForFences(ctx.LogicalDevice, 1, []vk.Fence{handle}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		vf.mu.Lock()
		vf.signaled = true
		vf.mu.Unlock()
		return true
	case vk.Timeout:
		core.LogWarn("fence wait timed out")
	case vk.ErrorDeviceLost:
		core.LogError("fence wait failed: %s", VulkanResultString(result, true))
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory:
		core.LogError("fence wait failed: %s", VulkanResultString(result, true))
	default:
		core.LogError("fence wait failed with an unknown error")
	}
	return false
}

func (vf *vulkanFence) reset(ctx *Context) error {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	if vf.signaled {
		if res := vk.ResetFences(ctx.LogicalDevice, 1, []vk.Fence{vf.handle}); res != vk.Success {
			return core.Errorf("failed to reset fence: %s", VulkanResultString(res, true))
		}
		vf.signaled = false
	}
	return nil
}

// markSignaled records a signal observed indirectly, such as after a queue
// idle wait.
func (vf *vulkanFence) markSignaled() {
	vf.mu.Lock()
	vf.signaled = true
	vf.mu.Unlock()
}
