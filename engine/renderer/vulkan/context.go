package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/halcyon/engine/core"
)

// Context carries the externally owned Vulkan handles the adapter records
// against. Instance creation, device selection and surface management stay
// with the embedding application; the adapter never destroys these.
type Context struct {
	Instance       vk.Instance
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	// Queue receiving submissions, from the family QueueFamilyIndex.
	Queue            vk.Queue
	QueueFamilyIndex uint32

	Allocator *vk.AllocationCallbacks
}

func (ctx *Context) validate() error {
	if ctx.PhysicalDevice == nil || ctx.LogicalDevice == nil {
		return core.Errorf("vulkan context is missing a device handle")
	}
	if ctx.Queue == nil {
		return core.Errorf("vulkan context is missing the submission queue")
	}
	return nil
}

// FindMemoryIndex locates a memory type matching typeFilter with all of
// propertyFlags set, or -1 when the device has none.
func (ctx *Context) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(ctx.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}
