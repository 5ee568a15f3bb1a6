package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// VulkanContext is shared by every object the driver creates.
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	// The window surface, if the driver was created with a window. Device
	// selection requires present support on it.
	Surface vk.Surface

	debugCallback vk.DebugReportCallback
	// Object names and command markers are only tracked with validation on.
	debugReport bool

	Device *VulkanDevice

	locks *rhi.LockPool
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlagBits) int32 {
	memoryProperties := vc.Device.Memory

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		flags := vk.MemoryPropertyFlagBits(memoryProperties.MemoryTypes[i].PropertyFlags)
		if (typeFilter&(1<<i)) != 0 && flags&propertyFlags == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

// submitToGraphics serialises queue access; vkQueueSubmit and vkQueuePresent
// must not run concurrently on the same queue.
func (vc *VulkanContext) submitToGraphics(fn func(queue vk.Queue) error) error {
	return vc.locks.SafeQueueCall(uint32(vc.Device.GraphicsQueueIndex), func() error {
		return fn(vc.Device.GraphicsQueue)
	})
}

func (vc *VulkanContext) submitToPresent(fn func(queue vk.Queue) error) error {
	return vc.locks.SafeQueueCall(uint32(vc.Device.PresentQueueIndex), func() error {
		return fn(vc.Device.PresentQueue)
	})
}
