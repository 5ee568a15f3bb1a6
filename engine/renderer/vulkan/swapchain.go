package vulkan

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// VulkanSwapchain is the swapchain of the driver's window surface. Format,
// present mode, extent and image count come from the shared rhi policy.
type VulkanSwapchain struct {
	Handle            vk.Swapchain
	ImageFormat       vk.SurfaceFormat
	NativePresentMode vk.PresentMode
	Images            []*VulkanImage

	label   string
	window  rhi.Window
	vsync   bool
	context *VulkanContext

	mu     sync.Mutex
	format rhi.SurfaceFormat
	mode   rhi.PresentMode
	extent rhi.Extent2D
}

func SwapchainCreate(context *VulkanContext, desc *rhi.SurfaceDesc) (*VulkanSwapchain, error) {
	if context.Surface == vk.NullSurface {
		return nil, &rhi.CreationError{Subject: "swapchain " + desc.Label, Message: "driver was created without a window"}
	}
	swapchain := &VulkanSwapchain{
		label:   desc.Label,
		window:  desc.Window,
		vsync:   desc.VSync,
		context: context,
	}
	if err := swapchain.build(desc.Requested); err != nil {
		return nil, err
	}
	return swapchain, nil
}

func capabilitiesOf(support *VulkanSwapchainSupportInfo) rhi.SurfaceCapabilities {
	c := support.Capabilities
	return rhi.SurfaceCapabilities{
		CurrentExtent:  rhi.Extent2D{Width: c.CurrentExtent.Width, Height: c.CurrentExtent.Height},
		MinImageExtent: rhi.Extent2D{Width: c.MinImageExtent.Width, Height: c.MinImageExtent.Height},
		MaxImageExtent: rhi.Extent2D{Width: c.MaxImageExtent.Width, Height: c.MaxImageExtent.Height},
		MinImageCount:  c.MinImageCount,
		MaxImageCount:  c.MaxImageCount,
	}
}

// chooseSurfaceFormat applies the shared preference list to the formats the
// RHI can express and returns the native format that matched.
func chooseSurfaceFormat(available []vk.SurfaceFormat) (rhi.SurfaceFormat, vk.SurfaceFormat, error) {
	known := make([]rhi.SurfaceFormat, 0, len(available))
	native := make(map[rhi.SurfaceFormat]vk.SurfaceFormat, len(available))
	for _, f := range available {
		sf := fromVkSurfaceFormat(f)
		if sf.Format == rhi.FormatUndefined {
			continue
		}
		if _, dup := native[sf]; !dup {
			native[sf] = f
			known = append(known, sf)
		}
	}
	chosen, err := rhi.ChooseFormat(known)
	if err != nil {
		return rhi.SurfaceFormat{}, vk.SurfaceFormat{}, err
	}
	return chosen, native[chosen], nil
}

func choosePresentMode(available []vk.PresentMode, vsync bool) rhi.PresentMode {
	modes := make([]rhi.PresentMode, 0, len(available))
	for _, m := range available {
		if pm, ok := fromVkPresentMode(m); ok {
			modes = append(modes, pm)
		}
	}
	return rhi.ChoosePresentMode(modes, vsync)
}

// build creates a swapchain, handing the current one to the driver as the
// old swapchain so in-flight presents can finish.
func (vs *VulkanSwapchain) build(requested rhi.Extent2D) error {
	context := vs.context
	device := context.Device

	support, err := DeviceQuerySwapchainSupport(device.PhysicalDevice, context.Surface)
	if err != nil {
		return err
	}
	format, nativeFormat, err := chooseSurfaceFormat(support.Formats)
	if err != nil {
		return err
	}
	mode := choosePresentMode(support.PresentModes, vs.vsync)

	if vs.window != nil {
		requested = vs.window.FramebufferSize()
	}
	caps := capabilitiesOf(support)
	extent := rhi.ChooseExtent(requested, caps)
	if extent.IsZero() {
		return &rhi.CreationError{Subject: "swapchain " + vs.label, Message: fmt.Sprintf("zero extent %s", extent)}
	}
	imageCount := rhi.ChooseImageCount(caps)

	// Swapchain create info
	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      nativeFormat.Format,
		ImageColorSpace:  nativeFormat.ColorSpace,
		ImageExtent:      vk.Extent2D{Width: extent.Width, Height: extent.Height},
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      toVkPresentMode(mode),
		Clipped:          vk.True,
		OldSwapchain:     vs.Handle,
	}

	// Setup the queue family indices
	if device.GraphicsQueueIndex != device.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{
			uint32(device.GraphicsQueueIndex),
			uint32(device.PresentQueueIndex),
		}
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var handle vk.Swapchain
	if res := vk.CreateSwapchain(device.LogicalDevice, &swapchainCreateInfo, context.Allocator, &handle); res != vk.Success {
		return creationError("swapchain "+vs.label, res)
	}

	// Images
	var count uint32
	if res := vk.GetSwapchainImages(device.LogicalDevice, handle, &count, nil); res != vk.Success {
		vk.DestroySwapchain(device.LogicalDevice, handle, context.Allocator)
		return runtimeError("swapchain image query", res)
	}
	handles := make([]vk.Image, count)
	if res := vk.GetSwapchainImages(device.LogicalDevice, handle, &count, handles); res != vk.Success {
		vk.DestroySwapchain(device.LogicalDevice, handle, context.Allocator)
		return runtimeError("swapchain image query", res)
	}

	// Views
	images := make([]*VulkanImage, 0, count)
	for i, h := range handles {
		img, err := wrapSwapchainImage(context, h, format.Format, extent)
		if err != nil {
			for _, made := range images {
				made.Destroy()
			}
			vk.DestroySwapchain(device.LogicalDevice, handle, context.Allocator)
			return err
		}
		context.setObjectName(vk.ObjectTypeImage, unsafe.Pointer(h), fmt.Sprintf("%s-image-%d", vs.label, i))
		images = append(images, img)
	}

	// The old swapchain is retired by the create call; only the views
	// and the handle are still ours to release.
	vs.releaseImages()
	if vs.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(device.LogicalDevice, vs.Handle, context.Allocator)
	}

	vs.Handle = handle
	vs.ImageFormat = nativeFormat
	vs.NativePresentMode = toVkPresentMode(mode)
	vs.Images = images
	vs.format = format
	vs.mode = mode
	vs.extent = extent

	core.LogInfo("Swapchain '%s' created: %s, %d images, %s, %s.", vs.label, extent, count, format.Format, mode)
	return nil
}

func (vs *VulkanSwapchain) releaseImages() {
	for _, img := range vs.Images {
		img.Destroy()
	}
	vs.Images = nil
}

func (vs *VulkanSwapchain) Extent() rhi.Extent2D {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.extent
}

func (vs *VulkanSwapchain) Format() rhi.SurfaceFormat {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.format
}

func (vs *VulkanSwapchain) PresentMode() rhi.PresentMode {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.mode
}

func (vs *VulkanSwapchain) ImageCount() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.Images)
}

func (vs *VulkanSwapchain) Image(index uint32) rhi.NativeTexture {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.Images[index]
}

// Acquire maps out-of-date, suboptimal and timeout to statuses. Anything
// else the driver reports is an error.
func (vs *VulkanSwapchain) Acquire(signal rhi.NativeSemaphore, timeout time.Duration) (uint32, rhi.AcquireStatus, error) {
	semaphore := rhi.MustBackend[*VulkanSemaphore](signal)
	vs.mu.Lock()
	handle := vs.Handle
	vs.mu.Unlock()

	var imageIndex uint32
	result := vk.AcquireNextImage(vs.context.Device.LogicalDevice, handle, uint64(timeout.Nanoseconds()), semaphore.Handle, vk.NullFence, &imageIndex)
	switch result {
	case vk.Success:
		return imageIndex, rhi.AcquireOK, nil
	case vk.Suboptimal:
		return imageIndex, rhi.AcquireSuboptimal, nil
	case vk.ErrorOutOfDate:
		return 0, rhi.AcquireOutOfDate, nil
	case vk.Timeout, vk.NotReady:
		return 0, rhi.AcquireTimeout, nil
	}
	err := runtimeError("swapchain acquire", result)
	core.LogError(err.Error())
	return 0, rhi.AcquireOK, err
}

// Present returns the image to the swapchain from the present queue.
func (vs *VulkanSwapchain) Present(index uint32, wait rhi.NativeSemaphore) (rhi.PresentStatus, error) {
	semaphore := rhi.MustBackend[*VulkanSemaphore](wait)
	vs.mu.Lock()
	handle := vs.Handle
	vs.mu.Unlock()

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{semaphore.Handle},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{handle},
		PImageIndices:      []uint32{index},
	}

	var result vk.Result
	_ = vs.context.submitToPresent(func(queue vk.Queue) error {
		result = vk.QueuePresent(queue, &presentInfo)
		return nil
	})
	switch result {
	case vk.Success:
		return rhi.PresentOK, nil
	case vk.Suboptimal:
		return rhi.PresentSuboptimal, nil
	case vk.ErrorOutOfDate:
		return rhi.PresentOutOfDate, nil
	}
	err := runtimeError("swapchain present", result)
	core.LogError(err.Error())
	return rhi.PresentOK, err
}

// Rebuild must only run once no submitted work references the images.
func (vs *VulkanSwapchain) Rebuild(requested rhi.Extent2D) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.build(requested)
}

func (vs *VulkanSwapchain) Destroy() {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	// Only destroy the views, not the images, since those are owned by the
	// swapchain and are thus destroyed when it is.
	vs.releaseImages()
	if vs.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(vs.context.Device.LogicalDevice, vs.Handle, vs.context.Allocator)
		vs.Handle = vk.NullSwapchain
	}
}
