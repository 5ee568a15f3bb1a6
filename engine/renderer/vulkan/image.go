package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type VulkanImage struct {
	Handle    vk.Image
	Memory    vk.DeviceMemory
	View      vk.ImageView
	Width     uint32
	Height    uint32
	MipLevels uint32

	format  rhi.Format
	vkFmt   vk.Format
	aspect  vk.ImageAspectFlags
	context *VulkanContext
	// Swapchain images belong to the swapchain; only the view is ours.
	owned bool
}

func ImageCreate(context *VulkanContext, desc *rhi.TextureDesc) (*VulkanImage, error) {
	device := context.Device.LogicalDevice
	mips := desc.MipLevels
	if mips == 0 {
		mips = 1
	}
	image := &VulkanImage{
		Width:     desc.Width,
		Height:    desc.Height,
		MipLevels: mips,
		format:    desc.Format,
		vkFmt:     toVkFormat(desc.Format),
		aspect:    aspectOf(desc.Format),
		context:   context,
		owned:     true,
	}
	if image.vkFmt == vk.FormatUndefined {
		return nil, &rhi.CreationError{Subject: "texture " + desc.Label, Message: "unsupported format " + desc.Format.String()}
	}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  1, // TODO: Support configurable depth.
		},
		MipLevels:     mips,
		ArrayLayers:   1,
		Format:        image.vkFmt,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         toVkImageUsage(desc.Usage),
		Samples:       vk.SampleCount1Bit,
		SharingMode:   vk.SharingModeExclusive,
	}
	if res := vk.CreateImage(device, &imageCreateInfo, context.Allocator, &image.Handle); res != vk.Success {
		return nil, creationError("texture "+desc.Label, res)
	}

	// Query memory requirements.
	var memoryRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, image.Handle, &memoryRequirements)
	memoryRequirements.Deref()

	memoryType := context.FindMemoryIndex(memoryRequirements.MemoryTypeBits, memoryPropertiesFor(rhi.MemoryDeviceLocal))
	if memoryType == -1 {
		image.Destroy()
		return nil, &rhi.CreationError{Subject: "texture " + desc.Label, Message: "required memory type not found"}
	}

	memoryAllocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	if res := vk.AllocateMemory(device, &memoryAllocateInfo, context.Allocator, &image.Memory); res != vk.Success {
		image.Destroy()
		return nil, creationError("texture memory "+desc.Label, res)
	}
	if res := vk.BindImageMemory(device, image.Handle, image.Memory, 0); res != vk.Success {
		image.Destroy()
		return nil, creationError("texture binding "+desc.Label, res)
	}

	if err := image.createView(); err != nil {
		image.Destroy()
		return nil, err
	}
	context.setObjectName(vk.ObjectTypeImage, unsafe.Pointer(image.Handle), desc.Label)
	return image, nil
}

// wrapSwapchainImage gives a presentable image the same face as a texture.
func wrapSwapchainImage(context *VulkanContext, handle vk.Image, format rhi.Format, extent rhi.Extent2D) (*VulkanImage, error) {
	image := &VulkanImage{
		Handle:    handle,
		Width:     extent.Width,
		Height:    extent.Height,
		MipLevels: 1,
		format:    format,
		vkFmt:     toVkFormat(format),
		aspect:    vk.ImageAspectFlags(vk.ImageAspectColorBit),
		context:   context,
	}
	if err := image.createView(); err != nil {
		return nil, err
	}
	return image, nil
}

func (image *VulkanImage) createView() error {
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image.Handle,
		ViewType: vk.ImageViewType2d,
		Format:   image.vkFmt,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     image.aspect,
			BaseMipLevel:   0,
			LevelCount:     image.MipLevels,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	if res := vk.CreateImageView(image.context.Device.LogicalDevice, &viewCreateInfo, image.context.Allocator, &image.View); res != vk.Success {
		return creationError("image view", res)
	}
	return nil
}

func (image *VulkanImage) Extent() rhi.Extent2D {
	return rhi.Extent2D{Width: image.Width, Height: image.Height}
}

func (image *VulkanImage) Format() rhi.Format { return image.format }

func (image *VulkanImage) subresourceRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     image.aspect,
		BaseMipLevel:   0,
		LevelCount:     image.MipLevels,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

func (image *VulkanImage) Destroy() {
	device := image.context.Device.LogicalDevice
	if image.View != vk.NullImageView {
		vk.DestroyImageView(device, image.View, image.context.Allocator)
		image.View = vk.NullImageView
	}
	if !image.owned {
		image.Handle = vk.NullImage
		return
	}
	if image.Handle != vk.NullImage {
		vk.DestroyImage(device, image.Handle, image.context.Allocator)
		image.Handle = vk.NullImage
	}
	if image.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, image.Memory, image.context.Allocator)
		image.Memory = vk.NullDeviceMemory
	}
}
