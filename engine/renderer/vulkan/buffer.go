package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/math"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	// Persistently mapped for host-visible locations, nil otherwise.
	mapped unsafe.Pointer

	size     uint64
	location rhi.MemoryLocation
	context  *VulkanContext
}

func BufferCreate(context *VulkanContext, desc *rhi.BufferDesc) (*VulkanBuffer, error) {
	if desc.Size == 0 {
		return nil, &rhi.CreationError{Subject: "buffer " + desc.Label, Message: "zero size"}
	}
	device := context.Device.LogicalDevice
	buffer := &VulkanBuffer{size: desc.Size, location: desc.Location, context: context}

	// Storage buffer ranges are sized in whole words.
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(math.AlignUp(desc.Size, 4)),
		Usage:       toVkBufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	if res := vk.CreateBuffer(device, &bufferInfo, context.Allocator, &buffer.Handle); res != vk.Success {
		return nil, creationError("buffer "+desc.Label, res)
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, buffer.Handle, &memoryRequirements)
	memoryRequirements.Deref()

	memoryType := context.FindMemoryIndex(memoryRequirements.MemoryTypeBits, memoryPropertiesFor(desc.Location))
	if memoryType == -1 {
		buffer.Destroy()
		return nil, &rhi.CreationError{Subject: "buffer " + desc.Label, Message: "required memory type not found"}
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	if res := vk.AllocateMemory(device, &allocateInfo, context.Allocator, &buffer.Memory); res != vk.Success {
		buffer.Destroy()
		return nil, creationError("buffer memory "+desc.Label, res)
	}
	if res := vk.BindBufferMemory(device, buffer.Handle, buffer.Memory, 0); res != vk.Success {
		buffer.Destroy()
		return nil, creationError("buffer binding "+desc.Label, res)
	}

	if desc.Location.HostVisible() {
		if res := vk.MapMemory(device, buffer.Memory, 0, vk.DeviceSize(vk.WholeSize), 0, &buffer.mapped); res != vk.Success {
			buffer.Destroy()
			return nil, creationError("buffer mapping "+desc.Label, res)
		}
	}

	context.setObjectName(vk.ObjectTypeBuffer, unsafe.Pointer(buffer.Handle), desc.Label)
	return buffer, nil
}

func (b *VulkanBuffer) Size() uint64 { return b.size }

// Write copies into the mapped range. Memory types are always requested
// host-coherent, so no flush is needed.
func (b *VulkanBuffer) Write(offset uint64, data []byte) error {
	if b.mapped == nil {
		return fmt.Errorf("buffer is not host visible")
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("write of %d bytes at offset %d overflows buffer of %d bytes", len(data), offset, b.size)
	}
	vk.Memcopy(unsafe.Add(b.mapped, offset), data)
	return nil
}

// Bytes exposes the mapped memory, used to read back results.
func (b *VulkanBuffer) Bytes() []byte {
	if b.mapped == nil {
		return nil
	}
	return unsafe.Slice((*byte)(b.mapped), b.size)
}

func (b *VulkanBuffer) Destroy() {
	device := b.context.Device.LogicalDevice
	if b.mapped != nil {
		vk.UnmapMemory(device, b.Memory)
		b.mapped = nil
	}
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(device, b.Handle, b.context.Allocator)
		b.Handle = vk.NullBuffer
	}
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, b.Memory, b.context.Allocator)
		b.Memory = vk.NullDeviceMemory
	}
}
