package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

/**
 * @brief The device-wide bindless descriptor set. One update-after-bind
 * binding per descriptor kind, each an array of Capacity descriptors that
 * shaders index with the slot of a handle.
 */
type VulkanDescriptorHeap struct {
	/** @brief The layout every bindless pipeline layout uses at set 0. */
	Layout vk.DescriptorSetLayout
	/** @brief The pool the set was allocated from. */
	Pool vk.DescriptorPool
	/** @brief The single descriptor set. */
	Set vk.DescriptorSet
	/** @brief Descriptors per binding. */
	Capacity uint32

	context *VulkanContext
	// vkUpdateDescriptorSets needs external synchronisation on the set.
	mu sync.Mutex
}

func bindlessLayoutBindings(capacity uint32) []vk.DescriptorSetLayoutBinding {
	stages := vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit | vk.ShaderStageComputeBit)
	bindings := make([]vk.DescriptorSetLayoutBinding, bindlessBindingCount)
	for kind := rhi.DescriptorKind(0); kind < rhi.NumDescriptorKinds; kind++ {
		bindings[bindingOf(kind)] = vk.DescriptorSetLayoutBinding{
			Binding:         bindingOf(kind),
			DescriptorType:  toVkDescriptorType(kind),
			DescriptorCount: capacity,
			StageFlags:      stages,
		}
	}
	return bindings
}

func NewDescriptorHeap(context *VulkanContext, capacity uint32) (*VulkanDescriptorHeap, error) {
	if capacity == 0 {
		return nil, &rhi.CreationError{Subject: "descriptor heap", Message: "zero capacity", Err: core.ErrInvalidCapacity}
	}
	device := context.Device.LogicalDevice
	heap := &VulkanDescriptorHeap{Capacity: capacity, context: context}

	bindings := bindlessLayoutBindings(capacity)
	bindingFlags := make([]vk.DescriptorBindingFlags, len(bindings))
	for i := range bindingFlags {
		bindingFlags[i] = vk.DescriptorBindingFlags(vk.DescriptorBindingPartiallyBoundBit | vk.DescriptorBindingUpdateAfterBindBit)
	}
	flagsInfo := vk.DescriptorSetLayoutBindingFlagsCreateInfo{
		SType:         vk.StructureTypeDescriptorSetLayoutBindingFlagsCreateInfo,
		BindingCount:  uint32(len(bindingFlags)),
		PBindingFlags: bindingFlags,
	}
	flagsRef, _ := flagsInfo.PassRef()

	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		PNext:        unsafe.Pointer(flagsRef),
		Flags:        vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreateUpdateAfterBindPoolBit),
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if res := vk.CreateDescriptorSetLayout(device, &layoutInfo, context.Allocator, &heap.Layout); res != vk.Success {
		return nil, creationError("bindless descriptor set layout", res)
	}

	poolSizes := make([]vk.DescriptorPoolSize, 0, rhi.NumDescriptorKinds)
	for kind := rhi.DescriptorKind(0); kind < rhi.NumDescriptorKinds; kind++ {
		poolSizes = append(poolSizes, vk.DescriptorPoolSize{
			Type:            toVkDescriptorType(kind),
			DescriptorCount: capacity,
		})
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateUpdateAfterBindBit),
		MaxSets:       1,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if res := vk.CreateDescriptorPool(device, &poolInfo, context.Allocator, &heap.Pool); res != vk.Success {
		heap.Destroy()
		return nil, creationError("bindless descriptor pool", res)
	}

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     heap.Pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{heap.Layout},
	}
	sets := make([]vk.DescriptorSet, 1)
	if res := vk.AllocateDescriptorSets(device, &allocInfo, &sets[0]); res != vk.Success {
		heap.Destroy()
		return nil, creationError("bindless descriptor set", res)
	}
	heap.Set = sets[0]
	context.setObjectName(vk.ObjectTypeDescriptorSet, unsafe.Pointer(heap.Set), "bindless-heap")

	core.LogDebug("Bindless descriptor heap created with %d descriptors per kind.", capacity)
	return heap, nil
}

// Write updates the slots in one call. Cleared slots are left as they are:
// partially bound bindings allow stale descriptors nobody indexes.
func (h *VulkanDescriptorHeap) Write(writes []rhi.DescriptorWrite) error {
	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		if w.Resource.IsEmpty() {
			continue
		}
		if w.Slot >= h.Capacity {
			return fmt.Errorf("%w: %s slot %d of %d", core.ErrInvalidHandle, w.Kind, w.Slot, h.Capacity)
		}
		wd := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          h.Set,
			DstBinding:      bindingOf(w.Kind),
			DstArrayElement: w.Slot,
			DescriptorCount: 1,
			DescriptorType:  toVkDescriptorType(w.Kind),
		}
		switch w.Kind {
		case rhi.DescriptorBuffer:
			buffer := rhi.MustBackend[*VulkanBuffer](w.Resource.Buffer)
			wd.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buffer.Handle,
				Offset: 0,
				Range:  vk.DeviceSize(vk.WholeSize),
			}}
		case rhi.DescriptorTexture:
			image := rhi.MustBackend[*VulkanImage](w.Resource.Texture)
			wd.PImageInfo = []vk.DescriptorImageInfo{{
				ImageView:   image.View,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}}
		case rhi.DescriptorSampler:
			sampler := rhi.MustBackend[*VulkanSampler](w.Resource.Sampler)
			wd.PImageInfo = []vk.DescriptorImageInfo{{
				Sampler: sampler.Handle,
			}}
		case rhi.DescriptorCombinedImageSampler:
			image := rhi.MustBackend[*VulkanImage](w.Resource.Texture)
			sampler := rhi.MustBackend[*VulkanSampler](w.Resource.Sampler)
			wd.PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     sampler.Handle,
				ImageView:   image.View,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}}
		default:
			return fmt.Errorf("unknown descriptor kind %d", w.Kind)
		}
		vkWrites = append(vkWrites, wd)
	}
	if len(vkWrites) == 0 {
		return nil
	}

	h.mu.Lock()
	vk.UpdateDescriptorSets(h.context.Device.LogicalDevice, uint32(len(vkWrites)), vkWrites, 0, nil)
	h.mu.Unlock()
	return nil
}

func (h *VulkanDescriptorHeap) Destroy() {
	device := h.context.Device.LogicalDevice
	// The set is freed with its pool.
	if h.Pool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(device, h.Pool, h.context.Allocator)
		h.Pool = vk.NullDescriptorPool
		h.Set = vk.NullDescriptorSet
	}
	if h.Layout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(device, h.Layout, h.context.Allocator)
		h.Layout = vk.NullDescriptorSetLayout
	}
}
