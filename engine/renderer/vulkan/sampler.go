package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/math"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type VulkanSampler struct {
	Handle  vk.Sampler
	context *VulkanContext
}

func SamplerCreate(context *VulkanContext, desc *rhi.SamplerDesc) (*VulkanSampler, error) {
	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               toVkFilter(desc.MagFilter),
		MinFilter:               toVkFilter(desc.MinFilter),
		MipmapMode:              toVkMipmapMode(desc.MipFilter),
		AddressModeU:            toVkAddressMode(desc.AddressU),
		AddressModeV:            toVkAddressMode(desc.AddressV),
		AddressModeW:            toVkAddressMode(desc.AddressW),
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MinLod:                  0.0,
		MaxLod:                  vk.LodClampNone,
	}
	if desc.MaxAnisotropy > 1 {
		samplerInfo.AnisotropyEnable = vk.True
		samplerInfo.MaxAnisotropy = math.Clamp(desc.MaxAnisotropy, 1, context.Device.Properties.Limits.MaxSamplerAnisotropy)
	}

	sampler := &VulkanSampler{context: context}
	if res := vk.CreateSampler(context.Device.LogicalDevice, &samplerInfo, context.Allocator, &sampler.Handle); res != vk.Success {
		return nil, creationError("sampler "+desc.Label, res)
	}
	context.setObjectName(vk.ObjectTypeSampler, unsafe.Pointer(sampler.Handle), desc.Label)
	return sampler, nil
}

func (s *VulkanSampler) Destroy() {
	if s.Handle != vk.NullSampler {
		vk.DestroySampler(s.context.Device.LogicalDevice, s.Handle, s.context.Allocator)
		s.Handle = vk.NullSampler
	}
}
