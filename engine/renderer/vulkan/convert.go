package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

var formats = map[rhi.Format]vk.Format{
	rhi.FormatUndefined:      vk.FormatUndefined,
	rhi.FormatRGBA8Unorm:     vk.FormatR8g8b8a8Unorm,
	rhi.FormatRGBA8Srgb:      vk.FormatR8g8b8a8Srgb,
	rhi.FormatBGRA8Unorm:     vk.FormatB8g8r8a8Unorm,
	rhi.FormatBGRA8Srgb:      vk.FormatB8g8r8a8Srgb,
	rhi.FormatR32Float:       vk.FormatR32Sfloat,
	rhi.FormatRG32Float:      vk.FormatR32g32Sfloat,
	rhi.FormatRGBA16Float:    vk.FormatR16g16b16a16Sfloat,
	rhi.FormatRGBA32Float:    vk.FormatR32g32b32a32Sfloat,
	rhi.FormatD32Float:       vk.FormatD32Sfloat,
	rhi.FormatD24UnormS8Uint: vk.FormatD24UnormS8Uint,
	rhi.FormatD32FloatS8Uint: vk.FormatD32SfloatS8Uint,
}

func toVkFormat(f rhi.Format) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

// fromVkFormat returns FormatUndefined for formats the RHI does not expose.
func fromVkFormat(f vk.Format) rhi.Format {
	for k, v := range formats {
		if v == f {
			return k
		}
	}
	return rhi.FormatUndefined
}

func fromVkSurfaceFormat(f vk.SurfaceFormat) rhi.SurfaceFormat {
	out := rhi.SurfaceFormat{Format: fromVkFormat(f.Format), ColorSpace: rhi.ColorSpaceOther}
	if f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
		out.ColorSpace = rhi.ColorSpaceSrgbNonlinear
	}
	return out
}

func toVkPresentMode(m rhi.PresentMode) vk.PresentMode {
	switch m {
	case rhi.PresentModeMailbox:
		return vk.PresentModeMailbox
	case rhi.PresentModeImmediate:
		return vk.PresentModeImmediate
	case rhi.PresentModeFifoRelaxed:
		return vk.PresentModeFifoRelaxed
	}
	return vk.PresentModeFifo
}

func fromVkPresentMode(m vk.PresentMode) (rhi.PresentMode, bool) {
	switch m {
	case vk.PresentModeFifo:
		return rhi.PresentModeFifo, true
	case vk.PresentModeFifoRelaxed:
		return rhi.PresentModeFifoRelaxed, true
	case vk.PresentModeMailbox:
		return rhi.PresentModeMailbox, true
	case vk.PresentModeImmediate:
		return rhi.PresentModeImmediate, true
	}
	return rhi.PresentModeFifo, false
}

func aspectOf(f rhi.Format) vk.ImageAspectFlags {
	switch {
	case f.HasStencil():
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	case f.IsDepth():
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func toVkBufferUsage(u rhi.BufferUsage) vk.BufferUsageFlags {
	var out vk.BufferUsageFlagBits
	if u&rhi.BufferUsageVertex != 0 {
		out |= vk.BufferUsageVertexBufferBit
	}
	if u&rhi.BufferUsageIndex != 0 {
		out |= vk.BufferUsageIndexBufferBit
	}
	// The bindless buffer array is a storage buffer binding, so uniform
	// buffers are created with storage usage too.
	if u&(rhi.BufferUsageUniform|rhi.BufferUsageStorage) != 0 {
		out |= vk.BufferUsageUniformBufferBit | vk.BufferUsageStorageBufferBit
	}
	if u&rhi.BufferUsageIndirect != 0 {
		out |= vk.BufferUsageIndirectBufferBit
	}
	if u&rhi.BufferUsageTransferSrc != 0 {
		out |= vk.BufferUsageTransferSrcBit
	}
	if u&rhi.BufferUsageTransferDst != 0 {
		out |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(out)
}

func toVkImageUsage(u rhi.TextureUsage) vk.ImageUsageFlags {
	var out vk.ImageUsageFlagBits
	if u&rhi.TextureUsageSampled != 0 {
		out |= vk.ImageUsageSampledBit
	}
	if u&rhi.TextureUsageStorage != 0 {
		out |= vk.ImageUsageStorageBit
	}
	if u&rhi.TextureUsageColorAttachment != 0 {
		out |= vk.ImageUsageColorAttachmentBit
	}
	if u&rhi.TextureUsageDepthAttachment != 0 {
		out |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if u&rhi.TextureUsageTransferSrc != 0 {
		out |= vk.ImageUsageTransferSrcBit
	}
	if u&rhi.TextureUsageTransferDst != 0 {
		out |= vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(out)
}

func memoryPropertiesFor(l rhi.MemoryLocation) vk.MemoryPropertyFlagBits {
	switch l {
	case rhi.MemoryHostUpload:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	case rhi.MemoryHostReadback:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit | vk.MemoryPropertyHostCachedBit
	}
	return vk.MemoryPropertyDeviceLocalBit
}

func toVkShaderStages(s rhi.ShaderStage) vk.ShaderStageFlags {
	var out vk.ShaderStageFlagBits
	if s&rhi.ShaderStageVertex != 0 {
		out |= vk.ShaderStageVertexBit
	}
	if s&rhi.ShaderStageFragment != 0 {
		out |= vk.ShaderStageFragmentBit
	}
	if s&rhi.ShaderStageCompute != 0 {
		out |= vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(out)
}

func toVkStage(s rhi.PipelineStage) vk.PipelineStageFlags {
	var out vk.PipelineStageFlagBits
	if s&rhi.StageTopOfPipe != 0 {
		out |= vk.PipelineStageTopOfPipeBit
	}
	if s&rhi.StageVertexShader != 0 {
		out |= vk.PipelineStageVertexShaderBit
	}
	if s&rhi.StageFragmentShader != 0 {
		out |= vk.PipelineStageFragmentShaderBit
	}
	if s&rhi.StageColorAttachmentOutput != 0 {
		out |= vk.PipelineStageColorAttachmentOutputBit
	}
	if s&rhi.StageComputeShader != 0 {
		out |= vk.PipelineStageComputeShaderBit
	}
	if s&rhi.StageTransfer != 0 {
		out |= vk.PipelineStageTransferBit
	}
	if s&rhi.StageBottomOfPipe != 0 {
		out |= vk.PipelineStageBottomOfPipeBit
	}
	if s&rhi.StageAllCommands != 0 {
		out |= vk.PipelineStageAllCommandsBit
	}
	if out == 0 {
		out = vk.PipelineStageTopOfPipeBit
	}
	return vk.PipelineStageFlags(out)
}

func toVkLayout(l rhi.ImageLayout) vk.ImageLayout {
	switch l {
	case rhi.LayoutGeneral:
		return vk.ImageLayoutGeneral
	case rhi.LayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case rhi.LayoutDepthAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case rhi.LayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case rhi.LayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case rhi.LayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case rhi.LayoutPresent:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

// layoutAccess gives the access mask and stage a layout transition has to
// synchronise with on either side of the barrier.
func layoutAccess(l rhi.ImageLayout) (vk.AccessFlags, vk.PipelineStageFlags) {
	switch l {
	case rhi.LayoutColorAttachment:
		return vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	case rhi.LayoutDepthAttachment:
		return vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
	case rhi.LayoutShaderReadOnly:
		return vk.AccessFlags(vk.AccessShaderReadBit),
			vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit)
	case rhi.LayoutTransferSrc:
		return vk.AccessFlags(vk.AccessTransferReadBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case rhi.LayoutTransferDst:
		return vk.AccessFlags(vk.AccessTransferWriteBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case rhi.LayoutGeneral:
		return vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
	case rhi.LayoutPresent:
		return 0, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}
	return 0, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
}

func toVkFilter(f rhi.Filter) vk.Filter {
	if f == rhi.FilterNearest {
		return vk.FilterNearest
	}
	return vk.FilterLinear
}

func toVkMipmapMode(f rhi.Filter) vk.SamplerMipmapMode {
	if f == rhi.FilterNearest {
		return vk.SamplerMipmapModeNearest
	}
	return vk.SamplerMipmapModeLinear
}

func toVkAddressMode(m rhi.AddressMode) vk.SamplerAddressMode {
	switch m {
	case rhi.AddressMirroredRepeat:
		return vk.SamplerAddressModeMirroredRepeat
	case rhi.AddressClampToEdge:
		return vk.SamplerAddressModeClampToEdge
	case rhi.AddressClampToBorder:
		return vk.SamplerAddressModeClampToBorder
	}
	return vk.SamplerAddressModeRepeat
}

func toVkBlendFactor(f rhi.BlendFactor) vk.BlendFactor {
	switch f {
	case rhi.BlendOne:
		return vk.BlendFactorOne
	case rhi.BlendSrcAlpha:
		return vk.BlendFactorSrcAlpha
	case rhi.BlendOneMinusSrcAlpha:
		return vk.BlendFactorOneMinusSrcAlpha
	case rhi.BlendDstAlpha:
		return vk.BlendFactorDstAlpha
	case rhi.BlendOneMinusDstAlpha:
		return vk.BlendFactorOneMinusDstAlpha
	case rhi.BlendSrcColor:
		return vk.BlendFactorSrcColor
	case rhi.BlendOneMinusSrcColor:
		return vk.BlendFactorOneMinusSrcColor
	}
	return vk.BlendFactorZero
}

func toVkBlendOp(op rhi.BlendOp) vk.BlendOp {
	switch op {
	case rhi.BlendOpSubtract:
		return vk.BlendOpSubtract
	case rhi.BlendOpReverseSubtract:
		return vk.BlendOpReverseSubtract
	case rhi.BlendOpMin:
		return vk.BlendOpMin
	case rhi.BlendOpMax:
		return vk.BlendOpMax
	}
	return vk.BlendOpAdd
}

func toVkColorMask(m rhi.ColorWriteMask) vk.ColorComponentFlags {
	var out vk.ColorComponentFlagBits
	if m&rhi.ColorWriteR != 0 {
		out |= vk.ColorComponentRBit
	}
	if m&rhi.ColorWriteG != 0 {
		out |= vk.ColorComponentGBit
	}
	if m&rhi.ColorWriteB != 0 {
		out |= vk.ColorComponentBBit
	}
	if m&rhi.ColorWriteA != 0 {
		out |= vk.ColorComponentABit
	}
	return vk.ColorComponentFlags(out)
}

func toVkBlendAttachment(b rhi.BlendState) vk.PipelineColorBlendAttachmentState {
	state := vk.PipelineColorBlendAttachmentState{
		BlendEnable:         vk.False,
		SrcColorBlendFactor: toVkBlendFactor(b.SrcColor),
		DstColorBlendFactor: toVkBlendFactor(b.DstColor),
		ColorBlendOp:        toVkBlendOp(b.ColorOp),
		SrcAlphaBlendFactor: toVkBlendFactor(b.SrcAlpha),
		DstAlphaBlendFactor: toVkBlendFactor(b.DstAlpha),
		AlphaBlendOp:        toVkBlendOp(b.AlphaOp),
		ColorWriteMask:      toVkColorMask(b.WriteMask),
	}
	if b.Enabled {
		state.BlendEnable = vk.True
	}
	return state
}

func toVkCullMode(c rhi.CullMode) vk.CullModeFlags {
	switch c {
	case rhi.CullNone:
		return vk.CullModeFlags(vk.CullModeNone)
	case rhi.CullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case rhi.CullFrontAndBack:
		return vk.CullModeFlags(vk.CullModeFrontAndBack)
	}
	return vk.CullModeFlags(vk.CullModeBackBit)
}

func toVkFrontFace(f rhi.FrontFace) vk.FrontFace {
	if f == rhi.FrontFaceClockwise {
		return vk.FrontFaceClockwise
	}
	return vk.FrontFaceCounterClockwise
}

func toVkPolygonMode(p rhi.PolygonMode) vk.PolygonMode {
	if p == rhi.PolygonLine {
		return vk.PolygonModeLine
	}
	return vk.PolygonModeFill
}

func toVkCompareOp(c rhi.CompareOp) vk.CompareOp {
	switch c {
	case rhi.CompareLess:
		return vk.CompareOpLess
	case rhi.CompareEqual:
		return vk.CompareOpEqual
	case rhi.CompareLessOrEqual:
		return vk.CompareOpLessOrEqual
	case rhi.CompareGreater:
		return vk.CompareOpGreater
	case rhi.CompareNotEqual:
		return vk.CompareOpNotEqual
	case rhi.CompareGreaterOrEqual:
		return vk.CompareOpGreaterOrEqual
	case rhi.CompareAlways:
		return vk.CompareOpAlways
	}
	return vk.CompareOpNever
}

func toVkTopology(t rhi.Topology) vk.PrimitiveTopology {
	switch t {
	case rhi.TopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case rhi.TopologyLineList:
		return vk.PrimitiveTopologyLineList
	case rhi.TopologyPointList:
		return vk.PrimitiveTopologyPointList
	}
	return vk.PrimitiveTopologyTriangleList
}

func toVkBindPoint(p rhi.BindPoint) vk.PipelineBindPoint {
	if p == rhi.BindPointCompute {
		return vk.PipelineBindPointCompute
	}
	return vk.PipelineBindPointGraphics
}

func toVkDescriptorType(k rhi.DescriptorKind) vk.DescriptorType {
	switch k {
	case rhi.DescriptorBuffer:
		return vk.DescriptorTypeStorageBuffer
	case rhi.DescriptorTexture:
		return vk.DescriptorTypeSampledImage
	case rhi.DescriptorSampler:
		return vk.DescriptorTypeSampler
	}
	return vk.DescriptorTypeCombinedImageSampler
}

func bindingOf(k rhi.DescriptorKind) uint32 {
	switch k {
	case rhi.DescriptorBuffer:
		return BindlessBufferBinding
	case rhi.DescriptorTexture:
		return BindlessTextureBinding
	case rhi.DescriptorSampler:
		return BindlessSamplerBinding
	}
	return BindlessCombinedBinding
}
