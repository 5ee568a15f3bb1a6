package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/math"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// NOTE: 32 is the max number of ranges we can ever have, since only 128
// bytes are guaranteed with 4-byte alignment.
const maxPushConstantRanges = 32

/**
 * @brief A pipeline layout. Bindless layouts see the heap at set 0.
 */
type VulkanPipelineLayout struct {
	/** @brief The internal layout handle. */
	Handle vk.PipelineLayout
	/** @brief True when set 0 is the descriptor heap. */
	Bindless bool

	context *VulkanContext
}

/**
 * @brief Holds a Vulkan pipeline and the bind point it is used at.
 */
type VulkanPipeline struct {
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The layout, owned by the caller. */
	Layout *VulkanPipelineLayout

	bindPoint rhi.BindPoint
	context   *VulkanContext
}

func NewPipelineLayout(context *VulkanContext, heap *VulkanDescriptorHeap, desc *rhi.PipelineLayoutDesc) (*VulkanPipelineLayout, error) {
	if len(desc.PushConstants) > maxPushConstantRanges {
		return nil, &rhi.CreationError{
			Subject: "pipeline layout " + desc.Label,
			Message: fmt.Sprintf("cannot have more than %d push constant ranges, got %d", maxPushConstantRanges, len(desc.PushConstants)),
		}
	}
	limit := context.Device.Properties.Limits.MaxPushConstantsSize

	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType: vk.StructureTypePipelineLayoutCreateInfo,
	}
	if desc.Bindless {
		pipelineLayoutCreateInfo.SetLayoutCount = 1
		pipelineLayoutCreateInfo.PSetLayouts = []vk.DescriptorSetLayout{heap.Layout}
	}

	// Push constants
	if len(desc.PushConstants) > 0 {
		ranges := make([]vk.PushConstantRange, len(desc.PushConstants))
		for i, r := range desc.PushConstants {
			if !math.IsAligned(r.Offset, 4) || !math.IsAligned(r.Size, 4) || r.Offset+r.Size > limit {
				return nil, &rhi.CreationError{
					Subject: "pipeline layout " + desc.Label,
					Message: fmt.Sprintf("push constant range %d (offset %d size %d) is misaligned or exceeds %d bytes", i, r.Offset, r.Size, limit),
				}
			}
			ranges[i] = vk.PushConstantRange{
				StageFlags: toVkShaderStages(r.Stages),
				Offset:     r.Offset,
				Size:       r.Size,
			}
		}
		pipelineLayoutCreateInfo.PushConstantRangeCount = uint32(len(ranges))
		pipelineLayoutCreateInfo.PPushConstantRanges = ranges
	}

	layout := &VulkanPipelineLayout{Bindless: desc.Bindless, context: context}
	if err := context.locks.SafeCall(rhi.PipelineManagement, func() error {
		result := vk.CreatePipelineLayout(context.Device.LogicalDevice, &pipelineLayoutCreateInfo, context.Allocator, &layout.Handle)
		if !VulkanResultIsSuccess(result) {
			return creationError("pipeline layout "+desc.Label, result)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	context.setObjectName(vk.ObjectTypePipelineLayout, unsafe.Pointer(layout.Handle), desc.Label)
	return layout, nil
}

func (l *VulkanPipelineLayout) Destroy() {
	if l.Handle == vk.NullPipelineLayout {
		return
	}
	_ = l.context.locks.SafeCall(rhi.PipelineManagement, func() error {
		vk.DestroyPipelineLayout(l.context.Device.LogicalDevice, l.Handle, l.context.Allocator)
		l.Handle = vk.NullPipelineLayout
		return nil
	})
}

func NewGraphicsPipeline(context *VulkanContext, passes *RenderpassCache, desc *rhi.GraphicsPipelineDesc) (*VulkanPipeline, error) {
	layout := rhi.MustBackend[*VulkanPipelineLayout](desc.Layout.Native())

	key, err := pipelineRenderPassKey(desc.ColorFormats, desc.DepthFormat)
	if err != nil {
		return nil, &rhi.CreationError{Subject: "graphics pipeline " + desc.Label, Message: err.Error()}
	}
	renderpass, err := passes.Get(key)
	if err != nil {
		return nil, err
	}

	stages := []vk.PipelineShaderStageCreateInfo{stageInfo(desc.Vertex)}
	if desc.Fragment.Module != nil {
		stages = append(stages, stageInfo(desc.Fragment))
	}

	// Viewport and scissor are dynamic; only the counts matter here.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	// Rasterizer
	lineWidth := desc.Raster.LineWidth
	if lineWidth <= 0 {
		lineWidth = 1.0
	}
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             toVkPolygonMode(desc.Raster.Polygon),
		LineWidth:               lineWidth,
		CullMode:                toVkCullMode(desc.Raster.Cull),
		FrontFace:               toVkFrontFace(desc.Raster.FrontFace),
		DepthBiasEnable:         vk.False,
	}

	// Multisampling.
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	// Depth and stencil testing.
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if desc.Depth.Test {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = toVkCompareOp(desc.Depth.Compare)
	}
	if desc.Depth.Write {
		depthStencil.DepthWriteEnable = vk.True
	}

	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, len(desc.ColorFormats))
	for i := range blendAttachments {
		blendAttachments[i] = toVkBlendAttachment(desc.BlendFor(i))
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	// Dynamic state
	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	// Vertices are pulled from bindless storage buffers.
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}

	// Input assembly
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               toVkTopology(desc.Topology),
		PrimitiveRestartEnable: vk.False,
	}

	// Pipeline create
	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              layout.Handle,
		RenderPass:          renderpass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	if desc.DepthFormat != rhi.FormatUndefined {
		pipelineCreateInfo.PDepthStencilState = &depthStencil
	}

	pipeline := &VulkanPipeline{Layout: layout, bindPoint: rhi.BindPointGraphics, context: context}
	pPipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(rhi.PipelineManagement, func() error {
		result := vk.CreateGraphicsPipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pPipelines)
		if !VulkanResultIsSuccess(result) {
			return creationError("graphics pipeline "+desc.Label, result)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	pipeline.Handle = pPipelines[0]
	context.setObjectName(vk.ObjectTypePipeline, unsafe.Pointer(pipeline.Handle), desc.Label)

	core.LogDebug("Graphics pipeline '%s' created.", desc.Label)
	return pipeline, nil
}

func NewComputePipeline(context *VulkanContext, desc *rhi.ComputePipelineDesc) (*VulkanPipeline, error) {
	layout := rhi.MustBackend[*VulkanPipelineLayout](desc.Layout.Native())
	cfg := vk.ComputePipelineCreateInfo{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Layout: layout.Handle,
		Stage:  stageInfo(desc.Compute),
	}

	pipeline := &VulkanPipeline{Layout: layout, bindPoint: rhi.BindPointCompute, context: context}
	pPipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(rhi.PipelineManagement, func() error {
		result := vk.CreateComputePipelines(context.Device.LogicalDevice, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{cfg}, context.Allocator, pPipelines)
		if !VulkanResultIsSuccess(result) {
			return creationError("compute pipeline "+desc.Label, result)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	pipeline.Handle = pPipelines[0]
	context.setObjectName(vk.ObjectTypePipeline, unsafe.Pointer(pipeline.Handle), desc.Label)

	core.LogDebug("Compute pipeline '%s' created.", desc.Label)
	return pipeline, nil
}

func (pipeline *VulkanPipeline) BindPoint() rhi.BindPoint { return pipeline.bindPoint }

func (pipeline *VulkanPipeline) Destroy() {
	if pipeline.Handle == vk.NullPipeline {
		return
	}
	_ = pipeline.context.locks.SafeCall(rhi.PipelineManagement, func() error {
		vk.DestroyPipeline(pipeline.context.Device.LogicalDevice, pipeline.Handle, pipeline.context.Allocator)
		pipeline.Handle = vk.NullPipeline
		return nil
	})
}
