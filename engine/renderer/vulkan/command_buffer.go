package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// VulkanCommandBuffer is a primary command buffer from the graphics pool.
// Framebuffers made by BeginRendering live until the next Reset.
type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState

	label        string
	context      *VulkanContext
	heap         *VulkanDescriptorHeap
	passes       *RenderpassCache
	framebuffers []*VulkanFramebuffer
	markers      int
}

func NewVulkanCommandBuffer(context *VulkanContext, heap *VulkanDescriptorHeap, passes *RenderpassCache, label string) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		State:   COMMAND_BUFFER_STATE_NOT_ALLOCATED,
		label:   label,
		context: context,
		heap:    heap,
		passes:  passes,
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        context.Device.GraphicsCommandPool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles); res != vk.Success {
		return nil, creationError("command buffer "+label, res)
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY
	context.setObjectName(vk.ObjectTypeCommandBuffer, unsafe.Pointer(vCommandBuffer.Handle), label)
	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) releaseFramebuffers() {
	for _, fb := range v.framebuffers {
		fb.Destroy(v.context)
	}
	v.framebuffers = v.framebuffers[:0]
}

// Reset must only be called once the previous submission has completed.
func (v *VulkanCommandBuffer) Reset() error {
	if v.State == COMMAND_BUFFER_STATE_RECORDING || v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return fmt.Errorf("command buffer %q reset while recording", v.label)
	}
	if res := vk.ResetCommandBuffer(v.Handle, 0); res != vk.Success {
		return runtimeError("command buffer reset", res)
	}
	v.releaseFramebuffers()
	v.markers = 0
	v.context.resetLabels(v.Handle)
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

func (v *VulkanCommandBuffer) Begin() error {
	if v.State == COMMAND_BUFFER_STATE_RECORDING || v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return fmt.Errorf("command buffer %q already recording", v.label)
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(v.Handle, &beginInfo); res != vk.Success {
		return runtimeError("command buffer begin", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	switch v.State {
	case COMMAND_BUFFER_STATE_RECORDING:
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return fmt.Errorf("command buffer %q ended inside a render pass", v.label)
	default:
		return core.ErrNotRecording
	}
	if v.markers != 0 {
		return fmt.Errorf("command buffer %q ended with %d open markers", v.label, v.markers)
	}
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		return runtimeError("command buffer end", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Barrier(texture rhi.NativeTexture, from, to rhi.ImageLayout) {
	image := rhi.MustBackend[*VulkanImage](texture)
	srcAccess, srcStage := layoutAccess(from)
	dstAccess, dstStage := layoutAccess(to)
	if from == rhi.LayoutUndefined {
		// Chains with a semaphore wait at the destination stage.
		srcStage = dstStage
	}
	vk.CmdPipelineBarrier(v.Handle, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		OldLayout:           toVkLayout(from),
		NewLayout:           toVkLayout(to),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image.Handle,
		SubresourceRange:    image.subresourceRange(),
	}})
}

func (v *VulkanCommandBuffer) BeginMarker(label string, color rhi.LabelColor) {
	v.markers++
	v.context.beginLabel(v.Handle, label, color)
}

func (v *VulkanCommandBuffer) EndMarker() {
	if v.markers == 0 {
		core.LogWarn("command buffer %q: end marker without begin", v.label)
		return
	}
	v.markers--
	v.context.endLabel(v.Handle)
}

func (v *VulkanCommandBuffer) BeginRendering(colors []rhi.ColorAttachment, depth *rhi.DepthAttachment) error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		return fmt.Errorf("command buffer %q: begin rendering in state %d", v.label, v.State)
	}
	key, err := renderingRenderPassKey(colors, depth)
	if err != nil {
		return err
	}
	renderpass, err := v.passes.Get(key)
	if err != nil {
		return err
	}

	var extent rhi.Extent2D
	views := make([]vk.ImageView, 0, len(colors)+1)
	clearValues := make([]vk.ClearValue, 0, len(colors)+1)
	for _, c := range colors {
		image := rhi.MustBackend[*VulkanImage](c.Texture)
		views = append(views, image.View)
		extent = image.Extent()
		var cv vk.ClearValue
		cv.SetColor(c.ClearColor[:])
		clearValues = append(clearValues, cv)
	}
	if depth != nil {
		image := rhi.MustBackend[*VulkanImage](depth.Texture)
		views = append(views, image.View)
		if extent.IsZero() {
			extent = image.Extent()
		}
		var cv vk.ClearValue
		cv.SetDepthStencil(depth.ClearDepth, 0)
		clearValues = append(clearValues, cv)
	}

	fb, err := FramebufferCreate(v.context, renderpass, extent.Width, extent.Height, views)
	if err != nil {
		return err
	}
	v.framebuffers = append(v.framebuffers, fb)

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  renderpass.Handle,
		Framebuffer: fb.Handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: extent.Width, Height: extent.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(v.Handle, &beginInfo, vk.SubpassContentsInline)
	v.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
	return nil
}

func (v *VulkanCommandBuffer) EndRendering() {
	if v.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		core.LogWarn("command buffer %q: end rendering outside a render pass", v.label)
		return
	}
	vk.CmdEndRenderPass(v.Handle)
	v.State = COMMAND_BUFFER_STATE_RECORDING
}

func (v *VulkanCommandBuffer) SetViewport(vp rhi.Viewport) {
	vk.CmdSetViewport(v.Handle, 0, 1, []vk.Viewport{{
		X:        vp.X,
		Y:        vp.Y,
		Width:    vp.Width,
		Height:   vp.Height,
		MinDepth: vp.MinDepth,
		MaxDepth: vp.MaxDepth,
	}})
}

func (v *VulkanCommandBuffer) SetScissor(r rhi.Rect2D) {
	vk.CmdSetScissor(v.Handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Extent.Width, Height: r.Extent.Height},
	}})
}

func (v *VulkanCommandBuffer) BindPipeline(p rhi.NativePipeline) {
	pipeline := rhi.MustBackend[*VulkanPipeline](p)
	vk.CmdBindPipeline(v.Handle, toVkBindPoint(pipeline.bindPoint), pipeline.Handle)
}

func (v *VulkanCommandBuffer) BindDescriptorHeap(l rhi.NativePipelineLayout, point rhi.BindPoint) {
	layout := rhi.MustBackend[*VulkanPipelineLayout](l)
	if !layout.Bindless {
		core.LogWarn("command buffer %q: descriptor heap bound with a layout that has no heap set", v.label)
		return
	}
	vk.CmdBindDescriptorSets(v.Handle, toVkBindPoint(point), layout.Handle, 0, 1, []vk.DescriptorSet{v.heap.Set}, 0, nil)
}

func (v *VulkanCommandBuffer) PushConstants(l rhi.NativePipelineLayout, stages rhi.ShaderStage, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	layout := rhi.MustBackend[*VulkanPipelineLayout](l)
	// cgo must not see a pointer into memory the caller may keep mutating.
	values := make([]byte, len(data))
	copy(values, data)
	vk.CmdPushConstants(v.Handle, layout.Handle, toVkShaderStages(stages), offset, uint32(len(values)), unsafe.Pointer(&values[0]))
}

func (v *VulkanCommandBuffer) BindVertexBuffer(b rhi.NativeBuffer, offset uint64) {
	buffer := rhi.MustBackend[*VulkanBuffer](b)
	vk.CmdBindVertexBuffers(v.Handle, 0, 1, []vk.Buffer{buffer.Handle}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

func (v *VulkanCommandBuffer) BindIndexBuffer(b rhi.NativeBuffer, offset uint64, index32 bool) {
	buffer := rhi.MustBackend[*VulkanBuffer](b)
	indexType := vk.IndexTypeUint16
	if index32 {
		indexType = vk.IndexTypeUint32
	}
	vk.CmdBindIndexBuffer(v.Handle, buffer.Handle, vk.DeviceSize(offset), indexType)
}

func (v *VulkanCommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(v.Handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (v *VulkanCommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(v.Handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (v *VulkanCommandBuffer) Dispatch(x, y, z uint32) {
	vk.CmdDispatch(v.Handle, x, y, z)
}

func (v *VulkanCommandBuffer) CopyBuffer(src, dst rhi.NativeBuffer, srcOffset, dstOffset, size uint64) {
	from := rhi.MustBackend[*VulkanBuffer](src)
	to := rhi.MustBackend[*VulkanBuffer](dst)
	vk.CmdCopyBuffer(v.Handle, from.Handle, to.Handle, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

// CopyBufferToTexture fills mip 0; dst must be in the transfer destination
// layout.
func (v *VulkanCommandBuffer) CopyBufferToTexture(src rhi.NativeBuffer, dst rhi.NativeTexture, srcOffset uint64) {
	from := rhi.MustBackend[*VulkanBuffer](src)
	image := rhi.MustBackend[*VulkanImage](dst)
	region := vk.BufferImageCopy{
		BufferOffset:      vk.DeviceSize(srcOffset),
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     image.aspect,
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{Width: image.Width, Height: image.Height, Depth: 1},
	}
	vk.CmdCopyBufferToImage(v.Handle, from.Handle, image.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
}

func (v *VulkanCommandBuffer) Destroy() {
	v.releaseFramebuffers()
	if v.Handle != nil {
		v.context.forgetObject(unsafe.Pointer(v.Handle))
		vk.FreeCommandBuffers(v.context.Device.LogicalDevice, v.context.Device.GraphicsCommandPool, 1, []vk.CommandBuffer{v.Handle})
		v.Handle = nil
	}
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}
