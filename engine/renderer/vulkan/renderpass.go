package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

const maxColorAttachments = 8

// renderPassKey identifies a single-subpass render pass. Pipelines are built
// against the key with no clears; load ops do not affect compatibility.
type renderPassKey struct {
	colors     [maxColorAttachments]vk.Format
	colorCount int
	depth      vk.Format
	// bit i set when color attachment i is cleared
	colorClear uint8
	depthClear bool
}

func (k renderPassKey) String() string {
	return fmt.Sprintf("colors=%v depth=%d clear=%#x/%t", k.colors[:k.colorCount], k.depth, k.colorClear, k.depthClear)
}

func pipelineRenderPassKey(colors []rhi.Format, depth rhi.Format) (renderPassKey, error) {
	var key renderPassKey
	if len(colors) > maxColorAttachments {
		return key, fmt.Errorf("%d color attachments, at most %d supported", len(colors), maxColorAttachments)
	}
	for i, f := range colors {
		key.colors[i] = toVkFormat(f)
	}
	key.colorCount = len(colors)
	if depth != rhi.FormatUndefined {
		key.depth = toVkFormat(depth)
	}
	return key, nil
}

func renderingRenderPassKey(colors []rhi.ColorAttachment, depth *rhi.DepthAttachment) (renderPassKey, error) {
	var key renderPassKey
	if len(colors) > maxColorAttachments {
		return key, fmt.Errorf("%d color attachments, at most %d supported", len(colors), maxColorAttachments)
	}
	for i, c := range colors {
		if c.Texture == nil {
			return key, fmt.Errorf("color attachment %d has no texture", i)
		}
		key.colors[i] = toVkFormat(c.Texture.Format())
		if c.Clear {
			key.colorClear |= 1 << i
		}
	}
	key.colorCount = len(colors)
	if depth != nil {
		if depth.Texture == nil || !depth.Texture.Format().IsDepth() {
			return key, fmt.Errorf("depth attachment needs a depth texture")
		}
		key.depth = toVkFormat(depth.Texture.Format())
		key.depthClear = depth.Clear
	}
	return key, nil
}

type VulkanRenderpass struct {
	Handle vk.RenderPass
	Key    renderPassKey
}

// RenderpassCache creates render passes on demand and keeps them until the
// driver is destroyed.
type RenderpassCache struct {
	context *VulkanContext

	mu     sync.Mutex
	passes map[renderPassKey]*VulkanRenderpass
}

func NewRenderpassCache(context *VulkanContext) *RenderpassCache {
	return &RenderpassCache{
		context: context,
		passes:  make(map[renderPassKey]*VulkanRenderpass),
	}
}

func (rc *RenderpassCache) Get(key renderPassKey) (*VulkanRenderpass, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rp, ok := rc.passes[key]; ok {
		return rp, nil
	}
	rp, err := RenderpassCreate(rc.context, key)
	if err != nil {
		return nil, err
	}
	rc.passes[key] = rp
	core.LogDebug("Render pass created: %s", key)
	return rp, nil
}

func (rc *RenderpassCache) Destroy() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for key, rp := range rc.passes {
		rp.RenderpassDestroy(rc.context)
		delete(rc.passes, key)
	}
}

// RenderpassCreate builds one subpass over the key's attachments. Color
// attachments stay in the attachment layout afterwards; explicit barriers
// move them on.
func RenderpassCreate(context *VulkanContext, key renderPassKey) (*VulkanRenderpass, error) {
	attachmentDescriptions := make([]vk.AttachmentDescription, 0, key.colorCount+1)
	colorAttachmentReferences := make([]vk.AttachmentReference, 0, key.colorCount)

	for i := 0; i < key.colorCount; i++ {
		colorAttachment := vk.AttachmentDescription{
			Format:         key.colors[i],
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		}
		if key.colorClear&(1<<i) != 0 {
			// Do not expect any particular layout before the pass starts.
			colorAttachment.LoadOp = vk.AttachmentLoadOpClear
			colorAttachment.InitialLayout = vk.ImageLayoutUndefined
		}
		attachmentDescriptions = append(attachmentDescriptions, colorAttachment)
		colorAttachmentReferences = append(colorAttachmentReferences, vk.AttachmentReference{
			Attachment: uint32(i), // Attachment description array index
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	// Main subpass
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorAttachmentReferences)),
		PColorAttachments:    colorAttachmentReferences,
	}

	dstStage := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	dstAccess := vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit)

	// Depth attachment, if there is one
	if key.depth != vk.FormatUndefined {
		depthAttachment := vk.AttachmentDescription{
			Format:         key.depth,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		if key.depthClear {
			depthAttachment.LoadOp = vk.AttachmentLoadOpClear
			depthAttachment.InitialLayout = vk.ImageLayoutUndefined
		}
		attachmentDescriptions = append(attachmentDescriptions, depthAttachment)

		// Depth stencil data.
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(key.colorCount),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		dstStage |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit)
		dstAccess |= vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  dstStage,
		SrcAccessMask: 0,
		DstStageMask:  dstStage,
		DstAccessMask: dstAccess,
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var pRenderPass vk.RenderPass
	if res := vk.CreateRenderPass(context.Device.LogicalDevice, &renderpassCreateInfo, context.Allocator, &pRenderPass); res != vk.Success {
		return nil, creationError("render pass", res)
	}
	return &VulkanRenderpass{Handle: pRenderPass, Key: key}, nil
}

func (vr *VulkanRenderpass) RenderpassDestroy(context *VulkanContext) {
	if vr.Handle != vk.NullRenderPass {
		vk.DestroyRenderPass(context.Device.LogicalDevice, vr.Handle, context.Allocator)
		vr.Handle = vk.NullRenderPass
	}
}
