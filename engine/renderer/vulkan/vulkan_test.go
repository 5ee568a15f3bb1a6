package vulkan

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type fakeTexture struct {
	format rhi.Format
}

func (f *fakeTexture) Destroy()             {}
func (f *fakeTexture) Extent() rhi.Extent2D { return rhi.Extent2D{Width: 4, Height: 4} }
func (f *fakeTexture) Format() rhi.Format   { return f.format }

func spirv(words ...uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func TestSpirvWords(t *testing.T) {
	words, err := SpirvWords(spirv(spirvMagic, 0x00010500, 7))
	require.NoError(t, err)
	assert.Equal(t, []uint32{spirvMagic, 0x00010500, 7}, words)

	_, err = SpirvWords(nil)
	assert.Error(t, err)
	_, err = SpirvWords([]byte{0x03, 0x02, 0x23})
	assert.Error(t, err)
	_, err = SpirvWords(spirv(0xdeadbeef))
	assert.Error(t, err)
}

func TestFormatRoundTrip(t *testing.T) {
	for f := range formats {
		assert.Equal(t, f, fromVkFormat(toVkFormat(f)), "format %v", f)
	}
	assert.Equal(t, rhi.FormatUndefined, fromVkFormat(vk.FormatR8Snorm))
}

func TestPresentModeConversion(t *testing.T) {
	for _, m := range []rhi.PresentMode{rhi.PresentModeFifo, rhi.PresentModeFifoRelaxed, rhi.PresentModeMailbox, rhi.PresentModeImmediate} {
		got, ok := fromVkPresentMode(toVkPresentMode(m))
		assert.True(t, ok)
		assert.Equal(t, m, got)
	}
	_, ok := fromVkPresentMode(vk.PresentMode(1000111000))
	assert.False(t, ok)
}

func TestAspectOf(t *testing.T) {
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), aspectOf(rhi.FormatRGBA8Unorm))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), aspectOf(rhi.FormatD32Float))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit), aspectOf(rhi.FormatD24UnormS8Uint))
}

func TestStageDefaultsToTopOfPipe(t *testing.T) {
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), toVkStage(0))
	assert.Equal(t,
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit|vk.PipelineStageTransferBit),
		toVkStage(rhi.StageColorAttachmentOutput|rhi.StageTransfer))
}

func TestUniformBuffersAreStorageToo(t *testing.T) {
	usage := vk.BufferUsageFlagBits(toVkBufferUsage(rhi.BufferUsageUniform))
	assert.NotZero(t, usage&vk.BufferUsageStorageBufferBit)
	assert.NotZero(t, usage&vk.BufferUsageUniformBufferBit)
}

func TestRenderPassKeys(t *testing.T) {
	color := &fakeTexture{format: rhi.FormatBGRA8Srgb}
	depth := &fakeTexture{format: rhi.FormatD32Float}

	pipelineKey, err := pipelineRenderPassKey([]rhi.Format{rhi.FormatBGRA8Srgb}, rhi.FormatD32Float)
	require.NoError(t, err)

	renderingKey, err := renderingRenderPassKey(
		[]rhi.ColorAttachment{{Texture: color}},
		&rhi.DepthAttachment{Texture: depth},
	)
	require.NoError(t, err)
	assert.Equal(t, pipelineKey, renderingKey)

	cleared, err := renderingRenderPassKey(
		[]rhi.ColorAttachment{{Texture: color, Clear: true}},
		&rhi.DepthAttachment{Texture: depth, Clear: true},
	)
	require.NoError(t, err)
	assert.NotEqual(t, pipelineKey, cleared)
	assert.Equal(t, uint8(1), cleared.colorClear)
	assert.True(t, cleared.depthClear)
}

func TestRenderPassKeyRejectsBadAttachments(t *testing.T) {
	_, err := pipelineRenderPassKey(make([]rhi.Format, maxColorAttachments+1), rhi.FormatUndefined)
	assert.Error(t, err)

	_, err = renderingRenderPassKey([]rhi.ColorAttachment{{}}, nil)
	assert.Error(t, err)

	color := &fakeTexture{format: rhi.FormatRGBA8Unorm}
	_, err = renderingRenderPassKey(nil, &rhi.DepthAttachment{Texture: color})
	assert.Error(t, err)
}

func TestRateDevice(t *testing.T) {
	discreteSmall := rateDevice(vk.PhysicalDeviceTypeDiscreteGpu, 256<<20)
	integratedLarge := rateDevice(vk.PhysicalDeviceTypeIntegratedGpu, 64<<30)
	discreteLarge := rateDevice(vk.PhysicalDeviceTypeDiscreteGpu, 8<<30)

	assert.Greater(t, discreteSmall, integratedLarge)
	assert.Greater(t, discreteLarge, discreteSmall)
	assert.Greater(t, rateDevice(vk.PhysicalDeviceTypeCpu, 0), rateDevice(vk.PhysicalDeviceTypeOther, 1<<40))
}

func TestChooseSurfaceFormat(t *testing.T) {
	available := []vk.SurfaceFormat{
		{Format: vk.FormatA2b10g10r10UnormPack32, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}
	chosen, native, err := chooseSurfaceFormat(available)
	require.NoError(t, err)
	assert.Equal(t, rhi.SurfaceFormat{Format: rhi.FormatBGRA8Srgb, ColorSpace: rhi.ColorSpaceSrgbNonlinear}, chosen)
	assert.Equal(t, vk.FormatB8g8r8a8Srgb, native.Format)

	_, _, err = chooseSurfaceFormat([]vk.SurfaceFormat{{Format: vk.FormatA2b10g10r10UnormPack32}})
	var suitability *rhi.SuitabilityError
	assert.True(t, errors.As(err, &suitability))
}

func TestChoosePresentMode(t *testing.T) {
	modes := []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox}
	assert.Equal(t, rhi.PresentModeFifo, choosePresentMode(modes, true))
	assert.Equal(t, rhi.PresentModeMailbox, choosePresentMode(modes, false))
	assert.Equal(t, rhi.PresentModeFifo, choosePresentMode([]vk.PresentMode{vk.PresentModeImmediate}, false))
}

func TestFixedString(t *testing.T) {
	var name [16]byte
	copy(name[:], "VK_LAYER_x")
	assert.Equal(t, "VK_LAYER_x", fixedString(name[:]))
	assert.Equal(t, "abc", fixedString([]byte("abc")))
}

func TestResultErrors(t *testing.T) {
	assert.Equal(t, "VK_SUCCESS", VulkanResultString(vk.Success, false))
	assert.Equal(t, "VK_ERROR_UNKNOWN", VulkanResultString(vk.Result(-424242), false))
	assert.True(t, VulkanResultIsSuccess(vk.Suboptimal))
	assert.False(t, VulkanResultIsSuccess(vk.ErrorOutOfHostMemory))

	err := creationError("buffer", vk.ErrorDeviceLost)
	assert.True(t, errors.Is(err, core.ErrDeviceLost))
	var creation *rhi.CreationError
	require.True(t, errors.As(err, &creation))
	assert.Equal(t, int32(vk.ErrorDeviceLost), creation.Code)

	assert.False(t, errors.Is(creationError("buffer", vk.ErrorOutOfDeviceMemory), core.ErrDeviceLost))
	assert.True(t, errors.Is(runtimeError("submit", vk.ErrorDeviceLost), core.ErrDeviceLost))
}

func TestBindlessLayoutBindings(t *testing.T) {
	bindings := bindlessLayoutBindings(1024)
	require.Len(t, bindings, bindlessBindingCount)
	for i, b := range bindings {
		assert.Equal(t, uint32(i), b.Binding)
		assert.Equal(t, uint32(1024), b.DescriptorCount)
	}
}

func TestTimelineSignalOrdering(t *testing.T) {
	timeline := NewTimeline(nil, 3)
	spare := &VulkanFence{}
	timeline.free = []*VulkanFence{spare}

	calls := 0
	err := timeline.signal(3, func(vk.Fence) error { calls++; return nil })
	require.Error(t, err)
	assert.Zero(t, calls, "a value that does not advance never reaches the queue")

	failed := errors.New("queue submit failed")
	err = timeline.signal(4, func(vk.Fence) error { return failed })
	require.ErrorIs(t, err, failed)
	assert.Equal(t, uint64(3), timeline.Submitted())
	assert.Equal(t, []*VulkanFence{spare}, timeline.free, "the fence of a failed submit is reused")

	require.NoError(t, timeline.signal(4, func(vk.Fence) error { return nil }))
	assert.Equal(t, uint64(4), timeline.Submitted())
	require.Len(t, timeline.pending, 1)
	assert.Same(t, spare, timeline.pending[0].fence)
	assert.Same(t, spare, timeline.waitFence(4))
	assert.Nil(t, timeline.waitFence(5))
}

func TestTimelineWaitWithoutSubmits(t *testing.T) {
	timeline := NewTimeline(nil, 2)

	completed, err := timeline.Completed()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), completed)
	require.NoError(t, timeline.Wait(context.Background(), 2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, timeline.Wait(ctx, 3), context.Canceled)
}

func TestDebugNames(t *testing.T) {
	vc := &VulkanContext{debugReport: true}
	var cmdStorage, bufStorage int
	cmd := vk.CommandBuffer(unsafe.Pointer(&cmdStorage))
	buf := unsafe.Pointer(&bufStorage)

	vc.setObjectName(vk.ObjectTypeBuffer, buf, "vertices")
	vc.setObjectName(vk.ObjectTypeCommandBuffer, unsafe.Pointer(cmd), "frame-0")
	vc.beginLabel(cmd, "shadow", rhi.LabelColorRenderPass)
	vc.beginLabel(cmd, "cascade-1", rhi.LabelColorRenderPass)

	assert.Equal(t, `"vertices"`, objectNames.describe(handleKey(buf)))
	assert.Equal(t, `"frame-0" [shadow/cascade-1]`, objectNames.describe(handleKey(unsafe.Pointer(cmd))))

	vc.endLabel(cmd)
	assert.Equal(t, `"frame-0" [shadow]`, objectNames.describe(handleKey(unsafe.Pointer(cmd))))
	vc.resetLabels(cmd)
	assert.Equal(t, `"frame-0"`, objectNames.describe(handleKey(unsafe.Pointer(cmd))))

	vc.forgetObject(buf)
	vc.forgetObject(unsafe.Pointer(cmd))
	assert.Empty(t, objectNames.describe(handleKey(buf)))
	assert.Empty(t, objectNames.describe(handleKey(unsafe.Pointer(cmd))))

	quiet := &VulkanContext{}
	quiet.setObjectName(vk.ObjectTypeBuffer, buf, "ignored")
	assert.Empty(t, objectNames.describe(handleKey(buf)))
}

func TestDeviceRequirementsUseExtensions(t *testing.T) {
	headless := deviceRequirements(false)
	assert.Equal(t, []string{vk.ExtDescriptorIndexingExtensionName}, headless.DeviceExtensionNames)

	windowed := deviceRequirements(true)
	assert.Equal(t, []string{vk.KhrSwapchainExtensionName, vk.ExtDescriptorIndexingExtensionName}, windowed.DeviceExtensionNames)
}
