package rhi_test

import (
	"context"
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// spirv returns a minimal blob that passes the bytecode header check.
func spirv() []byte {
	code := make([]byte, 20)
	binary.LittleEndian.PutUint32(code, 0x07230203)
	return code
}

func newDevice(t *testing.T, capacity uint32, opts ...headless.Option) (*headless.Driver, *rhi.Device) {
	t.Helper()
	driver := headless.New(opts...)
	device, err := rhi.NewDevice(driver, rhi.DeviceConfig{
		FramesInFlight:     2,
		DescriptorCapacity: capacity,
		AcquireTimeout:     time.Second,
	})
	require.NoError(t, err)
	return driver, device
}

func sampledTexture(t *testing.T, device *rhi.Device, label string, sampler *rhi.Sampler) *rhi.Texture {
	t.Helper()
	tex, err := device.CreateTexture(rhi.TextureDesc{
		Label:   label,
		Width:   64,
		Height:  64,
		Format:  rhi.FormatRGBA8Srgb,
		Usage:   rhi.TextureUsageSampled | rhi.TextureUsageTransferDst,
		Sampler: sampler,
	})
	require.NoError(t, err)
	return tex
}

func TestTextureDropWaitsForFrameCompletion(t *testing.T) {
	driver, device := newDevice(t, 16, headless.WithManualCompletion())
	ring, err := device.CreateFrameRing(rhi.SurfaceDesc{Label: "main", Requested: rhi.Extent2D{Width: 320, Height: 240}})
	require.NoError(t, err)
	queue := device.DestructionQueue()

	tex := sampledTexture(t, device, "albedo", nil)
	native := rhi.MustBackend[*headless.Texture](tex.Native())
	index := tex.Index()

	// frame 0 references the texture through its bindless index
	slot, _, err := ring.Begin(context.Background(), 0)
	require.NoError(t, err)
	idx := make([]byte, 4)
	binary.LittleEndian.PutUint32(idx, index)
	slot.Recorder().PushConstants(nil, rhi.ShaderStageFragment, 0, idx)
	require.NoError(t, ring.End(slot))
	require.NoError(t, ring.Submit(slot))
	_, err = ring.Present(slot)
	require.NoError(t, err)

	tex.Release()
	assert.Equal(t, 1, queue.Len(), "native texture waits for frame 0")
	assert.False(t, native.Destroyed())
	assert.Zero(t, device.DescriptorTable().Len(rhi.DescriptorTexture), "descriptor slot is freed at once")

	// frame 1 can't see the texture complete yet
	runFrame(t, ring, 1)
	assert.Equal(t, 1, queue.Len())
	assert.False(t, native.Destroyed())

	driver.Complete(1)
	slot, _, err = ring.Begin(context.Background(), 2)
	require.NoError(t, err)
	assert.Zero(t, queue.Len())
	assert.True(t, native.Destroyed())
	require.NoError(t, ring.End(slot))
	require.NoError(t, ring.Submit(slot))

	require.NoError(t, device.Destroy(context.Background()))
	assert.Empty(t, driver.Violations())
	assert.Empty(t, driver.LiveObjects())
}

func TestReleaseOnlyRetiresOnLastReference(t *testing.T) {
	_, device := newDevice(t, 16)

	buf, err := device.CreateBuffer(rhi.BufferDesc{Label: "vertices", Size: 256, Usage: rhi.BufferUsageVertex})
	require.NoError(t, err)
	assert.True(t, buf.Handle().IsNil(), "vertex buffers are not bindless")

	buf.Retain()
	buf.Release()
	assert.Zero(t, device.DestructionQueue().Len())
	assert.Equal(t, int32(1), buf.RefCount())

	buf.Release()
	assert.Equal(t, 1, device.DestructionQueue().Len())
	assert.Panics(t, func() { buf.Release() })
	assert.Panics(t, func() { buf.Retain() })
}

func TestTextureKeepsSamplerAlive(t *testing.T) {
	driver, device := newDevice(t, 16)

	sampler, err := device.CreateSampler(rhi.SamplerDesc{Label: "linear", AddressU: rhi.AddressClampToEdge})
	require.NoError(t, err)
	tex := sampledTexture(t, device, "sprite", sampler)
	assert.Equal(t, rhi.DescriptorCombinedImageSampler, tex.DescriptorKind())

	res, err := device.DescriptorTable().Lookup(rhi.DescriptorCombinedImageSampler, tex.Handle())
	require.NoError(t, err)
	assert.Equal(t, sampler.Native(), res.Sampler)

	sampler.Release()
	assert.Zero(t, device.DestructionQueue().Len())
	assert.Equal(t, 1, device.DescriptorTable().Len(rhi.DescriptorSampler))

	tex.Release()
	assert.Equal(t, 2, device.DestructionQueue().Len())
	assert.Zero(t, device.DescriptorTable().Len(rhi.DescriptorSampler))

	require.NoError(t, device.Destroy(context.Background()))
	assert.Empty(t, driver.Violations())
}

func TestPipelineRecordsAndKeepsLayout(t *testing.T) {
	driver, device := newDevice(t, 16)
	ring, err := device.CreateFrameRing(rhi.SurfaceDesc{Label: "main", Requested: rhi.Extent2D{Width: 320, Height: 240}})
	require.NoError(t, err)

	vs, err := device.CreateShaderModule(rhi.ShaderModuleDesc{Label: "tri.vert", Stage: rhi.ShaderStageVertex, Code: spirv()})
	require.NoError(t, err)
	fs, err := device.CreateShaderModule(rhi.ShaderModuleDesc{Label: "tri.frag", Stage: rhi.ShaderStageFragment, Code: spirv()})
	require.NoError(t, err)
	layout, err := device.CreatePipelineLayout(rhi.PipelineLayoutDesc{
		Label:         "bindless",
		Bindless:      true,
		PushConstants: []rhi.PushConstantRange{{Stages: rhi.ShaderStageAllGraphics, Size: 16}},
	})
	require.NoError(t, err)

	pipeline, err := device.CreateGraphicsPipeline(rhi.GraphicsPipelineDesc{
		Label:        "triangle",
		Layout:       layout,
		Vertex:       rhi.ShaderRef{Module: vs},
		Fragment:     rhi.ShaderRef{Module: fs},
		Raster:       rhi.RasterState{Cull: rhi.CullBack},
		Blend:        []rhi.BlendState{rhi.AlphaBlending()},
		ColorFormats: []rhi.Format{ring.Surface().Format().Format},
	})
	require.NoError(t, err)
	vs.Release()
	fs.Release()
	layout.Release()
	assert.Equal(t, 2, device.DestructionQueue().Len(), "layout is held by the pipeline")

	slot, _, err := ring.Begin(context.Background(), 0)
	require.NoError(t, err)
	// Released before any frame was recorded, so nothing can still use them.
	assert.Zero(t, device.DestructionQueue().Len())
	assert.Zero(t, driver.LiveObjects()["shader module"])
	rec := slot.Recorder()
	require.NoError(t, rec.BeginRendering([]rhi.ColorAttachment{{Texture: ring.Target(slot), Clear: true}}, nil))
	pipeline.Bind(rec)
	rec.PushConstants(pipeline.Layout().Native(), rhi.ShaderStageAllGraphics, 0, make([]byte, 16))
	rec.Draw(3, 1, 0, 0)
	rec.EndRendering()
	require.NoError(t, ring.End(slot))
	require.NoError(t, ring.Submit(slot))

	cmds := driver.Submissions()[0].Commands
	assert.Contains(t, cmds, "bind_pipeline triangle")
	assert.Contains(t, cmds, "bind_descriptor_heap bindless")
	assert.Contains(t, cmds, "draw 3 1")

	pipeline.Release()
	assert.Equal(t, 2, device.DestructionQueue().Len(), "pipeline and its layout wait for frame 0")
	require.NoError(t, device.Destroy(context.Background()))
	assert.Empty(t, driver.Violations())
	assert.Empty(t, driver.LiveObjects())
}

func TestPipelineCreationErrors(t *testing.T) {
	_, device := newDevice(t, 16)

	frag, err := device.CreateShaderModule(rhi.ShaderModuleDesc{Stage: rhi.ShaderStageFragment, Code: spirv()})
	require.NoError(t, err)
	layout, err := device.CreatePipelineLayout(rhi.PipelineLayoutDesc{})
	require.NoError(t, err)

	var cerr *rhi.CreationError
	_, err = device.CreateGraphicsPipeline(rhi.GraphicsPipelineDesc{
		Layout:       layout,
		Vertex:       rhi.ShaderRef{Module: frag},
		ColorFormats: []rhi.Format{rhi.FormatBGRA8Srgb},
	})
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "graphics pipeline", cerr.Subject)

	_, err = device.CreateGraphicsPipeline(rhi.GraphicsPipelineDesc{Vertex: rhi.ShaderRef{Module: frag}})
	require.ErrorAs(t, err, &cerr)

	_, err = device.CreatePipelineLayout(rhi.PipelineLayoutDesc{
		PushConstants: []rhi.PushConstantRange{{Stages: rhi.ShaderStageVertex, Offset: 64, Size: 128}},
	})
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "pipeline layout", cerr.Subject)

	_, err = device.CreateShaderModule(rhi.ShaderModuleDesc{Stage: rhi.ShaderStageVertex, Code: []byte{1, 2, 3}})
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, err.Error(), "failed to create shader module")

	_, err = device.CreateComputePipeline(rhi.ComputePipelineDesc{Layout: layout, Compute: rhi.ShaderRef{Module: frag}})
	require.ErrorAs(t, err, &cerr)
}

func TestComputePipelineDispatch(t *testing.T) {
	driver, device := newDevice(t, 16)
	ring, err := device.CreateFrameRing(rhi.SurfaceDesc{Requested: rhi.Extent2D{Width: 64, Height: 64}})
	require.NoError(t, err)

	cs, err := device.CreateShaderModule(rhi.ShaderModuleDesc{Stage: rhi.ShaderStageCompute, Code: spirv()})
	require.NoError(t, err)
	layout, err := device.CreatePipelineLayout(rhi.PipelineLayoutDesc{Label: "compute-layout", Bindless: true})
	require.NoError(t, err)
	pipeline, err := device.CreateComputePipeline(rhi.ComputePipelineDesc{Label: "blur", Layout: layout, Compute: rhi.ShaderRef{Module: cs}})
	require.NoError(t, err)
	assert.Equal(t, rhi.BindPointCompute, pipeline.BindPoint())

	slot, _, err := ring.Begin(context.Background(), 0)
	require.NoError(t, err)
	rec := slot.Recorder()
	rec.BeginMarker("blur", rhi.LabelColorCompute)
	pipeline.Bind(rec)
	rec.Dispatch(8, 8, 1)
	rec.EndMarker()
	require.NoError(t, ring.End(slot))
	require.NoError(t, ring.Submit(slot))

	assert.Contains(t, driver.Submissions()[0].Commands, "dispatch 8 8 1")
	assert.Empty(t, driver.Violations())
}

func TestDefaultLabels(t *testing.T) {
	_, device := newDevice(t, 16)
	buf, err := device.CreateBuffer(rhi.BufferDesc{Size: 16, Usage: rhi.BufferUsageStorage})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(buf.Label(), "buffer-"))
	assert.Len(t, buf.Label(), len("buffer-")+36)
}

func TestBufferWrite(t *testing.T) {
	_, device := newDevice(t, 16)

	upload, err := device.CreateBuffer(rhi.BufferDesc{Label: "camera", Size: 8, Usage: rhi.BufferUsageUniform, Location: rhi.MemoryHostUpload})
	require.NoError(t, err)
	require.NoError(t, upload.Write(2, []byte{1, 2, 3}))
	assert.Equal(t, []byte{0, 0, 1, 2, 3, 0, 0, 0}, rhi.MustBackend[*headless.Buffer](upload.Native()).Bytes())
	assert.Error(t, upload.Write(6, []byte{1, 2, 3}), "overflow")

	local, err := device.CreateBuffer(rhi.BufferDesc{Label: "gpu-only", Size: 8, Usage: rhi.BufferUsageStorage})
	require.NoError(t, err)
	assert.Error(t, local.Write(0, []byte{1}))
}

func TestDeviceDescriptorExhaustion(t *testing.T) {
	driver, device := newDevice(t, 2)

	for i := 0; i < 2; i++ {
		_, err := device.CreateBuffer(rhi.BufferDesc{Size: 16, Usage: rhi.BufferUsageUniform})
		require.NoError(t, err)
	}
	_, err := device.CreateBuffer(rhi.BufferDesc{Size: 16, Usage: rhi.BufferUsageUniform})
	require.ErrorIs(t, err, core.ErrResourceExhausted)

	assert.Equal(t, 2, driver.LiveObjects()["buffer"], "the native buffer of a failed create is destroyed")
	stats := device.Stats()
	assert.Equal(t, int64(2), stats.LiveObjects)
	assert.Equal(t, 2, stats.Descriptors[rhi.DescriptorBuffer])
}

func TestConcurrentRelease(t *testing.T) {
	driver, device := newDevice(t, 256)

	bufs := make([]*rhi.Buffer, 128)
	for i := range bufs {
		b, err := device.CreateBuffer(rhi.BufferDesc{Size: 16, Usage: rhi.BufferUsageStorage})
		require.NoError(t, err)
		bufs[i] = b
	}

	done := make(chan struct{})
	for _, b := range bufs {
		go func(b *rhi.Buffer) {
			b.Release()
			done <- struct{}{}
		}(b)
	}
	for range bufs {
		<-done
	}

	stats := device.Stats()
	assert.Zero(t, stats.LiveObjects)
	assert.Equal(t, len(bufs), stats.PendingDestruction)
	assert.Zero(t, stats.Descriptors[rhi.DescriptorBuffer])

	require.NoError(t, device.WaitIdle())
	assert.Equal(t, uint64(len(bufs)), device.Stats().Destroyed)
	assert.Empty(t, driver.LiveObjects())
}

func TestNewDeviceRespectsBindlessLimit(t *testing.T) {
	driver := headless.New(headless.WithLimits(rhi.Limits{MaxBindlessDescriptors: 16}))
	_, err := rhi.NewDevice(driver, rhi.DeviceConfig{FramesInFlight: 2, DescriptorCapacity: 32, AcquireTimeout: time.Second})
	var serr *rhi.SuitabilityError
	require.ErrorAs(t, err, &serr)

	_, err = rhi.NewDevice(driver, rhi.DeviceConfig{FramesInFlight: 0, DescriptorCapacity: 16, AcquireTimeout: time.Second})
	assert.Error(t, err)
}

func TestReleaseOfFreedSlotPanics(t *testing.T) {
	_, device := newDevice(t, 16)

	buf, err := device.CreateBuffer(rhi.BufferDesc{Label: "victim", Size: 16, Usage: rhi.BufferUsageStorage})
	require.NoError(t, err)
	// The slot is freed behind the buffer's back.
	require.NoError(t, device.DescriptorTable().Free(rhi.DescriptorBuffer, buf.Handle()))

	var recovered interface{}
	func() {
		defer func() { recovered = recover() }()
		buf.Release()
	}()
	require.NotNil(t, recovered)
	assert.Contains(t, recovered, `buffer "victim": descriptor free: `+core.ErrStaleHandle.Error())
	assert.Equal(t, 1, device.DestructionQueue().Len(), "the native buffer is still queued")
	assert.Zero(t, device.Stats().LiveObjects)
}
