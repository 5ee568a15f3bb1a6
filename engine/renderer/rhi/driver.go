package rhi

import (
	"context"
	"time"
	"unsafe"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// NativeObject is anything a backend hands out that must be destroyed on the
// device. Destroy must only run once the device no longer references it.
type NativeObject interface {
	Destroy()
}

type NativeBuffer interface {
	NativeObject
	Size() uint64
	// Write copies into host-visible memory. Device-local buffers reject it.
	Write(offset uint64, data []byte) error
}

type NativeTexture interface {
	NativeObject
	Extent() Extent2D
	Format() Format
}

type NativeSampler interface {
	NativeObject
}

type NativeShaderModule interface {
	NativeObject
	Stage() ShaderStage
}

type NativePipelineLayout interface {
	NativeObject
}

type NativePipeline interface {
	NativeObject
	BindPoint() BindPoint
}

type NativeSemaphore interface {
	NativeObject
}

// AcquireStatus and PresentStatus are not errors. Out-of-date and timeout
// ask the caller to rebuild (or just retry) instead of submitting.
type AcquireStatus uint8

const (
	AcquireOK AcquireStatus = iota
	AcquireSuboptimal
	AcquireOutOfDate
	AcquireTimeout
)

func (s AcquireStatus) String() string {
	switch s {
	case AcquireOK:
		return "ok"
	case AcquireSuboptimal:
		return "suboptimal"
	case AcquireOutOfDate:
		return "out_of_date"
	case AcquireTimeout:
		return "timeout"
	}
	return "unknown"
}

// NeedsRebuild is true when the swapchain no longer matches the surface.
func (s AcquireStatus) NeedsRebuild() bool {
	return s == AcquireSuboptimal || s == AcquireOutOfDate
}

type PresentStatus uint8

const (
	PresentOK PresentStatus = iota
	PresentSuboptimal
	PresentOutOfDate
)

func (s PresentStatus) String() string {
	switch s {
	case PresentOK:
		return "ok"
	case PresentSuboptimal:
		return "suboptimal"
	case PresentOutOfDate:
		return "out_of_date"
	}
	return "unknown"
}

func (s PresentStatus) NeedsRebuild() bool {
	return s != PresentOK
}

// Err converts an out-of-date status into core.ErrSurfaceOutOfDate for
// callers that funnel everything through error values.
func (s AcquireStatus) Err() error {
	if s == AcquireOutOfDate {
		return core.ErrSurfaceOutOfDate
	}
	return nil
}

func (s PresentStatus) Err() error {
	if s == PresentOutOfDate {
		return core.ErrSurfaceOutOfDate
	}
	return nil
}

// Window is the window-system side of a surface.
type Window interface {
	FramebufferSize() Extent2D
	RequiredInstanceExtensions() []string
	// CreateWindowSurface returns the native surface handle for instance.
	CreateWindowSurface(instance interface{}, allocator unsafe.Pointer) (uintptr, error)
}

type SurfaceDesc struct {
	Label string
	// Nil for offscreen backends; Requested is used as-is then.
	Window    Window
	Requested Extent2D
	VSync     bool
}

// NativeSurface owns the swapchain and its presentable images. Image count
// and extent only change in Rebuild.
type NativeSurface interface {
	NativeObject
	Extent() Extent2D
	Format() SurfaceFormat
	PresentMode() PresentMode
	ImageCount() int
	Image(index uint32) NativeTexture
	Acquire(signal NativeSemaphore, timeout time.Duration) (uint32, AcquireStatus, error)
	Present(index uint32, wait NativeSemaphore) (PresentStatus, error)
	Rebuild(requested Extent2D) error
}

// CommandRecorder records into one command buffer. At most one goroutine
// records into a given recorder at a time.
type CommandRecorder interface {
	NativeObject
	Reset() error
	Begin() error
	End() error

	Barrier(texture NativeTexture, from, to ImageLayout)
	BeginMarker(label string, color LabelColor)
	EndMarker()

	BeginRendering(colors []ColorAttachment, depth *DepthAttachment) error
	EndRendering()
	SetViewport(v Viewport)
	SetScissor(r Rect2D)

	BindPipeline(p NativePipeline)
	BindDescriptorHeap(layout NativePipelineLayout, point BindPoint)
	PushConstants(layout NativePipelineLayout, stages ShaderStage, offset uint32, data []byte)
	BindVertexBuffer(buffer NativeBuffer, offset uint64)
	BindIndexBuffer(buffer NativeBuffer, offset uint64, index32 bool)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	Dispatch(x, y, z uint32)

	CopyBuffer(src, dst NativeBuffer, srcOffset, dstOffset, size uint64)
	CopyBufferToTexture(src NativeBuffer, dst NativeTexture, srcOffset uint64)
}

// Timeline is the device's monotonically increasing completion counter.
type Timeline interface {
	NativeObject
	Completed() (uint64, error)
	// Wait blocks until the counter reaches value. ctx only interrupts the
	// host side; device work keeps running.
	Wait(ctx context.Context, value uint64) error
}

type DescriptorKind uint8

const (
	DescriptorBuffer DescriptorKind = iota
	DescriptorTexture
	DescriptorSampler
	DescriptorCombinedImageSampler

	NumDescriptorKinds = 4
)

func (k DescriptorKind) String() string {
	switch k {
	case DescriptorBuffer:
		return "buffer"
	case DescriptorTexture:
		return "texture"
	case DescriptorSampler:
		return "sampler"
	case DescriptorCombinedImageSampler:
		return "combined_image_sampler"
	}
	return "unknown"
}

type DescriptorResource struct {
	Buffer  NativeBuffer
	Texture NativeTexture
	Sampler NativeSampler
}

func (r DescriptorResource) IsEmpty() bool {
	return r.Buffer == nil && r.Texture == nil && r.Sampler == nil
}

func (r DescriptorResource) matches(kind DescriptorKind) bool {
	switch kind {
	case DescriptorBuffer:
		return r.Buffer != nil
	case DescriptorTexture:
		return r.Texture != nil
	case DescriptorSampler:
		return r.Sampler != nil
	case DescriptorCombinedImageSampler:
		return r.Texture != nil && r.Sampler != nil
	}
	return false
}

// DescriptorWrite with an empty Resource clears the slot. Backends may leave
// cleared slots untouched; nothing indexes a freed slot.
type DescriptorWrite struct {
	Kind     DescriptorKind
	Slot     uint32
	Resource DescriptorResource
}

// DescriptorHeap is the GPU-visible side of the bindless table.
type DescriptorHeap interface {
	NativeObject
	Write(writes []DescriptorWrite) error
}

type SubmitInfo struct {
	Recorder CommandRecorder
	// Optional binary semaphore to wait on at WaitStage.
	Wait      NativeSemaphore
	WaitStage PipelineStage
	// Optional binary semaphore signaled on completion.
	Signal NativeSemaphore
	// The device timeline is raised to this value on completion.
	TimelineValue uint64
}

// Driver is implemented once per backend. The set of backends is closed;
// see BackendKind.
type Driver interface {
	Kind() BackendKind
	AdapterName() string
	Limits() Limits

	CreateBuffer(desc *BufferDesc) (NativeBuffer, error)
	CreateTexture(desc *TextureDesc) (NativeTexture, error)
	CreateSampler(desc *SamplerDesc) (NativeSampler, error)
	CreateShaderModule(desc *ShaderModuleDesc) (NativeShaderModule, error)
	CreatePipelineLayout(desc *PipelineLayoutDesc) (NativePipelineLayout, error)
	CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (NativePipeline, error)
	CreateComputePipeline(desc *ComputePipelineDesc) (NativePipeline, error)
	CreateSurface(desc *SurfaceDesc) (NativeSurface, error)
	CreateCommandRecorder(label string) (CommandRecorder, error)
	CreateBinarySemaphore(label string) (NativeSemaphore, error)

	DescriptorHeap() DescriptorHeap
	Timeline() Timeline

	Submit(info *SubmitInfo) error
	WaitIdle() error

	Destroy()
}
