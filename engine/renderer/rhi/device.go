package rhi

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type DeviceConfig struct {
	FramesInFlight     int
	DescriptorCapacity uint32
	AcquireTimeout     time.Duration
}

type DeviceStats struct {
	Frames             FrameStats
	LiveObjects        int64
	Destroyed          uint64
	PendingDestruction int
	Descriptors        [NumDescriptorKinds]int
}

// Device is the backend-neutral front of a Driver. It owns the bindless
// descriptor table, the destruction queue and at most one frame ring, and
// hands out reference-counted resource wrappers.
//
// Create* and the frame ring belong to the render goroutine. Release may be
// called from any goroutine.
type Device struct {
	driver Driver
	cfg    DeviceConfig
	locks  *LockPool
	table  *DescriptorTable
	queue  *DestructionQueue
	ring   *FrameRing

	live      atomic.Int64
	destroyed atomic.Uint64
}

func NewDevice(driver Driver, cfg DeviceConfig) (*Device, error) {
	if cfg.FramesInFlight < 1 {
		return nil, fmt.Errorf("frames in flight must be at least 1, got %d", cfg.FramesInFlight)
	}
	if max := driver.Limits().MaxBindlessDescriptors; max > 0 && cfg.DescriptorCapacity > max {
		return nil, &SuitabilityError{Reason: fmt.Sprintf("%s supports %d bindless descriptors per kind, %d requested",
			driver.AdapterName(), max, cfg.DescriptorCapacity)}
	}
	table, err := NewDescriptorTable(driver.DescriptorHeap(), cfg.DescriptorCapacity)
	if err != nil {
		return nil, err
	}
	d := &Device{
		driver: driver,
		cfg:    cfg,
		locks:  NewLockPool(),
		table:  table,
	}
	d.queue = NewDestructionQueue(driver.Timeline(), driver.WaitIdle)

	core.LogInfo("device ready: %s (%s), %d frames in flight, %d descriptors per kind",
		driver.AdapterName(), driver.Kind(), cfg.FramesInFlight, cfg.DescriptorCapacity)
	return d, nil
}

func (d *Device) Driver() Driver                      { return d.driver }
func (d *Device) Kind() BackendKind                   { return d.driver.Kind() }
func (d *Device) Limits() Limits                      { return d.driver.Limits() }
func (d *Device) DescriptorTable() *DescriptorTable   { return d.table }
func (d *Device) DestructionQueue() *DestructionQueue { return d.queue }
func (d *Device) FrameRing() *FrameRing               { return d.ring }

func defaultLabel(subject, label string) string {
	if label != "" {
		return label
	}
	return fmt.Sprintf("%s-%s", subject, uuid.NewString())
}

func (d *Device) track() {
	d.live.Add(1)
}

// retire runs on the last Release: the descriptor slot is freed at once, the
// native object waits for the timeline. A slot that cannot be freed means its
// handle was freed or reused behind the resource's back, which is a lifetime
// bug, so it panics after the native object is queued.
func (d *Device) retire(subject, label string, kind DescriptorKind, h core.Handle, native NativeObject) {
	freeErr := d.locks.SafeCall(ResourceManagement, func() error {
		d.queue.Push(subject, func() {
			native.Destroy()
			d.destroyed.Add(1)
		})
		if h.IsNil() {
			return nil
		}
		return d.table.Free(kind, h)
	})
	d.live.Add(-1)
	if freeErr != nil {
		core.LogError("%s %q: descriptor free: %s", subject, label, freeErr)
		panic(fmt.Sprintf("%s %q: descriptor free: %s", subject, label, freeErr))
	}
}

func (d *Device) allocateDescriptor(kind DescriptorKind, res DescriptorResource) (core.Handle, error) {
	var h core.Handle
	err := d.locks.SafeCall(ResourceManagement, func() error {
		var err error
		h, err = d.table.Allocate(kind, res)
		return err
	})
	return h, err
}

func (d *Device) CreateBuffer(desc BufferDesc) (*Buffer, error) {
	desc.Label = defaultLabel("buffer", desc.Label)
	if desc.Size == 0 {
		return nil, &CreationError{Subject: "buffer", Message: "size must be greater than zero"}
	}
	native, err := d.driver.CreateBuffer(&desc)
	if err != nil {
		return nil, err
	}

	b := &Buffer{native: native, desc: desc}
	if desc.GPUVisible() {
		b.handle, err = d.allocateDescriptor(DescriptorBuffer, DescriptorResource{Buffer: native})
		if err != nil {
			// never reached the device, safe to destroy now
			native.Destroy()
			return nil, err
		}
	}
	b.init(d, desc.Label)
	d.track()
	return b, nil
}

// CreateTexture publishes sampled or storage textures in the bindless table.
// A texture created with desc.Sampler keeps a reference to it until released.
func (d *Device) CreateTexture(desc TextureDesc) (*Texture, error) {
	desc.Label = defaultLabel("texture", desc.Label)
	if desc.Width == 0 || desc.Height == 0 {
		return nil, &CreationError{Subject: "texture", Message: "extent must be non-zero"}
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	native, err := d.driver.CreateTexture(&desc)
	if err != nil {
		return nil, err
	}

	t := &Texture{native: native, desc: desc, kind: DescriptorTexture}
	res := DescriptorResource{Texture: native}
	if desc.Sampler != nil {
		t.kind = DescriptorCombinedImageSampler
		res.Sampler = desc.Sampler.native
	}
	if desc.GPUVisible() {
		t.handle, err = d.allocateDescriptor(t.kind, res)
		if err != nil {
			native.Destroy()
			return nil, err
		}
	}
	if desc.Sampler != nil {
		t.sampler = desc.Sampler.Retain()
	}
	t.init(d, desc.Label)
	d.track()
	return t, nil
}

func (d *Device) CreateSampler(desc SamplerDesc) (*Sampler, error) {
	desc.Label = defaultLabel("sampler", desc.Label)
	native, err := d.driver.CreateSampler(&desc)
	if err != nil {
		return nil, err
	}
	s := &Sampler{native: native}
	s.handle, err = d.allocateDescriptor(DescriptorSampler, DescriptorResource{Sampler: native})
	if err != nil {
		native.Destroy()
		return nil, err
	}
	s.init(d, desc.Label)
	d.track()
	return s, nil
}

func (d *Device) CreateShaderModule(desc ShaderModuleDesc) (*ShaderModule, error) {
	desc.Label = defaultLabel("shader", desc.Label)
	native, err := d.driver.CreateShaderModule(&desc)
	if err != nil {
		return nil, err
	}
	m := &ShaderModule{native: native}
	m.init(d, desc.Label)
	d.track()
	return m, nil
}

func (d *Device) CreatePipelineLayout(desc PipelineLayoutDesc) (*PipelineLayout, error) {
	desc.Label = defaultLabel("pipeline-layout", desc.Label)
	var total uint32
	for _, pc := range desc.PushConstants {
		if end := pc.Offset + pc.Size; end > total {
			total = end
		}
	}
	if limit := d.driver.Limits().MaxPushConstantSize; limit > 0 && total > limit {
		return nil, &CreationError{Subject: "pipeline layout", Message: fmt.Sprintf("push constants need %d bytes, device allows %d", total, limit)}
	}
	native, err := d.driver.CreatePipelineLayout(&desc)
	if err != nil {
		return nil, err
	}
	l := &PipelineLayout{native: native, desc: desc}
	l.init(d, desc.Label)
	d.track()
	return l, nil
}

func (d *Device) CreateGraphicsPipeline(desc GraphicsPipelineDesc) (*Pipeline, error) {
	desc.Label = defaultLabel("graphics-pipeline", desc.Label)
	if desc.Layout == nil {
		return nil, &CreationError{Subject: "graphics pipeline", Message: "missing pipeline layout"}
	}
	if desc.Vertex.Module == nil {
		return nil, &CreationError{Subject: "graphics pipeline", Message: "missing vertex shader"}
	}
	if len(desc.ColorFormats) == 0 && desc.DepthFormat == FormatUndefined {
		return nil, &CreationError{Subject: "graphics pipeline", Message: "no color or depth attachments"}
	}
	native, err := d.driver.CreateGraphicsPipeline(&desc)
	if err != nil {
		return nil, err
	}
	return d.newPipeline(native, desc.Label, desc.Layout), nil
}

func (d *Device) CreateComputePipeline(desc ComputePipelineDesc) (*Pipeline, error) {
	desc.Label = defaultLabel("compute-pipeline", desc.Label)
	if desc.Layout == nil || desc.Compute.Module == nil {
		return nil, &CreationError{Subject: "compute pipeline", Message: "missing layout or compute shader"}
	}
	native, err := d.driver.CreateComputePipeline(&desc)
	if err != nil {
		return nil, err
	}
	return d.newPipeline(native, desc.Label, desc.Layout), nil
}

func (d *Device) newPipeline(native NativePipeline, label string, layout *PipelineLayout) *Pipeline {
	p := &Pipeline{native: native, layout: layout.Retain()}
	p.init(d, label)
	d.track()
	return p
}

// CreateFrameRing creates the presentation surface and the N frame slots
// driving it. A device drives a single ring.
func (d *Device) CreateFrameRing(desc SurfaceDesc) (*FrameRing, error) {
	if d.ring != nil {
		return nil, errors.New("device already has a frame ring")
	}
	desc.Label = defaultLabel("surface", desc.Label)
	surface, err := d.driver.CreateSurface(&desc)
	if err != nil {
		return nil, err
	}
	ring, err := NewFrameRing(d.driver, surface, d.table, d.queue, d.locks, FrameRingConfig{
		FramesInFlight: d.cfg.FramesInFlight,
		AcquireTimeout: d.cfg.AcquireTimeout,
	})
	if err != nil {
		surface.Destroy()
		return nil, err
	}
	d.ring = ring
	return ring, nil
}

// WaitIdle blocks until the device has finished all submitted work and
// destroys everything that was waiting on it.
func (d *Device) WaitIdle() error {
	if err := d.driver.WaitIdle(); err != nil {
		return &RuntimeError{Op: "device idle wait", Err: err}
	}
	return d.locks.SafeCall(ResourceManagement, func() error {
		_, err := d.queue.Drain()
		return err
	})
}

func (d *Device) Stats() DeviceStats {
	s := DeviceStats{
		LiveObjects: d.live.Load(),
		Destroyed:   d.destroyed.Load(),
	}
	if d.ring != nil {
		s.Frames = d.ring.Stats()
	}
	_ = d.locks.SafeCall(ResourceManagement, func() error {
		s.PendingDestruction = d.queue.Len()
		for k := DescriptorKind(0); k < NumDescriptorKinds; k++ {
			s.Descriptors[k] = d.table.Len(k)
		}
		return nil
	})
	return s
}

// Destroy tears the device down: the ring goes to the destruction queue, the
// queue is flushed after an idle wait, then the driver is destroyed. If the
// idle wait fails nothing is destroyed and the error is returned.
func (d *Device) Destroy(ctx context.Context) error {
	var frames FrameStats
	if d.ring != nil {
		frames = d.ring.Stats()
		d.ring.Destroy()
		d.ring = nil
	}
	if err := d.locks.SafeCall(ResourceManagement, func() error {
		return d.queue.Flush(ctx)
	}); err != nil {
		core.LogError("device teardown aborted: %s", err)
		return err
	}

	stats := d.Stats()
	if stats.LiveObjects > 0 {
		core.LogWarn("%d resources were never released", stats.LiveObjects)
	}
	core.LogInfo("device destroyed: %d frames presented, %d rebuilds, %d objects destroyed",
		frames.Presented, frames.Rebuilds, stats.Destroyed)
	d.driver.Destroy()
	return nil
}
