package rhi

import (
	"fmt"
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// resource is the shared part of every wrapper: a label and a reference
// count starting at one. The last Release hands the native object to the
// device for deferred destruction.
type resource struct {
	device *Device
	label  string
	refs   atomic.Int32
}

func (r *resource) init(d *Device, label string) {
	r.device = d
	r.label = label
	r.refs.Store(1)
}

func (r *resource) Label() string { return r.label }

func (r *resource) RefCount() int32 { return r.refs.Load() }

func (r *resource) retain() {
	if r.refs.Add(1) <= 1 {
		panic(fmt.Sprintf("retain of released resource %q", r.label))
	}
}

// release reports whether this call dropped the last reference.
func (r *resource) release() bool {
	n := r.refs.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("resource %q released more times than retained", r.label))
	}
	return n == 0
}

type Buffer struct {
	resource
	native NativeBuffer
	desc   BufferDesc
	handle core.Handle
}

func (b *Buffer) Native() NativeBuffer { return b.native }
func (b *Buffer) Desc() BufferDesc     { return b.desc }

// Handle is the bindless handle, NilHandle unless the buffer is GPU visible.
func (b *Buffer) Handle() core.Handle { return b.handle }

// Index is what shaders use to address the buffer in the heap.
func (b *Buffer) Index() uint32 { return b.handle.Slot() }

func (b *Buffer) Size() uint64 { return b.native.Size() }

// Write copies data into a host-visible buffer. The caller is responsible for
// not overwriting memory a frame in flight still reads.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if !b.desc.Location.HostVisible() {
		return fmt.Errorf("buffer %q is not host visible", b.label)
	}
	if offset+uint64(len(data)) > b.native.Size() {
		return fmt.Errorf("write of %d bytes at %d overflows buffer %q (%d bytes)", len(data), offset, b.label, b.native.Size())
	}
	return b.native.Write(offset, data)
}

func (b *Buffer) Retain() *Buffer {
	b.retain()
	return b
}

func (b *Buffer) Release() {
	if b.release() {
		b.device.retire("buffer", b.label, DescriptorBuffer, b.handle, b.native)
	}
}

type Texture struct {
	resource
	native  NativeTexture
	desc    TextureDesc
	kind    DescriptorKind
	handle  core.Handle
	sampler *Sampler
}

func (t *Texture) Native() NativeTexture { return t.native }
func (t *Texture) Desc() TextureDesc     { return t.desc }
func (t *Texture) Handle() core.Handle   { return t.handle }
func (t *Texture) Index() uint32         { return t.handle.Slot() }
func (t *Texture) Extent() Extent2D      { return t.native.Extent() }
func (t *Texture) Format() Format        { return t.native.Format() }

// DescriptorKind is DescriptorCombinedImageSampler for textures created with
// a sampler, DescriptorTexture otherwise.
func (t *Texture) DescriptorKind() DescriptorKind { return t.kind }

func (t *Texture) Retain() *Texture {
	t.retain()
	return t
}

func (t *Texture) Release() {
	if t.release() {
		t.device.retire("texture", t.label, t.kind, t.handle, t.native)
		if t.sampler != nil {
			t.sampler.Release()
		}
	}
}

type Sampler struct {
	resource
	native NativeSampler
	handle core.Handle
}

func (s *Sampler) Native() NativeSampler { return s.native }
func (s *Sampler) Handle() core.Handle   { return s.handle }
func (s *Sampler) Index() uint32         { return s.handle.Slot() }

func (s *Sampler) Retain() *Sampler {
	s.retain()
	return s
}

func (s *Sampler) Release() {
	if s.release() {
		s.device.retire("sampler", s.label, DescriptorSampler, s.handle, s.native)
	}
}

type ShaderModule struct {
	resource
	native NativeShaderModule
}

func (m *ShaderModule) Native() NativeShaderModule { return m.native }
func (m *ShaderModule) Stage() ShaderStage         { return m.native.Stage() }

func (m *ShaderModule) Retain() *ShaderModule {
	m.retain()
	return m
}

func (m *ShaderModule) Release() {
	if m.release() {
		m.device.retire("shader module", m.label, 0, core.NilHandle, m.native)
	}
}

type PipelineLayout struct {
	resource
	native NativePipelineLayout
	desc   PipelineLayoutDesc
}

func (l *PipelineLayout) Native() NativePipelineLayout { return l.native }
func (l *PipelineLayout) Bindless() bool               { return l.desc.Bindless }

func (l *PipelineLayout) Retain() *PipelineLayout {
	l.retain()
	return l
}

func (l *PipelineLayout) Release() {
	if l.release() {
		l.device.retire("pipeline layout", l.label, 0, core.NilHandle, l.native)
	}
}

// Pipeline keeps its layout alive; shader modules may be released once the
// pipeline exists.
type Pipeline struct {
	resource
	native NativePipeline
	layout *PipelineLayout
}

func (p *Pipeline) Native() NativePipeline  { return p.native }
func (p *Pipeline) Layout() *PipelineLayout { return p.layout }
func (p *Pipeline) BindPoint() BindPoint    { return p.native.BindPoint() }

func (p *Pipeline) Retain() *Pipeline {
	p.retain()
	return p
}

func (p *Pipeline) Release() {
	if p.release() {
		p.device.retire("pipeline", p.label, 0, core.NilHandle, p.native)
		p.layout.Release()
	}
}

// Bind binds the pipeline and, for bindless layouts, the descriptor heap.
func (p *Pipeline) Bind(rec CommandRecorder) {
	rec.BindPipeline(p.native)
	if p.layout.Bindless() {
		rec.BindDescriptorHeap(p.layout.native, p.native.BindPoint())
	}
}
