package headless

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

const spirvMagic = 0x07230203

// object is the bookkeeping every headless object carries: identity, the
// last timeline value that referenced it and whether it was destroyed.
type object struct {
	driver    *Driver
	kind      string
	label     string
	destroyed atomic.Bool
	lastUse   atomic.Uint64
}

func (o *object) init(d *Driver, kind, label string) {
	o.driver = d
	o.kind = kind
	o.label = label
}

func (o *object) base() *object { return o }

func (o *object) Label() string { return o.label }

func (o *object) Destroyed() bool { return o.destroyed.Load() }

// Destroy panics on a second call: destroying twice is a lifetime bug in the
// caller, never something to tolerate.
func (o *object) Destroy() {
	if o.destroyed.Swap(true) {
		panic(fmt.Sprintf("%s %q destroyed twice", o.kind, o.label))
	}
	o.driver.forget(o)
}

func (o *object) String() string {
	return fmt.Sprintf("%s %q", o.kind, o.label)
}

type tracked interface {
	base() *object
}

type Buffer struct {
	object
	location rhi.MemoryLocation
	mu       sync.Mutex
	data     []byte
}

func (b *Buffer) Size() uint64 {
	return uint64(len(b.data))
}

func (b *Buffer) Write(offset uint64, data []byte) error {
	if !b.location.HostVisible() {
		return fmt.Errorf("buffer %q is device local", b.label)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("write out of range for buffer %q", b.label)
	}
	b.mu.Lock()
	copy(b.data[offset:], data)
	b.mu.Unlock()
	return nil
}

// Bytes returns a copy of the buffer contents.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

type Texture struct {
	object
	extent rhi.Extent2D
	format rhi.Format
	// swapchain images are owned by their surface
	swapchain bool
}

func (t *Texture) Extent() rhi.Extent2D { return t.extent }
func (t *Texture) Format() rhi.Format   { return t.format }

type Sampler struct {
	object
	desc rhi.SamplerDesc
}

type ShaderModule struct {
	object
	stage rhi.ShaderStage
	code  []byte
}

func (m *ShaderModule) Stage() rhi.ShaderStage { return m.stage }

type PipelineLayout struct {
	object
	desc rhi.PipelineLayoutDesc
}

type Pipeline struct {
	object
	point rhi.BindPoint
}

func (p *Pipeline) BindPoint() rhi.BindPoint { return p.point }

// Semaphore is a binary semaphore: signaled by one operation, consumed by
// exactly one wait.
type Semaphore struct {
	object
	signaled atomic.Bool
}

func (s *Semaphore) Signaled() bool { return s.signaled.Load() }

func (s *Semaphore) signal() error {
	if s.signaled.Swap(true) {
		return fmt.Errorf("semaphore %q signaled twice without a wait", s.label)
	}
	return nil
}

func (s *Semaphore) consume() error {
	if !s.signaled.Swap(false) {
		return fmt.Errorf("wait on semaphore %q that has no pending signal", s.label)
	}
	return nil
}

// Heap is the in-memory descriptor heap.
type Heap struct {
	object
	capacity uint32

	mu      sync.Mutex
	entries [rhi.NumDescriptorKinds]map[uint32]rhi.DescriptorResource
	writes  int
}

func newHeap(d *Driver, capacity uint32) *Heap {
	h := &Heap{capacity: capacity}
	h.init(d, "descriptor heap", "bindless-heap")
	for i := range h.entries {
		h.entries[i] = make(map[uint32]rhi.DescriptorResource)
	}
	return h
}

func (h *Heap) Write(writes []rhi.DescriptorWrite) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range writes {
		if w.Slot >= h.capacity {
			return fmt.Errorf("descriptor slot %d out of range (%d)", w.Slot, h.capacity)
		}
	}
	for _, w := range writes {
		if w.Resource.IsEmpty() {
			delete(h.entries[w.Kind], w.Slot)
		} else {
			h.entries[w.Kind][w.Slot] = w.Resource
		}
		h.writes++
	}
	return nil
}

func (h *Heap) Entry(kind rhi.DescriptorKind, slot uint32) (rhi.DescriptorResource, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.entries[kind][slot]
	return r, ok
}

// Writes counts individual descriptor writes applied so far.
func (h *Heap) Writes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes
}

func (h *Heap) resident() []*object {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*object
	for _, kind := range h.entries {
		for _, r := range kind {
			for _, o := range []interface{}{r.Buffer, r.Texture, r.Sampler} {
				if t, ok := o.(tracked); ok && !t.base().Destroyed() {
					out = append(out, t.base())
				}
			}
		}
	}
	return out
}

// loadShaderCode returns the bytecode of desc, reading Path when no Code is
// given, and checks it looks like SPIR-V.
func loadShaderCode(desc *rhi.ShaderModuleDesc) ([]byte, error) {
	code := desc.Code
	if len(code) == 0 && desc.Path != "" {
		var err error
		if code, err = os.ReadFile(desc.Path); err != nil {
			return nil, err
		}
	}
	if len(code) < 4 || len(code)%4 != 0 {
		return nil, fmt.Errorf("bytecode size %d is not a multiple of 4", len(code))
	}
	if binary.LittleEndian.Uint32(code) != spirvMagic {
		return nil, fmt.Errorf("bytecode does not start with the SPIR-V magic number")
	}
	return code, nil
}
