package rhi

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/math"
)

type descriptorSet struct {
	arena *core.HandleArena
	// dense, indexed by slot; parallel to the arena's version array
	slots []DescriptorResource
}

// DescriptorTable maps generational handles to slots of the bindless heap,
// one fixed-capacity set per DescriptorKind. Shaders address resources by
// Handle.Slot().
//
// Heap writes are batched and applied by Flush, which the frame ring runs
// before every submit.
type DescriptorTable struct {
	heap    DescriptorHeap
	sets    [NumDescriptorKinds]descriptorSet
	pending []DescriptorWrite
}

func NewDescriptorTable(heap DescriptorHeap, capacity uint32) (*DescriptorTable, error) {
	if !math.IsPowerOfTwo(capacity) {
		return nil, fmt.Errorf("%w: got %d", core.ErrInvalidCapacity, capacity)
	}
	t := &DescriptorTable{heap: heap}
	for i := range t.sets {
		t.sets[i] = descriptorSet{
			arena: core.NewHandleArena(capacity),
			slots: make([]DescriptorResource, capacity),
		}
	}
	return t, nil
}

func (t *DescriptorTable) Capacity(kind DescriptorKind) uint32 {
	return t.sets[kind].arena.Capacity()
}

func (t *DescriptorTable) Len(kind DescriptorKind) int {
	return t.sets[kind].arena.Len()
}

// Allocate takes the lowest free slot of kind and queues the heap write. A
// full table returns core.ErrResourceExhausted and leaves every existing slot
// untouched.
func (t *DescriptorTable) Allocate(kind DescriptorKind, res DescriptorResource) (core.Handle, error) {
	if !res.matches(kind) {
		return core.NilHandle, fmt.Errorf("descriptor of kind %s needs a matching resource", kind)
	}
	set := &t.sets[kind]
	h, err := set.arena.Allocate()
	if err != nil {
		return core.NilHandle, fmt.Errorf("%s descriptors: %w", kind, err)
	}
	set.slots[h.Slot()] = res
	t.pending = append(t.pending, DescriptorWrite{Kind: kind, Slot: h.Slot(), Resource: res})
	return h, nil
}

// Update re-points a live slot, e.g. when a buffer's backing memory changes.
func (t *DescriptorTable) Update(kind DescriptorKind, h core.Handle, res DescriptorResource) error {
	if !res.matches(kind) {
		return fmt.Errorf("descriptor of kind %s needs a matching resource", kind)
	}
	set := &t.sets[kind]
	if err := set.arena.Validate(h); err != nil {
		return err
	}
	set.slots[h.Slot()] = res
	t.pending = append(t.pending, DescriptorWrite{Kind: kind, Slot: h.Slot(), Resource: res})
	return nil
}

// Free releases the slot immediately. Recorded command buffers captured the
// index, not the slot contents, so no deferral is needed. Unflushed writes
// for the slot are replaced by a clearing write (an empty resource) so a
// destroyed resource never stays reachable through the heap.
func (t *DescriptorTable) Free(kind DescriptorKind, h core.Handle) error {
	set := &t.sets[kind]
	if err := set.arena.Recycle(h); err != nil {
		return err
	}
	set.slots[h.Slot()] = DescriptorResource{}

	kept := t.pending[:0]
	for _, w := range t.pending {
		if w.Kind == kind && w.Slot == h.Slot() {
			continue
		}
		kept = append(kept, w)
	}
	t.pending = append(kept, DescriptorWrite{Kind: kind, Slot: h.Slot()})
	return nil
}

// Lookup returns core.ErrStaleHandle for handles whose slot was recycled.
func (t *DescriptorTable) Lookup(kind DescriptorKind, h core.Handle) (DescriptorResource, error) {
	set := &t.sets[kind]
	if err := set.arena.Validate(h); err != nil {
		return DescriptorResource{}, err
	}
	return set.slots[h.Slot()], nil
}

func (t *DescriptorTable) PendingWrites() int {
	return len(t.pending)
}

// Flush applies every queued write to the heap in one batch.
func (t *DescriptorTable) Flush() error {
	if len(t.pending) == 0 {
		return nil
	}
	if err := t.heap.Write(t.pending); err != nil {
		return &RuntimeError{Op: "descriptor heap update", Err: err}
	}
	t.pending = t.pending[:0]
	return nil
}
