package core

import (
	"fmt"
	"math"
	"math/bits"
)

// Handle packs a slot index (low 32 bits) and a version (high 32 bits) into
// one word. Version 0 is never issued, so the zero Handle is always invalid.
type Handle uint64

const (
	handleSlotBits = 32
	handleSlotMask = (1 << handleSlotBits) - 1

	MaxHandleSlot    uint32 = math.MaxUint32
	MaxHandleVersion uint32 = math.MaxUint32
)

const NilHandle Handle = 0

func MakeHandle(slot, version uint32) Handle {
	return Handle(uint64(version)<<handleSlotBits | uint64(slot))
}

func (h Handle) Slot() uint32 {
	return uint32(uint64(h) & handleSlotMask)
}

func (h Handle) Version() uint32 {
	return uint32(uint64(h) >> handleSlotBits)
}

func (h Handle) IsNil() bool {
	return h.Version() == 0
}

// WithSlot swaps the slot half and leaves the version half untouched.
func (h Handle) WithSlot(slot uint32) Handle {
	return MakeHandle(slot, h.Version())
}

func (h Handle) String() string {
	if h.IsNil() {
		return "handle(nil)"
	}
	return fmt.Sprintf("handle(%d@v%d)", h.Slot(), h.Version())
}

// HandleArena issues generational handles over a fixed number of slots. It
// keeps a version per slot and an occupancy bitset; callers keep their own
// dense arrays indexed by Handle.Slot().
type HandleArena struct {
	versions []uint32
	occupied []uint64
	live     int
}

func NewHandleArena(capacity uint32) *HandleArena {
	return &HandleArena{
		versions: make([]uint32, capacity),
		occupied: make([]uint64, (uint64(capacity)+63)/64),
	}
}

func (a *HandleArena) Capacity() uint32 {
	return uint32(len(a.versions))
}

// Len returns the number of live handles.
func (a *HandleArena) Len() int {
	return a.live
}

// Allocate takes the lowest free slot.
func (a *HandleArena) Allocate() (Handle, error) {
	for w, word := range a.occupied {
		if word == math.MaxUint64 {
			continue
		}
		slot := uint32(w*64 + bits.TrailingZeros64(^word))
		if slot >= a.Capacity() {
			break
		}
		return a.AllocateSlot(slot)
	}
	return NilHandle, fmt.Errorf("%w: all %d slots in use", ErrResourceExhausted, a.Capacity())
}

// AllocateSlot bumps the version of a free slot and marks it occupied.
func (a *HandleArena) AllocateSlot(slot uint32) (Handle, error) {
	if slot >= a.Capacity() {
		return NilHandle, fmt.Errorf("%w: slot %d out of range (capacity=%d)", ErrInvalidHandle, slot, a.Capacity())
	}
	if a.isOccupied(slot) {
		return NilHandle, fmt.Errorf("%w: slot %d", ErrSlotOccupied, slot)
	}
	v := a.nextVersion(slot)
	a.occupied[slot/64] |= 1 << (slot % 64)
	a.live++
	return MakeHandle(slot, v), nil
}

// Validate reports ErrInvalidHandle for handles that could never have been
// issued by this arena and ErrStaleHandle for handles whose slot has since
// been recycled.
func (a *HandleArena) Validate(h Handle) error {
	if h.IsNil() {
		return fmt.Errorf("%w: nil handle", ErrInvalidHandle)
	}
	slot := h.Slot()
	if slot >= a.Capacity() {
		return fmt.Errorf("%w: %s out of range (capacity=%d)", ErrInvalidHandle, h, a.Capacity())
	}
	if !a.isOccupied(slot) || a.versions[slot] != h.Version() {
		return fmt.Errorf("%w: %s (current version %d)", ErrStaleHandle, h, a.versions[slot])
	}
	return nil
}

func (a *HandleArena) IsValid(h Handle) bool {
	return a.Validate(h) == nil
}

// Recycle frees the slot and bumps its version, so h and every copy of it are
// permanently stale.
func (a *HandleArena) Recycle(h Handle) error {
	if err := a.Validate(h); err != nil {
		return err
	}
	slot := h.Slot()
	a.nextVersion(slot)
	a.occupied[slot/64] &^= 1 << (slot % 64)
	a.live--
	return nil
}

func (a *HandleArena) isOccupied(slot uint32) bool {
	return a.occupied[slot/64]&(1<<(slot%64)) != 0
}

// versions wrap; 0 is skipped because it marks the nil handle.
func (a *HandleArena) nextVersion(slot uint32) uint32 {
	v := a.versions[slot] + 1
	if v == 0 {
		v = 1
	}
	a.versions[slot] = v
	return v
}
