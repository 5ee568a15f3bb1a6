package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlePackRoundTrip(t *testing.T) {
	slots := []uint32{0, 1, 7, 1 << 15, 1<<16 - 1, MaxHandleSlot}
	versions := []uint32{1, 2, 255, 1 << 20, MaxHandleVersion}
	for _, s := range slots {
		for _, v := range versions {
			h := MakeHandle(s, v)
			assert.Equal(t, s, h.Slot())
			assert.Equal(t, v, h.Version())
			assert.False(t, h.IsNil())
		}
	}
	assert.True(t, NilHandle.IsNil())
}

func TestHandleWithSlotKeepsVersion(t *testing.T) {
	h := MakeHandle(12, MaxHandleVersion)
	moved := h.WithSlot(MaxHandleSlot)
	assert.Equal(t, MaxHandleVersion, moved.Version())
	assert.Equal(t, MaxHandleSlot, moved.Slot())

	back := moved.WithSlot(12)
	assert.Equal(t, h, back)
}

func TestArenaAllocatesLowestFreeSlot(t *testing.T) {
	a := NewHandleArena(130)

	var hs []Handle
	for i := 0; i < 70; i++ {
		h, err := a.Allocate()
		require.NoError(t, err)
		assert.Equal(t, uint32(i), h.Slot())
		hs = append(hs, h)
	}
	require.NoError(t, a.Recycle(hs[3]))
	require.NoError(t, a.Recycle(hs[65]))

	h, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), h.Slot())

	h, err = a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint32(65), h.Slot())

	h, err = a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint32(70), h.Slot())
	assert.Equal(t, 71, a.Len())
}

func TestArenaStaleHandleAfterReuse(t *testing.T) {
	a := NewHandleArena(4)

	old, err := a.AllocateSlot(2)
	require.NoError(t, err)
	assert.True(t, a.IsValid(old))

	require.NoError(t, a.Recycle(old))
	assert.ErrorIs(t, a.Validate(old), ErrStaleHandle)

	fresh, err := a.AllocateSlot(2)
	require.NoError(t, err)
	assert.Equal(t, old.Slot(), fresh.Slot())
	assert.NotEqual(t, old.Version(), fresh.Version())
	assert.True(t, a.IsValid(fresh))
	assert.ErrorIs(t, a.Validate(old), ErrStaleHandle)

	// recycling through a stale copy must not free the new occupant
	assert.ErrorIs(t, a.Recycle(old), ErrStaleHandle)
	assert.True(t, a.IsValid(fresh))
}

func TestArenaManyGenerations(t *testing.T) {
	a := NewHandleArena(1)
	var seen []Handle
	for i := 0; i < 100; i++ {
		h, err := a.Allocate()
		require.NoError(t, err)
		for _, prev := range seen {
			assert.False(t, a.IsValid(prev))
		}
		assert.True(t, a.IsValid(h))
		require.NoError(t, a.Recycle(h))
		seen = append(seen, h)
	}
}

func TestArenaRejectsInvalidHandles(t *testing.T) {
	a := NewHandleArena(8)
	assert.ErrorIs(t, a.Validate(NilHandle), ErrInvalidHandle)
	assert.ErrorIs(t, a.Validate(MakeHandle(8, 1)), ErrInvalidHandle)
	assert.ErrorIs(t, a.Validate(MakeHandle(0, 1)), ErrStaleHandle)

	_, err := a.AllocateSlot(9)
	assert.ErrorIs(t, err, ErrInvalidHandle)

	_, err = a.AllocateSlot(1)
	require.NoError(t, err)
	_, err = a.AllocateSlot(1)
	assert.ErrorIs(t, err, ErrSlotOccupied)
}

func TestArenaExhaustion(t *testing.T) {
	a := NewHandleArena(64)
	for i := 0; i < 64; i++ {
		_, err := a.Allocate()
		require.NoError(t, err)
	}
	_, err := a.Allocate()
	assert.ErrorIs(t, err, ErrResourceExhausted)
	assert.Equal(t, 64, a.Len())
}
