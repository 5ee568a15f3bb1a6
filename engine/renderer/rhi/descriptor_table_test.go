package rhi_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

func newTexture(t *testing.T, d *headless.Driver, label string) rhi.NativeTexture {
	t.Helper()
	tex, err := d.CreateTexture(&rhi.TextureDesc{Label: label, Width: 4, Height: 4, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageSampled})
	require.NoError(t, err)
	return tex
}

func TestDescriptorTableRejectsBadCapacity(t *testing.T) {
	d := headless.New()
	for _, c := range []uint32{0, 3, 6, 100, 1<<16 + 1} {
		_, err := rhi.NewDescriptorTable(d.DescriptorHeap(), c)
		assert.ErrorIs(t, err, core.ErrInvalidCapacity, "capacity %d", c)
	}
	table, err := rhi.NewDescriptorTable(d.DescriptorHeap(), 8)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), table.Capacity(rhi.DescriptorTexture))
}

func TestDescriptorTableAllocatesLowestSlotAndWritesHeap(t *testing.T) {
	d := headless.New()
	table, err := rhi.NewDescriptorTable(d.DescriptorHeap(), 4)
	require.NoError(t, err)

	a := newTexture(t, d, "a")
	b := newTexture(t, d, "b")

	ha, err := table.Allocate(rhi.DescriptorTexture, rhi.DescriptorResource{Texture: a})
	require.NoError(t, err)
	hb, err := table.Allocate(rhi.DescriptorTexture, rhi.DescriptorResource{Texture: b})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), ha.Slot())
	assert.Equal(t, uint32(1), hb.Slot())

	_, ok := d.Heap().Entry(rhi.DescriptorTexture, 0)
	assert.False(t, ok, "writes are batched until Flush")
	assert.Equal(t, 2, table.PendingWrites())

	require.NoError(t, table.Flush())
	entry, ok := d.Heap().Entry(rhi.DescriptorTexture, 1)
	require.True(t, ok)
	assert.Equal(t, b, entry.Texture)
	assert.Zero(t, table.PendingWrites())

	require.NoError(t, table.Free(rhi.DescriptorTexture, ha))
	hc, err := table.Allocate(rhi.DescriptorTexture, rhi.DescriptorResource{Texture: b})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), hc.Slot(), "freed slot is reused first")
	assert.NotEqual(t, ha.Version(), hc.Version())
}

func TestDescriptorTableStaleHandle(t *testing.T) {
	d := headless.New()
	table, err := rhi.NewDescriptorTable(d.DescriptorHeap(), 4)
	require.NoError(t, err)
	tex := newTexture(t, d, "t")

	h, err := table.Allocate(rhi.DescriptorTexture, rhi.DescriptorResource{Texture: tex})
	require.NoError(t, err)
	require.NoError(t, table.Free(rhi.DescriptorTexture, h))

	_, err = table.Lookup(rhi.DescriptorTexture, h)
	assert.ErrorIs(t, err, core.ErrStaleHandle)
	assert.ErrorIs(t, table.Update(rhi.DescriptorTexture, h, rhi.DescriptorResource{Texture: tex}), core.ErrStaleHandle)
	assert.ErrorIs(t, table.Free(rhi.DescriptorTexture, h), core.ErrStaleHandle)

	_, err = table.Lookup(rhi.DescriptorTexture, core.NilHandle)
	assert.ErrorIs(t, err, core.ErrInvalidHandle)
}

func TestDescriptorTableExhaustionLeavesSlotsIntact(t *testing.T) {
	const capacity = 8
	d := headless.New()
	table, err := rhi.NewDescriptorTable(d.DescriptorHeap(), capacity)
	require.NoError(t, err)

	handles := make([]core.Handle, capacity)
	textures := make([]rhi.NativeTexture, capacity)
	for i := range handles {
		textures[i] = newTexture(t, d, "t")
		handles[i], err = table.Allocate(rhi.DescriptorTexture, rhi.DescriptorResource{Texture: textures[i]})
		require.NoError(t, err)
	}
	require.NoError(t, table.Flush())
	writes := d.Heap().Writes()

	_, err = table.Allocate(rhi.DescriptorTexture, rhi.DescriptorResource{Texture: newTexture(t, d, "extra")})
	require.ErrorIs(t, err, core.ErrResourceExhausted)

	assert.Equal(t, capacity, table.Len(rhi.DescriptorTexture))
	assert.Zero(t, table.PendingWrites())
	require.NoError(t, table.Flush())
	assert.Equal(t, writes, d.Heap().Writes())
	for i, h := range handles {
		res, err := table.Lookup(rhi.DescriptorTexture, h)
		require.NoError(t, err)
		assert.Equal(t, textures[i], res.Texture)
	}

	// other kinds have their own capacity
	_, err = table.Allocate(rhi.DescriptorBuffer, rhi.DescriptorResource{Texture: textures[0]})
	assert.Error(t, err, "kind and resource must match")
}

func TestDescriptorTableFreeDropsPendingWrite(t *testing.T) {
	d := headless.New()
	table, err := rhi.NewDescriptorTable(d.DescriptorHeap(), 4)
	require.NoError(t, err)

	h, err := table.Allocate(rhi.DescriptorTexture, rhi.DescriptorResource{Texture: newTexture(t, d, "short-lived")})
	require.NoError(t, err)
	require.NoError(t, table.Free(rhi.DescriptorTexture, h))
	assert.Equal(t, 1, table.PendingWrites(), "only the clearing write is left")
	require.NoError(t, table.Flush())

	_, ok := d.Heap().Entry(rhi.DescriptorTexture, h.Slot())
	assert.False(t, ok)
}

func TestDescriptorTableFreeClearsFlushedSlot(t *testing.T) {
	d := headless.New()
	table, err := rhi.NewDescriptorTable(d.DescriptorHeap(), 4)
	require.NoError(t, err)

	h, err := table.Allocate(rhi.DescriptorTexture, rhi.DescriptorResource{Texture: newTexture(t, d, "t")})
	require.NoError(t, err)
	require.NoError(t, table.Flush())
	_, ok := d.Heap().Entry(rhi.DescriptorTexture, h.Slot())
	require.True(t, ok)

	require.NoError(t, table.Free(rhi.DescriptorTexture, h))
	require.NoError(t, table.Flush())
	_, ok = d.Heap().Entry(rhi.DescriptorTexture, h.Slot())
	assert.False(t, ok)
}

func TestDescriptorTableUpdateRepointsSlot(t *testing.T) {
	d := headless.New()
	table, err := rhi.NewDescriptorTable(d.DescriptorHeap(), 4)
	require.NoError(t, err)

	first, err := d.CreateBuffer(&rhi.BufferDesc{Label: "camera-0", Size: 64, Usage: rhi.BufferUsageUniform, Location: rhi.MemoryHostUpload})
	require.NoError(t, err)
	second, err := d.CreateBuffer(&rhi.BufferDesc{Label: "camera-1", Size: 64, Usage: rhi.BufferUsageUniform, Location: rhi.MemoryHostUpload})
	require.NoError(t, err)

	h, err := table.Allocate(rhi.DescriptorBuffer, rhi.DescriptorResource{Buffer: first})
	require.NoError(t, err)
	require.NoError(t, table.Update(rhi.DescriptorBuffer, h, rhi.DescriptorResource{Buffer: second}))
	require.NoError(t, table.Flush())

	entry, ok := d.Heap().Entry(rhi.DescriptorBuffer, h.Slot())
	require.True(t, ok)
	assert.Equal(t, second, entry.Buffer)
}

type failingHeap struct{}

func (failingHeap) Destroy() {}
func (failingHeap) Write([]rhi.DescriptorWrite) error {
	return errors.New("out of host memory")
}

func TestDescriptorTableFlushErrorKeepsWrites(t *testing.T) {
	d := headless.New()
	table, err := rhi.NewDescriptorTable(failingHeap{}, 4)
	require.NoError(t, err)
	_, err = table.Allocate(rhi.DescriptorTexture, rhi.DescriptorResource{Texture: newTexture(t, d, "t")})
	require.NoError(t, err)

	err = table.Flush()
	var rerr *rhi.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 1, table.PendingWrites())
}
