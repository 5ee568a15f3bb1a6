package rhi_test

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

func checker(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.NRGBA{R: 255, A: 255})
			} else {
				img.Set(x, y, color.NRGBA{B: 255, A: 255})
			}
		}
	}
	return img
}

func TestTextureDataFromImageKeepsSize(t *testing.T) {
	data, size := rhi.TextureDataFromImage(checker(4, 2), rhi.Extent2D{})
	assert.Equal(t, rhi.Extent2D{Width: 4, Height: 2}, size)
	require.Len(t, data, 4*2*4)
	assert.Equal(t, []byte{255, 0, 0, 255}, data[0:4])
	assert.Equal(t, []byte{0, 0, 255, 255}, data[4:8])
}

func TestTextureDataFromImageScales(t *testing.T) {
	src := image.NewNRGBA(image.Rect(10, 10, 74, 42))
	data, size := rhi.TextureDataFromImage(src, rhi.Extent2D{Width: 16, Height: 8})
	assert.Equal(t, rhi.Extent2D{Width: 16, Height: 8}, size)
	assert.Len(t, data, 16*8*4)
}

func TestRecordTextureUpload(t *testing.T) {
	driver, device := newDevice(t, 16)
	ring, err := device.CreateFrameRing(rhi.SurfaceDesc{Requested: rhi.Extent2D{Width: 64, Height: 64}})
	require.NoError(t, err)

	pixels, size := rhi.TextureDataFromImage(checker(8, 8), rhi.Extent2D{})
	staging, err := device.CreateBuffer(rhi.BufferDesc{Label: "staging", Size: uint64(len(pixels)), Usage: rhi.BufferUsageTransferSrc, Location: rhi.MemoryHostUpload})
	require.NoError(t, err)
	require.NoError(t, staging.Write(0, pixels))
	tex, err := device.CreateTexture(rhi.TextureDesc{Label: "checker", Width: size.Width, Height: size.Height, Format: rhi.FormatRGBA8Srgb, Usage: rhi.TextureUsageSampled | rhi.TextureUsageTransferDst})
	require.NoError(t, err)

	slot, _, err := ring.Begin(context.Background(), 0)
	require.NoError(t, err)
	rhi.RecordTextureUpload(slot.Recorder(), staging, tex)
	staging.Release()
	require.NoError(t, ring.End(slot))
	require.NoError(t, ring.Submit(slot))

	cmds := driver.Submissions()[0].Commands
	assert.Contains(t, cmds, "marker_begin upload checker")
	assert.Contains(t, cmds, "barrier checker undefined->transfer_dst")
	assert.Contains(t, cmds, "copy_buffer_to_texture staging->checker")
	assert.Contains(t, cmds, "barrier checker transfer_dst->shader_read_only")
	assert.Empty(t, driver.Violations(), "staging released while recording is kept until the copy completes")

	tex.Release()
	require.NoError(t, device.Destroy(context.Background()))
	assert.Empty(t, driver.Violations())
}
