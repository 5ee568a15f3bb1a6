package rhi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

func TestChooseExtent(t *testing.T) {
	undefined := rhi.Extent2D{Width: rhi.ExtentUndefined, Height: rhi.ExtentUndefined}
	tests := []struct {
		name      string
		requested rhi.Extent2D
		caps      rhi.SurfaceCapabilities
		want      rhi.Extent2D
	}{
		{
			name:      "current extent is used as is",
			requested: rhi.Extent2D{Width: 800, Height: 600},
			caps: rhi.SurfaceCapabilities{
				CurrentExtent:  rhi.Extent2D{Width: 1024, Height: 768},
				MinImageExtent: rhi.Extent2D{Width: 1, Height: 1},
				MaxImageExtent: rhi.Extent2D{Width: 4096, Height: 4096},
			},
			want: rhi.Extent2D{Width: 1024, Height: 768},
		},
		{
			name:      "sentinel clamps width only",
			requested: rhi.Extent2D{Width: 640, Height: 480},
			caps: rhi.SurfaceCapabilities{
				CurrentExtent:  undefined,
				MinImageExtent: rhi.Extent2D{Width: 1, Height: 1},
				MaxImageExtent: rhi.Extent2D{Width: 512, Height: 512},
			},
			want: rhi.Extent2D{Width: 512, Height: 480},
		},
		{
			name:      "sentinel raises to minimum",
			requested: rhi.Extent2D{Width: 0, Height: 10},
			caps: rhi.SurfaceCapabilities{
				CurrentExtent:  undefined,
				MinImageExtent: rhi.Extent2D{Width: 16, Height: 16},
				MaxImageExtent: rhi.Extent2D{Width: 512, Height: 512},
			},
			want: rhi.Extent2D{Width: 16, Height: 16},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rhi.ChooseExtent(tt.requested, tt.caps))
		})
	}
}

func TestChooseFormat(t *testing.T) {
	_, err := rhi.ChooseFormat(nil)
	var serr *rhi.SuitabilityError
	require.ErrorAs(t, err, &serr)

	unorm := rhi.SurfaceFormat{Format: rhi.FormatBGRA8Unorm, ColorSpace: rhi.ColorSpaceSrgbNonlinear}
	srgb := rhi.SurfaceFormat{Format: rhi.FormatRGBA8Srgb, ColorSpace: rhi.ColorSpaceSrgbNonlinear}
	odd := rhi.SurfaceFormat{Format: rhi.FormatRGBA16Float, ColorSpace: rhi.ColorSpaceOther}

	got, err := rhi.ChooseFormat([]rhi.SurfaceFormat{odd, unorm, srgb})
	require.NoError(t, err)
	assert.Equal(t, srgb, got, "8-bit sRGB wins over unorm")

	got, err = rhi.ChooseFormat([]rhi.SurfaceFormat{odd, unorm})
	require.NoError(t, err)
	assert.Equal(t, unorm, got)

	got, err = rhi.ChooseFormat([]rhi.SurfaceFormat{odd})
	require.NoError(t, err)
	assert.Equal(t, odd, got, "falls back to the first listed format")
}

func TestChoosePresentMode(t *testing.T) {
	all := []rhi.PresentMode{rhi.PresentModeImmediate, rhi.PresentModeFifo, rhi.PresentModeMailbox}
	assert.Equal(t, rhi.PresentModeMailbox, rhi.ChoosePresentMode(all, false))
	assert.Equal(t, rhi.PresentModeFifo, rhi.ChoosePresentMode(all, true))
	assert.Equal(t, rhi.PresentModeFifo, rhi.ChoosePresentMode([]rhi.PresentMode{rhi.PresentModeImmediate}, false))
	assert.Equal(t, rhi.PresentModeFifo, rhi.ChoosePresentMode(nil, false))
}

func TestChooseImageCount(t *testing.T) {
	assert.Equal(t, uint32(3), rhi.ChooseImageCount(rhi.SurfaceCapabilities{MinImageCount: 2}))
	assert.Equal(t, uint32(3), rhi.ChooseImageCount(rhi.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 8}))
	assert.Equal(t, uint32(2), rhi.ChooseImageCount(rhi.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 2}))
}
