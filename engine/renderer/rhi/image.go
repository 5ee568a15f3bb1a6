package rhi

import (
	"image"

	"golang.org/x/image/draw"
)

// TextureDataFromImage converts img to tightly packed RGBA8 texels of the
// given size. A zero size keeps the image's own bounds; anything else is
// resampled with Catmull-Rom.
func TextureDataFromImage(img image.Image, size Extent2D) ([]byte, Extent2D) {
	b := img.Bounds()
	if size.IsZero() {
		size = Extent2D{Width: uint32(b.Dx()), Height: uint32(b.Dy())}
	}
	dst := image.NewRGBA(image.Rect(0, 0, int(size.Width), int(size.Height)))
	if b.Dx() == int(size.Width) && b.Dy() == int(size.Height) {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	}
	return dst.Pix, size
}

// RecordTextureUpload copies staging into tex and leaves tex ready for
// sampling. The staging buffer may be released right after recording; the
// destruction queue keeps it alive until the copy has executed.
func RecordTextureUpload(rec CommandRecorder, staging *Buffer, tex *Texture) {
	rec.BeginMarker("upload "+tex.Label(), LabelColorTransfer)
	rec.Barrier(tex.native, LayoutUndefined, LayoutTransferDst)
	rec.CopyBufferToTexture(staging.native, tex.native, 0)
	rec.Barrier(tex.native, LayoutTransferDst, LayoutShaderReadOnly)
	rec.EndMarker()
}
