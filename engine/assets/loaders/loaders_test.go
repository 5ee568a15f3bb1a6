package loaders

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShaderLoader(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.spv")
	code := make([]byte, 8)
	binary.LittleEndian.PutUint32(code, spirvMagic)
	require.NoError(t, os.WriteFile(good, code, 0o644))

	res, err := (&ShaderLoader{}).Load(good)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), res.DataSize)
	assert.Equal(t, code, res.Data)

	bad := filepath.Join(dir, "bad.spv")
	require.NoError(t, os.WriteFile(bad, []byte("not spirv"), 0o644))
	_, err = (&ShaderLoader{}).Load(bad)
	assert.Error(t, err)

	_, err = (&ShaderLoader{}).Load(filepath.Join(dir, "missing.spv"))
	assert.Error(t, err)
}

func TestImageLoader(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	path := filepath.Join(t.TempDir(), "tex.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	res, err := (&ImageLoader{}).Load(path)
	require.NoError(t, err)
	decoded, ok := res.Data.(image.Image)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 3, 2), decoded.Bounds())
	r, _, _, a := decoded.At(1, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), a)
}
