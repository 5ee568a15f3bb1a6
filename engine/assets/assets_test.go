package assets

import (
	"encoding/binary"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

func writeSpirv(t *testing.T, path string, words ...uint32) {
	t.Helper()
	code := make([]byte, 4*(len(words)+1))
	binary.LittleEndian.PutUint32(code, 0x07230203)
	for i, w := range words {
		binary.LittleEndian.PutUint32(code[4*(i+1):], w)
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, code, 0o644))
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewNRGBA(image.Rect(0, 0, w, h))))
}

func TestAssetManagerIndexesAndLoads(t *testing.T) {
	root := t.TempDir()
	writeSpirv(t, filepath.Join(root, "shaders", "triangle.vert.spv"), 1)
	writePNG(t, filepath.Join(root, "checker.png"), 4, 2)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0o644))

	am, err := NewAssetManager(root, false)
	require.NoError(t, err)
	defer am.Shutdown()

	assert.Equal(t, []string{"shaders/triangle.vert.spv"}, am.Names(AssetTypeShader))
	assert.Equal(t, []string{"checker.png"}, am.Names(AssetTypeImage))

	code, err := am.LoadShader("shaders/triangle.vert.spv")
	require.NoError(t, err)
	assert.Len(t, code, 8)

	img, err := am.LoadImage("checker.png")
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	_, err = am.LoadShader("checker.png")
	assert.Error(t, err)
	_, err = am.LoadShader("missing.spv")
	assert.Error(t, err)
}

func TestAssetManagerWatchPublishesChanges(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "triangle.frag.spv")
	writeSpirv(t, path, 1)

	am, err := NewAssetManager(root, true)
	require.NoError(t, err)
	events := am.Subscribe()

	writeSpirv(t, path, 2)

	select {
	case ev := <-events:
		assert.Equal(t, "triangle.frag.spv", ev.Name)
		assert.Equal(t, AssetTypeShader, ev.Type)
		assert.False(t, ev.Removed)
	case <-time.After(5 * time.Second):
		t.Fatal("no change event")
	}

	require.NoError(t, am.Shutdown())
	assert.ErrorIs(t, am.Shutdown(), ErrClosed)
	_, open := <-events
	for open {
		_, open = <-events
	}
}

func TestStageOf(t *testing.T) {
	assert.Equal(t, rhi.ShaderStageVertex, StageOf("a/b.vert.spv"))
	assert.Equal(t, rhi.ShaderStageFragment, StageOf("b.frag.spv"))
	assert.Equal(t, rhi.ShaderStageCompute, StageOf("c.comp.spv"))
	assert.Equal(t, rhi.ShaderStage(0), StageOf("d.spv"))
}

func TestShaderLibraryReload(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "triangle.vert.spv")
	writeSpirv(t, path, 1)

	am, err := NewAssetManager(root, false)
	require.NoError(t, err)
	defer am.Shutdown()

	driver := headless.New()
	device, err := rhi.NewDevice(driver, rhi.DeviceConfig{FramesInFlight: 2, DescriptorCapacity: 16, AcquireTimeout: time.Second})
	require.NoError(t, err)

	lib := NewShaderLibrary(device, am)
	first, err := lib.Get("triangle.vert.spv")
	require.NoError(t, err)
	assert.Equal(t, rhi.ShaderStageVertex, first.Stage())

	again, err := lib.Get("triangle.vert.spv")
	require.NoError(t, err)
	assert.Same(t, first, again)

	// Nothing changed yet.
	assert.Empty(t, lib.Poll())

	writeSpirv(t, path, 2)
	am.publish(AssetEvent{Name: "triangle.vert.spv", Type: AssetTypeShader})
	assert.Equal(t, []string{"triangle.vert.spv"}, lib.Poll())

	second, err := lib.Get("triangle.vert.spv")
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	require.NoError(t, device.WaitIdle())
	assert.Equal(t, 1, driver.LiveObjects()["shader module"])

	// A broken file keeps the previous module.
	require.NoError(t, os.WriteFile(path, []byte("junk"), 0o644))
	am.publish(AssetEvent{Name: "triangle.vert.spv", Type: AssetTypeShader})
	assert.Empty(t, lib.Poll())
	current, err := lib.Get("triangle.vert.spv")
	require.NoError(t, err)
	assert.Same(t, second, current)

	lib.Destroy()
	require.NoError(t, device.WaitIdle())
	assert.Zero(t, driver.LiveObjects()["shader module"])
}
