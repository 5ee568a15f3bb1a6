package engine_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rhi/testbed"
)

func shaderDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	code := make([]byte, 8)
	binary.LittleEndian.PutUint32(code, 0x07230203)
	for _, name := range []string{testbed.VertexShader, testbed.FragmentShader} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), code, 0o644))
	}
	return dir
}

func TestEngineRunsTestbedHeadless(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendHeadless
	cfg.DescriptorCapacity = 64
	cfg.ShaderDir = shaderDir(t)

	e, err := engine.New(cfg, testbed.NewTestGame().Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())

	driver := e.Device().Driver().(*headless.Driver)

	require.NoError(t, e.WithFrameLimit(5).Run())

	assert.Empty(t, driver.Violations())
	assert.Len(t, driver.Submissions(), 5)
	for kind, n := range driver.LiveObjects() {
		assert.Zero(t, n, "%d %s objects leaked", n, kind)
	}
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.FramesInFlight = 0
	_, err := engine.New(cfg, &engine.Game{})
	assert.Error(t, err)
}
