package renderer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

func headlessConfig() *config.Config {
	cfg := config.Default()
	cfg.Backend = config.BackendHeadless
	cfg.DescriptorCapacity = 64
	return cfg
}

func TestNewDeviceHeadless(t *testing.T) {
	device, err := NewDevice(headlessConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, rhi.BackendHeadless, device.Kind())

	ring, err := device.CreateFrameRing(rhi.SurfaceDesc{Requested: rhi.Extent2D{Width: 320, Height: 240}})
	require.NoError(t, err)
	assert.Equal(t, 2, ring.FramesInFlight())

	for frame := uint64(0); frame < 4; frame++ {
		slot, status, err := ring.Begin(context.Background(), frame)
		require.NoError(t, err)
		require.Equal(t, rhi.AcquireOK, status)
		require.NoError(t, ring.End(slot))
		require.NoError(t, ring.Submit(slot))
		_, err = ring.Present(slot)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(4), device.Stats().Frames.Presented)
	require.NoError(t, device.Destroy(context.Background()))
}

func TestNewDriverUnknownBackend(t *testing.T) {
	cfg := headlessConfig()
	cfg.Backend = "d3d12"
	_, err := NewDriver(cfg, nil)
	assert.Error(t, err)
}
