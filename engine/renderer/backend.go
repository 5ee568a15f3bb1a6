// Package renderer picks the rendering backend named by the configuration and
// wraps it in an rhi.Device.
package renderer

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/vulkan"
)

// NewDriver creates the backend driver for cfg.Backend. window may be nil for
// the headless backend; the Vulkan backend without a window cannot present.
func NewDriver(cfg *config.Config, window rhi.Window) (rhi.Driver, error) {
	kind, err := rhi.ParseBackendKind(cfg.Backend)
	if err != nil {
		return nil, err
	}
	switch kind {
	case rhi.BackendVulkan:
		return vulkan.New(vulkan.Config{
			AppName:            cfg.AppName,
			Validation:         cfg.Validation,
			DescriptorCapacity: cfg.DescriptorCapacity,
		}, window)
	case rhi.BackendHeadless:
		return headless.New(), nil
	}
	return nil, fmt.Errorf("backend %s is not supported", kind)
}

// NewDevice creates the driver and the device on top of it.
func NewDevice(cfg *config.Config, window rhi.Window) (*rhi.Device, error) {
	driver, err := NewDriver(cfg, window)
	if err != nil {
		core.LogError("failed to create the %s backend: %s", cfg.Backend, err)
		return nil, err
	}
	device, err := rhi.NewDevice(driver, rhi.DeviceConfig{
		FramesInFlight:     int(cfg.FramesInFlight),
		DescriptorCapacity: cfg.DescriptorCapacity,
		AcquireTimeout:     cfg.AcquireTimeout.Duration,
	})
	if err != nil {
		driver.Destroy()
		return nil, err
	}
	return device, nil
}
