package rhi

import (
	"github.com/spaghettifunk/anima-rhi/engine/math"
)

// Every backend builds its swapchain through these functions so that the
// same window looks the same whichever backend drives it.

// ChooseExtent honours the surface's current extent unless it is the
// ExtentUndefined sentinel, in which case requested is clamped per axis to
// the supported range.
func ChooseExtent(requested Extent2D, caps SurfaceCapabilities) Extent2D {
	if caps.CurrentExtent.Width != ExtentUndefined {
		return caps.CurrentExtent
	}
	return Extent2D{
		Width:  math.Clamp(requested.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: math.Clamp(requested.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

var preferredSurfaceFormats = []SurfaceFormat{
	{Format: FormatBGRA8Srgb, ColorSpace: ColorSpaceSrgbNonlinear},
	{Format: FormatRGBA8Srgb, ColorSpace: ColorSpaceSrgbNonlinear},
	{Format: FormatBGRA8Unorm, ColorSpace: ColorSpaceSrgbNonlinear},
}

// ChooseFormat picks the first supported entry of the preference list, else
// whatever the surface lists first.
func ChooseFormat(available []SurfaceFormat) (SurfaceFormat, error) {
	if len(available) == 0 {
		return SurfaceFormat{}, &SuitabilityError{Reason: "surface reports no formats"}
	}
	for _, want := range preferredSurfaceFormats {
		for _, f := range available {
			if f == want {
				return f, nil
			}
		}
	}
	return available[0], nil
}

// ChoosePresentMode returns mailbox when vsync is off and the surface offers
// it. FIFO is always available.
func ChoosePresentMode(available []PresentMode, vsync bool) PresentMode {
	if vsync {
		return PresentModeFifo
	}
	for _, m := range available {
		if m == PresentModeMailbox {
			return m
		}
	}
	return PresentModeFifo
}

func ChooseImageCount(caps SurfaceCapabilities) uint32 {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}
