package engine

import (
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// FrameContext is what a game renders with: the slot's recorder, already
// open with the swapchain image in color-attachment layout.
type FrameContext struct {
	FrameID   uint64
	DeltaTime time.Duration
	Recorder  rhi.CommandRecorder
	Target    rhi.NativeTexture
	Extent    rhi.Extent2D
}

type Game struct {
	Name  string
	State interface{}

	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	// Optional. Called with the shader names that were reloaded this frame.
	FnShadersReloaded ShadersReloaded
	FnShutdown        Shutdown
}

type Initialize func(e *Engine) error
type Update func(deltaTime time.Duration) error
type Render func(frame *FrameContext) error
type OnResize func(extent rhi.Extent2D) error
type ShadersReloaded func(names []string) error
type Shutdown func() error
