package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/platform"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// shutdownTimeout bounds the final destruction-queue flush.
const shutdownTimeout = 5 * time.Second

type Engine struct {
	cfg          *config.Config
	currentStage Stage
	gameInstance *Game
	isRunning    atomic.Bool
	isSuspended  bool

	// nil with the headless backend
	platform     *platform.Platform
	device       *rhi.Device
	ring         *rhi.FrameRing
	assetManager *assets.AssetManager
	shaders      *assets.ShaderLibrary

	clock    *core.Clock
	metrics  *core.Metrics
	lastTime time.Duration
	frameID  uint64
	// Frames left before Run returns by itself; zero means no limit.
	frameLimit uint64
}

func New(cfg *config.Config, g *Game) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := core.SetLogLevel(cfg.LogLevel); err != nil {
		core.LogWarn("invalid log level %q: %s", cfg.LogLevel, err)
	}

	e := &Engine{
		cfg:          cfg,
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
	}
	if cfg.Backend == config.BackendVulkan {
		e.platform = platform.New()
	}
	return e, nil
}

// WithFrameLimit makes Run return after n frames have been presented.
func (e *Engine) WithFrameLimit(n uint64) *Engine {
	e.frameLimit = n
	return e
}

func (e *Engine) Device() *rhi.Device            { return e.device }
func (e *Engine) FrameRing() *rhi.FrameRing      { return e.ring }
func (e *Engine) Shaders() *assets.ShaderLibrary { return e.shaders }
func (e *Engine) Config() *config.Config         { return e.cfg }

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	var window rhi.Window
	if e.platform != nil {
		if err := e.platform.Startup(e.cfg.AppName, 100, 100, e.cfg.Width, e.cfg.Height); err != nil {
			return err
		}
		window = e.platform
	}

	device, err := renderer.NewDevice(e.cfg, window)
	if err != nil {
		return err
	}
	e.device = device

	ring, err := device.CreateFrameRing(rhi.SurfaceDesc{
		Label:     "main",
		Window:    window,
		Requested: rhi.Extent2D{Width: e.cfg.Width, Height: e.cfg.Height},
		VSync:     e.cfg.VSync,
	})
	if err != nil {
		return err
	}
	e.ring = ring

	am, err := assets.NewAssetManager(e.cfg.ShaderDir, e.cfg.WatchShaders)
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	e.assetManager = am
	e.shaders = assets.NewShaderLibrary(device, am)

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			core.LogError("Game failed to initialize: %s", err)
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) Run() error {
	e.isRunning.Store(true)
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	defer e.cleanup()

	ctx := context.Background()
	for e.isRunning.Load() {
		if e.platform != nil && !e.platform.PumpMessages() {
			e.isRunning.Store(false)
			break
		}

		if e.platform != nil && e.platform.ConsumeResize() {
			if err := e.onResized(ctx); err != nil {
				return err
			}
		}
		if e.isSuspended {
			if e.platform != nil && !e.platform.WaitMessages() {
				e.isRunning.Store(false)
			}
			continue
		}

		if names := e.shaders.Poll(); len(names) > 0 && e.gameInstance.FnShadersReloaded != nil {
			if err := e.gameInstance.FnShadersReloaded(names); err != nil {
				core.LogError("shader reload handling failed: %s", err)
			}
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down: %s", err)
				return err
			}
		}

		if err := e.drawFrame(ctx, delta); err != nil {
			if errors.Is(err, core.ErrDeviceLost) {
				core.LogError("device lost, shutting down")
			}
			return err
		}

		e.metrics.Update(delta)
		e.lastTime = currentTime

		if e.frameLimit > 0 && e.frameID >= e.frameLimit {
			e.isRunning.Store(false)
		}
	}
	return nil
}

// drawFrame runs one begin/record/end/submit/present cycle. Out-of-date and
// timed-out acquires skip the frame without consuming a frame id.
func (e *Engine) drawFrame(ctx context.Context, delta time.Duration) error {
	slot, status, err := e.ring.Begin(ctx, e.frameID)
	if err != nil {
		return err
	}
	switch status {
	case rhi.AcquireOutOfDate:
		return e.rebuild(ctx)
	case rhi.AcquireTimeout:
		return nil
	}

	frame := &FrameContext{
		FrameID:   e.frameID,
		DeltaTime: delta,
		Recorder:  slot.Recorder(),
		Target:    e.ring.Target(slot),
		Extent:    e.ring.Surface().Extent(),
	}
	if e.gameInstance.FnRender != nil {
		if err := e.gameInstance.FnRender(frame); err != nil {
			core.LogError("Game render failed: %s", err)
			return err
		}
	}

	if err := e.ring.End(slot); err != nil {
		return err
	}
	if err := e.ring.Submit(slot); err != nil {
		return err
	}
	presented, err := e.ring.Present(slot)
	if err != nil {
		return err
	}
	e.frameID++

	if status.NeedsRebuild() || presented != rhi.PresentOK {
		return e.rebuild(ctx)
	}
	return nil
}

func (e *Engine) requestedExtent() rhi.Extent2D {
	if e.platform != nil {
		return e.platform.FramebufferSize()
	}
	return rhi.Extent2D{Width: e.cfg.Width, Height: e.cfg.Height}
}

func (e *Engine) rebuild(ctx context.Context) error {
	if err := e.ring.Rebuild(ctx, e.requestedExtent()); err != nil {
		return fmt.Errorf("swapchain rebuild: %w", err)
	}
	if e.gameInstance.FnOnResize != nil {
		return e.gameInstance.FnOnResize(e.ring.Surface().Extent())
	}
	return nil
}

func (e *Engine) onResized(ctx context.Context) error {
	extent := e.requestedExtent()

	// Handle minimization
	if extent.IsZero() {
		if !e.isSuspended {
			core.LogInfo("Window minimized, suspending application.")
		}
		e.isSuspended = true
		return nil
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	return e.rebuild(ctx)
}

// Shutdown stops the loop; Run returns after the current frame. Safe to call
// from any goroutine.
func (e *Engine) Shutdown() error {
	if !e.isRunning.Swap(false) {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	if e.platform != nil {
		e.platform.RequestQuit()
	}
	return nil
}

func (e *Engine) cleanup() {
	e.currentStage = EngineStageShuttingDown
	fps, frameTime := e.metrics.Frame()
	core.LogInfo("ran %d frames, last %.0f fps, %s average frame time", e.frameID, fps, frameTime)

	if e.device != nil {
		// Let in-flight frames finish before the game drops its resources.
		if err := e.device.WaitIdle(); err != nil {
			core.LogError("wait idle on shutdown: %s", err)
		}
	}
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			core.LogError("game shutdown: %s", err)
		}
	}
	if e.shaders != nil {
		e.shaders.Destroy()
	}
	if e.assetManager != nil {
		if err := e.assetManager.Shutdown(); err != nil {
			core.LogWarn(err.Error())
		}
	}
	if e.device != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		stats := e.device.Stats()
		core.LogInfo("frames begun=%d submitted=%d presented=%d rebuilds=%d, %d objects pending destruction",
			stats.Frames.Begun, stats.Frames.Submitted, stats.Frames.Presented, stats.Frames.Rebuilds, stats.PendingDestruction)
		if err := e.device.Destroy(ctx); err != nil {
			core.LogError("device teardown: %s", err)
		}
		e.device = nil
		e.ring = nil
	}
	if e.platform != nil {
		_ = e.platform.Shutdown()
	}
}
