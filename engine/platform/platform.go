package platform

import (
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Platform owns the glfw window the renderer presents to. It implements
// rhi.Window.
type Platform struct {
	Window *glfw.Window

	startTime float64
	resized   atomic.Bool
	quit      atomic.Bool
}

var _ rhi.Window = (*Platform)(nil)

func New() *Platform {
	return &Platform{}
}

func (p *Platform) Startup(applicationName string, x, y, width, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogFatal("failed to initialize glfw: %s", err)
		return err
	}
	if !glfw.VulkanSupported() {
		core.LogWarn("glfw reports no Vulkan loader")
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		core.LogFatal("failed to create window: %s", err)
		return err
	}
	p.Window = window

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetCloseCallback(func(w *glfw.Window) { p.quit.Store(true) })
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()

	p.startTime = glfw.GetTime()

	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events. It returns false once the
// window was asked to close.
func (p *Platform) PumpMessages() bool {
	glfw.PollEvents()
	return !p.quit.Load()
}

// WaitMessages blocks until an event arrives; used while minimized.
func (p *Platform) WaitMessages() bool {
	glfw.WaitEventsTimeout(0.1)
	return !p.quit.Load()
}

// RequestQuit makes the next PumpMessages return false. Safe from any
// goroutine.
func (p *Platform) RequestQuit() {
	p.quit.Store(true)
	glfw.PostEmptyEvent()
}

// ConsumeResize reports whether the framebuffer changed size since the last
// call.
func (p *Platform) ConsumeResize() bool {
	return p.resized.Swap(false)
}

func (p *Platform) GetAbsoluteTime() time.Duration {
	return time.Duration((glfw.GetTime() - p.startTime) * float64(time.Second))
}

func (p *Platform) FramebufferSize() rhi.Extent2D {
	if p.Window == nil {
		return rhi.Extent2D{}
	}
	w, h := p.Window.GetFramebufferSize()
	return rhi.Extent2D{Width: uint32(w), Height: uint32(h)}
}

func (p *Platform) RequiredInstanceExtensions() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

func (p *Platform) CreateWindowSurface(instance interface{}, allocator unsafe.Pointer) (uintptr, error) {
	return p.Window.CreateWindowSurface(instance, allocator)
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if key == glfw.KeyEscape && action == glfw.Press {
		core.LogInfo("escape pressed, shutting down.")
		p.quit.Store(true)
	}
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	core.LogDebug("Window resize: %d, %d", width, height)
	p.resized.Store(true)
}
