package headless

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// Surface is an offscreen swapchain built with the shared policy. Tests
// steer it with SetOutOfDate, SetSuboptimal, SetAcquireTimeout and Resize.
type Surface struct {
	object

	mu          sync.Mutex
	window      rhi.Window
	vsync       bool
	caps        rhi.SurfaceCapabilities
	format      rhi.SurfaceFormat
	presentMode rhi.PresentMode
	extent      rhi.Extent2D
	images      []*Texture
	// images acquired and not yet presented
	acquired map[uint32]bool
	next     uint32

	outOfDate      bool
	suboptimal     bool
	acquireTimeout bool
	presented      int
	generation     int
}

func (s *Surface) build(requested rhi.Extent2D) error {
	if s.window != nil {
		requested = s.window.FramebufferSize()
	}
	extent := rhi.ChooseExtent(requested, s.caps)
	if extent.IsZero() {
		return &rhi.CreationError{Subject: "swapchain", Message: fmt.Sprintf("zero extent %s", extent)}
	}
	count := rhi.ChooseImageCount(s.caps)

	for _, img := range s.images {
		img.Destroy()
	}
	s.images = make([]*Texture, count)
	for i := range s.images {
		img := &Texture{extent: extent, format: s.format.Format, swapchain: true}
		img.init(s.driver, "swapchain image", fmt.Sprintf("%s-image-%d", s.label, i))
		s.driver.remember(&img.object)
		s.images[i] = img
	}
	s.extent = extent
	s.acquired = make(map[uint32]bool)
	s.next = 0
	s.outOfDate = false
	s.suboptimal = false
	s.generation++
	return nil
}

func (s *Surface) Extent() rhi.Extent2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent
}

func (s *Surface) Format() rhi.SurfaceFormat    { return s.format }
func (s *Surface) PresentMode() rhi.PresentMode { return s.presentMode }

func (s *Surface) ImageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

func (s *Surface) Image(index uint32) rhi.NativeTexture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images[index]
}

// Generation counts builds, starting at 1 for the initial swapchain.
func (s *Surface) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Surface) Presented() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presented
}

func (s *Surface) SetOutOfDate(v bool) {
	s.mu.Lock()
	s.outOfDate = v
	s.mu.Unlock()
}

func (s *Surface) SetSuboptimal(v bool) {
	s.mu.Lock()
	s.suboptimal = v
	s.mu.Unlock()
}

func (s *Surface) SetAcquireTimeout(v bool) {
	s.mu.Lock()
	s.acquireTimeout = v
	s.mu.Unlock()
}

// Resize behaves like a window resize: the surface now reports extent as its
// current extent and the swapchain is out of date until rebuilt.
func (s *Surface) Resize(extent rhi.Extent2D) {
	s.mu.Lock()
	s.caps.CurrentExtent = extent
	s.outOfDate = true
	s.mu.Unlock()
}

func (s *Surface) Acquire(signal rhi.NativeSemaphore, timeout time.Duration) (uint32, rhi.AcquireStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.driver.isLost() {
		return 0, rhi.AcquireOK, core.ErrDeviceLost
	}
	if s.outOfDate {
		return 0, rhi.AcquireOutOfDate, nil
	}
	if s.acquireTimeout || len(s.acquired) == len(s.images) {
		return 0, rhi.AcquireTimeout, nil
	}

	sem := rhi.MustBackend[*Semaphore](signal)
	if err := sem.signal(); err != nil {
		return 0, rhi.AcquireOK, err
	}
	for s.acquired[s.next] {
		s.next = (s.next + 1) % uint32(len(s.images))
	}
	index := s.next
	s.acquired[index] = true
	s.next = (s.next + 1) % uint32(len(s.images))

	if s.suboptimal {
		return index, rhi.AcquireSuboptimal, nil
	}
	return index, rhi.AcquireOK, nil
}

func (s *Surface) Present(index uint32, wait rhi.NativeSemaphore) (rhi.PresentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.driver.isLost() {
		return rhi.PresentOK, core.ErrDeviceLost
	}
	if !s.acquired[index] {
		return rhi.PresentOK, fmt.Errorf("present of image %d that was not acquired", index)
	}
	sem := rhi.MustBackend[*Semaphore](wait)
	if err := sem.consume(); err != nil {
		return rhi.PresentOK, err
	}
	delete(s.acquired, index)
	s.presented++

	switch {
	case s.outOfDate:
		return rhi.PresentOutOfDate, nil
	case s.suboptimal:
		return rhi.PresentSuboptimal, nil
	}
	return rhi.PresentOK, nil
}

func (s *Surface) Rebuild(requested rhi.Extent2D) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.build(requested)
}

// Destroy releases the swapchain images with the surface.
func (s *Surface) Destroy() {
	s.mu.Lock()
	for _, img := range s.images {
		img.Destroy()
	}
	s.images = nil
	s.mu.Unlock()
	s.object.Destroy()
}
