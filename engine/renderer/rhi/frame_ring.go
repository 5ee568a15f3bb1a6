package rhi

import (
	"context"
	"fmt"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type SlotState uint8

const (
	SlotIdle SlotState = iota
	SlotAcquiring
	SlotRecording
	SlotSubmitted
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotAcquiring:
		return "acquiring"
	case SlotRecording:
		return "recording"
	case SlotSubmitted:
		return "submitted"
	}
	return "unknown"
}

// TimelineValue is the value frame frameID signals on completion. The device
// timeline starts at 0, so frame 0 signals 1.
func TimelineValue(frameID uint64) uint64 {
	return frameID + 1
}

// FrameSlot is one of the N per-frame resource sets of a FrameRing.
type FrameSlot struct {
	index          int
	recorder       CommandRecorder
	imageAcquired  NativeSemaphore
	renderComplete NativeSemaphore

	state      SlotState
	frameID    uint64
	imageIndex uint32
	ended      bool
	presented  bool
	// timeline value of the last submission made from this slot
	lastValue uint64
}

func (s *FrameSlot) Index() int                { return s.index }
func (s *FrameSlot) FrameID() uint64           { return s.frameID }
func (s *FrameSlot) ImageIndex() uint32        { return s.imageIndex }
func (s *FrameSlot) State() SlotState          { return s.state }
func (s *FrameSlot) Recorder() CommandRecorder { return s.recorder }

type FrameStats struct {
	Begun     uint64
	Submitted uint64
	Presented uint64
	Rebuilds  uint64
	// acquires that came back out of date or timed out
	Retries uint64
}

// FrameRing paces the host against the device: frame f+N may not begin until
// frame f's timeline value is reached. Each slot walks
// Idle -> Acquiring -> Recording -> Submitted and back.
//
// A FrameRing is driven by a single render goroutine.
type FrameRing struct {
	driver   Driver
	surface  NativeSurface
	timeline Timeline
	table    *DescriptorTable
	queue    *DestructionQueue
	locks    *LockPool

	slots   []*FrameSlot
	timeout time.Duration

	lastSubmitted uint64
	submittedOnce bool
	lost          bool
	// an acquired image was never presented; only a rebuild gets it back
	orphaned bool
	stats    FrameStats
}

type FrameRingConfig struct {
	FramesInFlight int
	AcquireTimeout time.Duration
}

func NewFrameRing(driver Driver, surface NativeSurface, table *DescriptorTable, queue *DestructionQueue, locks *LockPool, cfg FrameRingConfig) (*FrameRing, error) {
	if cfg.FramesInFlight < 1 {
		return nil, fmt.Errorf("frames in flight must be at least 1, got %d", cfg.FramesInFlight)
	}

	r := &FrameRing{
		driver:   driver,
		surface:  surface,
		timeline: driver.Timeline(),
		table:    table,
		queue:    queue,
		locks:    locks,
		timeout:  cfg.AcquireTimeout,
	}
	for i := 0; i < cfg.FramesInFlight; i++ {
		slot, err := r.createSlot(i)
		if err != nil {
			r.destroySlots()
			return nil, err
		}
		r.slots = append(r.slots, slot)
	}
	core.LogInfo("frame ring created: %d frames in flight, surface %s %s", cfg.FramesInFlight, surface.Extent(), surface.PresentMode())
	return r, nil
}

func (r *FrameRing) createSlot(i int) (*FrameSlot, error) {
	recorder, err := r.driver.CreateCommandRecorder(fmt.Sprintf("frame-%d-recorder", i))
	if err != nil {
		return nil, err
	}
	acquired, err := r.driver.CreateBinarySemaphore(fmt.Sprintf("frame-%d-image-acquired", i))
	if err != nil {
		recorder.Destroy()
		return nil, err
	}
	complete, err := r.driver.CreateBinarySemaphore(fmt.Sprintf("frame-%d-render-complete", i))
	if err != nil {
		recorder.Destroy()
		acquired.Destroy()
		return nil, err
	}
	return &FrameSlot{
		index:          i,
		recorder:       recorder,
		imageAcquired:  acquired,
		renderComplete: complete,
	}, nil
}

// destroySlots is only used before any submission, so nothing is in flight.
func (r *FrameRing) destroySlots() {
	for _, s := range r.slots {
		s.recorder.Destroy()
		s.imageAcquired.Destroy()
		s.renderComplete.Destroy()
	}
	r.slots = nil
}

func (r *FrameRing) FramesInFlight() int {
	return len(r.slots)
}

func (r *FrameRing) Surface() NativeSurface {
	return r.surface
}

func (r *FrameRing) Stats() FrameStats {
	return r.stats
}

func (r *FrameRing) slotFor(frameID uint64) *FrameSlot {
	return r.slots[frameID%uint64(len(r.slots))]
}

// Begin waits until the slot's previous frame (frameID-N) has completed on
// the device, destroys whatever that unblocked, acquires the next image and
// opens the recorder with the image in color-attachment layout.
//
// When the acquire reports out-of-date or times out the returned slot is nil
// and the status tells the caller to Rebuild (or simply retry) and call
// Begin again with the same frameID. Suboptimal acquires proceed.
func (r *FrameRing) Begin(ctx context.Context, frameID uint64) (*FrameSlot, AcquireStatus, error) {
	if r.lost {
		return nil, AcquireOK, core.ErrDeviceLost
	}
	if r.submittedOnce && TimelineValue(frameID) <= r.lastSubmitted {
		return nil, AcquireOK, fmt.Errorf("%w: frame %d was already submitted", core.ErrFrameState, frameID)
	}

	slot := r.slotFor(frameID)
	if slot.state == SlotAcquiring || slot.state == SlotRecording {
		return nil, AcquireOK, fmt.Errorf("%w: slot %d is %s", core.ErrFrameState, slot.index, slot.state)
	}
	if r.orphaned {
		r.stats.Retries++
		return nil, AcquireOutOfDate, nil
	}

	if slot.lastValue > 0 {
		if err := r.timeline.Wait(ctx, slot.lastValue); err != nil {
			return nil, AcquireOK, r.runtimeError("frame wait", err)
		}
	}
	if err := r.locks.SafeCall(ResourceManagement, func() error {
		_, err := r.queue.Drain()
		return err
	}); err != nil {
		return nil, AcquireOK, r.checkLost(err)
	}

	slot.state = SlotAcquiring
	index, status, err := r.surface.Acquire(slot.imageAcquired, r.timeout)
	if err != nil {
		slot.state = SlotIdle
		return nil, status, r.runtimeError("acquire", err)
	}
	if status == AcquireOutOfDate || status == AcquireTimeout {
		slot.state = SlotIdle
		r.stats.Retries++
		core.LogDebug("frame %d: acquire returned %s", frameID, status)
		return nil, status, nil
	}

	// From here on anything released is still referenced by this frame.
	_ = r.locks.SafeCall(ResourceManagement, func() error {
		r.queue.Track(TimelineValue(frameID))
		return nil
	})

	slot.frameID = frameID
	slot.imageIndex = index
	slot.ended = false
	slot.presented = false

	if err := slot.recorder.Reset(); err != nil {
		slot.state = SlotIdle
		return nil, status, r.runtimeError("recorder reset", err)
	}
	if err := slot.recorder.Begin(); err != nil {
		slot.state = SlotIdle
		return nil, status, r.runtimeError("recorder begin", err)
	}
	slot.recorder.Barrier(r.surface.Image(index), LayoutUndefined, LayoutColorAttachment)
	slot.state = SlotRecording
	r.stats.Begun++
	return slot, status, nil
}

// Target is the swapchain image the slot renders into this frame.
func (r *FrameRing) Target(slot *FrameSlot) NativeTexture {
	return r.surface.Image(slot.imageIndex)
}

// End transitions the image to present layout and closes the recorder.
func (r *FrameRing) End(slot *FrameSlot) error {
	if slot.state != SlotRecording || slot.ended {
		return fmt.Errorf("%w: slot %d is %s", core.ErrNotRecording, slot.index, slot.state)
	}
	slot.recorder.Barrier(r.surface.Image(slot.imageIndex), LayoutColorAttachment, LayoutPresent)
	if err := slot.recorder.End(); err != nil {
		return r.runtimeError("recorder end", err)
	}
	slot.ended = true
	return nil
}

// Submit flushes pending descriptor writes and submits the slot, waiting on
// the acquire at color-attachment output and advancing the timeline to the
// frame's value.
func (r *FrameRing) Submit(slot *FrameSlot) error {
	if slot.state != SlotRecording || !slot.ended {
		return fmt.Errorf("%w: slot %d must be ended before submit", core.ErrFrameState, slot.index)
	}

	if err := r.locks.SafeCall(ResourceManagement, r.table.Flush); err != nil {
		return r.checkLost(err)
	}

	value := TimelineValue(slot.frameID)
	err := r.driver.Submit(&SubmitInfo{
		Recorder:      slot.recorder,
		Wait:          slot.imageAcquired,
		WaitStage:     StageColorAttachmentOutput,
		Signal:        slot.renderComplete,
		TimelineValue: value,
	})
	if err != nil {
		err = r.runtimeError("queue submit", err)
		if !r.lost {
			r.abandon(slot)
		}
		return err
	}

	slot.lastValue = value
	slot.state = SlotSubmitted
	r.lastSubmitted = value
	r.submittedOnce = true
	r.stats.Submitted++
	return nil
}

// abandon returns a slot whose submit failed to Idle. Its acquire semaphore
// was signaled and nothing will wait on it, so it is swapped for a fresh one,
// and the ring reports out-of-date until a Rebuild recovers the image.
func (r *FrameRing) abandon(slot *FrameSlot) {
	slot.state = SlotIdle
	r.orphaned = true

	acquired, err := r.driver.CreateBinarySemaphore(fmt.Sprintf("frame-%d-image-acquired", slot.index))
	if err != nil {
		// Keep the signaled semaphore; the next acquire on this slot fails
		// and reports why.
		core.LogError("frame slot %d: replacing acquire semaphore: %s", slot.index, err)
		return
	}
	old := slot.imageAcquired
	slot.imageAcquired = acquired
	_ = r.locks.SafeCall(ResourceManagement, func() error {
		r.queue.Push("semaphore", old.Destroy)
		return nil
	})
	core.LogWarn("frame %d: submit failed, slot %d reset", slot.frameID, slot.index)
}

// Present queues the slot's image once render-complete is signaled. A
// suboptimal or out-of-date status asks for a Rebuild; it is not an error.
func (r *FrameRing) Present(slot *FrameSlot) (PresentStatus, error) {
	if slot.state != SlotSubmitted || slot.presented {
		return PresentOK, fmt.Errorf("%w: slot %d has nothing to present", core.ErrFrameState, slot.index)
	}
	status, err := r.surface.Present(slot.imageIndex, slot.renderComplete)
	if err != nil {
		return status, r.runtimeError("present", err)
	}
	slot.presented = true
	r.stats.Presented++
	return status, nil
}

// Rebuild recreates the swapchain once every submitted frame has completed.
// It must not be called while a slot is recording.
func (r *FrameRing) Rebuild(ctx context.Context, requested Extent2D) error {
	for _, s := range r.slots {
		if s.state == SlotAcquiring || s.state == SlotRecording {
			return fmt.Errorf("%w: cannot rebuild while slot %d is %s", core.ErrFrameState, s.index, s.state)
		}
	}
	if r.submittedOnce {
		if err := r.timeline.Wait(ctx, r.lastSubmitted); err != nil {
			return r.runtimeError("rebuild wait", err)
		}
	}
	if err := r.surface.Rebuild(requested); err != nil {
		return err
	}
	r.orphaned = false
	r.stats.Rebuilds++
	core.LogInfo("swapchain rebuilt: %s, %d images", r.surface.Extent(), r.surface.ImageCount())
	return nil
}

// Destroy hands the ring's native objects to the destruction queue; they go
// away with the queue's final flush.
func (r *FrameRing) Destroy() {
	_ = r.locks.SafeCall(ResourceManagement, func() error {
		for _, s := range r.slots {
			r.queue.Push("command recorder", s.recorder.Destroy)
			r.queue.Push("semaphore", s.imageAcquired.Destroy)
			r.queue.Push("semaphore", s.renderComplete.Destroy)
		}
		r.queue.Push("surface", r.surface.Destroy)
		return nil
	})
	r.slots = nil
}

func (r *FrameRing) runtimeError(op string, err error) error {
	return r.checkLost(&RuntimeError{Op: op, Err: err})
}

// checkLost latches device loss; every later Begin fails fast.
func (r *FrameRing) checkLost(err error) error {
	if IsDeviceLost(err) {
		if !r.lost {
			core.LogError("device lost: %s", err)
		}
		r.lost = true
	}
	return err
}
