package vulkan

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// timelinePollInterval bounds each device wait so a cancelled context is
// noticed promptly.
const timelinePollInterval = 5 * time.Millisecond

type VulkanSemaphore struct {
	Handle  vk.Semaphore
	context *VulkanContext
}

func NewBinarySemaphore(context *VulkanContext, label string) (*VulkanSemaphore, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var handle vk.Semaphore
	if res := vk.CreateSemaphore(context.Device.LogicalDevice, &semaphoreCreateInfo, context.Allocator, &handle); res != vk.Success {
		return nil, creationError("semaphore "+label, res)
	}
	context.setObjectName(vk.ObjectTypeSemaphore, unsafe.Pointer(handle), label)
	return &VulkanSemaphore{Handle: handle, context: context}, nil
}

func (s *VulkanSemaphore) Destroy() {
	if s.Handle != vk.NullSemaphore {
		s.context.forgetObject(unsafe.Pointer(s.Handle))
		vk.DestroySemaphore(s.context.Device.LogicalDevice, s.Handle, s.context.Allocator)
		s.Handle = vk.NullSemaphore
	}
}

type timelinePoint struct {
	value uint64
	fence *VulkanFence
}

// VulkanTimeline is the device completion counter. Every submit that carries
// a value gets its own fence; the counter is the value of the newest fence in
// an unbroken signaled prefix, which matches submission order on one queue.
type VulkanTimeline struct {
	context *VulkanContext

	mu        sync.Mutex
	pending   []timelinePoint
	free      []*VulkanFence
	submitted uint64
	completed uint64
}

func NewTimeline(context *VulkanContext, initial uint64) *VulkanTimeline {
	return &VulkanTimeline{
		context:   context,
		submitted: initial,
		completed: initial,
	}
}

// signal runs submit with the fence that will mark value. It must be called
// with the queue lock held so points are queued in submission order.
func (t *VulkanTimeline) signal(value uint64, submit func(fence vk.Fence) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if value <= t.submitted {
		return fmt.Errorf("timeline value %d does not advance past %d", value, t.submitted)
	}
	var fence *VulkanFence
	if n := len(t.free); n > 0 {
		fence = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		f, err := NewFence(t.context, false)
		if err != nil {
			return err
		}
		fence = f
	}
	if err := submit(fence.Handle); err != nil {
		// A failed submit leaves the fence unsignaled, so it can be reused.
		t.free = append(t.free, fence)
		return err
	}
	t.pending = append(t.pending, timelinePoint{value: value, fence: fence})
	t.submitted = value
	return nil
}

// poll retires signaled points from the front. Callers hold t.mu.
func (t *VulkanTimeline) poll() error {
	for len(t.pending) > 0 {
		point := t.pending[0]
		signaled, err := point.fence.Status()
		if err != nil {
			return err
		}
		if !signaled {
			return nil
		}
		if err := point.fence.Reset(); err != nil {
			return err
		}
		t.completed = point.value
		t.free = append(t.free, point.fence)
		t.pending[0] = timelinePoint{}
		t.pending = t.pending[1:]
	}
	return nil
}

// waitFence returns the fence of the first point at or past value, or nil
// when no such submit exists yet. Callers hold t.mu.
func (t *VulkanTimeline) waitFence(value uint64) *VulkanFence {
	for _, point := range t.pending {
		if point.value >= value {
			return point.fence
		}
	}
	return nil
}

func (t *VulkanTimeline) Completed() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.poll(); err != nil {
		return t.completed, err
	}
	return t.completed, nil
}

func (t *VulkanTimeline) Submitted() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.submitted
}

// Wait blocks until value completes. A value not submitted yet is waited for
// like any other, until ctx ends.
func (t *VulkanTimeline) Wait(ctx context.Context, value uint64) error {
	for {
		t.mu.Lock()
		if err := t.poll(); err != nil {
			t.mu.Unlock()
			core.LogError("timeline wait: %s", err)
			return err
		}
		if t.completed >= value {
			t.mu.Unlock()
			return nil
		}
		fence := t.waitFence(value)
		var err error
		if fence != nil {
			_, err = fence.Wait(timelinePollInterval)
		}
		t.mu.Unlock()
		if err != nil {
			return err
		}

		if fence != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(timelinePollInterval):
		}
	}
}

// Destroy must follow a device wait idle.
func (t *VulkanTimeline) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, point := range t.pending {
		point.fence.Destroy()
	}
	for _, fence := range t.free {
		fence.Destroy()
	}
	t.pending = nil
	t.free = nil
}
