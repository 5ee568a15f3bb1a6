package headless

import (
	"context"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// Timeline is a software timeline semaphore. In automatic mode work completes
// the moment it is submitted; in manual mode only Complete advances it.
type Timeline struct {
	object

	mu        sync.Mutex
	manual    bool
	submitted uint64
	completed uint64
	lost      bool
	// closed and replaced on every change so waiters can select on it
	changed chan struct{}
}

func newTimeline(d *Driver, manual bool) *Timeline {
	t := &Timeline{manual: manual, changed: make(chan struct{})}
	t.init(d, "timeline", "device-timeline")
	return t
}

func (t *Timeline) broadcast() {
	close(t.changed)
	t.changed = make(chan struct{})
}

func (t *Timeline) Completed() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lost {
		return t.completed, core.ErrDeviceLost
	}
	return t.completed, nil
}

func (t *Timeline) Submitted() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.submitted
}

func (t *Timeline) Wait(ctx context.Context, value uint64) error {
	for {
		t.mu.Lock()
		if t.lost {
			t.mu.Unlock()
			return core.ErrDeviceLost
		}
		if t.completed >= value {
			t.mu.Unlock()
			return nil
		}
		ch := t.changed
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (t *Timeline) submit(value uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.submitted = value
	if !t.manual {
		t.completed = value
	}
	t.broadcast()
}

// complete raises the completed value, never past what was submitted.
func (t *Timeline) complete(value uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if value > t.submitted {
		value = t.submitted
	}
	if value > t.completed {
		t.completed = value
		t.broadcast()
	}
}

func (t *Timeline) completeAll() {
	t.complete(t.Submitted())
}

func (t *Timeline) setLost() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lost = true
	t.broadcast()
}
