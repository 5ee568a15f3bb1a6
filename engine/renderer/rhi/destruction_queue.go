package rhi

import (
	"context"

	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type pendingDestruction struct {
	subject string
	destroy func()
	value   uint64
}

// DestructionQueue defers native destruction until the device timeline has
// passed every submission that could still reference the object. Timeline
// values only grow, so entries become safe in FIFO order.
type DestructionQueue struct {
	timeline Timeline
	waitIdle func() error
	entries  *containers.RingQueue[pendingDestruction]
	// value signaled once all work submitted (or being recorded) completes
	pending uint64
}

func NewDestructionQueue(timeline Timeline, waitIdle func() error) *DestructionQueue {
	return &DestructionQueue{
		timeline: timeline,
		waitIdle: waitIdle,
		entries:  containers.NewGrowableRingQueue[pendingDestruction](64),
	}
}

// Track raises the value recorded by later pushes. The frame ring calls it
// when a frame starts recording, with the value that frame will signal.
func (q *DestructionQueue) Track(value uint64) {
	if value > q.pending {
		q.pending = value
	}
}

func (q *DestructionQueue) PendingValue() uint64 {
	return q.pending
}

func (q *DestructionQueue) Len() int {
	return q.entries.Len()
}

// Push records destroy against the current pending value and returns it.
func (q *DestructionQueue) Push(subject string, destroy func()) uint64 {
	// growable queue never reports full
	_ = q.entries.Enqueue(pendingDestruction{
		subject: subject,
		destroy: destroy,
		value:   q.pending,
	})
	return q.pending
}

// Drain destroys every entry whose value the device has completed. A failed
// timeline query destroys nothing and is returned to the caller.
func (q *DestructionQueue) Drain() (int, error) {
	if q.entries.IsEmpty() {
		return 0, nil
	}
	completed, err := q.timeline.Completed()
	if err != nil {
		return 0, &RuntimeError{Op: "timeline query", Err: err}
	}

	destroyed := 0
	for !q.entries.IsEmpty() {
		head, _ := q.entries.Peek()
		if head.value > completed {
			break
		}
		_, _ = q.entries.Dequeue()
		head.destroy()
		destroyed++
	}
	if destroyed > 0 {
		core.LogDebug("destroyed %d deferred objects (completed=%d, pending=%d)", destroyed, completed, q.entries.Len())
	}
	return destroyed, nil
}

// Flush is the teardown path: wait for the device to go idle, then destroy
// everything. If the idle wait fails nothing is destroyed and the error is
// returned; destroying after a failed wait could free objects still in use.
func (q *DestructionQueue) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.waitIdle(); err != nil {
		return &RuntimeError{Op: "device idle wait", Err: err}
	}
	for !q.entries.IsEmpty() {
		e, _ := q.entries.Dequeue()
		e.destroy()
	}
	return nil
}
