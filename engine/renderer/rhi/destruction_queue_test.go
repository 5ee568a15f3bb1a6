package rhi_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type fakeTimeline struct {
	completed uint64
	err       error
}

func (f *fakeTimeline) Destroy() {}

func (f *fakeTimeline) Completed() (uint64, error) {
	return f.completed, f.err
}

func (f *fakeTimeline) Wait(ctx context.Context, value uint64) error {
	if f.completed >= value {
		return nil
	}
	return errors.New("would block")
}

func TestDestructionQueueDrainsInOrderOnceCompleted(t *testing.T) {
	tl := &fakeTimeline{}
	q := rhi.NewDestructionQueue(tl, func() error { return nil })

	var destroyed []string
	push := func(name string) uint64 {
		return q.Push(name, func() { destroyed = append(destroyed, name) })
	}

	q.Track(1)
	assert.Equal(t, uint64(1), push("a"))
	assert.Equal(t, uint64(1), push("b"))
	q.Track(3)
	assert.Equal(t, uint64(3), push("c"))
	q.Track(2) // never lowers the pending value
	assert.Equal(t, uint64(3), q.PendingValue())
	assert.Equal(t, 3, q.Len())

	n, err := q.Drain()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, destroyed)

	tl.completed = 2
	n, err = q.Drain()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, destroyed)

	tl.completed = 3
	n, err = q.Drain()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a", "b", "c"}, destroyed)
	assert.Zero(t, q.Len())
}

func TestDestructionQueueNeverDestroysEarly(t *testing.T) {
	tl := &fakeTimeline{}
	q := rhi.NewDestructionQueue(tl, func() error { return nil })

	destroyedAt := map[uint64]uint64{}
	for v := uint64(1); v <= 50; v++ {
		q.Track(v)
		value := v
		q.Push("obj", func() { destroyedAt[value] = tl.completed })
		if v%7 == 0 {
			tl.completed = v - 3
			_, err := q.Drain()
			require.NoError(t, err)
		}
	}
	tl.completed = 50
	_, err := q.Drain()
	require.NoError(t, err)

	require.Len(t, destroyedAt, 50)
	for value, completed := range destroyedAt {
		assert.GreaterOrEqual(t, completed, value)
	}
}

func TestDestructionQueueTimelineErrorDestroysNothing(t *testing.T) {
	tl := &fakeTimeline{completed: 10, err: core.ErrDeviceLost}
	q := rhi.NewDestructionQueue(tl, func() error { return nil })
	called := false
	q.Push("buffer", func() { called = true })

	_, err := q.Drain()
	require.Error(t, err)
	assert.True(t, rhi.IsDeviceLost(err))
	assert.False(t, called)
	assert.Equal(t, 1, q.Len())
}

func TestDestructionQueueFlush(t *testing.T) {
	tl := &fakeTimeline{}
	idleErr := errors.New("wait failed")
	var idle error = idleErr
	q := rhi.NewDestructionQueue(tl, func() error { return idle })

	count := 0
	q.Track(5)
	for i := 0; i < 3; i++ {
		q.Push("texture", func() { count++ })
	}

	err := q.Flush(context.Background())
	var rerr *rhi.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, idleErr)
	assert.Zero(t, count, "nothing is destroyed after a failed idle wait")
	assert.Equal(t, 3, q.Len())

	idle = nil
	require.NoError(t, q.Flush(context.Background()))
	assert.Equal(t, 3, count)
	assert.Zero(t, q.Len())
}

func TestDestructionQueueFlushHonoursContext(t *testing.T) {
	q := rhi.NewDestructionQueue(&fakeTimeline{}, func() error { return nil })
	q.Push("sampler", func() { t.Fatal("destroyed after cancellation") })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Flush(ctx), context.Canceled)
}
