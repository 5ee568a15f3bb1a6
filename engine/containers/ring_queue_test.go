package containers

import (
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedRingQueue(t *testing.T) {
	rq := NewRingQueue[int](3)
	assert.True(t, rq.IsEmpty())

	for i := 1; i <= 3; i++ {
		require.NoError(t, rq.Enqueue(i))
	}
	assert.True(t, rq.IsFull())
	assert.ErrorIs(t, rq.Enqueue(4), core.ErrQueueFull)

	v, err := rq.Peek()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// wrap around
	require.NoError(t, rq.Enqueue(4))
	for _, want := range []int{2, 3, 4} {
		v, err = rq.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	_, err = rq.Dequeue()
	assert.ErrorIs(t, err, core.ErrQueueEmpty)
	_, err = rq.Peek()
	assert.ErrorIs(t, err, core.ErrQueueEmpty)
}

func TestGrowableRingQueueKeepsOrder(t *testing.T) {
	rq := NewGrowableRingQueue[string](2)
	require.NoError(t, rq.Enqueue("a"))
	require.NoError(t, rq.Enqueue("b"))
	_, err := rq.Dequeue()
	require.NoError(t, err)

	// write index has wrapped; growing must unroll the buffer in FIFO order
	for _, s := range []string{"c", "d", "e"} {
		require.NoError(t, rq.Enqueue(s))
	}
	assert.Equal(t, 4, rq.Len())
	assert.GreaterOrEqual(t, rq.Cap(), 4)

	for _, want := range []string{"b", "c", "d", "e"} {
		v, err := rq.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	assert.True(t, rq.IsEmpty())
}
