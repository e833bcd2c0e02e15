package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFIFO(t *testing.T) {
	q := NewRingQueue[int](4)
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Len())

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(i))
	}
	assert.Equal(t, 3, q.Len())

	front, err := q.Peek()
	require.NoError(t, err)
	assert.Equal(t, 1, front)
	assert.Equal(t, 3, q.Len(), "peek does not consume")

	for i := 1; i <= 3; i++ {
		v, err := q.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.True(t, q.IsEmpty())
}

func TestRingQueueFullAndEmpty(t *testing.T) {
	q := NewRingQueue[string](2)

	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Enqueue("b"))
	assert.True(t, q.IsFull())
	assert.ErrorIs(t, q.Enqueue("c"), ErrQueueFull)

	_, err := q.Dequeue()
	require.NoError(t, err)
	_, err = q.Dequeue()
	require.NoError(t, err)

	_, err = q.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
	_, err = q.Peek()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestRingQueueWrapsAround(t *testing.T) {
	q := NewRingQueue[int](3)

	// Cycle enough values through to wrap the indices several times.
	next := 0
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(i))
		if q.IsFull() {
			v, err := q.Dequeue()
			require.NoError(t, err)
			assert.Equal(t, next, v)
			next++
		}
	}

	for !q.IsEmpty() {
		v, err := q.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, next, v)
		next++
	}
	assert.Equal(t, 10, next, "every enqueued value came back out in order")
}
