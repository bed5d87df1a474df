package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinQueue(t *testing.T) {
	pq := NewMin(4)
	pq.Push(Item{ID: 1, Distance: 3})
	pq.Push(Item{ID: 2, Distance: 1})
	pq.Push(Item{ID: 3, Distance: 2})

	item, ok := pq.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(2), item.ID)

	item, _ = pq.Pop()
	assert.Equal(t, uint64(3), item.ID)

	item, _ = pq.Pop()
	assert.Equal(t, uint64(1), item.ID)

	_, ok = pq.Pop()
	assert.False(t, ok)
}

func TestMaxQueue(t *testing.T) {
	pq := NewMax(4)
	pq.Push(Item{ID: 1, Distance: 3})
	pq.Push(Item{ID: 2, Distance: 1})

	top, ok := pq.Top()
	require.True(t, ok)
	assert.Equal(t, float32(3), top.Distance)
}

func TestPushBounded(t *testing.T) {
	pq := NewMax(3)
	for i, d := range []float32{5, 1, 4, 2, 3} {
		pq.PushBounded(Item{ID: uint64(i), Distance: d}, 3)
	}

	// The three smallest distances survive.
	require.Equal(t, 3, pq.Len())
	var dists []float32
	for pq.Len() > 0 {
		item, _ := pq.Pop()
		dists = append(dists, item.Distance)
	}
	assert.ElementsMatch(t, []float32{1, 2, 3}, dists)
}

func TestPushBoundedTieKeepsSmallerID(t *testing.T) {
	pq := NewMax(1)
	pq.PushBounded(Item{ID: 7, Distance: 1}, 1)
	pq.PushBounded(Item{ID: 3, Distance: 1}, 1)

	item, _ := pq.Pop()
	assert.Equal(t, uint64(3), item.ID)
}
