package kdtree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/veclite/distance"
	"github.com/hupe1980/veclite/index"
)

func newTree(t *testing.T, dim int) *KDTree {
	t.Helper()
	tree, err := New(func(o *Options) { o.Dimension = dim })
	require.NoError(t, err)
	return tree
}

func TestKDTreeGrid(t *testing.T) {
	tree := newTree(t, 2)

	// 10x10 integer grid; id = 1 + x*10 + y.
	for x := 0; x < 10; x++ {
		for y := 0; y < 10; y++ {
			id := uint64(1 + x*10 + y)
			require.NoError(t, tree.Insert(id, []float32{float32(x), float32(y)}))
		}
	}
	require.Equal(t, 100, tree.Len())

	results, err := tree.Search([]float32{4.2, 5.1}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// (4,5) then (5,5) then (4,6), by distance.
	assert.Equal(t, uint64(1+4*10+5), results[0].ID)
	assert.Equal(t, uint64(1+5*10+5), results[1].ID)
	assert.Equal(t, uint64(1+4*10+6), results[2].ID)

	assert.InDelta(t, 0.2236, results[0].Distance, 1e-3)
	assert.InDelta(t, 0.8062, results[1].Distance, 1e-3)
	assert.InDelta(t, 0.9220, results[2].Distance, 1e-3)
}

func TestKDTreeMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tree := newTree(t, 4)

	vectors := make(map[uint64][]float32)
	for id := uint64(1); id <= 500; id++ {
		v := []float32{rng.Float32(), rng.Float32(), rng.Float32(), rng.Float32()}
		vectors[id] = v
		require.NoError(t, tree.Insert(id, v))
	}

	for i := 0; i < 25; i++ {
		q := []float32{rng.Float32(), rng.Float32(), rng.Float32(), rng.Float32()}
		got, err := tree.Search(q, 10, nil)
		require.NoError(t, err)

		want := exactTopK(vectors, q, 10)
		require.Len(t, got, 10)
		for j := range want {
			assert.Equal(t, want[j].ID, got[j].ID, "query %d position %d", i, j)
		}
	}
}

func exactTopK(vectors map[uint64][]float32, q []float32, k int) []index.SearchResult {
	all := make([]index.SearchResult, 0, len(vectors))
	for id, v := range vectors {
		all = append(all, index.SearchResult{ID: id, Distance: distance.Euclidean(q, v)})
	}
	index.SortResults(all)
	if len(all) > k {
		all = all[:k]
	}
	return all
}

func TestKDTreeDelete(t *testing.T) {
	tree := newTree(t, 2)
	for id := uint64(1); id <= 50; id++ {
		require.NoError(t, tree.Insert(id, []float32{float32(id), 0}))
	}

	require.NoError(t, tree.Remove(1))
	assert.Equal(t, 49, tree.Len())

	results, err := tree.Search([]float32{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(2), results[0].ID)

	// Removing an absent id is a no-op.
	require.NoError(t, tree.Remove(999))
	assert.Equal(t, 49, tree.Len())
}

func TestKDTreeReplace(t *testing.T) {
	tree := newTree(t, 2)
	require.NoError(t, tree.Insert(1, []float32{0, 0}))
	require.NoError(t, tree.Insert(1, []float32{5, 5}))
	assert.Equal(t, 1, tree.Len())

	results, err := tree.Search([]float32{5, 5}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), results[0].ID)
	assert.Equal(t, float32(0), results[0].Distance)
}

func TestKDTreeTombstoneRebuild(t *testing.T) {
	tree := newTree(t, 2)
	for id := uint64(1); id <= 100; id++ {
		require.NoError(t, tree.Insert(id, []float32{float32(id), float32(id)}))
	}
	require.NoError(t, tree.Rebuild())

	// Crossing 25% tombstones triggers a rebuild that drops them.
	for id := uint64(1); id <= 30; id++ {
		require.NoError(t, tree.Remove(id))
	}
	assert.Equal(t, 70, tree.Len())

	results, err := tree.Search([]float32{0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, uint64(31), results[0].ID)
}

func TestKDTreeFilterOversampling(t *testing.T) {
	tree := newTree(t, 2)
	for id := uint64(1); id <= 100; id++ {
		require.NoError(t, tree.Insert(id, []float32{float32(id % 10), float32(id / 10)}))
	}

	even := func(id uint64) bool { return id%2 == 0 }
	results, err := tree.Search([]float32{5, 5}, 10, even)
	require.NoError(t, err)
	require.Len(t, results, 10)
	for _, r := range results {
		assert.Zero(t, r.ID%2)
	}
}

func TestKDTreeDimensionMismatch(t *testing.T) {
	tree := newTree(t, 3)
	var dm *index.ErrDimensionMismatch

	err := tree.Insert(1, []float32{1, 2})
	assert.ErrorAs(t, err, &dm)

	require.NoError(t, tree.Insert(1, []float32{1, 2, 3}))
	_, err = tree.Search([]float32{1, 2}, 1, nil)
	assert.ErrorAs(t, err, &dm)
}
