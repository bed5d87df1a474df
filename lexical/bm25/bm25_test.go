package bm25

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/veclite/lexical"
)

func TestMemoryIndex(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Add(1, lexical.Tokenize("the quick brown fox")))
	require.NoError(t, idx.Add(2, lexical.Tokenize("the lazy dog")))
	require.NoError(t, idx.Add(3, lexical.Tokenize("quick quick quick foxes")))
	require.Equal(t, 3, idx.Len())

	t.Run("TermFrequencyWins", func(t *testing.T) {
		hits, err := idx.Search([]string{"quick"}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		// Doc 3 repeats the term; saturation still ranks it above the
		// single occurrence in doc 1.
		assert.Equal(t, uint64(3), hits[0].ID)
		assert.Equal(t, uint64(1), hits[1].ID)
		assert.Greater(t, hits[0].Score, hits[1].Score)
	})

	t.Run("NoMatchExcluded", func(t *testing.T) {
		hits, err := idx.Search([]string{"dog"}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, uint64(2), hits[0].ID)
	})

	t.Run("UnknownTerm", func(t *testing.T) {
		hits, err := idx.Search([]string{"zebra"}, 10)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("TopK", func(t *testing.T) {
		hits, err := idx.Search([]string{"the", "quick"}, 1)
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})

	t.Run("NegativeKReturnsAll", func(t *testing.T) {
		hits, err := idx.Search([]string{"the", "quick"}, -1)
		require.NoError(t, err)
		assert.Len(t, hits, 3)
	})
}

func TestMemoryIndexScoresNeverNegative(t *testing.T) {
	idx := New()
	// A term matching every document would go negative under the
	// classic IDF; the Lucene formulation must not.
	for id := uint64(1); id <= 5; id++ {
		require.NoError(t, idx.Add(id, []string{"common"}))
	}

	hits, err := idx.Search([]string{"common"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 5)
	for _, h := range hits {
		assert.Greater(t, h.Score, 0.0)
	}
}

func TestMemoryIndexTieBreak(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Add(9, []string{"same", "tokens"}))
	require.NoError(t, idx.Add(2, []string{"same", "tokens"}))
	require.NoError(t, idx.Add(5, []string{"same", "tokens"}))

	hits, err := idx.Search([]string{"same"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, uint64(2), hits[0].ID)
	assert.Equal(t, uint64(5), hits[1].ID)
	assert.Equal(t, uint64(9), hits[2].ID)
}

func TestMemoryIndexUpdateReplaces(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Add(1, []string{"old", "content"}))
	require.NoError(t, idx.Add(1, []string{"new", "content"}))
	require.Equal(t, 1, idx.Len())

	hits, err := idx.Search([]string{"old"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Search([]string{"new"}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestMemoryIndexRemove(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Add(1, []string{"alpha", "beta"}))
	require.NoError(t, idx.Add(2, []string{"alpha"}))

	require.NoError(t, idx.Remove(1))
	assert.Equal(t, 1, idx.Len())

	hits, err := idx.Search([]string{"beta"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "postings contain only live ids")

	hits, err = idx.Search([]string{"alpha"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, uint64(2), hits[0].ID)

	// Removing an absent id is a no-op.
	require.NoError(t, idx.Remove(42))
	assert.Equal(t, 1, idx.Len())
}

func TestMemoryIndexRepeatedQueryTerms(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Add(1, []string{"cat"}))

	once, err := idx.Search([]string{"cat"}, 10)
	require.NoError(t, err)
	twice, err := idx.Search([]string{"cat", "cat"}, 10)
	require.NoError(t, err)
	require.Len(t, twice, 1)
	assert.Equal(t, once[0].Score, twice[0].Score)
}
