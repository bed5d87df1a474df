package veclite

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/veclite/distance"
	"github.com/hupe1980/veclite/lexical"
	"github.com/hupe1980/veclite/payload"
)

// hashEmbedder is a tiny deterministic embedder for tests: it spreads
// the text's bytes over the vector components.
type hashEmbedder struct {
	dim int
}

func (e hashEmbedder) Embed(text string) ([]float32, error) {
	v := make([]float32, e.dim)
	for i := 0; i < len(text); i++ {
		v[i%e.dim] += float32(text[i]) / 255
	}
	return v, nil
}

func newTable(t *testing.T, optFns ...func(o *Options)) *Table {
	t.Helper()
	tbl, err := New(3, optFns...)
	require.NoError(t, err)
	return tbl
}

func TestNew(t *testing.T) {
	t.Run("DefaultIndexExists", func(t *testing.T) {
		tbl := newTable(t)
		infos := tbl.Indexes()
		require.Len(t, infos, 1)
		assert.Equal(t, DefaultIndexName, infos[0].Name)
		assert.Equal(t, distance.MetricCosine, infos[0].Metric)
	})

	t.Run("InvalidDimension", func(t *testing.T) {
		_, err := New(0)
		var ip *ErrInvalidParameter
		assert.ErrorAs(t, err, &ip)
	})
}

func TestAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("MonotonicIDs", func(t *testing.T) {
		tbl := newTable(t)
		id1, err := tbl.Add(ctx, nil, []float32{1, 0, 0})
		require.NoError(t, err)
		id2, err := tbl.Add(ctx, nil, []float32{0, 1, 0})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id1)
		assert.Equal(t, uint64(2), id2)
		assert.Equal(t, 2, tbl.Count())
	})

	t.Run("IDsNeverReused", func(t *testing.T) {
		tbl := newTable(t)
		id1, _ := tbl.Add(ctx, nil, []float32{1, 0, 0})
		require.NoError(t, tbl.Delete(ctx, id1))
		id2, err := tbl.Add(ctx, nil, []float32{0, 1, 0})
		require.NoError(t, err)
		assert.Greater(t, id2, id1)
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		tbl := newTable(t)
		_, err := tbl.Add(ctx, nil, []float32{1, 0})
		var dm *ErrDimensionMismatch
		assert.ErrorAs(t, err, &dm)
	})

	t.Run("NaNRejected", func(t *testing.T) {
		tbl := newTable(t)
		nan := float32(0)
		nan /= nan
		_, err := tbl.Add(ctx, nil, []float32{1, nan, 0})
		var nd *ErrNumericDomain
		assert.ErrorAs(t, err, &nd)
		assert.Equal(t, 0, tbl.Count())
	})

	t.Run("AutoEmbedding", func(t *testing.T) {
		tbl := newTable(t, WithEmbedder(hashEmbedder{dim: 3}))
		id, err := tbl.Add(ctx, payload.Document{"text": payload.String("hello")}, nil)
		require.NoError(t, err)

		_, vec, _, err := tbl.Get(id)
		require.NoError(t, err)
		assert.Len(t, vec, 3)
	})

	t.Run("AutoEmbeddingWithoutText", func(t *testing.T) {
		tbl := newTable(t, WithEmbedder(hashEmbedder{dim: 3}))
		_, err := tbl.Add(ctx, payload.Document{"title": payload.String("no text field")}, nil)
		assert.ErrorIs(t, err, ErrEmbeddingMissing)
	})

	t.Run("AutoEmbeddingWithoutEmbedder", func(t *testing.T) {
		tbl := newTable(t)
		_, err := tbl.Add(ctx, payload.Document{"text": payload.String("hello")}, nil)
		assert.ErrorIs(t, err, ErrEmbeddingMissing)
	})
}

func TestSchema(t *testing.T) {
	ctx := context.Background()
	schema := payload.Schema{"title": payload.KindString, "year": payload.KindInt}
	tbl := newTable(t, WithSchema(schema))

	t.Run("UnknownFieldRejected", func(t *testing.T) {
		_, err := tbl.Add(ctx, payload.Document{"extra": payload.Int(1)}, []float32{1, 0, 0})
		var sv *ErrSchemaViolation
		assert.ErrorAs(t, err, &sv)
		assert.Equal(t, 0, tbl.Count())
	})

	t.Run("MissingFieldStoredAsNull", func(t *testing.T) {
		id, err := tbl.Add(ctx, payload.Document{"title": payload.String("x")}, []float32{1, 0, 0})
		require.NoError(t, err)

		_, _, doc, err := tbl.Get(id)
		require.NoError(t, err)
		assert.Equal(t, payload.Null(), doc["year"])
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("ReplacesPayloadAndVector", func(t *testing.T) {
		tbl := newTable(t)
		id, _ := tbl.Add(ctx, payload.Document{"a": payload.Int(1)}, []float32{1, 0, 0})

		require.NoError(t, tbl.Update(ctx, id, payload.Document{"b": payload.Int(2)}, []float32{0, 1, 0}))

		_, vec, doc, err := tbl.Get(id)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1, 0}, vec)
		_, hasA := doc["a"]
		assert.False(t, hasA, "update replaces the whole payload")
		assert.Equal(t, payload.Int(2), doc["b"])
	})

	t.Run("NilVectorKeepsStored", func(t *testing.T) {
		tbl := newTable(t)
		id, _ := tbl.Add(ctx, nil, []float32{1, 0, 0})
		require.NoError(t, tbl.Update(ctx, id, payload.Document{"x": payload.Int(1)}, nil))

		_, vec, _, _ := tbl.Get(id)
		assert.Equal(t, []float32{1, 0, 0}, vec)
	})

	t.Run("UnknownID", func(t *testing.T) {
		tbl := newTable(t)
		err := tbl.Update(ctx, 99, nil, []float32{1, 0, 0})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMergeLocality(t *testing.T) {
	ctx := context.Background()
	tbl := newTable(t)
	id, _ := tbl.Add(ctx, payload.Document{
		"title": payload.String("original"),
		"year":  payload.Int(2001),
	}, []float32{1, 0, 0})

	require.NoError(t, tbl.Merge(ctx, id, payload.Document{"year": payload.Int(2024)}))

	_, vec, doc, err := tbl.Get(id)
	require.NoError(t, err)
	assert.Equal(t, payload.String("original"), doc["title"], "merge touches only provided fields")
	assert.Equal(t, payload.Int(2024), doc["year"])
	assert.Equal(t, []float32{1, 0, 0}, vec, "merge does not alter the vector")
}

func TestMergeReembedsChangedText(t *testing.T) {
	ctx := context.Background()
	tbl := newTable(t,
		WithEmbedder(hashEmbedder{dim: 3}),
		WithTextFields("text"),
	)

	id, err := tbl.Add(ctx, payload.Document{"text": payload.String("aa")}, nil)
	require.NoError(t, err)
	_, before, _, _ := tbl.Get(id)

	require.NoError(t, tbl.Merge(ctx, id, payload.Document{"text": payload.String("zzzz")}))
	_, after, _, _ := tbl.Get(id)
	assert.NotEqual(t, before, after, "auto-embedded vector follows the text")
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()

	t.Run("InsertsWhenAbsent", func(t *testing.T) {
		tbl := newTable(t)
		require.NoError(t, tbl.Upsert(ctx, 7, payload.Document{"a": payload.Int(1)}, []float32{1, 0, 0}))
		assert.True(t, tbl.Has(7))

		// Later adds continue past the upserted id.
		id, err := tbl.Add(ctx, nil, []float32{0, 1, 0})
		require.NoError(t, err)
		assert.Equal(t, uint64(8), id)
	})

	t.Run("Idempotent", func(t *testing.T) {
		tbl := newTable(t)
		doc := payload.Document{"a": payload.Int(1)}
		require.NoError(t, tbl.Upsert(ctx, 1, doc, []float32{1, 0, 0}))
		require.NoError(t, tbl.Upsert(ctx, 1, doc, []float32{1, 0, 0}))

		assert.Equal(t, 1, tbl.Count())
		infos := tbl.Indexes()
		assert.Equal(t, 1, infos[0].Size)
	})

	t.Run("ActsLikeUpdateWhenPresent", func(t *testing.T) {
		tbl := newTable(t)
		require.NoError(t, tbl.Upsert(ctx, 1, nil, []float32{1, 0, 0}))
		require.NoError(t, tbl.Upsert(ctx, 1, nil, []float32{0, 0, 1}))

		_, vec, _, _ := tbl.Get(1)
		assert.Equal(t, []float32{0, 0, 1}, vec)
		assert.Equal(t, 1, tbl.Count())
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		tbl := newTable(t, WithTextFields("text"))
		require.NoError(t, tbl.CreateBTreeIndex("category"))
		require.NoError(t, tbl.CreateVectorIndex("euclid", IndexKDTree, distance.MetricEuclidean))

		id, err := tbl.Add(ctx, payload.Document{
			"category": payload.String("a"),
			"text":     payload.String("some words"),
		}, []float32{1, 0, 0})
		require.NoError(t, err)

		require.NoError(t, tbl.Delete(ctx, id))
		require.NoError(t, tbl.RebuildIndex("euclid"))

		assert.Equal(t, 0, tbl.Count())
		for _, info := range tbl.Indexes() {
			assert.Equal(t, 0, info.Size, "index %s", info.Name)
		}
	})

	t.Run("UnknownID", func(t *testing.T) {
		tbl := newTable(t)
		assert.ErrorIs(t, tbl.Delete(ctx, 5), ErrNotFound)
	})
}

// failingFullText fails every Add to exercise mutation rollback.
type failingFullText struct{}

func (failingFullText) Add(uint64, []string) error { return fmt.Errorf("postings write refused") }
func (failingFullText) Remove(uint64) error        { return nil }
func (failingFullText) Search([]string, int) ([]lexical.Score, error) {
	return nil, nil
}
func (failingFullText) Len() int { return 0 }

func TestMutationRollback(t *testing.T) {
	ctx := context.Background()
	tbl := newTable(t,
		WithTextFields("text"),
		WithFullTextIndex(failingFullText{}),
	)
	require.NoError(t, tbl.CreateBTreeIndex("category"))
	require.NoError(t, tbl.CreateVectorIndex("euclid", IndexKDTree, distance.MetricEuclidean))

	_, err := tbl.Add(ctx, payload.Document{
		"category": payload.String("a"),
		"text":     payload.String("boom"),
	}, []float32{1, 0, 0})
	require.Error(t, err)

	// The record store and every other index reflect no change.
	assert.Equal(t, 0, tbl.Count())
	for _, info := range tbl.Indexes() {
		assert.Equal(t, 0, info.Size, "index %s", info.Name)
	}

	rows, err := tbl.Query().Filter("category", "a").Execute(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestBatchAdd(t *testing.T) {
	ctx := context.Background()
	tbl := newTable(t)

	result := tbl.BatchAdd(ctx, []BatchAddItem{
		{Vector: []float32{1, 0, 0}},
		{Vector: []float32{1, 0}}, // wrong dimension
		{Vector: []float32{0, 1, 0}},
	})

	assert.NoError(t, result.Errors[0])
	assert.Error(t, result.Errors[1])
	assert.NoError(t, result.Errors[2])
	assert.Equal(t, 2, tbl.Count())
	assert.Equal(t, uint64(1), result.IDs[0])
	assert.Equal(t, uint64(2), result.IDs[2])
}

func TestCreateIndexes(t *testing.T) {
	ctx := context.Background()

	t.Run("DuplicateName", func(t *testing.T) {
		tbl := newTable(t)
		err := tbl.CreateVectorIndex(DefaultIndexName, IndexBruteForce, distance.MetricCosine)
		assert.ErrorIs(t, err, ErrDuplicateIndex)
	})

	t.Run("IncompatibleMetric", func(t *testing.T) {
		tbl := newTable(t)
		assert.ErrorIs(t, tbl.CreateVectorIndex("kd", IndexKDTree, distance.MetricCosine), ErrIncompatibleIndex)
		assert.ErrorIs(t, tbl.CreateVectorIndex("l", IndexLSH, distance.MetricEuclidean), ErrIncompatibleIndex)
	})

	t.Run("InvalidParams", func(t *testing.T) {
		tbl := newTable(t)
		err := tbl.CreateVectorIndex("ivf", IndexIVFFlat, distance.MetricCosine, func(p *IndexParams) {
			p.NLists = 4
			p.NProbe = 9
		})
		var ip *ErrInvalidParameter
		assert.ErrorAs(t, err, &ip)
	})

	t.Run("BackfillsExistingRecords", func(t *testing.T) {
		tbl := newTable(t)
		for i := 0; i < 10; i++ {
			_, err := tbl.Add(ctx, nil, []float32{float32(i), 0, 0})
			require.NoError(t, err)
		}

		require.NoError(t, tbl.CreateVectorIndex("euclid", IndexKDTree, distance.MetricEuclidean))
		for _, info := range tbl.Indexes() {
			assert.Equal(t, 10, info.Size)
		}
	})

	t.Run("FullTextCreatedLater", func(t *testing.T) {
		tbl := newTable(t)
		_, err := tbl.Add(ctx, payload.Document{"body": payload.String("hello world")}, []float32{1, 0, 0})
		require.NoError(t, err)

		require.NoError(t, tbl.CreateFullTextIndex("body"))

		hits, err := tbl.TextSearch(ctx, "hello", 5)
		require.NoError(t, err)
		require.Len(t, hits, 1)
	})
}

func TestConcurrentReads(t *testing.T) {
	ctx := context.Background()
	tbl := newTable(t)
	for i := 0; i < 100; i++ {
		_, err := tbl.Add(ctx, nil, []float32{float32(i), 1, 0})
		require.NoError(t, err)
	}

	done := make(chan error, 8)
	for g := 0; g < 8; g++ {
		go func() {
			for i := 0; i < 50; i++ {
				if _, err := tbl.VectorSearch(ctx, []float32{1, 1, 0}, 10); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
	}
	for g := 0; g < 8; g++ {
		assert.NoError(t, <-done)
	}
}
