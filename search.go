package veclite

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/veclite/distance"
	"github.com/hupe1980/veclite/index"
	"github.com/hupe1980/veclite/lexical"
)

// VectorSearchOptions controls a direct vector search.
type VectorSearchOptions struct {
	// IndexName selects a named vector index. Defaults to "default".
	IndexName string

	// Filter restricts the search to records for which it returns true.
	Filter index.Filter
}

// VectorSearch returns the up-to-k nearest records to q from the named
// (or default) vector index.
func (t *Table) VectorSearch(ctx context.Context, q []float32, k int, optFns ...func(o *VectorSearchOptions)) ([]index.SearchResult, error) {
	opts := VectorSearchOptions{IndexName: DefaultIndexName}
	for _, fn := range optFns {
		fn(&opts)
	}

	start := time.Now()
	results, err := t.vectorSearch(ctx, q, k, opts)
	t.opts.Metrics.RecordSearch("vector", k, time.Since(start), err)
	t.opts.Logger.LogSearch(ctx, "vector", k, len(results), err)
	return results, err
}

func (t *Table) vectorSearch(ctx context.Context, q []float32, k int, opts VectorSearchOptions) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.vectorSearchLocked(q, k, opts.IndexName, opts.Filter)
}

func (t *Table) vectorSearchLocked(q []float32, k int, name string, filter index.Filter) ([]index.SearchResult, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	ix, ok := t.vector[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndex, name)
	}
	if len(q) != t.dim {
		return nil, &ErrDimensionMismatch{Expected: t.dim, Actual: len(q)}
	}
	if err := distanceValidate(q); err != nil {
		return nil, err
	}

	results, err := ix.Search(q, k, filter)
	if err != nil {
		return nil, translateError(err)
	}
	return results, nil
}

// TextSearch scores q against the full-text index and returns the top-k
// hits in descending relevance.
func (t *Table) TextSearch(ctx context.Context, q string, k int) ([]lexical.Score, error) {
	start := time.Now()
	results, err := t.textSearch(ctx, q, k)
	t.opts.Metrics.RecordSearch("text", k, time.Since(start), err)
	t.opts.Logger.LogSearch(ctx, "text", k, len(results), err)
	return results, err
}

func (t *Table) textSearch(ctx context.Context, q string, k int) ([]lexical.Score, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	tokens, err := t.textTokensLocked(q)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}
	return t.fulltext.Search(tokens, k)
}

func (t *Table) textTokensLocked(q string) ([]string, error) {
	if t.fulltext == nil {
		return nil, fmt.Errorf("%w: full-text index", ErrUnknownIndex)
	}
	tokens := t.opts.Tokenizer(q)
	if len(tokens) == 0 {
		return nil, ErrEmptyQuery
	}
	return tokens, nil
}

// textScoresLocked returns the BM25 score of every matching document.
func (t *Table) textScoresLocked(tokens []string) (map[uint64]float64, error) {
	all, err := t.fulltext.Search(tokens, -1)
	if err != nil {
		return nil, err
	}
	scores := make(map[uint64]float64, len(all))
	for _, s := range all {
		scores[s.ID] = s.Score
	}
	return scores, nil
}

// HybridSearch fuses vector similarity and text relevance with weight w
// per the hybrid ranking rules and returns the top-k records.
func (t *Table) HybridSearch(ctx context.Context, qVec []float32, qText string, w float64, k int, optFns ...func(o *VectorSearchOptions)) ([]FusedHit, error) {
	opts := VectorSearchOptions{IndexName: DefaultIndexName}
	for _, fn := range optFns {
		fn(&opts)
	}

	start := time.Now()
	results, err := t.hybridSearch(ctx, qVec, qText, w, k, opts)
	t.opts.Metrics.RecordSearch("hybrid", k, time.Since(start), err)
	t.opts.Logger.LogSearch(ctx, "hybrid", k, len(results), err)
	return results, err
}

func (t *Table) hybridSearch(ctx context.Context, qVec []float32, qText string, w float64, k int, opts VectorSearchOptions) ([]FusedHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hybridSearchLocked(qVec, qText, w, k, opts.IndexName, opts.Filter)
}

// hybridSearchLocked runs the vector and text ranking passes
// independently and fuses them; a vector-ordered candidate list is
// never re-scored in place.
func (t *Table) hybridSearchLocked(qVec []float32, qText string, w float64, k int, name string, filter index.Filter) ([]FusedHit, error) {
	if w < 0 || w > 1 {
		return nil, &ErrInvalidParameter{cause: fmt.Errorf("hybrid weight %v outside [0,1]", w)}
	}
	tokens, err := t.textTokensLocked(qText)
	if err != nil {
		return nil, err
	}

	vres, err := t.vectorSearchLocked(qVec, k, name, filter)
	if err != nil {
		return nil, err
	}
	tscores, err := t.textScoresLocked(tokens)
	if err != nil {
		return nil, err
	}
	if filter != nil {
		for id := range tscores {
			if !filter(id) {
				delete(tscores, id)
			}
		}
	}

	ix := t.vector[name]
	return fuse(ix.Metric(), vres, tscores, w, k), nil
}

func distanceValidate(q []float32) error {
	if err := distance.Validate(q); err != nil {
		return &ErrNumericDomain{cause: err}
	}
	return nil
}
