// Package bm25 provides an in-memory BM25 full-text index.
package bm25

import (
	"math"
	"sort"

	"github.com/hupe1980/veclite/lexical"
)

const (
	k1 = 1.5
	b  = 0.75
)

// Compile-time check to ensure MemoryIndex implements lexical.Index.
var _ lexical.Index = (*MemoryIndex)(nil)

type posting struct {
	id    uint64
	count int
}

// MemoryIndex is an in-memory BM25 index: postings lists per term plus a
// per-document length table. After any successful mutation the postings
// contain only live record IDs.
type MemoryIndex struct {
	inverted    map[string][]posting
	docTerms    map[uint64][]string // distinct terms per doc, for O(terms) delete
	docLengths  map[uint64]int
	totalLength int64
}

// New creates a new MemoryIndex.
func New() *MemoryIndex {
	return &MemoryIndex{
		inverted:   make(map[string][]posting),
		docTerms:   make(map[uint64][]string),
		docLengths: make(map[uint64]int),
	}
}

// Len returns the number of indexed documents.
func (idx *MemoryIndex) Len() int { return len(idx.docLengths) }

// Add indexes the token multiset for id, replacing any previous document
// stored under the same id.
func (idx *MemoryIndex) Add(id uint64, tokens []string) error {
	if _, ok := idx.docLengths[id]; ok {
		if err := idx.Remove(id); err != nil {
			return err
		}
	}

	idx.docLengths[id] = len(tokens)
	idx.totalLength += int64(len(tokens))

	tf := make(map[string]int)
	for _, t := range tokens {
		tf[t]++
	}

	terms := make([]string, 0, len(tf))
	for t, count := range tf {
		idx.inverted[t] = append(idx.inverted[t], posting{id: id, count: count})
		terms = append(terms, t)
	}
	idx.docTerms[id] = terms
	return nil
}

// Remove removes id from the index. A no-op for absent ids.
func (idx *MemoryIndex) Remove(id uint64) error {
	length, ok := idx.docLengths[id]
	if !ok {
		return nil
	}

	for _, t := range idx.docTerms[id] {
		postings := idx.inverted[t]
		for i, p := range postings {
			if p.id == id {
				idx.inverted[t] = append(postings[:i], postings[i+1:]...)
				break
			}
		}
		if len(idx.inverted[t]) == 0 {
			delete(idx.inverted, t)
		}
	}

	delete(idx.docTerms, id)
	delete(idx.docLengths, id)
	idx.totalLength -= int64(length)
	return nil
}

// Search scores the query tokens with BM25 and returns the top-k hits in
// descending score, ties broken by ascending id.
func (idx *MemoryIndex) Search(tokens []string, k int) ([]lexical.Score, error) {
	scores := idx.scoreAll(tokens)
	hits := make([]lexical.Score, 0, len(scores))
	for id, s := range scores {
		hits = append(hits, lexical.Score{ID: id, Score: s})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// ScoreAll returns the BM25 score of every document matching at least
// one query token. The hybrid ranker normalizes over this full map.
func (idx *MemoryIndex) ScoreAll(tokens []string) map[uint64]float64 {
	return idx.scoreAll(tokens)
}

func (idx *MemoryIndex) scoreAll(tokens []string) map[uint64]float64 {
	scores := make(map[uint64]float64)
	if len(idx.docLengths) == 0 {
		return scores
	}

	avgDL := float64(idx.totalLength) / float64(len(idx.docLengths))

	// Deduplicate query terms; repeated terms do not double-score.
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}

		postings, ok := idx.inverted[t]
		if !ok {
			continue
		}

		idf := idx.computeIDF(len(postings))
		for _, p := range postings {
			tf := float64(p.count)
			docLen := float64(idx.docLengths[p.id])

			num := tf * (k1 + 1)
			denom := tf + k1*(1-b+b*(docLen/avgDL))
			scores[p.id] += idf * (num / denom)
		}
	}
	return scores
}

// computeIDF uses the Lucene formulation, which never goes negative:
// log((N - df + 0.5) / (df + 0.5) + 1).
func (idx *MemoryIndex) computeIDF(df int) float64 {
	N := float64(len(idx.docLengths))
	n := float64(df)
	return math.Log((N-n+0.5)/(n+0.5) + 1)
}
