package veclite

import (
	"math"
	"sort"

	"github.com/hupe1980/veclite/distance"
	"github.com/hupe1980/veclite/index"
)

// FusedHit is a scored hit from a hybrid search. Larger is better.
type FusedHit struct {
	ID    uint64
	Score float64
}

// vectorSimilarity converts a metric-specific distance into a
// similarity in [0, 1]: 1/(1+d) for euclidean, 1-d clipped for cosine
// and a logistic squash for negated dot.
func vectorSimilarity(m distance.Metric, d float32) float64 {
	switch m {
	case distance.MetricEuclidean:
		return 1 / (1 + float64(d))
	case distance.MetricCosine:
		s := 1 - float64(d)
		if s < 0 {
			return 0
		}
		if s > 1 {
			return 1
		}
		return s
	default: // MetricDot: d is the negated dot product
		return 1 / (1 + math.Exp(float64(d)))
	}
}

// normalizeText min-max normalizes BM25 scores across the candidate
// set. When every candidate scored the same, each one counts as a full
// match.
func normalizeText(scores map[uint64]float64) map[uint64]float64 {
	if len(scores) == 0 {
		return scores
	}
	lo := math.Inf(1)
	hi := math.Inf(-1)
	for _, s := range scores {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	out := make(map[uint64]float64, len(scores))
	if hi == lo {
		for id := range scores {
			out[id] = 1
		}
		return out
	}
	for id, s := range scores {
		out[id] = (s - lo) / (hi - lo)
	}
	return out
}

// fuse combines a vector result list and a text score map into a single
// ranking: s = w*simVec + (1-w)*simText, records present on only one
// side use 0 for the missing side. Descending by score, ties ascending
// by id, capped at k.
func fuse(m distance.Metric, vec []index.SearchResult, text map[uint64]float64, w float64, k int) []FusedHit {
	textNorm := normalizeText(text)

	hits := make([]FusedHit, 0, len(vec)+len(textNorm))
	seen := make(map[uint64]struct{}, len(vec))
	for _, r := range vec {
		seen[r.ID] = struct{}{}
		hits = append(hits, FusedHit{
			ID:    r.ID,
			Score: w*vectorSimilarity(m, r.Distance) + (1-w)*textNorm[r.ID],
		})
	}
	for id, s := range textNorm {
		if _, ok := seen[id]; ok {
			continue
		}
		hits = append(hits, FusedHit{ID: id, Score: (1 - w) * s})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
