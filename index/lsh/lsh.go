// Package lsh provides a locality-sensitive hashing index for cosine
// search, using random hyperplane signatures.
package lsh

import (
	"fmt"
	"math/rand"

	"github.com/hupe1980/veclite/distance"
	"github.com/hupe1980/veclite/index"
	"github.com/hupe1980/veclite/internal/queue"
)

// Compile-time check to ensure LSH satisfies the index contract.
var _ index.Index = (*LSH)(nil)

// Options contains configuration options for the LSH index.
type Options struct {
	// Dimension is the fixed vector dimensionality for this index.
	Dimension int

	// NTables is the number of hash tables.
	NTables int

	// NBitsPerTable is the signature width per table. Signatures pack
	// into a uint64, so at most 64 bits are supported.
	NBitsPerTable int

	// Seed drives hyperplane sampling.
	Seed int64
}

// DefaultOptions contains the default configuration options for LSH.
var DefaultOptions = Options{
	NTables:       8,
	NBitsPerTable: 16,
	Seed:          1,
}

type table struct {
	planes  [][]float32 // NBitsPerTable hyperplanes of length Dimension
	buckets map[uint64][]uint64
}

// LSH is an approximate index restricted to the cosine metric. For each
// table the signature of v is the bit string (sign(h_i . v))_i over that
// table's random hyperplanes; vectors sharing a full signature land in
// the same bucket. Stored vectors are normalized at insert.
type LSH struct {
	opts    Options
	tables  []table
	vectors map[uint64][]float32 // normalized copies, for rerank and unhash
}

// New creates a new LSH index. Hyperplanes are sampled from a standard
// normal distribution with the configured seed, so identical seeds yield
// identical tables.
func New(optFns ...func(o *Options)) (*LSH, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("lsh: invalid dimension: %d", opts.Dimension)
	}
	if opts.NTables <= 0 {
		return nil, fmt.Errorf("lsh: invalid NTables: %d", opts.NTables)
	}
	if opts.NBitsPerTable <= 0 || opts.NBitsPerTable > 64 {
		return nil, fmt.Errorf("lsh: invalid NBitsPerTable: %d", opts.NBitsPerTable)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	tables := make([]table, opts.NTables)
	for t := range tables {
		planes := make([][]float32, opts.NBitsPerTable)
		for i := range planes {
			plane := make([]float32, opts.Dimension)
			for j := range plane {
				plane[j] = float32(rng.NormFloat64())
			}
			planes[i] = plane
		}
		tables[t] = table{planes: planes, buckets: make(map[uint64][]uint64)}
	}

	return &LSH{
		opts:    opts,
		tables:  tables,
		vectors: make(map[uint64][]float32),
	}, nil
}

// Metric returns the metric this index ranks by. Always cosine.
func (l *LSH) Metric() distance.Metric { return distance.MetricCosine }

// Len returns the number of live records in the index.
func (l *LSH) Len() int { return len(l.vectors) }

// Insert adds (id, vector) to every table's bucket for the record.
func (l *LSH) Insert(id uint64, vector []float32) error {
	if len(vector) != l.opts.Dimension {
		return &index.ErrDimensionMismatch{Expected: l.opts.Dimension, Actual: len(vector)}
	}

	if err := l.Remove(id); err != nil {
		return err
	}

	vec, ok := distance.NormalizeL2Copy(vector)
	if !ok {
		return fmt.Errorf("lsh: cannot index zero vector")
	}

	l.vectors[id] = vec
	for t := range l.tables {
		sig := l.signature(t, vec)
		l.tables[t].buckets[sig] = append(l.tables[t].buckets[sig], id)
	}
	return nil
}

// Remove removes id from every table's bucket. A no-op for absent ids.
func (l *LSH) Remove(id uint64) error {
	vec, ok := l.vectors[id]
	if !ok {
		return nil
	}
	for t := range l.tables {
		sig := l.signature(t, vec)
		bucket := l.tables[t].buckets[sig]
		for i, bid := range bucket {
			if bid == id {
				l.tables[t].buckets[sig] = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
		if len(l.tables[t].buckets[sig]) == 0 {
			delete(l.tables[t].buckets, sig)
		}
	}
	delete(l.vectors, id)
	return nil
}

// Rebuild is a no-op: buckets are maintained eagerly on every mutation.
func (l *LSH) Rebuild() error { return nil }

// Search hashes q in every table, unions the records sharing a full
// signature bucket and reranks them exactly with cosine distance. If the
// candidate pool (after filtering) is smaller than k, a brute-force pass
// over the full set is merged in.
func (l *LSH) Search(q []float32, k int, filter index.Filter) ([]index.SearchResult, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if len(q) != l.opts.Dimension {
		return nil, &index.ErrDimensionMismatch{Expected: l.opts.Dimension, Actual: len(q)}
	}

	qn, ok := distance.NormalizeL2Copy(q)
	if !ok {
		return nil, fmt.Errorf("lsh: cannot search zero query")
	}

	candidates := make(map[uint64]struct{})
	for t := range l.tables {
		sig := l.signature(t, qn)
		for _, id := range l.tables[t].buckets[sig] {
			candidates[id] = struct{}{}
		}
	}

	results := l.rerank(qn, k, filter, func(yield func(uint64) bool) {
		for id := range candidates {
			if !yield(id) {
				return
			}
		}
	})
	if len(results) >= min(k, l.Len()) {
		return results, nil
	}

	// Candidate pool too small: fall back to brute force over the full
	// set and merge. This also covers post-filter shortfalls, where
	// re-hashing could never surface new candidates.
	return l.rerank(qn, k, filter, func(yield func(uint64) bool) {
		for id := range l.vectors {
			if !yield(id) {
				return
			}
		}
	}), nil
}

func (l *LSH) rerank(qn []float32, k int, filter index.Filter, ids func(yield func(uint64) bool)) []index.SearchResult {
	top := queue.NewMax(k)
	ids(func(id uint64) bool {
		if filter != nil && !filter(id) {
			return true
		}
		vec, ok := l.vectors[id]
		if !ok {
			return true
		}
		top.PushBounded(queue.Item{ID: id, Distance: distance.Cosine(qn, vec)}, k)
		return true
	})

	results := make([]index.SearchResult, 0, top.Len())
	for top.Len() > 0 {
		item, _ := top.Pop()
		results = append(results, index.SearchResult{ID: item.ID, Distance: item.Distance})
	}
	index.SortResults(results)
	return results
}

// signature computes the packed bit string (sign(h_i . v))_i of v in
// table t. Positive dot products set the bit.
func (l *LSH) signature(t int, v []float32) uint64 {
	var sig uint64
	for i, plane := range l.tables[t].planes {
		if distance.Dot(plane, v) > 0 {
			sig |= 1 << uint(i)
		}
	}
	return sig
}
