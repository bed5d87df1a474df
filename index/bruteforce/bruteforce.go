// Package bruteforce provides an exact vector index that scans every
// live record. It is the oracle the approximate indexes are measured
// against.
package bruteforce

import (
	"github.com/hupe1980/veclite/distance"
	"github.com/hupe1980/veclite/index"
	"github.com/hupe1980/veclite/internal/queue"
)

// Compile-time check to ensure BruteForce satisfies the index contract.
var _ index.Index = (*BruteForce)(nil)

// Options contains configuration options for the brute-force index.
type Options struct {
	// Metric is the distance metric used for ranking.
	Metric distance.Metric
}

// DefaultOptions contains the default configuration options.
var DefaultOptions = Options{
	Metric: distance.MetricCosine,
}

// BruteForce is an exact index over the record store. It keeps only the
// live id set; vectors stay owned by the store and are resolved through
// the Source at search time.
type BruteForce struct {
	opts         Options
	distanceFunc distance.Func
	source       index.Source
	ids          map[uint64]struct{}
}

// New creates a new brute-force index reading vectors from source.
func New(source index.Source, optFns ...func(o *Options)) (*BruteForce, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	fn, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	return &BruteForce{
		opts:         opts,
		distanceFunc: fn,
		source:       source,
		ids:          make(map[uint64]struct{}),
	}, nil
}

// Metric returns the metric this index ranks by.
func (b *BruteForce) Metric() distance.Metric { return b.opts.Metric }

// Len returns the number of live records in the index.
func (b *BruteForce) Len() int { return len(b.ids) }

// Insert adds id to the index. The vector itself stays in the store;
// duplicate inserts replace (and are therefore no-ops here).
func (b *BruteForce) Insert(id uint64, vector []float32) error {
	b.ids[id] = struct{}{}
	return nil
}

// Remove removes id from the index. Removing an absent id is a no-op.
func (b *BruteForce) Remove(id uint64) error {
	delete(b.ids, id)
	return nil
}

// Rebuild is a no-op: the index holds no derived structure.
func (b *BruteForce) Rebuild() error { return nil }

// Search scans every live record and returns the exact top-k by a
// bounded max-heap of size k.
func (b *BruteForce) Search(q []float32, k int, filter index.Filter) ([]index.SearchResult, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}

	top := queue.NewMax(k)
	for id := range b.ids {
		if filter != nil && !filter(id) {
			continue
		}
		v, ok := b.source.Vector(id)
		if !ok {
			continue
		}
		if len(v) != len(q) {
			return nil, &index.ErrDimensionMismatch{Expected: len(v), Actual: len(q)}
		}
		top.PushBounded(queue.Item{ID: id, Distance: b.distanceFunc(q, v)}, k)
	}

	results := make([]index.SearchResult, 0, top.Len())
	for top.Len() > 0 {
		item, _ := top.Pop()
		results = append(results, index.SearchResult{ID: item.ID, Distance: item.Distance})
	}
	index.SortResults(results)
	return results, nil
}
