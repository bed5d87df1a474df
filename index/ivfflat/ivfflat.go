// Package ivfflat provides an inverted-file index with flat lists:
// coarse k-means clustering at build time, probing a few lists at query
// time.
package ivfflat

import (
	"fmt"
	"math/rand"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/veclite/distance"
	"github.com/hupe1980/veclite/index"
	"github.com/hupe1980/veclite/internal/queue"
)

// Compile-time check to ensure IVFFlat satisfies the index contract.
var _ index.Index = (*IVFFlat)(nil)

// Options contains configuration options for the IVF-Flat index.
type Options struct {
	// Dimension is the fixed vector dimensionality for this index.
	Dimension int

	// Metric is the distance metric used for clustering and ranking.
	Metric distance.Metric

	// NLists is the number of coarse clusters.
	NLists int

	// NProbe is the number of lists consulted at query time.
	// Must not exceed NLists.
	NProbe int

	// Seed drives centroid sampling. Identical seeds and insertion
	// order yield identical index contents.
	Seed int64

	// MaxIterations bounds Lloyd's algorithm during training.
	MaxIterations int

	// RetrainDeletedRatio triggers retraining once this fraction of
	// records has been tombstoned.
	RetrainDeletedRatio float64
}

// DefaultOptions contains the default configuration options for IVF-Flat.
var DefaultOptions = Options{
	Metric:              distance.MetricCosine,
	NLists:              16,
	NProbe:              4,
	Seed:                1,
	MaxIterations:       25,
	RetrainDeletedRatio: 0.20,
}

type entry struct {
	id  uint64
	vec []float32
}

// IVFFlat is an approximate index. Records are assigned to the nearest
// of NLists centroids; a query brute-forces the union of the NProbe
// closest lists. Before the first training (fewer than NLists records)
// every search falls back to a full scan of the pending buffer.
type IVFFlat struct {
	opts         Options
	distanceFunc distance.Func
	rng          *rand.Rand

	trained     bool
	centroids   [][]float32
	lists       [][]entry
	assign      map[uint64]int // id -> list index, for tombstoned ids too
	deleted     map[uint64]struct{}
	pending     map[uint64][]float32 // inserts before first training
	liveCount   int
	sizeAtTrain int
}

// New creates a new IVF-Flat index.
func New(optFns ...func(o *Options)) (*IVFFlat, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("ivfflat: invalid dimension: %d", opts.Dimension)
	}
	if opts.NLists <= 0 {
		return nil, fmt.Errorf("ivfflat: invalid NLists: %d", opts.NLists)
	}
	if opts.NProbe <= 0 || opts.NProbe > opts.NLists {
		return nil, fmt.Errorf("ivfflat: invalid NProbe: %d (NLists %d)", opts.NProbe, opts.NLists)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions.MaxIterations
	}

	fn, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	return &IVFFlat{
		opts:         opts,
		distanceFunc: fn,
		rng:          rand.New(rand.NewSource(opts.Seed)),
		assign:       make(map[uint64]int),
		deleted:      make(map[uint64]struct{}),
		pending:      make(map[uint64][]float32),
	}, nil
}

// Metric returns the metric this index ranks by.
func (f *IVFFlat) Metric() distance.Metric { return f.opts.Metric }

// Len returns the number of live records in the index.
func (f *IVFFlat) Len() int { return f.liveCount }

// Insert adds (id, vector) to the index. Once trained, the record is
// assigned to its nearest centroid without retraining; the index
// retrains when the record count has doubled since the last training.
func (f *IVFFlat) Insert(id uint64, vector []float32) error {
	if len(vector) != f.opts.Dimension {
		return &index.ErrDimensionMismatch{Expected: f.opts.Dimension, Actual: len(vector)}
	}

	if err := f.Remove(id); err != nil {
		return err
	}

	vec := slices.Clone(vector)
	if !f.trained {
		f.pending[id] = vec
		f.liveCount++
		if f.liveCount >= f.opts.NLists {
			return f.train()
		}
		return nil
	}

	list := f.nearestCentroid(vec)
	f.lists[list] = append(f.lists[list], entry{id: id, vec: vec})
	f.assign[id] = list
	f.liveCount++

	if f.liveCount >= 2*f.sizeAtTrain {
		return f.train()
	}
	return nil
}

// Remove tombstones id. Physical removal happens at the next retraining.
func (f *IVFFlat) Remove(id uint64) error {
	if _, ok := f.pending[id]; ok {
		delete(f.pending, id)
		f.liveCount--
		return nil
	}
	if _, ok := f.assign[id]; !ok {
		return nil
	}
	if _, ok := f.deleted[id]; ok {
		return nil
	}
	f.deleted[id] = struct{}{}
	f.liveCount--

	total := f.liveCount + len(f.deleted)
	if total > 0 && float64(len(f.deleted)) >= f.opts.RetrainDeletedRatio*float64(total) {
		return f.train()
	}
	return nil
}

// Rebuild retrains from the current live set, or collapses back to the
// untrained pending buffer when fewer than NLists records remain.
func (f *IVFFlat) Rebuild() error { return f.train() }

// train runs seeded sampling plus at most MaxIterations rounds of
// Lloyd's algorithm over the live set, then reassigns every record.
func (f *IVFFlat) train() error {
	live := f.collectLive()

	f.pending = make(map[uint64][]float32)
	f.assign = make(map[uint64]int, len(live))
	f.deleted = make(map[uint64]struct{})
	f.lists = nil
	f.centroids = nil
	f.trained = false
	f.liveCount = len(live)

	if len(live) < f.opts.NLists {
		for _, e := range live {
			f.pending[e.id] = e.vec
		}
		return nil
	}

	// Initial centroids: uniform sample without replacement.
	perm := f.rng.Perm(len(live))
	centroids := make([][]float32, f.opts.NLists)
	for i := 0; i < f.opts.NLists; i++ {
		centroids[i] = slices.Clone(live[perm[i]].vec)
	}

	assignment := make([]int, len(live))
	for iter := 0; iter < f.opts.MaxIterations; iter++ {
		changed, err := f.assignAll(live, centroids, assignment, iter == 0)
		if err != nil {
			return err
		}
		if !changed {
			break
		}
		f.recomputeCentroids(live, centroids, assignment)
	}

	f.centroids = centroids
	f.lists = make([][]entry, f.opts.NLists)
	for i, e := range live {
		list := assignment[i]
		f.lists[list] = append(f.lists[list], e)
		f.assign[e.id] = list
	}
	f.trained = true
	f.sizeAtTrain = len(live)
	return nil
}

// collectLive gathers every live (id, vector) pair in ascending id order
// so training is deterministic regardless of map iteration.
func (f *IVFFlat) collectLive() []entry {
	live := make([]entry, 0, f.liveCount)
	for id, v := range f.pending {
		live = append(live, entry{id: id, vec: v})
	}
	for _, list := range f.lists {
		for _, e := range list {
			if _, ok := f.deleted[e.id]; ok {
				continue
			}
			live = append(live, e)
		}
	}
	slices.SortFunc(live, func(a, b entry) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		default:
			return 0
		}
	})
	return live
}

// assignAll reassigns every point to its nearest centroid, fanning the
// work out across CPUs. Returns whether any assignment changed.
func (f *IVFFlat) assignAll(live []entry, centroids [][]float32, assignment []int, first bool) (bool, error) {
	next := make([]int, len(live))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))

	const chunkSize = 1024
	for start := 0; start < len(live); start += chunkSize {
		end := min(start+chunkSize, len(live))
		g.Go(func() error {
			for i := start; i < end; i++ {
				next[i] = nearest(f.distanceFunc, centroids, live[i].vec)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	changed := first
	for i := range next {
		if next[i] != assignment[i] {
			changed = true
		}
		assignment[i] = next[i]
	}
	return changed, nil
}

// recomputeCentroids sets each centroid to the arithmetic mean of its
// members. For cosine the centroids are renormalized each iteration.
// Empty clusters keep their previous centroid.
func (f *IVFFlat) recomputeCentroids(live []entry, centroids [][]float32, assignment []int) {
	dim := f.opts.Dimension
	sums := make([][]float64, len(centroids))
	counts := make([]int, len(centroids))
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	for i, e := range live {
		c := assignment[i]
		counts[c]++
		for j, x := range e.vec {
			sums[c][j] += float64(x)
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		inv := 1 / float64(counts[c])
		for j := range centroids[c] {
			centroids[c][j] = float32(sums[c][j] * inv)
		}
		if f.opts.Metric == distance.MetricCosine {
			distance.NormalizeL2InPlace(centroids[c])
		}
	}
}

func nearest(fn distance.Func, centroids [][]float32, v []float32) int {
	best := 0
	bestDist := fn(v, centroids[0])
	for c := 1; c < len(centroids); c++ {
		if d := fn(v, centroids[c]); d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best
}

func (f *IVFFlat) nearestCentroid(v []float32) int {
	return nearest(f.distanceFunc, f.centroids, v)
}

// Search probes the NProbe closest lists and brute-forces their union.
// When a filter leaves fewer than k hits, the probe count doubles (up to
// NLists) for a bounded number of retries.
func (f *IVFFlat) Search(q []float32, k int, filter index.Filter) ([]index.SearchResult, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if len(q) != f.opts.Dimension {
		return nil, &index.ErrDimensionMismatch{Expected: f.opts.Dimension, Actual: len(q)}
	}

	if !f.trained {
		return f.scanPending(q, k, filter), nil
	}

	// Rank all centroids once; probing more lists extends the prefix.
	order := make([]index.SearchResult, len(f.centroids))
	for c, centroid := range f.centroids {
		order[c] = index.SearchResult{ID: uint64(c), Distance: f.distanceFunc(q, centroid)}
	}
	index.SortResults(order)

	probe := f.opts.NProbe
	for attempt := 0; ; attempt++ {
		results := f.scanLists(q, k, filter, order[:probe])
		if len(results) >= k || probe >= len(f.centroids) {
			return results, nil
		}
		if filter != nil && attempt >= index.MaxFilterRetries {
			return results, nil
		}
		probe = min(2*probe, len(f.centroids))
	}
}

func (f *IVFFlat) scanLists(q []float32, k int, filter index.Filter, probes []index.SearchResult) []index.SearchResult {
	top := queue.NewMax(k)
	for _, p := range probes {
		for _, e := range f.lists[p.ID] {
			if _, ok := f.deleted[e.id]; ok {
				continue
			}
			if filter != nil && !filter(e.id) {
				continue
			}
			top.PushBounded(queue.Item{ID: e.id, Distance: f.distanceFunc(q, e.vec)}, k)
		}
	}
	return drain(top)
}

func (f *IVFFlat) scanPending(q []float32, k int, filter index.Filter) []index.SearchResult {
	top := queue.NewMax(k)
	for id, v := range f.pending {
		if filter != nil && !filter(id) {
			continue
		}
		top.PushBounded(queue.Item{ID: id, Distance: f.distanceFunc(q, v)}, k)
	}
	return drain(top)
}

func drain(top *queue.PriorityQueue) []index.SearchResult {
	results := make([]index.SearchResult, 0, top.Len())
	for top.Len() > 0 {
		item, _ := top.Pop()
		results = append(results, index.SearchResult{ID: item.ID, Distance: item.Distance})
	}
	index.SortResults(results)
	return results
}
