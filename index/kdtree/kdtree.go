// Package kdtree provides an axis-aligned binary space partition index
// for exact euclidean search.
package kdtree

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/hupe1980/veclite/distance"
	"github.com/hupe1980/veclite/index"
	"github.com/hupe1980/veclite/internal/queue"
)

// Compile-time check to ensure KDTree satisfies the index contract.
var _ index.Index = (*KDTree)(nil)

// Options contains configuration options for the KD-tree index.
type Options struct {
	// Dimension is the fixed vector dimensionality for this index.
	// It must be > 0 and is enforced for all inserts and searches.
	Dimension int

	// TombstoneRatio triggers a rebuild once the fraction of tombstoned
	// tree nodes exceeds it.
	TombstoneRatio float64
}

// DefaultOptions contains the default configuration options for the KD-tree.
var DefaultOptions = Options{
	TombstoneRatio: 0.25,
}

type node struct {
	id      uint64
	vec     []float32
	axis    int
	left    *node
	right   *node
	deleted bool
}

// KDTree is a balanced binary tree over the records at build time.
// The splitting dimension at depth d is d mod D and the split value is
// the median along that axis. Deletions tombstone tree nodes; inserts
// after a build land in a linear buffer that is always fully scanned.
// The tree is rebuilt rather than mutated.
type KDTree struct {
	opts Options

	root    *node
	nodes   map[uint64]*node // nodes physically present in the tree
	buffer  map[uint64][]float32
	treeLen int // live (non-tombstoned) nodes in the tree
}

// New creates a new KD-tree index. KD-trees are restricted to the
// euclidean metric.
func New(optFns ...func(o *Options)) (*KDTree, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("kdtree: invalid dimension: %d", opts.Dimension)
	}
	return &KDTree{
		opts:   opts,
		nodes:  make(map[uint64]*node),
		buffer: make(map[uint64][]float32),
	}, nil
}

// Metric returns the metric this index ranks by. Always euclidean.
func (t *KDTree) Metric() distance.Metric { return distance.MetricEuclidean }

// Len returns the number of live records in the index.
func (t *KDTree) Len() int { return t.treeLen + len(t.buffer) }

// Insert adds (id, vector) to the index. New records land in the linear
// buffer; the tree is rebuilt when the buffer outgrows sqrt(n).
func (t *KDTree) Insert(id uint64, vector []float32) error {
	if len(vector) != t.opts.Dimension {
		return &index.ErrDimensionMismatch{Expected: t.opts.Dimension, Actual: len(vector)}
	}

	// Replace semantics: drop any previous entry for id first.
	if err := t.Remove(id); err != nil {
		return err
	}

	t.buffer[id] = slices.Clone(vector)
	if t.bufferOverflow() {
		return t.Rebuild()
	}
	return nil
}

// Remove removes id from the index. Tree nodes are tombstoned; the tree
// is rebuilt when tombstones exceed the configured ratio.
func (t *KDTree) Remove(id uint64) error {
	if _, ok := t.buffer[id]; ok {
		delete(t.buffer, id)
		return nil
	}
	n, ok := t.nodes[id]
	if !ok || n.deleted {
		return nil
	}
	n.deleted = true
	t.treeLen--

	treeSize := len(t.nodes)
	if treeSize > 0 && float64(treeSize-t.treeLen) > t.opts.TombstoneRatio*float64(treeSize) {
		return t.Rebuild()
	}
	return nil
}

// Rebuild reconstructs a balanced tree from the current live set,
// folding in the buffer and discarding tombstones.
func (t *KDTree) Rebuild() error {
	points := make([]*node, 0, t.Len())
	for _, n := range t.nodes {
		if !n.deleted {
			points = append(points, &node{id: n.id, vec: n.vec})
		}
	}
	for id, v := range t.buffer {
		points = append(points, &node{id: id, vec: v})
	}

	t.nodes = make(map[uint64]*node, len(points))
	for _, p := range points {
		t.nodes[p.id] = p
	}
	t.root = build(points, 0, t.opts.Dimension)
	t.treeLen = len(points)
	t.buffer = make(map[uint64][]float32)
	return nil
}

func (t *KDTree) bufferOverflow() bool {
	n := len(t.nodes)
	if n == 0 {
		// Nothing built yet; batch the first sqrt-sized chunk too.
		return len(t.buffer) >= 32
	}
	return float64(len(t.buffer)) > math.Sqrt(float64(n))
}

// build constructs a balanced subtree by median split along axis
// depth mod D. The points slice is reordered in place.
func build(points []*node, depth, dim int) *node {
	if len(points) == 0 {
		return nil
	}
	axis := depth % dim
	sort.Slice(points, func(i, j int) bool {
		if points[i].vec[axis] != points[j].vec[axis] {
			return points[i].vec[axis] < points[j].vec[axis]
		}
		return points[i].id < points[j].id
	})
	mid := len(points) / 2
	n := points[mid]
	n.axis = axis
	n.left = build(points[:mid], depth+1, dim)
	n.right = build(points[mid+1:], depth+1, dim)
	return n
}

// Search returns the up-to-k nearest records to q. The tree cannot
// intersect a filter efficiently, so the predicate is applied after
// candidate generation with bounded oversampling retries.
func (t *KDTree) Search(q []float32, k int, filter index.Filter) ([]index.SearchResult, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if len(q) != t.opts.Dimension {
		return nil, &index.ErrDimensionMismatch{Expected: t.opts.Dimension, Actual: len(q)}
	}

	live := t.Len()
	if filter == nil {
		return t.searchRaw(q, k), nil
	}

	kk := k
	for attempt := 0; ; attempt++ {
		raw := t.searchRaw(q, kk)
		filtered := raw[:0:0]
		for _, r := range raw {
			if filter(r.ID) {
				filtered = append(filtered, r)
			}
		}
		if len(filtered) >= k || kk >= live || attempt >= index.MaxFilterRetries {
			if len(filtered) > k {
				filtered = filtered[:k]
			}
			return filtered, nil
		}
		kk = index.OversampleK(kk, live)
	}
}

func (t *KDTree) searchRaw(q []float32, k int) []index.SearchResult {
	top := queue.NewMax(k)
	t.descend(t.root, q, k, top)
	for id, v := range t.buffer {
		top.PushBounded(queue.Item{ID: id, Distance: distance.Euclidean(q, v)}, k)
	}

	results := make([]index.SearchResult, 0, top.Len())
	for top.Len() > 0 {
		item, _ := top.Pop()
		results = append(results, index.SearchResult{ID: item.ID, Distance: item.Distance})
	}
	index.SortResults(results)
	return results
}

// descend walks the subtree rooted at n, visiting the near side of every
// split first and pruning the far side when the perpendicular distance
// to the splitting hyperplane exceeds the current k-th best.
func (t *KDTree) descend(n *node, q []float32, k int, top *queue.PriorityQueue) {
	if n == nil {
		return
	}
	if !n.deleted {
		top.PushBounded(queue.Item{ID: n.id, Distance: distance.Euclidean(q, n.vec)}, k)
	}

	diff := q[n.axis] - n.vec[n.axis]
	near, far := n.left, n.right
	if diff > 0 {
		near, far = n.right, n.left
	}

	t.descend(near, q, k, top)

	if top.Len() < k {
		t.descend(far, q, k, top)
		return
	}
	worst, _ := top.Top()
	if float32(math.Abs(float64(diff))) <= worst.Distance {
		t.descend(far, q, k, top)
	}
}
