package veclite

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/hupe1980/veclite/distance"
	"github.com/hupe1980/veclite/index"
	"github.com/hupe1980/veclite/index/bruteforce"
	"github.com/hupe1980/veclite/index/ivfflat"
	"github.com/hupe1980/veclite/index/kdtree"
	"github.com/hupe1980/veclite/index/lsh"
	"github.com/hupe1980/veclite/lexical/bm25"
	"github.com/hupe1980/veclite/scalar"
)

// IndexKind identifies a vector index type.
type IndexKind int

const (
	// IndexBruteForce is the exact exhaustive-scan index.
	IndexBruteForce IndexKind = iota
	// IndexKDTree is the exact euclidean space-partitioning index.
	IndexKDTree
	// IndexIVFFlat is the approximate inverted-file index.
	IndexIVFFlat
	// IndexLSH is the approximate random-hyperplane index.
	IndexLSH
)

// String returns a string representation of the IndexKind.
func (k IndexKind) String() string {
	switch k {
	case IndexBruteForce:
		return "bruteforce"
	case IndexKDTree:
		return "kdtree"
	case IndexIVFFlat:
		return "ivfflat"
	case IndexLSH:
		return "lsh"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// IndexParams carries the tunables of the approximate index types.
// Zero fields fall back to each type's defaults.
type IndexParams struct {
	// NLists and NProbe configure IVF-Flat.
	NLists int
	NProbe int

	// NTables and NBitsPerTable configure LSH.
	NTables       int
	NBitsPerTable int

	// Seed drives every randomized build step. Identical seeds and
	// insertion order yield identical index contents.
	Seed int64
}

// CreateVectorIndex creates a named vector index of the given kind and
// metric and backfills it with every live record. KD-trees accept only
// the euclidean metric and LSH only cosine; violating combinations are
// hard errors.
func (t *Table) CreateVectorIndex(name string, kind IndexKind, metric distance.Metric, optFns ...func(p *IndexParams)) error {
	var params IndexParams
	for _, fn := range optFns {
		fn(&params)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registerVectorIndex(name, kind, metric, &params)
}

func (t *Table) registerVectorIndex(name string, kind IndexKind, metric distance.Metric, params *IndexParams) error {
	if name == "" {
		return &ErrInvalidParameter{cause: fmt.Errorf("index name must not be empty")}
	}
	if _, ok := t.vector[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateIndex, name)
	}
	if params == nil {
		params = &IndexParams{}
	}

	ix, err := t.buildVectorIndex(kind, metric, params)
	if err != nil {
		return err
	}

	// Backfill the live set; a failing record drops the new index.
	for _, id := range slices.Sorted(maps.Keys(t.records)) {
		if err := ix.Insert(id, t.records[id].Vector); err != nil {
			return translateError(err)
		}
	}

	t.vector[name] = ix
	return nil
}

func (t *Table) buildVectorIndex(kind IndexKind, metric distance.Metric, params *IndexParams) (index.Index, error) {
	switch kind {
	case IndexBruteForce:
		ix, err := bruteforce.New(source{t: t}, func(o *bruteforce.Options) {
			o.Metric = metric
		})
		if err != nil {
			return nil, &ErrInvalidParameter{cause: err}
		}
		return ix, nil

	case IndexKDTree:
		if metric != distance.MetricEuclidean {
			return nil, incompatible("kdtree", metric)
		}
		ix, err := kdtree.New(func(o *kdtree.Options) {
			o.Dimension = t.dim
		})
		if err != nil {
			return nil, &ErrInvalidParameter{cause: err}
		}
		return ix, nil

	case IndexIVFFlat:
		ix, err := ivfflat.New(func(o *ivfflat.Options) {
			o.Dimension = t.dim
			o.Metric = metric
			if params.NLists > 0 {
				o.NLists = params.NLists
			}
			if params.NProbe > 0 {
				o.NProbe = params.NProbe
			}
			if params.Seed != 0 {
				o.Seed = params.Seed
			}
		})
		if err != nil {
			return nil, &ErrInvalidParameter{cause: err}
		}
		return ix, nil

	case IndexLSH:
		if metric != distance.MetricCosine {
			return nil, incompatible("lsh", metric)
		}
		ix, err := lsh.New(func(o *lsh.Options) {
			o.Dimension = t.dim
			if params.NTables > 0 {
				o.NTables = params.NTables
			}
			if params.NBitsPerTable > 0 {
				o.NBitsPerTable = params.NBitsPerTable
			}
			if params.Seed != 0 {
				o.Seed = params.Seed
			}
		})
		if err != nil {
			return nil, &ErrInvalidParameter{cause: err}
		}
		return ix, nil

	default:
		return nil, &ErrInvalidParameter{cause: fmt.Errorf("unknown index kind %v", kind)}
	}
}

// CreateBTreeIndex creates a scalar B-tree index over the given payload
// field and backfills it with every live record carrying that field.
func (t *Table) CreateBTreeIndex(field string) error {
	if field == "" {
		return &ErrInvalidParameter{cause: fmt.Errorf("field name must not be empty")}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.scalars[field]; ok {
		return fmt.Errorf("%w: scalar index on %q", ErrDuplicateIndex, field)
	}

	ix := scalar.New(field)
	for _, id := range slices.Sorted(maps.Keys(t.records)) {
		v, ok := t.records[id].Payload[field]
		if !ok {
			continue
		}
		if err := ix.Insert(id, v); err != nil {
			return &ErrSchemaViolation{cause: err}
		}
	}

	t.scalars[field] = ix
	return nil
}

// CreateFullTextIndex creates the table's full-text index over the
// given payload fields and backfills it. A table holds at most one
// full-text index.
func (t *Table) CreateFullTextIndex(fields ...string) error {
	if len(fields) == 0 {
		return &ErrInvalidParameter{cause: fmt.Errorf("full-text index requires at least one field")}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.fulltext != nil {
		return fmt.Errorf("%w: full-text index", ErrDuplicateIndex)
	}

	t.opts.TextFields = slices.Clone(fields)
	ft := t.opts.FullText
	if ft == nil {
		ft = bm25.New()
	}

	for _, id := range slices.Sorted(maps.Keys(t.records)) {
		rec := t.records[id]
		rec.tokens = t.tokensForFields(rec.Payload, fields)
		if len(rec.tokens) == 0 {
			continue
		}
		if err := ft.Add(id, rec.tokens); err != nil {
			return err
		}
	}

	t.fulltext = ft
	return nil
}

// RebuildIndex forces a rebuild of the named vector index ahead of its
// tombstone thresholds. A failing rebuild leaves the prior index usable.
func (t *Table) RebuildIndex(name string) error {
	start := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	ix, ok := t.vector[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownIndex, name)
	}
	err := ix.Rebuild()
	t.opts.Metrics.RecordRebuild(name, time.Since(start), err)
	if err != nil {
		return translateError(err)
	}
	return nil
}

// IndexInfo describes one registered vector index.
type IndexInfo struct {
	Name   string
	Metric distance.Metric
	Size   int
}

// Indexes returns a snapshot of the registered vector indexes, sorted
// by name.
func (t *Table) Indexes() []IndexInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	infos := make([]IndexInfo, 0, len(t.vector))
	for _, name := range slices.Sorted(maps.Keys(t.vector)) {
		ix := t.vector[name]
		infos = append(infos, IndexInfo{Name: name, Metric: ix.Metric(), Size: ix.Len()})
	}
	return infos
}
