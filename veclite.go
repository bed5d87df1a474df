// Package veclite provides an embedded in-memory vector database for Go.
//
// Veclite stores records consisting of a dense vector plus a typed
// key/value payload and retrieves them by approximate nearest-neighbor
// similarity, full-text relevance, or a weighted hybrid of the two:
//
//   - Multiple vector index types: BruteForce (exact), KDTree (exact,
//     euclidean), IVFFlat and LSH (approximate)
//   - Scalar B-tree indexes with equality, range and membership predicates
//   - BM25 full-text search with a pluggable tokenizer
//   - A deferred, composable query pipeline with filtering, ranking,
//     projection and pagination
//   - Auto-embedding through a caller-supplied Embedder
//
// There is no persistence layer and no network surface; veclite targets
// learning and experimentation rather than durable production workloads.
//
// # Quick Start
//
//	ctx := context.Background()
//	tbl, err := veclite.New(128, veclite.WithMetric(distance.MetricCosine))
//	if err != nil {
//	    panic(err)
//	}
//
//	id, _ := tbl.Add(ctx, payload.Document{"category": payload.String("tech")}, vec)
//
//	results, _ := tbl.VectorSearch(ctx, query, 10)
//
// Query pipeline:
//
//	rows, err := tbl.Query().
//	    Filter("category", "tech").
//	    VectorSearch(query, 10).
//	    Select("title").
//	    Limit(5).
//	    Execute(ctx)
package veclite

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/veclite/distance"
	"github.com/hupe1980/veclite/index"
	"github.com/hupe1980/veclite/lexical"
	"github.com/hupe1980/veclite/lexical/bm25"
	"github.com/hupe1980/veclite/payload"
	"github.com/hupe1980/veclite/scalar"
)

// DefaultIndexName is the name of the auto-created brute-force index.
const DefaultIndexName = "default"

// AutoEmbedField is the payload field consulted when Add is called
// without a vector.
const AutoEmbedField = "text"

// Record is the unit of storage: a stable identifier, a vector of the
// table's dimension, a typed payload and the derived token multiset for
// the configured text fields.
type Record struct {
	ID      uint64
	Vector  []float32
	Payload payload.Document

	// embedded marks vectors derived by the embedder; a text change
	// on such a record re-embeds instead of keeping the stale vector.
	embedded bool
	tokens   []string
}

// Table owns the ground-truth records and dispatches every mutation to
// the registered indexes. A single writer and many concurrent readers
// are supported through one reader/writer lock per table.
type Table struct {
	mu   sync.RWMutex
	dim  int
	opts Options

	nextID  uint64
	records map[uint64]*Record

	vector   map[string]index.Index
	scalars  map[string]*scalar.Index // keyed by payload field
	fulltext lexical.Index
}

// New creates a new table with the given vector dimension. One vector
// index named "default" (brute force with the table metric) always
// exists; a full-text index is auto-created when text fields are
// configured.
func New(dimension int, optFns ...func(o *Options)) (*Table, error) {
	opts := Options{
		Metric:    distance.MetricCosine,
		Tokenizer: lexical.Tokenize,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Tokenizer == nil {
		opts.Tokenizer = lexical.Tokenize
	}
	if opts.Logger == nil {
		opts.Logger = NoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetricsCollector{}
	}

	if dimension <= 0 {
		return nil, &ErrInvalidParameter{cause: fmt.Errorf("dimension must be positive, got %d", dimension)}
	}
	if _, err := distance.Provider(opts.Metric); err != nil {
		return nil, &ErrInvalidParameter{cause: err}
	}

	t := &Table{
		dim:     dimension,
		opts:    opts,
		records: make(map[uint64]*Record),
		vector:  make(map[string]index.Index),
		scalars: make(map[string]*scalar.Index),
	}

	if err := t.registerVectorIndex(DefaultIndexName, IndexBruteForce, opts.Metric, nil); err != nil {
		return nil, err
	}

	if len(opts.TextFields) > 0 {
		t.fulltext = opts.FullText
		if t.fulltext == nil {
			t.fulltext = bm25.New()
		}
	}

	return t, nil
}

// Dimension returns the table's vector dimension.
func (t *Table) Dimension() int { return t.dim }

// Metric returns the table's default distance metric.
func (t *Table) Metric() distance.Metric { return t.opts.Metric }

// Count returns the number of live records.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Has reports whether id is live.
func (t *Table) Has(id uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.records[id]
	return ok
}

// Get returns a copy of the record stored under id.
func (t *Table) Get(id uint64) (uint64, []float32, payload.Document, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[id]
	if !ok {
		return 0, nil, nil, ErrNotFound
	}
	return rec.ID, slices.Clone(rec.Vector), rec.Payload.Clone(), nil
}

// Add stores a new record and returns its identifier. When vector is
// nil the payload must contain a non-empty "text" field and the
// configured embedder derives the vector.
func (t *Table) Add(ctx context.Context, doc payload.Document, vector []float32) (uint64, error) {
	start := time.Now()
	id, err := t.add(ctx, doc, vector)
	t.opts.Metrics.RecordMutation("add", time.Since(start), err)
	t.opts.Logger.LogAdd(ctx, id, t.dim, err)
	return id, err
}

func (t *Table) add(ctx context.Context, doc payload.Document, vector []float32) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.stage(t.nextID+1, doc, vector, nil)
	if err != nil {
		return 0, err
	}
	if err := t.attach(rec); err != nil {
		return 0, err
	}
	t.records[rec.ID] = rec
	t.nextID = rec.ID
	return rec.ID, nil
}

// BatchAddItem is one record for BatchAdd.
type BatchAddItem struct {
	Payload payload.Document
	Vector  []float32
}

// BatchAddResult carries per-item outcomes of a BatchAdd.
type BatchAddResult struct {
	IDs    []uint64
	Errors []error
}

// BatchAdd stores multiple records in one lock acquisition. Items fail
// individually; each item is still atomic across the indexes.
func (t *Table) BatchAdd(ctx context.Context, items []BatchAddItem) BatchAddResult {
	result := BatchAddResult{
		IDs:    make([]uint64, len(items)),
		Errors: make([]error, len(items)),
	}
	if err := ctx.Err(); err != nil {
		for i := range result.Errors {
			result.Errors[i] = err
		}
		return result
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i, item := range items {
		rec, err := t.stage(t.nextID+1, item.Payload, item.Vector, nil)
		if err != nil {
			result.Errors[i] = err
			continue
		}
		if err := t.attach(rec); err != nil {
			result.Errors[i] = err
			continue
		}
		t.records[rec.ID] = rec
		t.nextID = rec.ID
		result.IDs[i] = rec.ID
	}
	return result
}

// Update replaces the payload (and optionally the vector) of an
// existing record. A nil vector keeps the stored one, except for
// auto-embedded records whose text changed: those re-embed.
func (t *Table) Update(ctx context.Context, id uint64, doc payload.Document, vector []float32) error {
	start := time.Now()
	err := t.replace(ctx, "update", id, doc, vector, false)
	t.opts.Metrics.RecordMutation("update", time.Since(start), err)
	t.opts.Logger.LogUpdate(ctx, "update", id, err)
	return err
}

// Merge updates only the provided payload fields and never alters the
// vector unless a configured text field changed on an auto-embedded
// record.
func (t *Table) Merge(ctx context.Context, id uint64, partial payload.Document) error {
	start := time.Now()
	err := t.replace(ctx, "merge", id, partial, nil, true)
	t.opts.Metrics.RecordMutation("merge", time.Since(start), err)
	t.opts.Logger.LogUpdate(ctx, "merge", id, err)
	return err
}

// Upsert inserts the record when id is absent and otherwise behaves
// like Update. Upserting the same arguments twice is equivalent to
// once.
func (t *Table) Upsert(ctx context.Context, id uint64, doc payload.Document, vector []float32) error {
	start := time.Now()
	err := t.upsert(ctx, id, doc, vector)
	t.opts.Metrics.RecordMutation("upsert", time.Since(start), err)
	t.opts.Logger.LogUpdate(ctx, "upsert", id, err)
	return err
}

func (t *Table) upsert(ctx context.Context, id uint64, doc payload.Document, vector []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == 0 {
		return &ErrInvalidParameter{cause: fmt.Errorf("upsert requires a positive id")}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.records[id]; ok {
		return t.replaceLocked("upsert", id, doc, vector)
	}

	rec, err := t.stage(id, doc, vector, nil)
	if err != nil {
		return err
	}
	if err := t.attach(rec); err != nil {
		return err
	}
	t.records[id] = rec
	if id > t.nextID {
		t.nextID = id
	}
	return nil
}

// Delete destroys the record stored under id.
func (t *Table) Delete(ctx context.Context, id uint64) error {
	start := time.Now()
	err := t.delete(ctx, id)
	t.opts.Metrics.RecordMutation("delete", time.Since(start), err)
	t.opts.Logger.LogDelete(ctx, id, err)
	return err
}

func (t *Table) delete(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return ErrNotFound
	}
	if err := t.detach(rec); err != nil {
		return err
	}
	delete(t.records, id)
	return nil
}

func (t *Table) replace(ctx context.Context, op string, id uint64, doc payload.Document, vector []float32, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if merge {
		old, ok := t.records[id]
		if !ok {
			return ErrNotFound
		}
		merged := old.Payload.Clone()
		for k, v := range doc {
			merged[k] = v
		}
		doc = merged
	}
	return t.replaceLocked(op, id, doc, vector)
}

func (t *Table) replaceLocked(op string, id uint64, doc payload.Document, vector []float32) error {
	old, ok := t.records[id]
	if !ok {
		return ErrNotFound
	}

	rec, err := t.stage(id, doc, vector, old)
	if err != nil {
		return err
	}

	// A vector change is a delete+insert in every index; payload-only
	// changes take the same path, which keeps the scalar and full-text
	// postings exact.
	if err := t.detach(old); err != nil {
		return err
	}
	if err := t.attach(rec); err != nil {
		// Restore the previous state in full.
		if rerr := t.attach(old); rerr != nil {
			return fmt.Errorf("%s failed: %w (restore also failed: %v)", op, err, rerr)
		}
		return err
	}
	t.records[id] = rec
	return nil
}

// stage validates the payload and vector and builds the new record
// without touching any index.
func (t *Table) stage(id uint64, doc payload.Document, vector []float32, old *Record) (*Record, error) {
	if doc == nil {
		doc = payload.Document{}
	}
	if err := t.opts.Schema.Validate(doc); err != nil {
		return nil, &ErrSchemaViolation{cause: err}
	}
	doc = t.opts.Schema.Normalize(doc.Clone())

	rec := &Record{ID: id, Payload: doc, tokens: t.tokensFor(doc)}

	switch {
	case vector != nil:
		rec.Vector = slices.Clone(vector)

	case old != nil:
		rec.Vector = old.Vector
		rec.embedded = old.embedded
		if old.embedded && !slices.Equal(rec.tokens, old.tokens) {
			v, err := t.embed(doc)
			if err != nil {
				return nil, err
			}
			rec.Vector = v
		}

	default:
		v, err := t.embed(doc)
		if err != nil {
			return nil, err
		}
		rec.Vector = v
		rec.embedded = true
	}

	if len(rec.Vector) != t.dim {
		return nil, &ErrDimensionMismatch{Expected: t.dim, Actual: len(rec.Vector)}
	}
	if err := distance.Validate(rec.Vector); err != nil {
		return nil, &ErrNumericDomain{cause: err}
	}
	return rec, nil
}

func (t *Table) embed(doc payload.Document) ([]float32, error) {
	text := doc[AutoEmbedField].StringValue()
	if text == "" || t.opts.Embedder == nil {
		return nil, ErrEmbeddingMissing
	}
	return t.opts.Embedder.Embed(text)
}

// tokensFor derives the token multiset for the configured text fields,
// in field order.
func (t *Table) tokensFor(doc payload.Document) []string {
	if t.fulltext == nil && len(t.opts.TextFields) == 0 {
		return nil
	}
	return t.tokensForFields(doc, t.opts.TextFields)
}

func (t *Table) tokensForFields(doc payload.Document, fields []string) []string {
	var tokens []string
	for _, field := range fields {
		if s, ok := doc[field].AsString(); ok {
			tokens = append(tokens, t.opts.Tokenizer(s)...)
		}
	}
	return tokens
}

// attach propagates rec into every registered index. On any failure the
// already-applied indexes are rolled back and the error is returned.
func (t *Table) attach(rec *Record) (err error) {
	var undo []func()
	defer func() {
		if err != nil {
			for i := len(undo) - 1; i >= 0; i-- {
				undo[i]()
			}
		}
	}()

	for _, name := range slices.Sorted(maps.Keys(t.vector)) {
		ix := t.vector[name]
		if err = ix.Insert(rec.ID, rec.Vector); err != nil {
			err = translateError(err)
			return err
		}
		undo = append(undo, func() { _ = ix.Remove(rec.ID) })
	}

	for _, field := range slices.Sorted(maps.Keys(t.scalars)) {
		ix := t.scalars[field]
		v, ok := rec.Payload[field]
		if !ok {
			continue
		}
		if serr := ix.Insert(rec.ID, v); serr != nil {
			err = &ErrSchemaViolation{cause: serr}
			return err
		}
		undo = append(undo, func() { ix.Remove(rec.ID, v) })
	}

	if t.fulltext != nil && len(rec.tokens) > 0 {
		if err = t.fulltext.Add(rec.ID, rec.tokens); err != nil {
			return err
		}
	}
	return nil
}

// detach removes rec from every registered index, rolling back on
// failure so a failed delete leaves every index intact.
func (t *Table) detach(rec *Record) (err error) {
	var undo []func()
	defer func() {
		if err != nil {
			for i := len(undo) - 1; i >= 0; i-- {
				undo[i]()
			}
		}
	}()

	if t.fulltext != nil && len(rec.tokens) > 0 {
		if err = t.fulltext.Remove(rec.ID); err != nil {
			return err
		}
		undo = append(undo, func() { _ = t.fulltext.Add(rec.ID, rec.tokens) })
	}

	for field, ix := range t.scalars {
		if v, ok := rec.Payload[field]; ok {
			ix.Remove(rec.ID, v)
			undo = append(undo, func() { _ = ix.Insert(rec.ID, v) })
		}
	}

	for _, name := range slices.Sorted(maps.Keys(t.vector)) {
		ix := t.vector[name]
		if err = ix.Remove(rec.ID); err != nil {
			err = translateError(err)
			return err
		}
		undo = append(undo, func() { _ = ix.Insert(rec.ID, rec.Vector) })
	}
	return nil
}

// source adapts the record store to the index.Source contract so the
// brute-force index can iterate store-owned vectors without copies.
// It is only consulted while the table lock is held.
type source struct {
	t *Table
}

func (s source) Vector(id uint64) ([]float32, bool) {
	rec, ok := s.t.records[id]
	if !ok {
		return nil, false
	}
	return rec.Vector, true
}

func (s source) All() iter.Seq2[uint64, []float32] {
	return func(yield func(uint64, []float32) bool) {
		for id, rec := range s.t.records {
			if !yield(id, rec.Vector) {
				return
			}
		}
	}
}

func (s source) Len() int { return len(s.t.records) }
