package veclite

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/veclite/index"
	"github.com/hupe1980/veclite/payload"
)

// Row is one result of a query execution. ID is always present; Fields
// holds the (possibly projected) payload. Score carries the ranking
// value: a distance for vector queries (smaller is better), a relevance
// score for text and hybrid queries (larger is better), and 0 for
// unranked scans.
type Row struct {
	ID     uint64
	Score  float64
	Fields payload.Document
}

// Predicate is an opaque boolean predicate over a record.
type Predicate func(id uint64, doc payload.Document) bool

type rankMode uint8

const (
	modeNone rankMode = iota
	modeVector
	modeText
	modeHybrid
)

func (m rankMode) String() string {
	switch m {
	case modeVector:
		return "vector"
	case modeText:
		return "text"
	case modeHybrid:
		return "hybrid"
	default:
		return "scan"
	}
}

// Query is an immutable description of a pipeline execution, produced
// by chained builder calls. Each builder method returns a copy, so
// partially-built queries can be reused and extended independently.
// Execution is deferred until Execute is called and always follows the
// same stage order regardless of builder call order: candidate
// generation, filtering, ranking, pagination, projection.
type Query struct {
	t *Table

	eqFields []string
	eqValues []payload.Value
	preds    []Predicate

	mode   rankMode
	qvec   []float32
	qtext  string
	weight float64
	k      int

	indexName string
	fields    []string
	hasSelect bool
	limit     int
	offset    int

	err error
}

// Query starts a new query pipeline against the table.
func (t *Table) Query() Query {
	return Query{t: t, limit: -1}
}

func (q Query) clone() Query {
	q.eqFields = slices.Clone(q.eqFields)
	q.eqValues = slices.Clone(q.eqValues)
	q.preds = slices.Clone(q.preds)
	q.fields = slices.Clone(q.fields)
	return q
}

// Filter adds a conjunctive equality predicate on a payload field.
// Plain Go scalars (string, bool, ints, floats) convert automatically.
func (q Query) Filter(field string, value any) Query {
	q = q.clone()
	v, err := payload.Of(value)
	if err != nil {
		q.err = &ErrSchemaViolation{cause: err}
		return q
	}
	q.eqFields = append(q.eqFields, field)
	q.eqValues = append(q.eqValues, v)
	return q
}

// Where adds an opaque predicate over the record. Unlike Filter, a
// Where predicate is applied after candidate generation in vector and
// text mode; in hybrid mode it joins the filter handed to both ranking
// passes, including the vector index search.
func (q Query) Where(p Predicate) Query {
	q = q.clone()
	q.preds = append(q.preds, p)
	return q
}

// VectorSearch sets the ranking mode to vector with query vector qv and
// candidate cap k.
func (q Query) VectorSearch(qv []float32, k int) Query {
	q = q.clone()
	q.mode = modeVector
	q.qvec = slices.Clone(qv)
	q.k = k
	return q
}

// TextSearch sets the ranking mode to full-text relevance.
func (q Query) TextSearch(text string, k int) Query {
	q = q.clone()
	q.mode = modeText
	q.qtext = text
	q.k = k
	return q
}

// Hybrid sets the ranking mode to the weighted fusion of vector
// similarity and text relevance. w=1 equals the pure vector ordering,
// w=0 the pure text ordering.
func (q Query) Hybrid(qv []float32, text string, w float64, k int) Query {
	q = q.clone()
	q.mode = modeHybrid
	q.qvec = slices.Clone(qv)
	q.qtext = text
	q.weight = w
	q.k = k
	return q
}

// UseIndex selects a named vector index for the vector or hybrid
// ranking pass. Naming an absent index is a hard error at execution.
func (q Query) UseIndex(name string) Query {
	q = q.clone()
	q.indexName = name
	return q
}

// Select sets the projection list. The record ID is always present in
// the result rows.
func (q Query) Select(fields ...string) Query {
	q = q.clone()
	q.fields = slices.Clone(fields)
	q.hasSelect = true
	return q
}

// Limit caps the number of rows returned, applied after ranking.
func (q Query) Limit(n int) Query {
	q = q.clone()
	q.limit = n
	return q
}

// Offset skips the first m rows, applied after ranking before Limit.
func (q Query) Offset(m int) Query {
	q = q.clone()
	q.offset = m
	return q
}

// Execute runs the pipeline and returns the result rows.
func (q Query) Execute(ctx context.Context) ([]Row, error) {
	start := time.Now()
	rows, err := q.execute(ctx)
	q.t.opts.Metrics.RecordSearch(q.mode.String(), q.k, time.Since(start), err)
	q.t.opts.Logger.LogSearch(ctx, q.mode.String(), q.k, len(rows), err)
	return rows, err
}

// First returns only the top row, or ErrNotFound if the query matches
// nothing.
func (q Query) First(ctx context.Context) (Row, error) {
	rows, err := q.Limit(1).Execute(ctx)
	if err != nil {
		return Row{}, err
	}
	if len(rows) == 0 {
		return Row{}, ErrNotFound
	}
	return rows[0], nil
}

// Count executes the query and returns the number of rows.
func (q Query) Count(ctx context.Context) (int, error) {
	rows, err := q.Execute(ctx)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Exists reports whether the query matches at least one row.
func (q Query) Exists(ctx context.Context) (bool, error) {
	rows, err := q.Limit(1).Execute(ctx)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (q Query) execute(ctx context.Context) ([]Row, error) {
	if q.err != nil {
		return nil, q.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.limit == 0 {
		return nil, nil
	}
	if q.offset < 0 {
		return nil, &ErrInvalidParameter{cause: fmt.Errorf("offset must not be negative, got %d", q.offset)}
	}

	t := q.t
	t.mu.RLock()
	defer t.mu.RUnlock()

	if q.indexName != "" {
		if q.mode != modeVector && q.mode != modeHybrid {
			return nil, fmt.Errorf("%w: UseIndex requires a vector or hybrid ranking mode", ErrIncompatibleIndex)
		}
		if _, ok := t.vector[q.indexName]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownIndex, q.indexName)
		}
	}

	filter := t.compileFilter(q.eqFields, q.eqValues)

	var rows []Row
	var err error
	switch q.mode {
	case modeVector:
		rows, err = q.runVector(filter)
	case modeText:
		rows, err = q.runText(filter)
	case modeHybrid:
		rows, err = q.runHybrid(filter)
	default:
		rows = q.runScan(filter)
	}
	if err != nil {
		return nil, err
	}

	rows = paginate(rows, q.offset, q.limit)
	return q.project(rows), nil
}

// candidateK is the index-side candidate cap: max(k, limit+offset) so
// pagination never starves.
func (q Query) candidateK() int {
	k := q.k
	if q.limit > 0 && q.limit+q.offset > k {
		k = q.limit + q.offset
	}
	return k
}

func (q Query) indexOrDefault() string {
	if q.indexName != "" {
		return q.indexName
	}
	return DefaultIndexName
}

func (q Query) runVector(filter index.Filter) ([]Row, error) {
	results, err := q.t.vectorSearchLocked(q.qvec, q.candidateK(), q.indexOrDefault(), filter)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(results))
	for _, r := range results {
		rec := q.t.records[r.ID]
		if rec == nil || !q.applyPreds(rec) {
			continue
		}
		rows = append(rows, Row{ID: r.ID, Score: float64(r.Distance)})
	}
	if kk := q.candidateK(); len(rows) > kk {
		rows = rows[:kk]
	}
	return rows, nil
}

func (q Query) runText(filter index.Filter) ([]Row, error) {
	if q.k <= 0 {
		return nil, ErrInvalidK
	}
	tokens, err := q.t.textTokensLocked(q.qtext)
	if err != nil {
		return nil, err
	}

	// The text index has no pushdown; score the full matching set and
	// filter afterwards so predicates never starve the top-k.
	hits, err := q.t.fulltext.Search(tokens, -1)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, min(len(hits), q.candidateK()))
	for _, h := range hits {
		if filter != nil && !filter(h.ID) {
			continue
		}
		rec := q.t.records[h.ID]
		if rec == nil || !q.applyPreds(rec) {
			continue
		}
		rows = append(rows, Row{ID: h.ID, Score: h.Score})
		if len(rows) == q.candidateK() {
			break
		}
	}
	return rows, nil
}

// runHybrid executes the vector and text ranking passes independently
// and fuses them; a vector-ordered candidate list is never re-scored.
func (q Query) runHybrid(filter index.Filter) ([]Row, error) {
	pred := filter
	if len(q.preds) > 0 {
		pred = func(id uint64) bool {
			if filter != nil && !filter(id) {
				return false
			}
			rec := q.t.records[id]
			return rec != nil && q.applyPreds(rec)
		}
	}

	hits, err := q.t.hybridSearchLocked(q.qvec, q.qtext, q.weight, q.candidateK(), q.indexOrDefault(), pred)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(hits))
	for _, h := range hits {
		rows = append(rows, Row{ID: h.ID, Score: h.Score})
	}
	return rows, nil
}

// runScan returns the filtered live set in ascending ID order.
func (q Query) runScan(filter index.Filter) []Row {
	ids := slices.Sorted(maps.Keys(q.t.records))
	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		if filter != nil && !filter(id) {
			continue
		}
		if !q.applyPreds(q.t.records[id]) {
			continue
		}
		rows = append(rows, Row{ID: id})
	}
	return rows
}

func (q Query) applyPreds(rec *Record) bool {
	for _, p := range q.preds {
		if !p(rec.ID, rec.Payload) {
			return false
		}
	}
	return true
}

func (q Query) project(rows []Row) []Row {
	for i := range rows {
		rec := q.t.records[rows[i].ID]
		if rec == nil {
			continue
		}
		if !q.hasSelect {
			rows[i].Fields = rec.Payload.Clone()
			continue
		}
		fields := make(payload.Document, len(q.fields))
		for _, f := range q.fields {
			if v, ok := rec.Payload[f]; ok {
				fields[f] = v
			}
		}
		rows[i].Fields = fields
	}
	return rows
}

func paginate(rows []Row, offset, limit int) []Row {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit >= 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// compileFilter turns the conjunctive equality predicates into a single
// pushdown filter. Fields backed by a scalar index intersect posting
// bitmaps; the rest fall back to payload checks.
func (t *Table) compileFilter(fields []string, values []payload.Value) index.Filter {
	if len(fields) == 0 {
		return nil
	}

	var bm *roaring64.Bitmap
	var docChecks []int
	for i, f := range fields {
		if ix, ok := t.scalars[f]; ok {
			e := ix.Eq(values[i])
			if bm == nil {
				bm = e
			} else {
				bm.And(e)
			}
		} else {
			docChecks = append(docChecks, i)
		}
	}

	return func(id uint64) bool {
		if bm != nil && !bm.Contains(id) {
			return false
		}
		if len(docChecks) == 0 {
			return true
		}
		rec := t.records[id]
		if rec == nil {
			return false
		}
		for _, i := range docChecks {
			v, ok := rec.Payload[fields[i]]
			if !ok || !v.Equal(values[i]) {
				return false
			}
		}
		return true
	}
}
