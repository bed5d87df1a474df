// Package scalar provides an ordered B-tree index from payload field
// values to record ID sets, supporting equality, range and membership
// predicates.
package scalar

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/google/btree"

	"github.com/hupe1980/veclite/payload"
)

const btreeDegree = 16

type item struct {
	key payload.Value
	ids *roaring64.Bitmap
}

// Index is an ordered map from payload value to the set of record IDs
// carrying that value. Values must be totally ordered within one index:
// int and float interoperate, any other kind mix fails the mutation.
type Index struct {
	field string
	tree  *btree.BTreeG[*item]
	kind  payload.Kind // locked in by the first insert
	size  int          // total (value, id) pairs
}

// New creates a new scalar index for the given payload field.
func New(field string) *Index {
	return &Index{
		field: field,
		tree: btree.NewG(btreeDegree, func(a, b *item) bool {
			c, err := payload.Compare(a.key, b.key)
			if err != nil {
				// Kind compatibility is enforced before items reach
				// the tree; an unordered pair cannot occur here.
				panic(fmt.Sprintf("scalar: unordered keys in tree: %v", err))
			}
			return c < 0
		}),
	}
}

// Field returns the payload field this index covers.
func (ix *Index) Field() string { return ix.field }

// Len returns the number of (value, id) pairs in the index.
func (ix *Index) Len() int { return ix.size }

func (ix *Index) checkKind(v payload.Value) error {
	switch v.Kind {
	case payload.KindInt, payload.KindFloat:
		if ix.kind != payload.KindInvalid && ix.kind != payload.KindInt && ix.kind != payload.KindFloat {
			return fmt.Errorf("scalar index %q holds %s values, cannot index %s", ix.field, ix.kind, v.Kind)
		}
	case payload.KindString, payload.KindBool:
		if ix.kind != payload.KindInvalid && ix.kind != v.Kind {
			return fmt.Errorf("scalar index %q holds %s values, cannot index %s", ix.field, ix.kind, v.Kind)
		}
	case payload.KindNull:
		// Null carries no order; records with a null field are simply
		// not indexed.
		return nil
	default:
		return fmt.Errorf("scalar index %q cannot index kind %s", ix.field, v.Kind)
	}
	return nil
}

// Insert adds (value, id) to the index. Mutations are O(log n).
func (ix *Index) Insert(id uint64, v payload.Value) error {
	if err := ix.checkKind(v); err != nil {
		return err
	}
	if v.Kind == payload.KindNull {
		return nil
	}
	if ix.kind == payload.KindInvalid {
		ix.kind = v.Kind
	}

	probe := &item{key: v}
	if existing, ok := ix.tree.Get(probe); ok {
		if !existing.ids.Contains(id) {
			existing.ids.Add(id)
			ix.size++
		}
		return nil
	}
	ids := roaring64.New()
	ids.Add(id)
	ix.tree.ReplaceOrInsert(&item{key: v, ids: ids})
	ix.size++
	return nil
}

// Remove removes (value, id) from the index. A no-op for absent pairs.
func (ix *Index) Remove(id uint64, v payload.Value) {
	if v.Kind == payload.KindNull {
		return
	}
	probe := &item{key: v}
	existing, ok := ix.tree.Get(probe)
	if !ok || !existing.ids.Contains(id) {
		return
	}
	existing.ids.Remove(id)
	ix.size--
	if existing.ids.IsEmpty() {
		ix.tree.Delete(probe)
	}
}

// Eq returns the set of record IDs whose field equals v. Values the
// index cannot order against its contents match nothing.
func (ix *Index) Eq(v payload.Value) *roaring64.Bitmap {
	if v.Kind == payload.KindNull || ix.checkKind(v) != nil {
		return roaring64.New()
	}
	if existing, ok := ix.tree.Get(&item{key: v}); ok {
		return existing.ids.Clone()
	}
	return roaring64.New()
}

// Range returns the set of record IDs whose field falls between lo and
// hi with the given bound inclusivity. A null bound is open-ended.
func (ix *Index) Range(lo, hi payload.Value, incLo, incHi bool) (*roaring64.Bitmap, error) {
	out := roaring64.New()
	var rangeErr error

	visit := func(it *item) bool {
		if hi.Kind != payload.KindNull {
			c, err := payload.Compare(it.key, hi)
			if err != nil {
				rangeErr = err
				return false
			}
			if c > 0 || (c == 0 && !incHi) {
				return false
			}
		}
		if lo.Kind != payload.KindNull {
			c, err := payload.Compare(it.key, lo)
			if err != nil {
				rangeErr = err
				return false
			}
			if c < 0 || (c == 0 && !incLo) {
				return true
			}
		}
		out.Or(it.ids)
		return true
	}

	if lo.Kind != payload.KindNull {
		if err := ix.checkKind(lo); err != nil {
			return nil, err
		}
		ix.tree.AscendGreaterOrEqual(&item{key: lo}, visit)
	} else {
		ix.tree.Ascend(visit)
	}
	if rangeErr != nil {
		return nil, rangeErr
	}
	return out, nil
}

// In returns the set of record IDs whose field equals any of values.
func (ix *Index) In(values []payload.Value) *roaring64.Bitmap {
	out := roaring64.New()
	for _, v := range values {
		if v.Kind == payload.KindNull || ix.checkKind(v) != nil {
			continue
		}
		if existing, ok := ix.tree.Get(&item{key: v}); ok {
			out.Or(existing.ids)
		}
	}
	return out
}
