// Package index defines the contract shared by all vector indexes.
package index

import (
	"errors"
	"fmt"
	"iter"
	"sort"

	"github.com/hupe1980/veclite/distance"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")
)

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrIncompatibleMetric indicates an illegal (index type, metric) pair,
// e.g. a KD-tree with cosine or LSH with euclidean.
type ErrIncompatibleMetric struct {
	Index  string
	Metric distance.Metric
}

func (e *ErrIncompatibleMetric) Error() string {
	return fmt.Sprintf("index %s does not support metric %v", e.Index, e.Metric)
}

// SearchResult represents a single search hit.
type SearchResult struct {
	// ID is the record identifier of the hit.
	ID uint64

	// Distance is the distance between the query vector and the hit
	// (smaller is better, for all metrics).
	Distance float32
}

// Filter restricts a search to records for which it returns true.
// A nil Filter admits every record.
type Filter func(id uint64) bool

// Index is the contract every vector index implements.
//
// Search returns up to k (id, distance) pairs in ascending distance with
// ties broken by ascending id. Insert replaces an existing entry with the
// same id. Remove is a no-op for absent ids; implementations may tombstone
// rather than physically delete and recover space on Rebuild.
type Index interface {
	// Insert adds (id, vector) to the index, replacing any previous
	// vector stored under the same id.
	Insert(id uint64, vector []float32) error

	// Remove removes id from the index. Removing an absent id is a no-op.
	Remove(id uint64) error

	// Search returns the up-to-k nearest records to q that pass filter.
	Search(q []float32, k int, filter Filter) ([]SearchResult, error)

	// Rebuild reconstructs internal structure from the current live set,
	// discarding tombstones.
	Rebuild() error

	// Metric returns the metric this index ranks by.
	Metric() distance.Metric

	// Len returns the number of live records in the index.
	Len() int
}

// Source provides read access to vectors owned by the record store.
// Indexes that do not keep vector copies (brute force) resolve ids
// through a Source at search time.
type Source interface {
	// Vector returns the stored vector for id, or false if id is not live.
	Vector(id uint64) ([]float32, bool)

	// All iterates over every live (id, vector) pair.
	All() iter.Seq2[uint64, []float32]

	// Len returns the number of live records.
	Len() int
}

// SortResults orders results ascending by distance with ties broken by
// ascending id. Every index runs its heap output through this before
// returning, so the ordering contract holds regardless of heap internals.
func SortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
}

// OversampleK returns the retry candidate count after a post-filtered
// search came up short: doubled, capped at the live set size.
func OversampleK(k, live int) int {
	k2 := 2 * k
	if k2 > live {
		k2 = live
	}
	return k2
}

// MaxFilterRetries bounds how often a post-filtering index re-queries
// with an oversampled k before giving up.
const MaxFilterRetries = 3
