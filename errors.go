package veclite

import (
	"errors"
	"fmt"

	"github.com/hupe1980/veclite/distance"
	"github.com/hupe1980/veclite/index"
)

var (
	// ErrNotFound is returned when an operation targets a nonexistent record.
	ErrNotFound = errors.New("not found")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrUnknownIndex is returned when an operation refers to an absent index.
	ErrUnknownIndex = errors.New("unknown index")

	// ErrDuplicateIndex is returned when an index name is already taken.
	ErrDuplicateIndex = errors.New("duplicate index")

	// ErrIncompatibleIndex is returned for illegal index type/metric
	// combinations or a use_index selection incompatible with the query.
	ErrIncompatibleIndex = errors.New("incompatible index")

	// ErrEmbeddingMissing is returned when auto-embedding is requested
	// without a non-empty text field, or without an embedder configured.
	ErrEmbeddingMissing = errors.New("auto-embedding requires a non-empty \"text\" payload field")

	// ErrEmptyQuery is returned for a text search with no tokens.
	ErrEmptyQuery = errors.New("empty text query")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrNumericDomain indicates NaN or infinity in a vector or query.
type ErrNumericDomain struct {
	cause error
}

func (e *ErrNumericDomain) Error() string {
	return fmt.Sprintf("numeric domain violation: %v", e.cause)
}

func (e *ErrNumericDomain) Unwrap() error { return e.cause }

// ErrSchemaViolation indicates a payload that does not conform to the
// table schema: a field type mismatch, an unknown field under a strict
// schema, or an unorderable scalar-index insertion.
type ErrSchemaViolation struct {
	cause error
}

func (e *ErrSchemaViolation) Error() string {
	return fmt.Sprintf("schema violation: %v", e.cause)
}

func (e *ErrSchemaViolation) Unwrap() error { return e.cause }

// ErrInvalidParameter indicates an out-of-range capacity or parameter,
// e.g. IVF NProbe > NLists or a negative offset. A k that is not
// positive is reported as ErrInvalidK instead.
type ErrInvalidParameter struct {
	cause error
}

func (e *ErrInvalidParameter) Error() string {
	return fmt.Sprintf("invalid parameter: %v", e.cause)
}

func (e *ErrInvalidParameter) Unwrap() error { return e.cause }

// translateError unifies subpackage errors into the facade's error kinds.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	var im *index.ErrIncompatibleMetric
	if errors.As(err, &im) {
		return fmt.Errorf("%w: %w", ErrIncompatibleIndex, err)
	}
	if errors.Is(err, index.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}

	return err
}

// incompatible wraps an (index type, metric) rejection.
func incompatible(indexType string, m distance.Metric) error {
	return fmt.Errorf("%w: %s does not support metric %v", ErrIncompatibleIndex, indexType, m)
}
