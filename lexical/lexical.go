// Package lexical defines the tokenizer and index contract for
// full-text (keyword) search.
//
// The bm25 subpackage provides the built-in BM25 memory index. Custom
// implementations plug in through the Index interface; custom
// tokenization plugs in through the Tokenizer function type.
package lexical

import (
	"strings"
	"unicode"
)

// Tokenizer converts a text into its token stream.
type Tokenizer func(text string) []string

// Tokenize is the default tokenizer: lowercase, split on Unicode
// non-letter/non-digit boundaries, drop empty tokens. No stemming, no
// stopword removal.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Score is a scored full-text hit.
type Score struct {
	// ID is the record identifier of the hit.
	ID uint64

	// Score is the relevance score (larger is better).
	Score float64
}

// Index is the contract a full-text index implements. Documents enter
// pre-tokenized so index and query sides share one tokenizer.
type Index interface {
	// Add indexes the token multiset for id, replacing any previous
	// document stored under the same id.
	Add(id uint64, tokens []string) error

	// Remove removes id from the index. A no-op for absent ids.
	Remove(id uint64) error

	// Search scores the query tokens against the index and returns the
	// top-k hits in descending score, ties broken by ascending id.
	// Documents matching no query term are excluded. A negative k
	// returns every match.
	Search(tokens []string, k int) ([]Score, error)

	// Len returns the number of indexed documents.
	Len() int
}
