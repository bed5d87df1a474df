package veclite

import (
	"github.com/hupe1980/veclite/distance"
	"github.com/hupe1980/veclite/lexical"
	"github.com/hupe1980/veclite/payload"
)

// Embedder turns a text into a vector. The table uses it to derive a
// vector when Add is called without one.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// EmbedderFunc adapts a plain function to the Embedder interface.
type EmbedderFunc func(text string) ([]float32, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(text string) ([]float32, error) { return f(text) }

// Options contains configuration options for a table.
type Options struct {
	// Metric is the default distance metric, used by the default
	// brute-force index and by indexes created without an explicit
	// metric.
	Metric distance.Metric

	// TextFields names the payload fields fed into the full-text
	// index. Configuring text fields auto-creates the full-text index.
	TextFields []string

	// Schema, when set, makes payload validation strict: unknown
	// fields are rejected and missing fields are stored as null.
	Schema payload.Schema

	// Embedder derives vectors for records added without one.
	Embedder Embedder

	// Tokenizer overrides the default tokenizer for the full-text
	// index. Index and query sides always share this tokenizer.
	Tokenizer lexical.Tokenizer

	// FullText overrides the built-in BM25 index with a custom
	// lexical index implementation.
	FullText lexical.Index

	// Logger receives structured operation logs. Defaults to a noop
	// logger.
	Logger *Logger

	// Metrics receives operational metrics. Defaults to a noop
	// collector.
	Metrics MetricsCollector
}

// WithMetric sets the default distance metric.
func WithMetric(m distance.Metric) func(o *Options) {
	return func(o *Options) { o.Metric = m }
}

// WithTextFields configures the payload fields indexed for full-text
// search.
func WithTextFields(fields ...string) func(o *Options) {
	return func(o *Options) { o.TextFields = fields }
}

// WithSchema sets a strict payload schema.
func WithSchema(s payload.Schema) func(o *Options) {
	return func(o *Options) { o.Schema = s }
}

// WithEmbedder sets the embedder used for auto-embedding.
func WithEmbedder(e Embedder) func(o *Options) {
	return func(o *Options) { o.Embedder = e }
}

// WithTokenizer overrides the full-text tokenizer.
func WithTokenizer(t lexical.Tokenizer) func(o *Options) {
	return func(o *Options) { o.Tokenizer = t }
}

// WithFullTextIndex overrides the built-in BM25 index.
func WithFullTextIndex(ix lexical.Index) func(o *Options) {
	return func(o *Options) { o.FullText = ix }
}

// WithLogger sets the logger.
func WithLogger(l *Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) func(o *Options) {
	return func(o *Options) { o.Metrics = m }
}
