// Package store holds the on-disk data a library is built from: the per-book
// chunk files (ChunkStore) and the derived search artifacts, a BM25 keyword
// index (SQLite FTS5 or Bleve) and an HNSW vector graph.
package store

import (
	"context"
	"fmt"
)

// Document is one unit handed to a BM25 index. ID is a chunk_id.
type Document struct {
	ID      string
	Content string
}

// BM25Result is a keyword search hit.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats reports index size.
type IndexStats struct {
	DocumentCount int
}

// BM25Index is a keyword index over chunk text.
type BM25Index interface {
	// Index adds documents to an index being built.
	Index(ctx context.Context, docs []*Document) error

	// Search returns up to limit hits, best first.
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Stats returns document counts.
	Stats() *IndexStats

	// Close flushes and releases the index. Closing twice is a no-op.
	Close() error
}

// BM25Config configures the BM25 index.
type BM25Config struct {
	// StopWords is a list of words to filter out during tokenization
	StopWords []string

	// MinTokenLength is minimum token length in runes (default: 2)
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords are English function words that carry no retrieval signal
// in textbook prose.
var DefaultStopWords = []string{
	"a", "about", "after", "all", "also", "an", "and", "any", "are", "as",
	"at", "be", "because", "been", "but", "by", "can", "could", "did", "do",
	"does", "each", "for", "from", "had", "has", "have", "he", "her", "his",
	"how", "if", "in", "into", "is", "it", "its", "may", "more", "most",
	"no", "not", "of", "on", "one", "or", "other", "our", "she", "so",
	"some", "such", "than", "that", "the", "their", "them", "then", "there",
	"these", "they", "this", "those", "to", "was", "we", "were", "what",
	"when", "which", "while", "who", "will", "with", "would", "you", "your",
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the vector graph.
type VectorStoreConfig struct {
	Dimensions int
	Metric     string // "cos" or "l2"
	M          int
	EfSearch   int
}

// DefaultVectorStoreConfig returns the graph settings used for vectors.hnsw.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   20,
	}
}

// VectorStore is an approximate nearest-neighbour index over chunk vectors.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch is returned when a vector has the wrong width.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
