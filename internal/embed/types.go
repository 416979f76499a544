// Package embed turns chunk text into vectors for the vectors.hnsw search
// artifact. Embedders are deterministic and local: the artifact only has to
// exist and be fresh, so no model download or network call is involved.
package embed

import (
	"context"
	"math"
)

const (
	// DefaultDimensions is the vector width written to search/manifest.json
	// when no dimension is configured.
	DefaultDimensions = 256

	// MinDimensions keeps hashed buckets from collapsing into a handful of slots.
	MinDimensions = 32

	// DefaultBatchSize is how many chunks the search rebuild embeds per call.
	DefaultBatchSize = 64
)

// Embedder maps chunk text to fixed-width vectors. EmbedBatch returns one
// vector per text, in order. ModelName is recorded in the search manifest
// so a reader can tell which embedder produced vectors.hnsw.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Close() error
}

// unit scales v to length 1 in place. The zero vector is left alone.
func unit(v []float32) []float32 {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	if sq == 0 {
		return v
	}
	scale := 1 / math.Sqrt(sq)
	for i := range v {
		v[i] = float32(float64(v[i]) * scale)
	}
	return v
}
