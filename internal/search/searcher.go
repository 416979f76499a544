package search

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Aman-CERP/atrium/internal/embed"
	"github.com/Aman-CERP/atrium/internal/library"
	"github.com/Aman-CERP/atrium/internal/store"
)

// Hit is a fused result resolved back to its chunk.
type Hit struct {
	FusedResult
	Chunk store.Chunk
}

// Searcher queries the artifacts of an index root. It exists so that a
// rebuilt index can be inspected by hand.
type Searcher struct {
	bm25     store.BM25Index
	vectors  *store.HNSWStore
	embedder embed.Embedder
	chunks   *store.ChunkStore
}

// Open loads the artifacts named by the manifest. A missing manifest is an
// error: the index has never been built.
func Open(layout library.Layout) (*Searcher, error) {
	m, err := ReadManifest(layout)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("no search index under %s", layout.Root)
	}
	backend, err := store.ParseBM25Backend(m.Backend)
	if err != nil {
		return nil, err
	}

	bm25, err := store.OpenBM25Index(layout.SearchPath(), backend, store.DefaultBM25Config())
	if err != nil {
		return nil, err
	}
	vs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(m.Dimensions))
	if err != nil {
		_ = bm25.Close()
		return nil, err
	}
	if err := vs.Load(filepath.Join(layout.SearchPath(), store.VectorsFile)); err != nil {
		_ = bm25.Close()
		return nil, err
	}

	return &Searcher{
		bm25:     bm25,
		vectors:  vs,
		embedder: embed.NewStaticEmbedder(m.Dimensions),
		chunks:   store.NewChunkStore(layout),
	}, nil
}

// Query returns up to limit fused hits for q.
func (s *Searcher) Query(ctx context.Context, q string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	fetch := limit * 3

	kw, err := s.bm25.Search(ctx, q, fetch)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	qvec, err := s.embedder.Embed(ctx, q)
	if err != nil {
		return nil, err
	}
	vec, err := s.vectors.Search(ctx, qvec, fetch)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	fused := Fuse(kw, vec, DefaultWeights(), DefaultRRFConstant)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	books := map[string][]store.Chunk{}
	hits := make([]Hit, 0, len(fused))
	for _, f := range fused {
		bookID, index, ok := splitChunkID(f.ChunkID)
		if !ok {
			continue
		}
		chunks, seen := books[bookID]
		if !seen {
			chunks, _ = s.chunks.Read(bookID)
			books[bookID] = chunks
		}
		hit := Hit{FusedResult: *f}
		if index < len(chunks) {
			hit.Chunk = chunks[index]
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Close releases the artifacts.
func (s *Searcher) Close() error {
	_ = s.vectors.Close()
	return s.bm25.Close()
}

func splitChunkID(id string) (bookID string, index int, ok bool) {
	i := strings.LastIndexByte(id, ':')
	if i < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return "", 0, false
	}
	return id[:i], n, true
}
