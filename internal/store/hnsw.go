package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/coder/hnsw"

	"github.com/Aman-CERP/atrium/internal/library"
)

// VectorsFile is the graph artifact name; VectorIDsFile holds its chunk ids.
const (
	VectorsFile   = "vectors.hnsw"
	VectorIDsFile = VectorsFile + idsSuffix
)

const idsSuffix = ".ids"

// HNSWStore is the vector half of the search artifacts, a coder/hnsw graph
// keyed by insertion order. Node key i belongs to ids[i].
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig
	ids    []string
	seen   map[string]struct{}
	closed bool
}

var _ VectorStore = (*HNSWStore)(nil)

// vectorsSidecar is the JSON written next to the graph.
type vectorsSidecar struct {
	Dimensions int      `json:"dimensions"`
	Metric     string   `json:"metric"`
	M          int      `json:"m"`
	EfSearch   int      `json:"ef_search"`
	ChunkIDs   []string `json:"chunk_ids"`
}

// NewHNSWStore creates an empty graph. Zero M, EfSearch and Metric take
// the DefaultVectorStoreConfig values.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", cfg.Dimensions)
	}
	def := DefaultVectorStoreConfig(cfg.Dimensions)
	if cfg.Metric == "" {
		cfg.Metric = def.Metric
	}
	if cfg.M == 0 {
		cfg.M = def.M
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = def.EfSearch
	}
	return &HNSWStore{
		graph:  newGraph(cfg),
		config: cfg,
		seen:   make(map[string]struct{}),
	}, nil
}

func newGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	if cfg.Metric == "l2" {
		g.Distance = hnsw.EuclideanDistance
	}
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// Add inserts one vector per chunk id. Ids are unique within a rebuild, so
// a repeated id is an error.
func (s *HNSWStore) Add(_ context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("vector store is closed")
	}

	for i, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
		if _, dup := s.seen[ids[i]]; dup {
			return fmt.Errorf("chunk %s already has a vector", ids[i])
		}
	}
	for i, id := range ids {
		s.graph.Add(hnsw.MakeNode(uint64(len(s.ids)), s.prepare(vectors[i])))
		s.ids = append(s.ids, id)
		s.seen[id] = struct{}{}
	}
	return nil
}

// prepare copies v, unit-normalized under the cosine metric.
func (s *HNSWStore) prepare(v []float32) []float32 {
	out := append([]float32(nil), v...)
	if s.config.Metric != "cos" {
		return out
	}
	var sum float64
	for _, x := range out {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// Search returns the k nearest chunks to query, best first.
func (s *HNSWStore) Search(_ context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.New("vector store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if len(s.ids) == 0 || k <= 0 {
		return []*VectorResult{}, nil
	}

	q := s.prepare(query)
	nodes := s.graph.Search(q, k)
	results := make([]*VectorResult, 0, len(nodes))
	for _, n := range nodes {
		if n.Key >= uint64(len(s.ids)) {
			continue
		}
		d := s.graph.Distance(q, n.Value)
		results = append(results, &VectorResult{ID: s.ids[n.Key], Distance: d, Score: similarity(d, s.config.Metric)})
	}
	return results, nil
}

// similarity maps cosine distance (0..2) or L2 distance (0..inf) to 0..1.
func similarity(d float32, metric string) float32 {
	if metric == "l2" {
		return 1 / (1 + d)
	}
	return 1 - d/2
}

// Count returns the number of vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Dimensions returns the vector width.
func (s *HNSWStore) Dimensions() int { return s.config.Dimensions }

// Save writes the graph to path and the chunk ids to path + ".ids".
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("vector store is closed")
	}

	if err := library.WriteStreamAtomic(path, func(w io.Writer) error { return s.graph.Export(w) }); err != nil {
		return fmt.Errorf("export vector graph: %w", err)
	}
	return library.WriteJSONAtomic(path+idsSuffix, vectorsSidecar{
		Dimensions: s.config.Dimensions,
		Metric:     s.config.Metric,
		M:          s.config.M,
		EfSearch:   s.config.EfSearch,
		ChunkIDs:   s.ids,
	})
}

// Load replaces the store's contents with the graph saved at path. A
// missing or unreadable artifact returns ErrCodeCorruptIndex.
func (s *HNSWStore) Load(path string) error {
	side, err := readSidecar(path)
	if err != nil {
		return corruptIndex(path, err)
	}
	cfg := VectorStoreConfig{Dimensions: side.Dimensions, Metric: side.Metric, M: side.M, EfSearch: side.EfSearch}

	f, err := os.Open(path)
	if err != nil {
		return corruptIndex(path, err)
	}
	defer f.Close()
	g := newGraph(cfg)
	if err := g.Import(bufio.NewReader(f)); err != nil {
		return corruptIndex(path, err)
	}
	if g.Len() != len(side.ChunkIDs) {
		return corruptIndex(path, fmt.Errorf("graph holds %d vectors, %s lists %d", g.Len(), idsSuffix, len(side.ChunkIDs)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("vector store is closed")
	}
	s.graph, s.config, s.ids = g, cfg, side.ChunkIDs
	s.seen = make(map[string]struct{}, len(side.ChunkIDs))
	for _, id := range side.ChunkIDs {
		s.seen[id] = struct{}{}
	}
	return nil
}

func readSidecar(vectorPath string) (*vectorsSidecar, error) {
	data, err := os.ReadFile(vectorPath + idsSuffix)
	if err != nil {
		return nil, err
	}
	var side vectorsSidecar
	if err := json.Unmarshal(data, &side); err != nil {
		return nil, fmt.Errorf("decode %s: %w", idsSuffix, err)
	}
	if side.Dimensions <= 0 {
		return nil, fmt.Errorf("%s has no dimensions", idsSuffix)
	}
	return &side, nil
}

// ReadHNSWDimensions returns the vector width recorded next to vectorPath,
// or 0 when nothing was saved there.
func ReadHNSWDimensions(vectorPath string) (int, error) {
	side, err := readSidecar(vectorPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return side.Dimensions, nil
}

// Close releases the graph. Closing twice is a no-op.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	return nil
}
