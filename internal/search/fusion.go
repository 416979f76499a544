package search

import (
	"sort"

	"github.com/Aman-CERP/atrium/internal/store"
)

// DefaultRRFConstant is the usual k in 1/(k+rank).
const DefaultRRFConstant = 60

// Weights sets the share of keyword and vector ranks in the fused score.
type Weights struct {
	BM25   float64
	Vector float64
}

// DefaultWeights weighs both lists equally.
func DefaultWeights() Weights {
	return Weights{BM25: 0.5, Vector: 0.5}
}

// FusedResult is one chunk after Reciprocal Rank Fusion.
type FusedResult struct {
	ChunkID      string
	Score        float64 // normalized 0-1
	BM25Score    float64
	BM25Rank     int // 1-based, 0 when absent
	VecScore     float64
	VecRank      int
	MatchedTerms []string
}

// InBoth reports whether both lists returned the chunk.
func (r *FusedResult) InBoth() bool { return r.BM25Rank > 0 && r.VecRank > 0 }

// Fuse merges keyword and vector hits with weighted RRF. A chunk missing
// from one list is scored there at rank max(len)+1. Ties break on presence
// in both lists, then BM25 score, then chunk id.
func Fuse(bm25 []*store.BM25Result, vec []*store.VectorResult, w Weights, k int) []*FusedResult {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	byID := make(map[string]*FusedResult, len(bm25)+len(vec))
	get := func(id string) *FusedResult {
		r, ok := byID[id]
		if !ok {
			r = &FusedResult{ChunkID: id}
			byID[id] = r
		}
		return r
	}

	for i, hit := range bm25 {
		r := get(hit.DocID)
		r.BM25Rank = i + 1
		r.BM25Score = hit.Score
		r.MatchedTerms = hit.MatchedTerms
		r.Score += w.BM25 / float64(k+i+1)
	}
	for i, hit := range vec {
		r := get(hit.ID)
		r.VecRank = i + 1
		r.VecScore = float64(hit.Score)
		r.Score += w.Vector / float64(k+i+1)
	}

	missing := max(len(bm25), len(vec)) + 1
	out := make([]*FusedResult, 0, len(byID))
	for _, r := range byID {
		if r.BM25Rank == 0 {
			r.Score += w.BM25 / float64(k+missing)
		}
		if r.VecRank == 0 {
			r.Score += w.Vector / float64(k+missing)
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.InBoth() != b.InBoth() {
			return a.InBoth()
		}
		if a.BM25Score != b.BM25Score {
			return a.BM25Score > b.BM25Score
		}
		return a.ChunkID < b.ChunkID
	})

	if len(out) > 0 && out[0].Score > 0 {
		top := out[0].Score
		for _, r := range out {
			r.Score /= top
		}
	}
	return out
}
