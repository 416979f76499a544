// Package search builds the derived search artifacts of an index root
// (search/bm25.*, search/vectors.hnsw and search/manifest.json) from the
// chunk store, and offers a small hybrid query path for inspecting them.
package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/Aman-CERP/atrium/internal/library"
	"github.com/Aman-CERP/atrium/internal/store"
)

// ManifestFile records what the current artifacts were built from.
const ManifestFile = "manifest.json"

// Manifest is the content of search/manifest.json.
type Manifest struct {
	BuiltAt    time.Time `json:"built_at"`
	ChunkCount int       `json:"chunk_count"`
	BookIDs    []string  `json:"book_ids"`
	Backend    string    `json:"backend"`
	Dimensions int       `json:"dimensions"`
	Embedder   string    `json:"embedder,omitempty"`
}

// ManifestPath returns search/manifest.json under layout.
func ManifestPath(layout library.Layout) string {
	return filepath.Join(layout.SearchPath(), ManifestFile)
}

// ReadManifest loads the manifest. A missing file returns nil, nil.
func ReadManifest(layout library.Layout) (*Manifest, error) {
	data, err := os.ReadFile(ManifestPath(layout))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestFile, err)
	}
	return &m, nil
}

// RequiredArtifacts lists the paths a complete search directory contains
// for backend. Paths are relative to the index root.
func RequiredArtifacts(backend store.BM25Backend) []string {
	return []string{
		filepath.Join(library.SearchDir, filepath.Base(store.BM25IndexPath("", backend))),
		filepath.Join(library.SearchDir, store.VectorsFile),
		filepath.Join(library.SearchDir, store.VectorIDsFile),
		filepath.Join(library.SearchDir, ManifestFile),
	}
}

// MissingArtifacts returns the required artifacts absent under layout. The
// backend recorded in the manifest wins over fallback.
func MissingArtifacts(layout library.Layout, fallback store.BM25Backend) []string {
	backend := fallback
	if m, err := ReadManifest(layout); err == nil && m != nil && m.Backend != "" {
		if b, err := store.ParseBM25Backend(m.Backend); err == nil {
			backend = b
		}
	}

	var missing []string
	for _, rel := range RequiredArtifacts(backend) {
		if _, err := os.Stat(filepath.Join(layout.Root, rel)); err != nil {
			missing = append(missing, rel)
		}
	}
	return missing
}

// Stale describes how m differs from the given ready books and chunk total,
// or returns "" when it matches.
func (m *Manifest) Stale(bookIDs []string, chunkCount int) string {
	want := slices.Clone(bookIDs)
	slices.Sort(want)
	have := slices.Clone(m.BookIDs)
	slices.Sort(have)

	if !slices.Equal(want, have) {
		return fmt.Sprintf("manifest covers %d book(s), library has %d ready", len(have), len(want))
	}
	if m.ChunkCount != chunkCount {
		return fmt.Sprintf("manifest has %d chunk(s), library has %d", m.ChunkCount, chunkCount)
	}
	return ""
}
