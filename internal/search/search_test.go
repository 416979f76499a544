package search

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/library"
	"github.com/Aman-CERP/atrium/internal/store"
)

func seedChunks(t *testing.T, layout library.Layout) {
	t.Helper()
	cs := store.NewChunkStore(layout)
	require.NoError(t, cs.Write("bio", []store.Chunk{
		{Text: "Mitochondria produce energy through cellular respiration."},
		{Text: "The cell membrane regulates transport of ions."},
	}))
	require.NoError(t, cs.Write("hist", []store.Chunk{
		{Text: "The Peace of Westphalia ended the Thirty Years War in 1648."},
	}))
}

func TestRebuilder_BuildWritesArtifactsAndManifest(t *testing.T) {
	for _, backend := range []store.BM25Backend{store.BM25BackendSQLite, store.BM25BackendBleve} {
		t.Run(string(backend), func(t *testing.T) {
			// Given: two books in the chunk store
			layout := library.NewLayout(t.TempDir())
			seedChunks(t, layout)
			r := NewRebuilder(layout, Options{Backend: backend, Dimensions: 64})

			// When: the index is rebuilt
			m, err := r.Build(context.Background(), []string{"hist", "bio"})
			require.NoError(t, err)

			// Then: the manifest records the sorted books and chunk total
			assert.Equal(t, []string{"bio", "hist"}, m.BookIDs)
			assert.Equal(t, 3, m.ChunkCount)
			assert.Equal(t, string(backend), m.Backend)
			assert.Equal(t, 64, m.Dimensions)
			assert.Equal(t, "static-64", m.Embedder)

			onDisk, err := ReadManifest(layout)
			require.NoError(t, err)
			require.NotNil(t, onDisk)
			assert.Equal(t, m.BookIDs, onDisk.BookIDs)

			// And: every required artifact exists, with no staging left
			assert.Empty(t, MissingArtifacts(layout, backend))
			leftovers, _ := filepath.Glob(filepath.Join(layout.Root, "*"+library.TmpSuffix))
			assert.Empty(t, leftovers)
		})
	}
}

func TestRebuilder_ReplacesPreviousIndex(t *testing.T) {
	// Given: an index built from one book
	layout := library.NewLayout(t.TempDir())
	seedChunks(t, layout)
	r := NewRebuilder(layout, Options{Dimensions: 64})
	_, err := r.Build(context.Background(), []string{"bio"})
	require.NoError(t, err)

	// When: it is rebuilt with both books
	m, err := r.Build(context.Background(), []string{"bio", "hist"})
	require.NoError(t, err)

	// Then: the manifest reflects the second build only
	assert.Equal(t, 3, m.ChunkCount)
	onDisk, err := ReadManifest(layout)
	require.NoError(t, err)
	assert.Equal(t, "", onDisk.Stale([]string{"hist", "bio"}, 3))
}

func TestRebuilder_MissingChunksKeepsOldIndex(t *testing.T) {
	// Given: a good index
	layout := library.NewLayout(t.TempDir())
	seedChunks(t, layout)
	r := NewRebuilder(layout, Options{Dimensions: 64})
	_, err := r.Build(context.Background(), []string{"bio"})
	require.NoError(t, err)

	// When: a rebuild names a book with no chunk file
	_, err = r.Build(context.Background(), []string{"bio", "ghost"})

	// Then: it fails and the previous manifest survives
	require.Error(t, err)
	onDisk, err := ReadManifest(layout)
	require.NoError(t, err)
	assert.Equal(t, []string{"bio"}, onDisk.BookIDs)
}

func TestRebuilder_EmptyLibrary(t *testing.T) {
	layout := library.NewLayout(t.TempDir())
	r := NewRebuilder(layout, Options{})

	m, err := r.Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, m.ChunkCount)
	assert.Equal(t, []string{}, m.BookIDs)
	assert.Empty(t, MissingArtifacts(layout, store.BM25BackendSQLite))
}

func TestMissingArtifacts_FreshRoot(t *testing.T) {
	layout := library.NewLayout(t.TempDir())
	missing := MissingArtifacts(layout, store.BM25BackendSQLite)
	assert.Equal(t, RequiredArtifacts(store.BM25BackendSQLite), missing)
	assert.Contains(t, missing, filepath.Join("search", "bm25.db"))

	m, err := ReadManifest(layout)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestManifest_Stale(t *testing.T) {
	m := &Manifest{BookIDs: []string{"a", "b"}, ChunkCount: 5}

	assert.Empty(t, m.Stale([]string{"b", "a"}, 5))
	assert.Contains(t, m.Stale([]string{"a"}, 5), "1 ready")
	assert.Contains(t, m.Stale([]string{"a", "b"}, 6), "6")
}

func TestReadManifest_Corrupt(t *testing.T) {
	layout := library.NewLayout(t.TempDir())
	require.NoError(t, os.MkdirAll(layout.SearchPath(), 0o755))
	require.NoError(t, os.WriteFile(ManifestPath(layout), []byte("{"), 0o644))

	_, err := ReadManifest(layout)
	assert.Error(t, err)
}

func TestSearcher_Query(t *testing.T) {
	// Given: a built index
	layout := library.NewLayout(t.TempDir())
	seedChunks(t, layout)
	_, err := NewRebuilder(layout, Options{Dimensions: 64}).Build(context.Background(), []string{"bio", "hist"})
	require.NoError(t, err)

	s, err := Open(layout)
	require.NoError(t, err)
	defer s.Close()

	// When: querying a term from one chunk
	hits, err := s.Query(context.Background(), "membrane transport", 2)
	require.NoError(t, err)

	// Then: that chunk comes first, resolved to its text
	require.NotEmpty(t, hits)
	assert.Equal(t, "bio:1", hits[0].ChunkID)
	assert.Contains(t, hits[0].Chunk.Text, "membrane")
	assert.LessOrEqual(t, len(hits), 2)
}

func TestOpen_DamagedKeywordIndex(t *testing.T) {
	// Given: a built index whose bm25.db was overwritten
	layout := library.NewLayout(t.TempDir())
	seedChunks(t, layout)
	_, err := NewRebuilder(layout, Options{Dimensions: 64}).Build(context.Background(), []string{"bio", "hist"})
	require.NoError(t, err)
	path := store.BM25IndexPath(layout.SearchPath(), store.BM25BackendSQLite)
	require.NoError(t, os.WriteFile(path, []byte("truncated by a full disk, not sqlite"), 0o644))

	// When: opening the searcher
	_, err = Open(layout)

	// Then: it reports a corrupt index and leaves the file for repair
	assert.Equal(t, aerrors.ErrCodeCorruptIndex, aerrors.GetCode(err))
	assert.FileExists(t, path)
}

func TestOpen_NoIndex(t *testing.T) {
	_, err := Open(library.NewLayout(t.TempDir()))
	assert.Error(t, err)
}

func TestFuse(t *testing.T) {
	// Given: keyword hits [A, B] and vector hits [B, C]
	kw := []*store.BM25Result{{DocID: "A", Score: 3}, {DocID: "B", Score: 2}}
	vec := []*store.VectorResult{{ID: "B", Score: 0.9}, {ID: "C", Score: 0.8}}

	// When: fused with equal weights
	out := Fuse(kw, vec, DefaultWeights(), 0)

	// Then: B, found by both, ranks first with score 1
	require.Len(t, out, 3)
	assert.Equal(t, "B", out[0].ChunkID)
	assert.True(t, out[0].InBoth())
	assert.InDelta(t, 1.0, out[0].Score, 1e-9)
	assert.Equal(t, "A", out[1].ChunkID)

	assert.Empty(t, Fuse(nil, nil, DefaultWeights(), 60))
}

func TestSplitChunkID(t *testing.T) {
	id, n, ok := splitChunkID("abc:12")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
	assert.Equal(t, 12, n)

	_, _, ok = splitChunkID("nocolon")
	assert.False(t, ok)
}
