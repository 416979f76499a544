package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/atrium/internal/library"
	"github.com/Aman-CERP/atrium/internal/search"
	"github.com/Aman-CERP/atrium/internal/store"
)

func kinds(r *ConsistencyReport) []IssueKind {
	var out []IssueKind
	for _, issue := range r.Issues {
		out = append(out, issue.Kind)
	}
	return out
}

func TestChecker_EmptyRootIsConsistent(t *testing.T) {
	env := newTestEnv(t)

	report, err := env.checker.Verify(context.Background())

	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Empty(t, report.Issues)
	assert.False(t, env.layout.Exists(), "verify must not write")
}

func TestChecker_DetectsChunkCountMismatch(t *testing.T) {
	// Given: a built index whose library claims one chunk too many
	env := newTestEnv(t)
	env.addSource(t, "a.txt", 30)
	_, err := env.builder.Build(context.Background(), env.pdfDir, BuildOptions{})
	require.NoError(t, err)
	require.NoError(t, env.meta.Update(func(lib *library.Library) error {
		lib.Books[0].ChunkCount++
		return nil
	}))

	// When: verified
	report, err := env.checker.Verify(context.Background())
	require.NoError(t, err)

	// Then: the mismatch and the now stale manifest are reported
	assert.False(t, report.OK)
	assert.Contains(t, kinds(report), IssueChunkCountMismatch)
	assert.Contains(t, kinds(report), IssueMissingIndexArtifact)
}

func TestChecker_DetectsMissingChunksAndBookJSON(t *testing.T) {
	env := newTestEnv(t)
	env.addSource(t, "a.txt", 30)
	_, err := env.builder.Build(context.Background(), env.pdfDir, BuildOptions{})
	require.NoError(t, err)
	id := env.library(t).Books[0].BookID

	// Given: both per-book files are deleted
	require.NoError(t, os.Remove(env.layout.ChunksPath(id)))
	require.NoError(t, os.Remove(env.layout.BookJSON(id)))

	report, err := env.checker.Verify(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []IssueKind{IssueMissingChunks, IssueMissingBookJSON}, kinds(report))
	assert.Equal(t, id, report.Issues[0].BookID)
}

func TestChecker_DetectsOrphanedChunks(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.chunks.Write("ghost", []store.Chunk{{Text: "boo"}}))

	report, err := env.checker.Verify(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Issues, 1)
	assert.Equal(t, Issue{
		BookID: "ghost",
		Kind:   IssueOrphanedChunks,
		Detail: "1 chunk(s) for a book missing from library.json",
	}, report.Issues[0])
}

func TestChecker_MissingArtifactsWhenBooksReady(t *testing.T) {
	// Given: a ready book registered without any search index
	env := newTestEnv(t)
	require.NoError(t, env.chunks.Write("b1", []store.Chunk{{Text: "one"}, {Text: "two"}}))
	require.NoError(t, env.meta.WriteBook(&library.Book{BookID: "b1", Filename: "b1.pdf", Status: library.StatusReady, ChunkCount: 2}))
	require.NoError(t, env.meta.Update(func(lib *library.Library) error {
		lib.Upsert(&library.Book{BookID: "b1", Filename: "b1.pdf", Status: library.StatusReady, ChunkCount: 2})
		return nil
	}))

	report, err := env.checker.Verify(context.Background())
	require.NoError(t, err)

	// Then: every required artifact is listed
	assert.Len(t, report.Issues, len(search.RequiredArtifacts(store.BM25BackendSQLite)))
	for _, issue := range report.Issues {
		assert.Equal(t, IssueMissingIndexArtifact, issue.Kind)
		assert.Empty(t, issue.BookID)
	}
	ready, err := env.checker.QuickCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, ready)

	// When: the index is built
	require.NoError(t, env.builder.RebuildSearch(context.Background()))

	// Then: the root is consistent and ready
	report, err = env.checker.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK, "%+v", report.Issues)
	ready, err = env.checker.QuickCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestChecker_CorruptLibraryIsAnError(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(env.layout.Root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.layout.Root, library.LibraryFile), []byte("{"), 0o644))

	_, err := env.checker.Verify(context.Background())
	assert.ErrorIs(t, err, library.ErrCorrupt)
}
