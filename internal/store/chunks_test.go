package store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/atrium/internal/library"
)

func TestChunkStore_WriteStampsAndCounts(t *testing.T) {
	// Given: a chunk store over a fresh root
	layout := library.NewLayout(t.TempDir())
	cs := NewChunkStore(layout)

	// When: three chunks are written
	err := cs.Write("abc", []Chunk{
		{Text: "first passage", PageStart: 1, PageEnd: 1, WordCount: 2},
		{Text: "second passage", PageStart: 1, PageEnd: 2, WordCount: 2},
		{Text: "third passage", PageStart: 2, PageEnd: 2, WordCount: 2},
	})
	require.NoError(t, err)

	// Then: the count matches and ids are stamped
	n, exists, err := cs.Count("abc")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 3, n)

	chunks, err := cs.Read("abc")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "abc:0", chunks[0].ChunkID)
	assert.Equal(t, "abc:2", chunks[2].ChunkID)
	assert.Equal(t, 3, chunks[1].TotalChunks)
	assert.Equal(t, "abc", chunks[1].BookID)

	// And: no temp file is left behind
	_, err = os.Stat(layout.ChunksPath("abc") + library.TmpSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestChunkStore_CountMissingAndBlankLines(t *testing.T) {
	layout := library.NewLayout(t.TempDir())
	cs := NewChunkStore(layout)

	// Given: no chunk file
	n, exists, err := cs.Count("missing")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, n)

	// Given: a hand-edited file with blank lines
	require.NoError(t, os.MkdirAll(layout.BookDir("b"), 0o755))
	content := "{\"chunk_id\":\"b:0\",\"text\":\"x\"}\n\n   \n{\"chunk_id\":\"b:1\",\"text\":\"y\"}\n"
	require.NoError(t, os.WriteFile(layout.ChunksPath("b"), []byte(content), 0o644))

	// Then: only non-empty lines count
	n, exists, err = cs.Count("b")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 2, n)
}

func TestChunkStore_EachReportsBadLine(t *testing.T) {
	layout := library.NewLayout(t.TempDir())
	cs := NewChunkStore(layout)
	require.NoError(t, os.MkdirAll(layout.BookDir("b"), 0o755))
	require.NoError(t, os.WriteFile(layout.ChunksPath("b"), []byte("{\"text\":\"ok\"}\nnot json\n"), 0o644))

	_, err := cs.Read("b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestChunkStore_Delete(t *testing.T) {
	layout := library.NewLayout(t.TempDir())
	cs := NewChunkStore(layout)
	require.NoError(t, cs.Write("b", []Chunk{{Text: "x"}}))

	require.NoError(t, cs.Delete("b"))
	require.NoError(t, cs.Delete("b"))

	_, exists, err := cs.Count("b")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTokenizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"punctuation splits", "Cell-membrane, transport!", []string{"cell", "membrane", "transport"}},
		{"short tokens dropped", "a b cd", []string{"cd"}},
		{"unicode letters kept", "Größe über", []string{"größe", "über"}},
		{"digits kept", "Chapter 12", []string{"chapter", "12"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TokenizeText(tt.in, 2))
		})
	}
}

func TestFilterStopWords(t *testing.T) {
	stop := BuildStopWordMap([]string{"The", "of"})
	got := FilterStopWords([]string{"the", "origin", "of", "species"}, stop)
	assert.Equal(t, []string{"origin", "species"}, got)
}
