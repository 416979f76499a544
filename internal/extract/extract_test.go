package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func words(n int, prefix string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = prefix
	}
	return strings.Join(parts, " ")
}

func TestTextExtractor_SplitsOnFormFeed(t *testing.T) {
	// Given: a text file with two pages
	path := writeFile(t, "notes.txt", "page one text\r\nmore\fpage two text")

	// When: extracted
	pages, err := Default().Extract(context.Background(), path)

	// Then: each form feed starts a page, numbered from 1
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, "page one text\nmore", pages[0].Text)
	assert.Equal(t, 2, pages[1].Number)
}

func TestTextExtractor_MarkdownHeadings(t *testing.T) {
	path := writeFile(t, "biology.md", "# Chapter 2 Cells\n\n## 2.1 Membranes\nLipid bilayer.")

	pages, err := Default().Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Contains(t, pages[0].Text, "Chapter 2 Cells\n")
	assert.Contains(t, pages[0].Text, "\n2.1 Membranes\n")
}

func TestByExtension_Errors(t *testing.T) {
	ctx := context.Background()

	// Given: an empty text file
	_, err := Default().Extract(ctx, writeFile(t, "empty.txt", "  \n\f "))
	require.Error(t, err)
	assert.Equal(t, "no_text", SkipReason(err))

	// Given: an unknown extension
	_, err = Default().Extract(ctx, writeFile(t, "slides.pptx", "x"))
	require.Error(t, err)
	assert.Equal(t, "unsupported", SkipReason(err))
	assert.True(t, aerrors.IsExtraction(err))

	// Given: binary content behind a .txt name
	_, err = Default().Extract(ctx, writeFile(t, "blob.txt", "\x00\x01\x02\x00binary\x00"))
	require.Error(t, err)
	assert.Equal(t, "unsupported", SkipReason(err))

	// Given: a missing file
	_, err = Default().Extract(ctx, filepath.Join(t.TempDir(), "gone.txt"))
	require.Error(t, err)
	assert.Empty(t, SkipReason(err))
	assert.True(t, aerrors.IsExtraction(err))
}

func TestPDFExtractor_CorruptFile(t *testing.T) {
	path := writeFile(t, "broken.pdf", "%PDF-1.4\nthis is not a pdf body")

	_, err := Default().Extract(context.Background(), path)
	require.Error(t, err)
	assert.True(t, aerrors.IsExtraction(err))
	assert.Empty(t, SkipReason(err))
}

func TestByExtension_Supports(t *testing.T) {
	ex := Default()
	assert.True(t, ex.Supports("A.PDF"))
	assert.True(t, ex.Supports("notes.md"))
	assert.False(t, ex.Supports("image.png"))
}

func TestWordChunker_WindowsAndOverlap(t *testing.T) {
	// Given: 25 words with a 10-word window and 2-word overlap
	c := NewWordChunker(10, 2)
	pages := []Page{{Number: 1, Text: words(15, "alpha")}, {Number: 2, Text: words(10, "beta")}}

	// When: chunked
	chunks, err := c.Chunk(context.Background(), "Bio", pages)
	require.NoError(t, err)

	// Then: windows advance by 8 words and the tail is kept
	require.Len(t, chunks, 3)
	assert.Equal(t, 10, chunks[0].WordCount)
	assert.Equal(t, 1, chunks[0].PageStart)
	assert.Equal(t, 1, chunks[1].PageStart)
	assert.Equal(t, 2, chunks[1].PageEnd)
	assert.Equal(t, 9, chunks[2].WordCount)
	assert.Equal(t, "Bio", chunks[2].BookName)
}

func TestWordChunker_ChapterBoundaries(t *testing.T) {
	// Given: two chapters, the second with a numbered section
	c := NewWordChunker(50, 5)
	pages := []Page{
		{Number: 1, Text: "Chapter 1: Origins\n" + words(6, "first")},
		{Number: 2, Text: "Chapter 1: Origins\n" + words(3, "still")},
		{Number: 3, Text: "Chapter 2 Cells\n2.1 Membranes\n" + words(4, "lipid")},
	}

	chunks, err := c.Chunk(context.Background(), "Bio", pages)
	require.NoError(t, err)

	// Then: no chunk crosses the chapter line and a running header does not split
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].ChapterNumber)
	assert.Equal(t, "Origins", chunks[0].SectionTitle)
	assert.Equal(t, 2, chunks[0].PageEnd)
	assert.Equal(t, 2, chunks[1].ChapterNumber)
	assert.Equal(t, 3, chunks[1].PageStart)
	assert.Contains(t, chunks[1].Text, "lipid")
}

func TestWordChunker_SectionLabels(t *testing.T) {
	c := NewWordChunker(3, 0)
	pages := []Page{{Number: 1, Text: "4.2 Enzymes\ncatalysts speed reactions"}}

	chunks, err := c.Chunk(context.Background(), "Bio", pages)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 4, chunks[0].ChapterNumber)
	assert.Equal(t, 2, chunks[0].SectionNumber)
	assert.Equal(t, "Enzymes", chunks[0].SectionTitle)
}

func TestNewWordChunker_Defaults(t *testing.T) {
	c := NewWordChunker(0, -1)
	assert.Equal(t, DefaultChunkWords, c.ChunkWords)
	assert.Equal(t, DefaultOverlapWords, c.OverlapWords)

	c = NewWordChunker(10, 10)
	assert.Equal(t, 5, c.OverlapWords)
}
