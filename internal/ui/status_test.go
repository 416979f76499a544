package ui

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/atrium/internal/index"
	"github.com/Aman-CERP/atrium/internal/library"
	"github.com/Aman-CERP/atrium/internal/service"
)

func sampleStatus() *service.Status {
	return &service.Status{
		IndexRoot:   "/srv/library",
		IndexExists: true,
		IndexReady:  true,
		ChunkCount:  30,
		Revision:    "rev-7",
		ActiveJobs:  1,
		BookCounts: []service.BookCount{
			{Book: "Cell Biology", Chunks: 20, BookID: "0123456789abcdef", Status: library.StatusReady, PackID: "bio"},
			{Book: "Cell Biology (old)", Chunks: 10, BookID: "old1", Status: library.StatusReady, SupersededBy: []string{"0123456789abcdef"}},
		},
	}
}

func TestStatusRenderer_Render(t *testing.T) {
	// Given: a ready library with two books
	var buf bytes.Buffer
	r := NewStatusRenderer(&buf, true)

	// When: rendering
	require.NoError(t, r.Render(sampleStatus()))

	// Then: header, summary and table rows appear
	out := buf.String()
	assert.Contains(t, out, "Library: /srv/library")
	assert.Contains(t, out, "2 books, 30 chunks")
	assert.Contains(t, out, "Active jobs:")
	assert.Contains(t, out, "rev-7")
	assert.Contains(t, out, "BOOK")
	assert.Contains(t, out, "Cell Biology")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "bio")
}

func TestStatusRenderer_NoIndex(t *testing.T) {
	var buf bytes.Buffer
	r := NewStatusRenderer(&buf, true)

	require.NoError(t, r.Render(&service.Status{IndexRoot: "/empty"}))

	assert.Contains(t, buf.String(), "no index yet")
	assert.NotContains(t, buf.String(), "BOOK")
}

func TestStatusRenderer_Consistency(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		var buf bytes.Buffer
		st := sampleStatus()
		st.Consistency = &index.ConsistencyReport{OK: true}

		require.NoError(t, NewStatusRenderer(&buf, true).Render(st))

		assert.Contains(t, buf.String(), "consistent")
	})

	t.Run("issues", func(t *testing.T) {
		var buf bytes.Buffer
		st := sampleStatus()
		st.Consistency = &index.ConsistencyReport{Issues: []index.Issue{
			{BookID: "old1", Kind: index.IssueChunkCountMismatch, Detail: "10 != 9"},
		}}

		require.NoError(t, NewStatusRenderer(&buf, true).Render(st))

		assert.Contains(t, buf.String(), "1 consistency issue(s)")
		assert.Contains(t, buf.String(), "10 != 9")
	})
}

func TestStatusRenderer_RenderJSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, NewStatusRenderer(&buf, true).RenderJSON(sampleStatus()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "/srv/library", decoded["index_root"])
	assert.Len(t, decoded["book_counts"], 2)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef"))
}
