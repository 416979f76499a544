package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/Aman-CERP/atrium/internal/library"
)

// maxChunkLine bounds a single chunks.jsonl record.
const maxChunkLine = 16 << 20

// Chunk is one retrievable passage of a book, stored as one line of
// books/<book_id>/chunks.jsonl.
type Chunk struct {
	ChunkID       string `json:"chunk_id"`
	BookID        string `json:"book_id"`
	Text          string `json:"text"`
	BookName      string `json:"book_name"`
	ChapterNumber int    `json:"chapter_number,omitempty"`
	SectionNumber int    `json:"section_number,omitempty"`
	SectionTitle  string `json:"section_title,omitempty"`
	PageStart     int    `json:"page_start"`
	PageEnd       int    `json:"page_end"`
	ChunkIndex    int    `json:"chunk_index"`
	TotalChunks   int    `json:"total_chunks"`
	WordCount     int    `json:"word_count"`
}

// ChunkID formats the identifier of the chunk at index within a book.
func ChunkID(bookID string, index int) string {
	return bookID + ":" + strconv.Itoa(index)
}

// ChunkStore reads and writes chunk files under an index root.
type ChunkStore struct {
	layout library.Layout
}

// NewChunkStore returns a store over layout.
func NewChunkStore(layout library.Layout) *ChunkStore {
	return &ChunkStore{layout: layout}
}

// Write replaces the book's chunk file. Chunks are stamped with the book id,
// their index, the total and a chunk_id before being written.
func (s *ChunkStore) Write(bookID string, chunks []Chunk) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range chunks {
		c := chunks[i]
		c.BookID = bookID
		c.ChunkIndex = i
		c.TotalChunks = len(chunks)
		c.ChunkID = ChunkID(bookID, i)
		if err := enc.Encode(&c); err != nil {
			return fmt.Errorf("encode chunk %d: %w", i, err)
		}
	}
	return library.WriteFileAtomic(s.layout.ChunksPath(bookID), buf.Bytes())
}

// Count returns the number of non-empty lines in the book's chunk file and
// whether the file exists.
func (s *ChunkStore) Count(bookID string) (n int, exists bool, err error) {
	f, err := os.Open(s.layout.ChunksPath(bookID))
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer f.Close()

	sc := newLineScanner(f)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) > 0 {
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return n, true, fmt.Errorf("read %s: %w", s.layout.ChunksPath(bookID), err)
	}
	return n, true, nil
}

// Each streams the book's chunks to fn in file order. Returning an error
// from fn stops the scan.
func (s *ChunkStore) Each(bookID string, fn func(Chunk) error) error {
	f, err := os.Open(s.layout.ChunksPath(bookID))
	if err != nil {
		return err
	}
	defer f.Close()

	sc := newLineScanner(f)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var c Chunk
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("%s line %d: %w", library.ChunksFile, line, err)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Read loads every chunk of a book.
func (s *ChunkStore) Read(bookID string) ([]Chunk, error) {
	var out []Chunk
	err := s.Each(bookID, func(c Chunk) error {
		out = append(out, c)
		return nil
	})
	return out, err
}

// Delete removes the book's chunk file. A missing file is not an error.
func (s *ChunkStore) Delete(bookID string) error {
	err := os.Remove(s.layout.ChunksPath(bookID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxChunkLine)
	return sc
}
