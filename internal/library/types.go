package library

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Version is the library.json schema version.
const Version = "0.2"

// BookStatus is the lifecycle state of a registered book.
type BookStatus string

const (
	StatusPending    BookStatus = "pending"
	StatusProcessing BookStatus = "processing"
	StatusReady      BookStatus = "ready"
	StatusError      BookStatus = "error"
)

// Book is one registry entry. The same record is mirrored to
// books/<book_id>/book.json.
type Book struct {
	BookID       string     `json:"book_id"`
	Filename     string     `json:"filename"`
	Title        string     `json:"title,omitempty"`
	SHA256       string     `json:"sha256,omitempty"`
	AddedAt      time.Time  `json:"added_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ChunkCount   int        `json:"chunk_count"`
	Status       BookStatus `json:"status"`
	IngestMS     int64      `json:"ingest_ms"`
	Supersedes   []string   `json:"supersedes,omitempty"`
	SupersededBy []string   `json:"superseded_by,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	PackID       string     `json:"pack_id,omitempty"`
}

// DisplayTitle returns the title, falling back to the filename stem.
func (b Book) DisplayTitle() string {
	if b.Title != "" {
		return b.Title
	}
	if b.Filename != "" {
		return strings.TrimSuffix(b.Filename, filepath.Ext(b.Filename))
	}
	return b.BookID
}

// Library is the content of library.json.
type Library struct {
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Books       []*Book   `json:"books"`
	AvgIngestMS int64     `json:"avg_ingest_ms,omitempty"`
}

// NewLibrary returns an empty library stamped with now.
func NewLibrary(now time.Time) *Library {
	return &Library{
		Version:   Version,
		CreatedAt: now,
		UpdatedAt: now,
		Books:     []*Book{},
	}
}

// Find returns the book with id, or nil.
func (l *Library) Find(id string) *Book {
	for _, b := range l.Books {
		if b.BookID == id {
			return b
		}
	}
	return nil
}

// Upsert replaces the book with the same id or appends it.
func (l *Library) Upsert(book *Book) {
	for i, b := range l.Books {
		if b.BookID == book.BookID {
			l.Books[i] = book
			return
		}
	}
	l.Books = append(l.Books, book)
}

// Remove drops the book with id and reports whether it was present.
func (l *Library) Remove(id string) bool {
	for i, b := range l.Books {
		if b.BookID == id {
			l.Books = append(l.Books[:i], l.Books[i+1:]...)
			return true
		}
	}
	return false
}

// Ready returns the books with status ready.
func (l *Library) Ready() []*Book {
	var out []*Book
	for _, b := range l.Books {
		if b.Status == StatusReady {
			out = append(out, b)
		}
	}
	return out
}

// ReadyChunkCount sums chunk_count over ready books.
func (l *Library) ReadyChunkCount() int {
	total := 0
	for _, b := range l.Ready() {
		total += b.ChunkCount
	}
	return total
}

// Revision identifies a library.json state. Callers that act on a snapshot
// hand it back so stale requests can be refused.
func (l *Library) Revision() string {
	return l.UpdatedAt.UTC().Format(time.RFC3339Nano)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// FamilyKey groups editions of the same work: the lowercased filename stem
// with whitespace runs collapsed.
func FamilyKey(filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(strings.ToLower(stem), " "))
}
