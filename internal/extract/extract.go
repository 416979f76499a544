// Package extract turns source documents into pages of text and pages into
// chunks. The index builder depends only on the Extractor and Chunker
// interfaces; this package provides the PDF and plain-text implementations
// and a word-window chunker.
package extract

import (
	"context"
	"path/filepath"
	"strings"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/store"
)

// Page is the text of one source page. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// Extractor reads a source file into pages.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]Page, error)
}

// Chunker splits pages into chunks. The chunk store assigns ids, indexes
// and totals when the chunks are written.
type Chunker interface {
	Chunk(ctx context.Context, bookName string, pages []Page) ([]store.Chunk, error)
}

// ErrUnsupported reports a file type no extractor handles.
func ErrUnsupported(path string) error {
	return aerrors.New(aerrors.ErrCodeUnsupported, "unsupported file type: "+filepath.Ext(path), nil).
		WithDetail("file", filepath.Base(path))
}

// ErrNoText reports a file that extracted to nothing.
func ErrNoText(path string) error {
	return aerrors.New(aerrors.ErrCodeNoText, "no extractable text", nil).
		WithDetail("file", filepath.Base(path))
}

// SkipReason maps an extraction error to a build report skip reason. Other
// errors return "".
func SkipReason(err error) string {
	switch aerrors.GetCode(err) {
	case aerrors.ErrCodeUnsupported:
		return "unsupported"
	case aerrors.ErrCodeNoText:
		return "no_text"
	}
	return ""
}

// ByExtension dispatches to an extractor per lowercased file extension.
type ByExtension map[string]Extractor

// Default returns extractors for .pdf, .txt and .md.
func Default() ByExtension {
	text := NewTextExtractor()
	return ByExtension{
		".pdf": NewPDFExtractor(),
		".txt": text,
		".md":  text,
	}
}

// Supports reports whether path has a registered extension.
func (b ByExtension) Supports(path string) bool {
	_, ok := b[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extract implements Extractor.
func (b ByExtension) Extract(ctx context.Context, path string) ([]Page, error) {
	ex, ok := b[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, ErrUnsupported(path)
	}
	pages, err := ex.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	if !hasText(pages) {
		return nil, ErrNoText(path)
	}
	return pages, nil
}

func hasText(pages []Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}
