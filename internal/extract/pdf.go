package extract

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ledongthuc/pdf"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
)

// PDFExtractor extracts the plain text layer of a PDF page by page. Scanned
// PDFs without a text layer yield empty pages and are reported as no_text.
type PDFExtractor struct{}

// NewPDFExtractor returns a PDFExtractor.
func NewPDFExtractor() *PDFExtractor { return &PDFExtractor{} }

// Extract implements Extractor.
func (e *PDFExtractor) Extract(ctx context.Context, path string) (pages []Page, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = aerrors.ExtractionError("parse pdf", fmt.Errorf("%v", r)).
				WithDetail("file", filepath.Base(path))
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, aerrors.ExtractionError("open pdf", err).WithDetail("file", filepath.Base(path))
	}
	defer f.Close()

	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := p.Font(name)
				fonts[name] = &font
			}
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			return nil, aerrors.ExtractionError(fmt.Sprintf("read page %d", i), err).
				WithDetail("file", filepath.Base(path))
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}
