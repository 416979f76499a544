package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-enry/go-enry/v2"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
)

// sniffBytes is how much of a file is inspected for binary content.
const sniffBytes = 8000

// TextExtractor reads plain text and Markdown. Form feeds separate pages;
// a file without them is one page.
type TextExtractor struct{}

// NewTextExtractor returns a TextExtractor.
func NewTextExtractor() *TextExtractor { return &TextExtractor{} }

// Extract implements Extractor.
func (e *TextExtractor) Extract(ctx context.Context, path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, aerrors.ExtractionError("read source", err).WithDetail("file", filepath.Base(path))
	}
	if enry.IsBinary(data[:min(len(data), sniffBytes)]) {
		return nil, ErrUnsupported(path)
	}

	markdown := enry.GetLanguage(filepath.Base(path), data) == "Markdown"

	var pages []Page
	for i, raw := range strings.Split(string(data), "\f") {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := strings.ReplaceAll(raw, "\r\n", "\n")
		if markdown {
			text = stripMarkdownHeadings(text)
		}
		pages = append(pages, Page{Number: i + 1, Text: text})
	}
	return pages, nil
}

// stripMarkdownHeadings turns "## 2.1 Cells" into "2.1 Cells" so the
// chunker sees the same heading lines it sees in PDF text.
func stripMarkdownHeadings(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		if strings.HasPrefix(trimmed, "#") {
			lines[i] = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return strings.Join(lines, "\n")
}
