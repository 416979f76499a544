package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Aman-CERP/atrium/internal/library"
	"github.com/Aman-CERP/atrium/internal/service"
)

// StatusRenderer displays a library status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes st as a header, a book table and the consistency issues.
func (r *StatusRenderer) Render(st *service.Status) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", r.styles.Header.Render("Library: "+st.IndexRoot))
	if !st.IndexExists {
		fmt.Fprintf(&b, "  %s\n", r.styles.Warning.Render("no index yet, run `atrium build`"))
		_, err := io.WriteString(r.out, b.String())
		return err
	}

	ready := r.styles.Success.Render("ready")
	if !st.IndexReady {
		ready = r.styles.Warning.Render("not ready")
	}
	fmt.Fprintf(&b, "  %s %s\n", r.styles.Label.Render("Search index:"), ready)
	fmt.Fprintf(&b, "  %s %d books, %d chunks\n", r.styles.Label.Render("Contents:    "), len(st.BookCounts), st.ChunkCount)
	if st.ActiveJobs > 0 {
		fmt.Fprintf(&b, "  %s %d\n", r.styles.Label.Render("Active jobs: "), st.ActiveJobs)
	}
	if st.Revision != "" {
		fmt.Fprintf(&b, "  %s %s\n", r.styles.Label.Render("Revision:    "), r.styles.Dim.Render(st.Revision))
	}

	if len(st.BookCounts) > 0 {
		b.WriteString("\n")
		b.WriteString(r.bookTable(st.BookCounts))
		b.WriteString("\n")
	}

	if c := st.Consistency; c != nil {
		b.WriteString("\n")
		if c.OK {
			fmt.Fprintf(&b, "  %s\n", r.styles.Success.Render("consistent"))
		} else {
			fmt.Fprintf(&b, "  %s\n", r.styles.Error.Render(fmt.Sprintf("%d consistency issue(s)", len(c.Issues))))
			for _, is := range c.Issues {
				fmt.Fprintf(&b, "    %s %s %s\n", r.styles.Dim.Render(is.BookID), is.Kind, is.Detail)
			}
		}
	}
	_, err := io.WriteString(r.out, b.String())
	return err
}

func (r *StatusRenderer) bookTable(rows []service.BookCount) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(r.styles.Border).
		Headers("BOOK", "STATUS", "CHUNKS", "PACK", "ID")
	for _, bc := range rows {
		t.Row(bc.Book, string(bc.Status), strconv.Itoa(bc.Chunks), bc.PackID, shortID(bc.BookID))
	}
	styles := r.styles
	t.StyleFunc(func(row, col int) lipgloss.Style {
		s := lipgloss.NewStyle().Padding(0, 1)
		if row == table.HeaderRow {
			return s.Inherit(styles.Header)
		}
		if col == 1 && row >= 0 && row < len(rows) {
			switch {
			case len(rows[row].SupersededBy) > 0:
				return s.Inherit(styles.Dim)
			case rows[row].Status == library.StatusReady:
				return s.Inherit(styles.Success)
			default:
				return s.Inherit(styles.Warning)
			}
		}
		return s
	})
	return t.String()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(st *service.Status) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
