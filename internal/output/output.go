// Package output formats the line-oriented CLI messages: status lines,
// key/value fields and job result summaries.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/atrium/internal/jobs"
)

// Writer provides formatted output for CLI.
type Writer struct {
	out     io.Writer
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	label   lipgloss.Style
}

// New creates a Writer without colors.
func New(out io.Writer) *Writer {
	plain := lipgloss.NewStyle()
	return &Writer{out: out, success: plain, warning: plain, failure: plain, label: plain}
}

// NewColored creates a Writer that colors icons and labels.
func NewColored(out io.Writer) *Writer {
	return &Writer{
		out:     out,
		success: lipgloss.NewStyle().Foreground(lipgloss.Color("154")),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		failure: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		label:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

// Status prints a message, prefixed by icon when set.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "  %s\n", msg)
	}
}

// Statusf prints a formatted status message.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with a checkmark.
func (w *Writer) Success(msg string) {
	w.Status(w.success.Render("✓"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(w.warning.Render("!"), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.failure.Render("✗"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Field prints an indented "label: value" line. Labels are padded to width.
func (w *Writer) Field(label string, width int, value any) {
	_, _ = fmt.Fprintf(w.out, "  %s %v\n", w.label.Render(fmt.Sprintf("%-*s", width, label+":")), value)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// JobResult summarizes a finished job. Failed and cancelled jobs print
// their error; completed jobs print the report of their type.
func (w *Writer) JobResult(j jobs.Job) {
	switch j.Status {
	case jobs.StatusFailed:
		w.Errorf("%s job %s failed: %s", j.Type, j.ID, j.Error)
		return
	case jobs.StatusCancelled:
		w.Warningf("%s job %s cancelled", j.Type, j.ID)
		return
	case jobs.StatusCompleted:
	default:
		w.Statusf("", "%s job %s is %s", j.Type, j.ID, j.Status)
		return
	}

	if j.Result == nil {
		w.Successf("%s job %s completed", j.Type, j.ID)
		return
	}
	r := j.Result
	switch {
	case r.Build != nil:
		b := r.Build
		w.Successf("Build finished: %d ingested, %d skipped, %d failed", len(b.Ingested), len(b.Skipped), len(b.Failed))
		for _, e := range b.Ingested {
			w.Statusf("", "+ %s (%d chunks)", e.Title, e.ChunkCount)
		}
		for _, s := range b.Skipped {
			w.Statusf("", "- %s: %s", s.Filename, s.Reason)
		}
		for _, f := range b.Failed {
			w.Errorf("%s: %s", f.Filename, f.Error)
		}
		if !b.RebuiltSearchIndex {
			w.Warning("search index was not rebuilt")
		}
	case r.Repair != nil:
		p := r.Repair
		w.Successf("Repair (%s) scanned %d book(s), repaired %d", p.Mode, p.ScannedBooks, len(p.RepairedBooks))
		if c := p.Consistency; c != nil && !c.OK {
			w.Warningf("%d consistency issue(s) remain", len(c.Issues))
			for _, is := range c.Issues {
				w.Statusf("", "%s %s: %s", is.Kind, is.BookID, is.Detail)
			}
		}
	case r.Upload != nil:
		u := r.Upload
		if u.Duplicate {
			w.Successf("%s is already indexed as %s", u.DisplayTitle, u.BookID)
			return
		}
		w.Successf("Indexed %s as %s (%d chunks)", u.DisplayTitle, u.BookID, u.ChunkCount)
	case r.PackInstall != nil:
		p := r.PackInstall
		w.Successf("Pack %s: %d ingested, %d skipped, %d failed", p.PackID, len(p.Ingested), len(p.Skipped), len(p.Failed))
		for _, f := range p.Failed {
			w.Errorf("%s: %s", f.Filename, f.Error)
		}
	}
}
