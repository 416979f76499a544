package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/atrium/internal/jobs"
	"github.com/Aman-CERP/atrium/internal/search"
	"github.com/Aman-CERP/atrium/internal/service"
)

// FormatStatus renders a library status as markdown.
func FormatStatus(st *service.Status) string {
	var sb strings.Builder
	sb.WriteString("## Library Status\n\n")
	fmt.Fprintf(&sb, "**Index root:** `%s`\n", st.IndexRoot)
	if !st.IndexExists {
		sb.WriteString("\nNo index yet. Run `library_build` to create one.\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "**Ready:** %t\n", st.IndexReady)
	fmt.Fprintf(&sb, "**Books:** %d (%d chunks)\n", len(st.BookCounts), st.ChunkCount)
	if st.ActiveJobs > 0 {
		fmt.Fprintf(&sb, "**Active jobs:** %d\n", st.ActiveJobs)
	}
	if st.Revision != "" {
		fmt.Fprintf(&sb, "**Revision:** `%s`\n", st.Revision)
	}

	if len(st.BookCounts) > 0 {
		sb.WriteString("\n| Book | Status | Chunks |\n|---|---|---|\n")
		for _, b := range st.BookCounts {
			title := b.Book
			if b.PackID != "" {
				title += fmt.Sprintf(" (pack `%s`)", b.PackID)
			}
			fmt.Fprintf(&sb, "| %s | %s | %d |\n", title, b.Status, b.Chunks)
		}
	}

	if c := st.Consistency; c != nil {
		if c.OK {
			sb.WriteString("\nConsistency: OK\n")
		} else {
			fmt.Fprintf(&sb, "\nConsistency: %d issue(s)\n", len(c.Issues))
			for _, is := range c.Issues {
				fmt.Fprintf(&sb, "- `%s` %s: %s\n", is.BookID, is.Kind, is.Detail)
			}
		}
	}
	return sb.String()
}

// FormatJob renders a job snapshot as markdown.
func FormatJob(j jobs.Job) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Job `%s`\n\n", j.ID)
	fmt.Fprintf(&sb, "**Type:** %s\n", j.Type)
	fmt.Fprintf(&sb, "**Status:** %s\n", j.Status)
	if j.Phase != "" {
		fmt.Fprintf(&sb, "**Phase:** %s\n", j.Phase)
	}
	if j.Message != "" {
		fmt.Fprintf(&sb, "**Message:** %s\n", j.Message)
	}
	if j.Progress.Total > 0 {
		fmt.Fprintf(&sb, "**Progress:** %d/%d\n", j.Progress.Current, j.Progress.Total)
	}
	if j.Error != "" {
		fmt.Fprintf(&sb, "**Error:** %s\n", j.Error)
	}
	if j.Result != nil {
		formatResult(&sb, j.Result)
	}
	return sb.String()
}

func formatResult(sb *strings.Builder, r *jobs.Result) {
	switch {
	case r.Build != nil:
		fmt.Fprintf(sb, "\nIngested %d, skipped %d, failed %d.\n",
			len(r.Build.Ingested), len(r.Build.Skipped), len(r.Build.Failed))
		for _, f := range r.Build.Failed {
			fmt.Fprintf(sb, "- failed `%s`: %s\n", f.Filename, f.Error)
		}
	case r.Repair != nil:
		fmt.Fprintf(sb, "\nMode %s: scanned %d book(s), repaired %d.\n",
			r.Repair.Mode, r.Repair.ScannedBooks, len(r.Repair.RepairedBooks))
		if c := r.Repair.Consistency; c != nil && !c.OK {
			fmt.Fprintf(sb, "%d consistency issue(s) remain.\n", len(c.Issues))
		}
	case r.Upload != nil:
		fmt.Fprintf(sb, "\nBook `%s` (%s), %d chunks", r.Upload.BookID, r.Upload.DisplayTitle, r.Upload.ChunkCount)
		if r.Upload.Duplicate {
			sb.WriteString(", already indexed")
		}
		sb.WriteString(".\n")
	case r.PackInstall != nil:
		fmt.Fprintf(sb, "\nPack `%s`: ingested %d, skipped %d, failed %d.\n", r.PackInstall.PackID,
			len(r.PackInstall.Ingested), len(r.PackInstall.Skipped), len(r.PackInstall.Failed))
	}
}

// FormatSearchResults formats search hits as markdown.
func FormatSearchResults(query string, hits []search.Hit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(hits))
	if len(hits) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, h := range hits {
		fmt.Fprintf(&sb, "### %d. %s, pages %d-%d (score: %.2f)\n",
			i+1, h.Chunk.BookName, h.Chunk.PageStart, h.Chunk.PageEnd, h.Score)
		if h.Chunk.SectionTitle != "" {
			fmt.Fprintf(&sb, "**Section:** %s\n", h.Chunk.SectionTitle)
		}
		fmt.Fprintf(&sb, "\n%s\n\n", h.Chunk.Text)
	}
	return sb.String()
}
