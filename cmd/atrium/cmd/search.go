package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/atrium/internal/search"
	"github.com/Aman-CERP/atrium/internal/service"
)

// snippetWords caps the text shown per hit.
const snippetWords = 40

func newSearchCmd(st *state) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed books",
		Long: `Search the search index of the index root. Keyword (BM25) and
embedding results are combined with Reciprocal Rank Fusion.

Examples:
  atrium search "photosynthesis light reactions"
  atrium search mitosis --limit 3 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return st.withLocal(cmd, func(ctx context.Context, svc *service.Service) error {
				hits, err := svc.Search(ctx, query, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return st.out(cmd).JSON(hits)
				}
				writeHits(cmd.OutOrStdout(), query, hits)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func writeHits(w io.Writer, query string, hits []search.Hit) {
	if len(hits) == 0 {
		_, _ = fmt.Fprintf(w, "No results for %q\n", query)
		return
	}
	for i, h := range hits {
		_, _ = fmt.Fprintf(w, "%d. %s, pages %d-%d (score %.2f)\n", i+1, h.Chunk.BookName, h.Chunk.PageStart, h.Chunk.PageEnd, h.Score)
		if h.Chunk.SectionTitle != "" {
			_, _ = fmt.Fprintf(w, "   %s\n", h.Chunk.SectionTitle)
		}
		_, _ = fmt.Fprintf(w, "   %s\n\n", snippet(h.Chunk.Text, snippetWords))
	}
}

func snippet(text string, words int) string {
	fields := strings.Fields(text)
	if len(fields) <= words {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:words], " ") + " ..."
}
