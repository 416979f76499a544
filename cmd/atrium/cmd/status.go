package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/atrium/internal/ui"
)

func newStatusCmd(st *state) *cobra.Command {
	var (
		consistency bool
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the books of the index root",
		Long: `Show the books registered in library.json with their status and chunk
counts, and whether the search index is ready.

With --consistency, the registry, chunk store and search index are also
compared and any mismatch is listed. Nothing is written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return st.withBackend(cmd, func(ctx context.Context, b backend) error {
				status, err := b.Status(ctx, consistency)
				if err != nil {
					return err
				}
				r := ui.NewStatusRenderer(cmd.OutOrStdout(), st.noColor || !ui.IsTTY(cmd.OutOrStdout()))
				if jsonOutput {
					return r.RenderJSON(status)
				}
				return r.Render(status)
			})
		},
	}

	cmd.Flags().BoolVar(&consistency, "consistency", false, "Check the index artifacts against library.json")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
