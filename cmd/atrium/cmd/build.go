package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/atrium/internal/index"
	"github.com/Aman-CERP/atrium/internal/service"
)

func newBuildCmd(st *state) *cobra.Command {
	var detach bool

	cmd := &cobra.Command{
		Use:   "build [pdf-dir]",
		Short: "Ingest new source files and rebuild the search index",
		Long: `Start a build job over the source directory (library.pdf_dir unless
given). Files already registered as ready are skipped by content hash;
new files are extracted, chunked and registered, and the search index is
rebuilt from all ready books.

Examples:
  atrium build
  atrium build ./textbooks
  atrium build --detach      # with the daemon running`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req service.BuildRequest
			if len(args) == 1 {
				req.PDFDir = args[0]
			}
			return st.withBackend(cmd, func(ctx context.Context, b backend) error {
				id, err := b.Build(ctx, req)
				if err != nil {
					return err
				}
				return st.follow(cmd, ctx, b, id, detach)
			})
		},
	}

	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Print the job id and return (daemon only)")
	return cmd
}

func newRepairCmd(st *state) *cobra.Command {
	var (
		mode     string
		noSearch bool
		pruneTmp bool
		detach   bool
	)

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair library.json from the artifacts on disk",
		Long: `Start a repair job. In repair mode (default) book metadata is rebuilt
from books/<id>/, chunk counts are corrected, unrecoverable books are
dropped from library.json and the search index is rebuilt. In verify mode
the same checks run without writing anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := service.RepairRequest{Mode: strings.ToLower(mode), PruneTmp: pruneTmp}
			if cmd.Flags().Changed("no-search") {
				rebuild := !noSearch
				req.RebuildSearchIndex = &rebuild
			}
			return st.withBackend(cmd, func(ctx context.Context, b backend) error {
				id, err := b.Repair(ctx, req)
				if err != nil {
					return err
				}
				return st.follow(cmd, ctx, b, id, detach)
			})
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(index.ModeRepair), "repair or verify")
	cmd.Flags().BoolVar(&noSearch, "no-search", false, "Do not rebuild the search index")
	cmd.Flags().BoolVar(&pruneTmp, "prune-tmp", false, "Delete leftover *.tmp files")
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Print the job id and return (daemon only)")
	return cmd
}

func newUploadCmd(st *state) *cobra.Command {
	var (
		title  string
		detach bool
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Add a single file to the library",
		Long: `Start an upload job that copies the file into the uploads directory,
ingests it as one book and rebuilds the search index. A file whose
content is already indexed is reported as a duplicate.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withBackend(cmd, func(ctx context.Context, b backend) error {
				id, err := b.Upload(ctx, args[0], title)
				if err != nil {
					return err
				}
				return st.follow(cmd, ctx, b, id, detach)
			})
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Display title (default: derived from the filename)")
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Print the job id and return (daemon only)")
	return cmd
}
