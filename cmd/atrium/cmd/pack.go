package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/atrium/internal/packs"
	"github.com/Aman-CERP/atrium/internal/service"
)

func newPackCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Install and validate content packs",
		Long: `A content pack is a pack.json manifest plus its source files and
LICENSES/. Packs are looked up in packs.dist_path as <pack_id>/pack.json
or <pack_id>.zip, or fetched from --url (a .zip or a base URL serving
pack.json).`,
	}
	cmd.AddCommand(newPackInstallCmd(st))
	cmd.AddCommand(newPackValidateCmd(st))
	return cmd
}

func packFlags(cmd *cobra.Command, req *packs.Request) {
	cmd.Flags().StringVar(&req.DownloadURL, "url", "", "Zip path or URL, or base URL serving pack.json")
	cmd.Flags().StringVar(&req.PackTitle, "title", "", "Override the pack title")
}

func newPackInstallCmd(st *state) *cobra.Command {
	var (
		req    packs.Request
		detach bool
	)

	cmd := &cobra.Command{
		Use:   "install <pack-id>",
		Short: "Install a content pack",
		Long: `Start a pack install job. Books whose license is not allowed fail the
request before a job is created. Each book is ingested like an upload;
books already present are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.PackID = args[0]
			return st.withBackend(cmd, func(ctx context.Context, b backend) error {
				id, err := b.PackInstall(ctx, req)
				if err != nil {
					return err
				}
				return st.follow(cmd, ctx, b, id, detach)
			})
		},
	}

	packFlags(cmd, &req)
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Print the job id and return (daemon only)")
	return cmd
}

func newPackValidateCmd(st *state) *cobra.Command {
	var (
		req        packs.Request
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "validate <pack-id>",
		Short: "Check a pack manifest and its licenses without installing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.PackID = args[0]
			return st.withLocal(cmd, func(ctx context.Context, svc *service.Service) error {
				m, err := svc.ValidatePack(ctx, req)
				if err != nil {
					return err
				}
				out := st.out(cmd)
				if jsonOutput {
					return out.JSON(m)
				}
				out.Successf("Pack %s %s is valid", m.PackID, m.Version)
				out.Field("Title", 8, m.Title)
				out.Field("Books", 8, len(m.Books))
				for _, b := range m.Books {
					out.Status("", fmt.Sprintf("- %s (%s)", b.Title, b.License.Type))
				}
				return nil
			})
		},
	}

	packFlags(cmd, &req)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the manifest as JSON")
	return cmd
}
