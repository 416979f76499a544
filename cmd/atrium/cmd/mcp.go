package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/atrium/internal/mcp"
	"github.com/Aman-CERP/atrium/internal/service"
)

func newMCPCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the library as MCP tools over stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout with the tools
library_status, library_build, library_repair, job_status, job_cancel and
library_search.

stdout carries only protocol messages; logs go to ~/.atrium/logs/.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return st.withLocal(cmd, func(ctx context.Context, svc *service.Service) error {
				srv, err := mcp.NewServer(svc, st.logger)
				if err != nil {
					return err
				}
				return srv.Serve(ctx, "stdio")
			})
		},
	}
}
