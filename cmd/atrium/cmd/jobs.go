package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/atrium/internal/jobs"
	"github.com/Aman-CERP/atrium/internal/ui"
)

func newJobsCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List, watch and cancel jobs",
		Long: `Jobs live in the process that created them. Without the daemon, only
jobs mirrored to redis (jobs.redis_url) are visible from another
invocation, and they cannot be cancelled from here.`,
	}
	cmd.AddCommand(newJobsListCmd(st))
	cmd.AddCommand(newJobsGetCmd(st))
	cmd.AddCommand(newJobsWatchCmd(st))
	cmd.AddCommand(newJobsCancelCmd(st))
	return cmd
}

func newJobsListCmd(st *state) *cobra.Command {
	var (
		typ, status string
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter jobs.Filter
			if typ != "" {
				t, err := jobs.ParseType(typ)
				if err != nil {
					return err
				}
				filter.Type = t
			}
			filter.Status = jobs.Status(status)
			return st.withBackend(cmd, func(ctx context.Context, b backend) error {
				list, err := b.Jobs(ctx, filter)
				if err != nil {
					return err
				}
				if jsonOutput {
					return st.out(cmd).JSON(list)
				}
				return ui.RenderJobs(cmd.OutOrStdout(), list, st.noColor || !ui.IsTTY(cmd.OutOrStdout()))
			})
		},
	}

	cmd.Flags().StringVar(&typ, "type", "", "Filter by type: build, repair, upload, pack_install")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: queued, running, completed, failed, cancelled")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newJobsGetCmd(st *state) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withBackend(cmd, func(ctx context.Context, b backend) error {
				job, err := b.Job(ctx, args[0])
				if err != nil {
					return err
				}
				out := st.out(cmd)
				if jsonOutput {
					return out.JSON(job)
				}
				out.Status("", ui.JobLine(job))
				if job.Terminal() {
					out.JobResult(job)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newJobsWatchCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withBackend(cmd, func(ctx context.Context, b backend) error {
				return st.follow(cmd, ctx, b, args[0], false)
			})
		},
	}
}

func newJobsCancelCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a job",
		Long: `Request cancellation. The job stops at its next checkpoint; finished
jobs are left unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withBackend(cmd, func(ctx context.Context, b backend) error {
				if err := b.Cancel(ctx, args[0]); err != nil {
					return err
				}
				job, err := b.Job(ctx, args[0])
				if err != nil {
					return err
				}
				st.out(cmd).Status("", ui.JobLine(job))
				return nil
			})
		},
	}
}
