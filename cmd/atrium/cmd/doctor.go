package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/atrium/internal/preflight"
)

// errDoctorFailed is returned when a required check fails.
var errDoctorFailed = errors.New("system check failed")

func newDoctorCmd(st *state) *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that this host can serve the index root",
		Long: `Run diagnostics against the configured index root.

Checks:
  - Configuration validity
  - Write permissions on the index root
  - Disk space (100MB minimum)
  - File descriptor limits (1024 minimum)
  - library.json state and the index root lock
  - Source files in pdf_dir
  - The redis job mirror, when jobs.redis_url is set

Lock, pdf_dir and redis problems are warnings.`,
		Example: `  # Run diagnostics
  atrium doctor

  # JSON output for scripting
  atrium doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report := preflight.New().Run(cmd.Context(), st.cfg)
			if jsonOutput {
				if err := st.out(cmd).JSON(report); err != nil {
					return err
				}
			} else {
				report.Print(cmd.OutOrStdout(), verbose)
			}
			if report.Failed() {
				return errDoctorFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
