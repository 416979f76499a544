package cmd

import (
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/atrium/internal/logging"
	"github.com/Aman-CERP/atrium/internal/ui"
)

func newLogsCmd(st *state) *cobra.Command {
	var (
		follow bool
		lines  int
		level  string
		filter string
		file   string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View the atrium log",
		Long: `Show the last lines of the atrium log (~/.atrium/logs/atrium.log, or
$ATRIUM_HOME/logs/atrium.log). Use -f to follow new entries.

Examples:
  atrium logs                  # last 50 entries
  atrium logs -f --level warn  # follow warnings and errors
  atrium logs --filter job_id  # entries mentioning a job`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				file = logging.DefaultLogPath()
			}
			var pattern *regexp.Regexp
			if filter != "" {
				var err error
				if pattern, err = regexp.Compile(filter); err != nil {
					return fmt.Errorf("invalid filter pattern: %w", err)
				}
			}
			out := cmd.OutOrStdout()
			viewer := logging.NewViewer(logging.ViewerConfig{
				Level:   level,
				Pattern: pattern,
				NoColor: st.noColor || ui.DetectNoColor() || !ui.IsTTY(out),
			}, out)

			entries, err := viewer.Tail(file, lines)
			if err != nil {
				return err
			}
			viewer.Print(entries)
			if !follow {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "--- following %s (Ctrl+C to stop)\n", file)
			return viewer.Follow(cmd.Context(), file, 200*time.Millisecond, func(e logging.Entry) {
				_, _ = fmt.Fprintln(out, viewer.Format(e))
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow new entries")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&filter, "filter", "", "Only entries matching this regex")
	cmd.Flags().StringVar(&file, "file", "", "Log file (default ~/.atrium/logs/atrium.log)")
	return cmd
}
