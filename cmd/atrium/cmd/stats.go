package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/atrium/internal/telemetry"
)

var errNoTelemetry = errors.New("search.telemetry_db is not set; add it to .atrium.yaml to record search telemetry")

func newStatsCmd(st *state) *cobra.Command {
	var (
		days       int
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recorded search telemetry",
		Long: `Summarize the searches recorded in search.telemetry_db: query and
zero-result counts for the last days, the latency histogram, the most
searched terms, the books that answer most often and recent queries that
found nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := st.cfg.Search.TelemetryDB
			if path == "" {
				return errNoTelemetry
			}
			store, err := telemetry.OpenSQLiteStore(path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			now := time.Now()
			from := telemetry.Today(now.AddDate(0, 0, -(max(days, 1) - 1)))
			report, err := store.Report(from, telemetry.Today(now), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return st.out(cmd).JSON(report)
			}
			writeStats(st, cmd, report)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Days of daily counts to include")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Rows per list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func writeStats(st *state, cmd *cobra.Command, r *telemetry.Report) {
	out := st.out(cmd)
	out.Statusf("", "Searches %s to %s", r.From, r.To)
	out.Field("Queries:", 14, r.Queries)
	out.Field("Zero results:", 14, r.ZeroResults)
	for _, b := range []telemetry.LatencyBucket{
		telemetry.BucketP10, telemetry.BucketP50, telemetry.BucketP100, telemetry.BucketP500, telemetry.BucketP1000,
	} {
		if n := r.Latency[b]; n > 0 {
			out.Field(string(b)+":", 14, n)
		}
	}

	if len(r.TopTerms) > 0 {
		out.Newline()
		out.Status("", "Top terms")
		for _, t := range r.TopTerms {
			out.Field(t.Term, 20, t.Count)
		}
	}
	if len(r.TopBooks) > 0 {
		out.Newline()
		out.Status("", "Top books")
		for _, b := range r.TopBooks {
			out.Field(b.Book, 20, b.Hits)
		}
	}
	if len(r.ZeroResultQueries) > 0 {
		out.Newline()
		out.Status("", "Recent queries with no results")
		for _, z := range r.ZeroResultQueries {
			out.Field(z.At.Local().Format(time.DateTime), 20, fmt.Sprintf("%q", z.Query))
		}
	}
}
