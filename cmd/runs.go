package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/auction-intake/internal/model"
	"github.com/sells-group/auction-intake/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect intake runs",
	Long:  "Commands for listing, viewing, and summarizing pipeline runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatus(status), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("invalid run id %q", args[0])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, id)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		return writeJSON(os.Stdout, run)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run counts by status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

// -- runs health --

var runsHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Evaluate run health against monitoring thresholds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		send, _ := cmd.Flags().GetBool("alert")
		mcfg := cfg.Monitoring
		if !send {
			mcfg.WebhookURL = ""
		}
		snap, alerts := newHealthChecker(st, mcfg).Check(ctx)
		if snap == nil {
			return eris.New("runs health: collect metrics failed")
		}
		return writeJSON(os.Stdout, map[string]any{"metrics": snap, "alerts": alerts})
	},
}

func init() {
	runsHealthCmd.Flags().Bool("alert", false, "send triggered alerts to the monitoring webhook")
	runsCmd.AddCommand(runsHealthCmd)

	runsListCmd.Flags().String("status", "", "filter by run status (pending, extracted, posted, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Pending    int
	Extracted  int
	Posted     int
	Failed     int
	WithErrors int
	ByFormat   map[int]int
}

func computeRunStats(runs []model.Run) runStats {
	s := runStats{Total: len(runs), ByFormat: map[int]int{}}
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusPending:
			s.Pending++
		case model.RunStatusExtracted:
			s.Extracted++
		case model.RunStatusPosted:
			s.Posted++
		case model.RunStatusFailed:
			s.Failed++
		}
		if r.Error != "" {
			s.WithErrors++
		}
		if r.FormatID > 0 {
			s.ByFormat[r.FormatID]++
		}
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDOCUMENT\tFORMAT\tSTATUS\tUPDATED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t--------\t------\t------\t-------\t-----")

	for _, r := range runs {
		format := "-"
		if r.FormatID > 0 {
			format = strconv.Itoa(r.FormatID)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			shorten(filepath.Base(r.SourcePath), 30),
			format,
			r.Status,
			r.UpdatedAt.Format("2006-01-02 15:04"),
			shorten(r.Error, 40),
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Pending:\t%d\n", s.Pending)
	_, _ = fmt.Fprintf(w, "Extracted:\t%d\n", s.Extracted)
	_, _ = fmt.Fprintf(w, "Posted:\t%d\n", s.Posted)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "With errors:\t%d\n", s.WithErrors)
	for _, id := range slices.Sorted(maps.Keys(s.ByFormat)) {
		_, _ = fmt.Fprintf(w, "Format %d:\t%d\n", id, s.ByFormat[id])
	}
	_ = w.Flush()
}

func shorten(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
