package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/auction-intake/internal/batch"
	"github.com/sells-group/auction-intake/internal/model"
	"github.com/sells-group/auction-intake/internal/store"
)

var (
	batchRunIDs  []int64
	batchPending bool
	batchFailed  bool
	batchLimit   int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process runs as one batch job",
	Long:  "Processes the given runs sequentially as one batch job. Ctrl-C cancels the job after the run in flight finishes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if len(batchRunIDs) == 0 && !batchPending && !batchFailed {
			return eris.New("batch: pass --run-ids, --pending or --failed")
		}

		env, err := initIntake(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		runIDs, err := selectRuns(ctx, env.Store, batchRunIDs, batchPending, batchFailed, batchLimit)
		if err != nil {
			return err
		}
		if len(runIDs) == 0 {
			zap.L().Info("no runs to process")
			return nil
		}

		jobID := env.Queue.Create(runIDs)
		if !env.Queue.Start(jobID, env.Processor) {
			return eris.Errorf("batch: job %s did not start", jobID)
		}
		zap.L().Info("processing batch", zap.String("job_id", jobID), zap.Int("runs", len(runIDs)))

		poll := time.Duration(cfg.Batch.PollMillis) * time.Millisecond
		res, err := waitForJob(ctx, env.Queue, jobID, poll)
		if err != nil {
			return err
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := env.Queue.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("batch queue shutdown", zap.Error(err))
		}

		formatJobResults(os.Stdout, res)
		zap.L().Info("batch complete",
			zap.String("status", string(res.Status)),
			zap.Int("completed", res.Summary.Completed),
			zap.Int("failed", res.Summary.Failed),
			zap.Int("skipped", res.Summary.Skipped),
		)
		return nil
	},
}

func init() {
	batchCmd.Flags().Int64SliceVar(&batchRunIDs, "run-ids", nil, "run ids to process")
	batchCmd.Flags().BoolVar(&batchPending, "pending", false, "process pending runs")
	batchCmd.Flags().BoolVar(&batchFailed, "failed", false, "reprocess failed runs")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max runs selected per status")
	rootCmd.AddCommand(batchCmd)
}

// RunLister lists runs by filter.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// selectRuns merges explicit run ids with runs selected by status, keeping
// first-seen order and dropping duplicates.
func selectRuns(ctx context.Context, runs RunLister, explicit []int64, pending, failed bool, limit int) ([]int64, error) {
	var ids []int64
	seen := map[int64]bool{}
	add := func(id int64) {
		if id > 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, id := range explicit {
		add(id)
	}

	var statuses []model.RunStatus
	if pending {
		statuses = append(statuses, model.RunStatusPending)
	}
	if failed {
		statuses = append(statuses, model.RunStatusFailed)
	}
	for _, status := range statuses {
		list, err := runs.ListRuns(ctx, store.RunFilter{Status: status, Limit: limit})
		if err != nil {
			return nil, eris.Wrapf(err, "batch: list %s runs", status)
		}
		for _, r := range list {
			add(r.ID)
		}
	}
	return ids, nil
}

// waitForJob polls a job until it settles. When ctx is cancelled the job is
// asked to cancel once and polling continues until it stops.
func waitForJob(ctx context.Context, q *batch.Queue, jobID string, poll time.Duration) (batch.JobResults, error) {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	done := ctx.Done()
	lastProgress := -1
	for {
		st, ok := q.Status(jobID)
		if !ok {
			return batch.JobResults{}, eris.Errorf("batch: job %s disappeared", jobID)
		}
		if st.Status.Terminal() {
			res, _ := q.Results(jobID)
			return res, nil
		}
		if settled := st.Completed + st.Failed + st.Skipped; settled != lastProgress {
			lastProgress = settled
			zap.L().Info("batch progress",
				zap.String("job_id", jobID),
				zap.Int("settled", settled),
				zap.Int("total", st.Total),
			)
		}

		select {
		case <-done:
			done = nil
			if q.Cancel(jobID) {
				zap.L().Warn("interrupt received, cancelling batch after the current run", zap.String("job_id", jobID))
			}
		case <-ticker.C:
		}
	}
}

func formatJobResults(out io.Writer, res batch.JobResults) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tSTATUS\tACTION\tERROR")
	for _, it := range res.Items {
		action := ""
		if it.Result != nil {
			action = it.Result.Action
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", it.RunID, it.Status, action, it.Error)
	}
	_, _ = fmt.Fprintf(w, "\nJob %s: %s\n", res.JobID, res.Status)
	_, _ = fmt.Fprintf(w, "Posted:\t%d\n", res.Summary.Posted)
	_, _ = fmt.Fprintf(w, "Updated:\t%d\n", res.Summary.Updated)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", res.Summary.Failed)
	_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", res.Summary.Skipped)
	_ = w.Flush()
}
