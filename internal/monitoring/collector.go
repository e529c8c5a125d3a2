// Package monitoring watches intake run health and alerts through a webhook
// when failure rates or backlogs cross configured thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-intake/internal/model"
	"github.com/sells-group/auction-intake/internal/store"
)

const maxRunsScanned = 10000

// MetricsSnapshot holds a point-in-time view of intake health.
type MetricsSnapshot struct {
	// Runs updated within the lookback window.
	RunsTotal     int     `json:"runs_total"`
	RunsPosted    int     `json:"runs_posted"`
	RunsExtracted int     `json:"runs_extracted"`
	RunsFailed    int     `json:"runs_failed"`
	FailRate      float64 `json:"fail_rate"`

	// Extracted runs carrying an error never reached the order sink.
	UnpostedErrors int `json:"unposted_errors"`

	// Pending runs regardless of age.
	PendingBacklog int `json:"pending_backlog"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister lists runs by filter.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from the run store.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{LookbackHours: lookbackHours, CollectedAt: now}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: maxRunsScanned})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.Status == model.RunStatusPending {
			snap.PendingBacklog++
			continue
		}
		if r.UpdatedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusPosted:
			snap.RunsPosted++
		case model.RunStatusExtracted:
			snap.RunsExtracted++
			if r.Error != "" {
				snap.UnpostedErrors++
			}
		case model.RunStatusFailed:
			snap.RunsFailed++
		}
	}

	if snap.RunsTotal > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(snap.RunsTotal)
	}
	return snap, nil
}
