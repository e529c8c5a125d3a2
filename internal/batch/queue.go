// Package batch runs pipeline processors over many runs as cancellable,
// in-memory jobs on a bounded worker pool.
package batch

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentJobs bounds how many jobs progress at once.
const DefaultMaxConcurrentJobs = 3

// Result is what a processor reports for one run. Action ("posted" or
// "updated") only feeds result summaries.
type Result struct {
	Success bool           `json:"success"`
	Skipped bool           `json:"skipped,omitempty"`
	Error   string         `json:"error,omitempty"`
	Action  string         `json:"action,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Processor handles one run. It is called synchronously by the worker that
// owns the job and is never interrupted by cancellation.
type Processor interface {
	Process(ctx context.Context, runID int64) (Result, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, runID int64) (Result, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, runID int64) (Result, error) {
	return f(ctx, runID)
}

// Item is one run within a job.
type Item struct {
	RunID       int64      `json:"run_id"`
	Status      ItemState  `json:"status"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Job is an ordered set of runs processed sequentially by one worker.
type Job struct {
	ID           string
	Items        []Item
	Status       JobState
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CurrentIndex int

	cancel atomic.Bool
}

// JobStatus is a point-in-time snapshot of a job's progress.
type JobStatus struct {
	JobID           string     `json:"job_id"`
	Status          JobState   `json:"status"`
	Total           int        `json:"total"`
	Pending         int        `json:"pending"`
	Processing      int        `json:"processing"`
	Completed       int        `json:"completed"`
	Failed          int        `json:"failed"`
	Skipped         int        `json:"skipped"`
	ProgressPercent float64    `json:"progress_percent"`
	CurrentIndex    int        `json:"current_index"`
	CancelRequested bool       `json:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Summary tallies item outcomes.
type Summary struct {
	Total     int `json:"total"`
	Posted    int `json:"posted"`
	Updated   int `json:"updated"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// JobResults is the per-item detail of a job plus its summary.
type JobResults struct {
	JobID   string   `json:"job_id"`
	Status  JobState `json:"status"`
	Items   []Item   `json:"items"`
	Summary Summary  `json:"summary"`
}

// Queue is the in-memory job registry. Job state is lost on restart; jobs
// are rerunnable instead of durable.
type Queue struct {
	mu   sync.Mutex
	jobs map[string]*Job

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	stop   context.CancelFunc
	now    func() time.Time
	onItem func(jobID string, index int)
}

// NewQueue creates a queue running up to maxConcurrent jobs at once.
func NewQueue(maxConcurrent int) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Queue{
		jobs: make(map[string]*Job),
		sem:  semaphore.NewWeighted(int64(maxConcurrent)),
		ctx:  ctx,
		stop: stop,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a pending job with one item per run id.
func (q *Queue) Create(runIDs []int64) string {
	items := make([]Item, len(runIDs))
	for i, id := range runIDs {
		items[i] = Item{RunID: id, Status: ItemPending}
	}
	job := &Job{
		ID:        uuid.New().String(),
		Items:     items,
		Status:    JobPending,
		CreatedAt: q.now(),
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	zap.L().Info("batch: job created", zap.String("job_id", job.ID), zap.Int("items", len(items)))
	return job.ID
}

// Start schedules a pending or cancelled job. It returns false, changing
// nothing, when the job is unknown or in any other state.
func (q *Queue) Start(jobID string, p Processor) bool {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok || p == nil || !CanTransition(job.Status, JobRunning) {
		q.mu.Unlock()
		return false
	}
	_ = job.transition(JobRunning)
	now := q.now()
	job.StartedAt = &now
	job.CompletedAt = nil
	job.cancel.Store(false)
	q.wg.Add(1)
	q.mu.Unlock()

	go q.run(job, p)
	return true
}

// Cancel asks a running job to stop at the next item boundary. The item in
// flight is allowed to finish.
func (q *Queue) Cancel(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok || job.transition(JobCancelling) != nil {
		return false
	}
	job.cancel.Store(true)
	zap.L().Info("batch: cancel requested", zap.String("job_id", jobID))
	return true
}

func (q *Queue) run(job *Job, p Processor) {
	defer q.wg.Done()
	log := zap.L().With(zap.String("job_id", job.ID))

	if err := q.sem.Acquire(q.ctx, 1); err != nil {
		job.cancel.Store(true)
		q.settle(job, JobCancelled)
		return
	}
	defer q.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			log.Error("batch: job body panicked", zap.Any("panic", r))
			q.settle(job, JobFailed)
		}
	}()

	log.Info("batch: job started")
	for i := range job.Items {
		if job.cancel.Load() {
			q.settle(job, JobCancelled)
			return
		}
		if q.onItem != nil {
			q.onItem(job.ID, i)
		}

		q.mu.Lock()
		job.CurrentIndex = i
		item := &job.Items[i]
		if item.Status == ItemCompleted || item.Status == ItemSkipped {
			q.mu.Unlock()
			continue
		}
		started := q.now()
		item.Status = ItemProcessing
		item.StartedAt = &started
		item.CompletedAt = nil
		item.Result = nil
		item.Error = ""
		runID := item.RunID
		q.mu.Unlock()

		res, err := invoke(q.ctx, p, runID)

		q.mu.Lock()
		done := q.now()
		item.CompletedAt = &done
		switch {
		case err != nil:
			item.Status = ItemFailed
			item.Error = err.Error()
		case res.Skipped:
			item.Status = ItemSkipped
			item.Result = &res
		case res.Success:
			item.Status = ItemCompleted
			item.Result = &res
		default:
			item.Status = ItemFailed
			item.Result = &res
			item.Error = res.Error
			if item.Error == "" {
				item.Error = "processor reported failure"
			}
		}
		status, itemErr := item.Status, item.Error
		q.mu.Unlock()

		if status == ItemFailed {
			log.Warn("batch: item failed", zap.Int64("run_id", runID), zap.String("error", itemErr))
		}
	}
	q.settle(job, JobCompleted)
}

// invoke calls the processor, turning a panic into an item error.
func invoke(ctx context.Context, p Processor, runID int64) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("batch: processor panic: %v", r)
		}
	}()
	return p.Process(ctx, runID)
}

// settle moves a job into a terminal state. A job whose cancellation was
// requested while running passes through cancelling first.
func (q *Queue) settle(job *Job, to JobState) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if to == JobCancelled && job.Status == JobRunning {
		_ = job.transition(JobCancelling)
	}
	if err := job.transition(to); err != nil {
		zap.L().Error("batch: settle job", zap.Error(err))
		return
	}
	now := q.now()
	job.CompletedAt = &now
	zap.L().Info("batch: job settled", zap.String("job_id", job.ID), zap.String("status", string(to)))
}

// Status returns a snapshot of a job's progress.
func (q *Queue) Status(jobID string) (JobStatus, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return JobStatus{}, false
	}
	return snapshot(job), true
}

// List returns snapshots of every job, oldest first.
func (q *Queue) List() []JobStatus {
	q.mu.Lock()
	out := make([]JobStatus, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, snapshot(job))
	}
	q.mu.Unlock()

	slices.SortFunc(out, func(a, b JobStatus) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.JobID < b.JobID {
			return -1
		}
		if a.JobID > b.JobID {
			return 1
		}
		return 0
	})
	return out
}

func snapshot(job *Job) JobStatus {
	st := JobStatus{
		JobID:           job.ID,
		Status:          job.Status,
		Total:           len(job.Items),
		CurrentIndex:    job.CurrentIndex,
		CancelRequested: job.cancel.Load(),
		CreatedAt:       job.CreatedAt,
		StartedAt:       copyTime(job.StartedAt),
		CompletedAt:     copyTime(job.CompletedAt),
	}
	for _, it := range job.Items {
		switch it.Status {
		case ItemPending:
			st.Pending++
		case ItemProcessing:
			st.Processing++
		case ItemCompleted:
			st.Completed++
		case ItemFailed:
			st.Failed++
		case ItemSkipped:
			st.Skipped++
		}
	}
	if st.Total > 0 {
		st.ProgressPercent = float64(st.Completed+st.Failed+st.Skipped) / float64(st.Total) * 100
	}
	return st
}

// Results returns per-item detail and an outcome summary.
func (q *Queue) Results(jobID string) (JobResults, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return JobResults{}, false
	}

	res := JobResults{JobID: job.ID, Status: job.Status, Items: make([]Item, len(job.Items))}
	res.Summary.Total = len(job.Items)
	for i, it := range job.Items {
		cp := it
		cp.StartedAt = copyTime(it.StartedAt)
		cp.CompletedAt = copyTime(it.CompletedAt)
		if it.Result != nil {
			r := *it.Result
			r.Details = maps.Clone(it.Result.Details)
			cp.Result = &r
		}
		res.Items[i] = cp

		switch it.Status {
		case ItemCompleted:
			res.Summary.Completed++
			if it.Result != nil {
				switch it.Result.Action {
				case "posted":
					res.Summary.Posted++
				case "updated":
					res.Summary.Updated++
				}
			}
		case ItemFailed:
			res.Summary.Failed++
		case ItemSkipped:
			res.Summary.Skipped++
		}
	}
	return res, true
}

// Cleanup evicts terminal jobs that finished more than olderThan ago and
// returns how many were removed.
func (q *Queue) Cleanup(olderThan time.Duration) int {
	cutoff := q.now().Add(-olderThan)
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for id, job := range q.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		zap.L().Info("batch: cleaned up jobs", zap.Int("removed", removed))
	}
	return removed
}

// Shutdown requests cancellation of every running job and waits for their
// workers. When ctx expires first, in-flight processors see a cancelled
// context and ctx's error is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	for _, job := range q.jobs {
		if job.Status == JobRunning {
			_ = job.transition(JobCancelling)
			job.cancel.Store(true)
		}
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.stop()
		return nil
	case <-ctx.Done():
		q.stop()
		return ctx.Err()
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
