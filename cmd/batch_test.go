//go:build !integration

package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-intake/internal/batch"
	"github.com/sells-group/auction-intake/internal/model"
	"github.com/sells-group/auction-intake/internal/store"
)

type fakeRunLister struct {
	runs map[model.RunStatus][]model.Run
	err  error
}

func (f fakeRunLister) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	list := f.runs[filter.Status]
	if filter.Limit > 0 && len(list) > filter.Limit {
		list = list[:filter.Limit]
	}
	return list, nil
}

func TestSelectRuns(t *testing.T) {
	lister := fakeRunLister{runs: map[model.RunStatus][]model.Run{
		model.RunStatusPending: {{ID: 4}, {ID: 5}, {ID: 6}},
		model.RunStatusFailed:  {{ID: 2}, {ID: 9}},
	}}
	ctx := context.Background()

	ids, err := selectRuns(ctx, lister, []int64{5, 1, 1, 0}, true, false, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 1, 4, 6}, ids)

	ids, err = selectRuns(ctx, lister, nil, true, true, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5, 2, 9}, ids)

	ids, err = selectRuns(ctx, lister, []int64{7}, false, false, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, ids)

	_, err = selectRuns(ctx, fakeRunLister{err: errors.New("db down")}, nil, true, false, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list pending runs")
}

func TestWaitForJob_Completes(t *testing.T) {
	q := batch.NewQueue(1)
	proc := batch.ProcessorFunc(func(_ context.Context, runID int64) (batch.Result, error) {
		if runID == 2 {
			return batch.Result{Success: false, Error: "no vin"}, nil
		}
		return batch.Result{Success: true, Action: "posted"}, nil
	})
	id := q.Create([]int64{1, 2, 3})
	require.True(t, q.Start(id, proc))

	res, err := waitForJob(context.Background(), q, id, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, batch.JobCompleted, res.Status)
	assert.Equal(t, 2, res.Summary.Posted)
	assert.Equal(t, 1, res.Summary.Failed)

	var buf bytes.Buffer
	formatJobResults(&buf, res)
	assert.Contains(t, buf.String(), "no vin")
	assert.Contains(t, buf.String(), "Posted:")
}

func TestWaitForJob_InterruptCancels(t *testing.T) {
	q := batch.NewQueue(1)
	release := make(chan struct{})
	proc := batch.ProcessorFunc(func(_ context.Context, _ int64) (batch.Result, error) {
		<-release
		return batch.Result{Success: true}, nil
	})
	id := q.Create([]int64{1, 2, 3})
	require.True(t, q.Start(id, proc))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	time.AfterFunc(50*time.Millisecond, func() { close(release) })

	res, err := waitForJob(ctx, q, id, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, batch.JobCancelled, res.Status)
	assert.Equal(t, batch.ItemPending, res.Items[2].Status)
	assert.LessOrEqual(t, res.Summary.Completed, 1)
}

func TestWaitForJob_UnknownJob(t *testing.T) {
	_, err := waitForJob(context.Background(), batch.NewQueue(1), "missing", time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disappeared")
}
