package batch

import "github.com/rotisserie/eris"

// JobState is the lifecycle state of a batch job.
type JobState string

const (
	JobPending    JobState = "pending"
	JobRunning    JobState = "running"
	JobCancelling JobState = "cancelling"
	JobCancelled  JobState = "cancelled"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// ItemState is the processing state of one job item.
type ItemState string

const (
	ItemPending    ItemState = "pending"
	ItemProcessing ItemState = "processing"
	ItemCompleted  ItemState = "completed"
	ItemFailed     ItemState = "failed"
	ItemSkipped    ItemState = "skipped"
)

var transitions = map[JobState][]JobState{
	JobPending:    {JobRunning},
	JobCancelled:  {JobRunning},
	JobRunning:    {JobCancelling, JobCompleted, JobFailed},
	JobCancelling: {JobCancelled, JobCompleted, JobFailed},
}

// CanTransition reports whether a job may move from one state to another.
func CanTransition(from, to JobState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no worker owns a job in this state.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobCancelled || s == JobFailed
}

func (j *Job) transition(to JobState) error {
	if !CanTransition(j.Status, to) {
		return eris.Errorf("batch: illegal transition %s -> %s for job %s", j.Status, to, j.ID)
	}
	j.Status = to
	return nil
}
