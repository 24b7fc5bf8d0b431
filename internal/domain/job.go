package domain

import (
	"time"
)

type JobKind string

const (
	JobRunWorkflow JobKind = "run_workflow"
	JobSyncRepo    JobKind = "sync_repo"
)

// Job is a unit of work on the run queue.
type Job struct {
	Kind       JobKind   `json:"kind"`
	InstanceID string    `json:"instance_id,omitempty"`
	TargetRef  string    `json:"target_ref,omitempty"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func NewRunJob(instanceID string) Job {
	return Job{
		Kind:       JobRunWorkflow,
		InstanceID: instanceID,
		EnqueuedAt: time.Now().UTC(),
	}
}

func NewSyncJob(targetRef string) Job {
	return Job{
		Kind:       JobSyncRepo,
		TargetRef:  targetRef,
		EnqueuedAt: time.Now().UTC(),
	}
}

// LockKey names what the job works on. Two jobs with the same key must not
// run at the same time.
func (j Job) LockKey() string {
	if j.Kind == JobSyncRepo {
		return "sync:" + TargetKey(j.TargetRef)
	}
	return "run:" + j.InstanceID
}

// CanRetry reports whether the job has attempts left.
func (j Job) CanRetry(maxRetries int) bool {
	return j.Attempt < maxRetries
}

// Retry returns the job for its next attempt.
func (j Job) Retry() Job {
	j.Attempt++
	j.EnqueuedAt = time.Now().UTC()
	return j
}
