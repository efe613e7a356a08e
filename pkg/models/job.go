package models

import "time"

// JobStatus is the lifecycle state of a queued work unit.
type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusAssigned     JobStatus = "assigned"
	JobStatusRunning      JobStatus = "running"
	JobStatusSucceeded    JobStatus = "succeeded"
	JobStatusFailed       JobStatus = "failed"
	JobStatusDeadlettered JobStatus = "deadlettered"
)

// JobPayload describes the work a collaborator must perform. Kind selects the
// collaborator; IdempotencyKey lets collaborators de-duplicate re-executions
// after a worker timeout reassignment.
type JobPayload struct {
	Kind           string         `json:"kind"           validate:"required"`
	IdempotencyKey string         `json:"idempotency_key" validate:"required"`
	Data           map[string]any `json:"data,omitempty"`
}

// Job is one queued, independently executable unit of work, optionally tied
// to a workflow step. A job with status assigned has exactly one owning
// worker; Attempt increments only through the retry manager.
type Job struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflow_id,omitempty"` // empty for standalone jobs
	Payload    JobPayload `json:"payload"`
	Priority   int        `json:"priority"`
	Status     JobStatus  `json:"status"`
	Attempt    int        `json:"attempt"`
	WorkerID   string     `json:"worker_id,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the job can no longer change status.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusDeadlettered
}

// JobResult is the outcome a worker reports after executing a job.
type JobResult struct {
	JobID    string         `json:"job_id"`
	WorkerID string         `json:"worker_id"`
	Success  bool           `json:"success"`
	Output   map[string]any `json:"output,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Duration time.Duration  `json:"duration"`
}
