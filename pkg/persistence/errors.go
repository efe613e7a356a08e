// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrInstanceNotFound indicates a workflow instance was not found by the given identifier.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrJobNotFound indicates a job was not found by the given identifier.
	ErrJobNotFound = errors.New("job not found")

	// ErrTriggerEventNotFound indicates a trigger event was not found.
	ErrTriggerEventNotFound = errors.New("trigger event not found")

	// ErrTriggerEventExists indicates a trigger event with the same ID was already recorded.
	ErrTriggerEventExists = errors.New("trigger event already recorded")

	// ErrVersionConflict indicates a conditional instance write lost the race:
	// the stored version no longer matched the expected one.
	ErrVersionConflict = errors.New("instance version conflict")

	// ErrStatusConflict indicates a conditional job status write found a
	// different current status than expected.
	ErrStatusConflict = errors.New("job status conflict")
)

// InstanceError wraps instance-related errors with operation context.
type InstanceError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "UpdateState")
	WorkflowID string
	Err        error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, workflowID string, err error) *InstanceError {
	return &InstanceError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// JobError wraps job-related errors with operation context.
type JobError struct {
	Op    string
	JobID string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s operation failed for job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func (e *JobError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewJobError creates a new job error with context.
func NewJobError(op, jobID string, err error) *JobError {
	return &JobError{
		Op:    op,
		JobID: jobID,
		Err:   err,
	}
}

// IsInstanceNotFound checks if an error indicates a workflow instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsJobNotFound checks if an error indicates a job was not found.
func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

// IsVersionConflict checks if an error indicates an optimistic concurrency conflict.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsStatusConflict checks if an error indicates a job status CAS conflict.
func IsStatusConflict(err error) bool {
	return errors.Is(err, ErrStatusConflict)
}

// IsTriggerEventExists checks if an error indicates a duplicate trigger event.
func IsTriggerEventExists(err error) bool {
	return errors.Is(err, ErrTriggerEventExists)
}

// IsTriggerEventNotFound checks if an error indicates a trigger event was not found.
func IsTriggerEventNotFound(err error) bool {
	return errors.Is(err, ErrTriggerEventNotFound)
}
