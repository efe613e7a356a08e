package models

import "time"

// Outcome is the result fed back into the state machine engine to advance a
// workflow instance out of its current state.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeApproved  Outcome = "approved"
	OutcomeRejected  Outcome = "rejected"
	OutcomeCancelled Outcome = "cancelled"
)

// TransitionOutcome records how a transition was applied.
type TransitionOutcome string

const (
	TransitionOutcomeSuccess TransitionOutcome = "success"
	TransitionOutcomeFailure TransitionOutcome = "failure"
	TransitionOutcomeSkipped TransitionOutcome = "skipped"
)

// StateTransition is one append-only audit record of a workflow instance
// moving between states. Transitions for a given workflow are strictly
// ordered and form a path through the type's transition table.
type StateTransition struct {
	ID          string            `json:"id"`
	WorkflowID  string            `json:"workflow_id"`
	FromState   State             `json:"from_state"`
	ToState     State             `json:"to_state"`
	TriggeredBy string            `json:"triggered_by"` // trigger event ID or job ID
	Outcome     TransitionOutcome `json:"outcome"`
	Timestamp   time.Time         `json:"timestamp"`
}
