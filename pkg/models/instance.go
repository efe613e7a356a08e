// Package models defines the core domain models for workflow orchestration and queue processing.
package models

import "time"

// WorkflowType identifies one of the supported automations.
type WorkflowType string

const (
	WorkflowTypeContentPublish    WorkflowType = "content-publish"
	WorkflowTypeContentGeneration WorkflowType = "content-generation"
	WorkflowTypeApprovalRouting   WorkflowType = "approval-routing"
)

// State is one of the finite states defined by a workflow type's transition table.
type State string

// Terminal states shared by every workflow type.
const (
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// WorkflowInstance is one running execution of a multi-step automation.
// The instance is owned by the state machine engine; queue entries reference
// it by ID and never mutate it. Version increments on every applied
// transition and backs the optimistic concurrency check in persistence.
type WorkflowInstance struct {
	ID           string         `json:"id"`
	WorkflowType WorkflowType   `json:"workflow_type" validate:"required"`
	CurrentState State          `json:"current_state"`
	Priority     int            `json:"priority"`
	Context      map[string]any `json:"context,omitempty"`
	Version      int            `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IsTerminal reports whether the instance reached a terminal state.
func (w *WorkflowInstance) IsTerminal() bool {
	switch w.CurrentState {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}
