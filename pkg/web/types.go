// Package web provides HTTP request and response types for the orchestration API.
package web

import (
	"time"

	"github.com/brandkit/conveyor/pkg/models"
)

// SubmitEventRequest represents the request body for POST /events.
// EventID is optional; callers that supply one (e.g. webhook delivery IDs)
// get idempotent replay on redelivery.
type SubmitEventRequest struct {
	Source  string         `json:"source"             validate:"required,oneof=webhook schedule manual"`
	Type    string         `json:"type"               validate:"required,min=1"`
	EventID string         `json:"event_id,omitempty"`
	Payload map[string]any `json:"payload"`
}

// SubmitEventResponse acknowledges an accepted trigger.
type SubmitEventResponse struct {
	EventID    string    `json:"event_id"`
	Status     string    `json:"status"`
	ReceivedAt time.Time `json:"received_at"`
}

// WorkflowResponse combines an instance with its transition history.
type WorkflowResponse struct {
	Instance    *models.WorkflowInstance  `json:"instance"`
	Transitions []*models.StateTransition `json:"transitions"`
}
