package models

import "time"

// TriggerSource identifies where a trigger entered the system.
type TriggerSource string

const (
	TriggerSourceWebhook  TriggerSource = "webhook"
	TriggerSourceSchedule TriggerSource = "schedule"
	TriggerSourceManual   TriggerSource = "manual"
)

// TriggerEvent is the canonical ingress record. Immutable once recorded;
// consumed exactly once by the state machine engine or used to enqueue a
// standalone job.
type TriggerEvent struct {
	ID         string         `json:"id"`
	Source     TriggerSource  `json:"source"  validate:"required"`
	Type       string         `json:"type"    validate:"required"`
	Payload    map[string]any `json:"payload,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}
