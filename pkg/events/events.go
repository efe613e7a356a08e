// Package events defines event types and structures for orchestration lifecycle notifications.
package events

import (
	"time"

	"github.com/brandkit/conveyor/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const Topic = "conveyor.events" // All lifecycle events flow through a single topic

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Trigger ingress events.
	TriggerReceivedEvent EventType = "trigger.received"

	// Workflow lifecycle events.
	WorkflowSubmittedEvent    EventType = "workflow.submitted"
	WorkflowTransitionedEvent EventType = "workflow.transitioned"
	WorkflowCompletedEvent    EventType = "workflow.completed"
	WorkflowFailedEvent       EventType = "workflow.failed"
	WorkflowCancelledEvent    EventType = "workflow.cancelled"

	// TransitionRejectedEvent marks an illegal transition attempt. It is an
	// alert signal: it means a logic or data bug, not a normal failure.
	TransitionRejectedEvent EventType = "workflow.transition.rejected"

	// Job lifecycle events.
	JobEnqueuedEvent       EventType = "job.enqueued"
	JobAssignedEvent       EventType = "job.assigned"
	JobCompletedEvent      EventType = "job.completed"
	JobRequeuedEvent       EventType = "job.requeued"
	JobRetryScheduledEvent EventType = "job.retry.scheduled"
	JobDeadletteredEvent   EventType = "job.deadlettered"

	// Worker health events.
	WorkerRegisteredEvent    EventType = "worker.registered"
	WorkerDeregisteredEvent  EventType = "worker.deregistered"
	WorkerHealthChangedEvent EventType = "worker.health.changed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

type TriggerReceived struct {
	BaseEvent

	TriggerID string         `json:"trigger_id"`
	Source    string         `json:"source"`
	EventName string         `json:"event_name"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func (t TriggerReceived) GetType() EventType {
	return TriggerReceivedEvent
}

type WorkflowSubmitted struct {
	BaseEvent

	WorkflowType string `json:"workflow_type"`
	InitialState string `json:"initial_state"`
	TriggerID    string `json:"trigger_id"`
	Priority     int    `json:"priority"`
}

func (w WorkflowSubmitted) GetType() EventType {
	return WorkflowSubmittedEvent
}

type WorkflowTransitioned struct {
	BaseEvent

	FromState   string `json:"from_state"`
	ToState     string `json:"to_state"`
	OutcomeType string `json:"outcome_type"`
	TriggeredBy string `json:"triggered_by"`
}

func (w WorkflowTransitioned) GetType() EventType {
	return WorkflowTransitionedEvent
}

type WorkflowCompleted struct {
	BaseEvent

	Duration time.Duration `json:"duration"`
}

func (w WorkflowCompleted) GetType() EventType {
	return WorkflowCompletedEvent
}

type WorkflowFailed struct {
	BaseEvent

	Reason   string        `json:"reason"`
	Duration time.Duration `json:"duration"`
}

func (w WorkflowFailed) GetType() EventType {
	return WorkflowFailedEvent
}

type WorkflowCancelled struct {
	BaseEvent

	FromState string `json:"from_state"`
}

func (w WorkflowCancelled) GetType() EventType {
	return WorkflowCancelledEvent
}

type TransitionRejected struct {
	BaseEvent

	FromState   string `json:"from_state"`
	OutcomeType string `json:"outcome_type"`
	Reason      string `json:"reason"`
}

func (t TransitionRejected) GetType() EventType {
	return TransitionRejectedEvent
}

type JobEnqueued struct {
	BaseEvent

	JobID    string `json:"job_id"`
	Kind     string `json:"kind"`
	Priority int    `json:"priority"`
	Attempt  int    `json:"attempt"`
}

func (j JobEnqueued) GetType() EventType {
	return JobEnqueuedEvent
}

type JobAssigned struct {
	BaseEvent

	JobID string `json:"job_id"`
}

func (j JobAssigned) GetType() EventType {
	return JobAssignedEvent
}

// JobCompleted covers both success and failure of a single execution attempt.
type JobCompleted struct {
	BaseEvent

	JobID    string        `json:"job_id"`
	Success  bool          `json:"success"`
	Reason   string        `json:"reason,omitempty"`
	Attempt  int           `json:"attempt"`
	Duration time.Duration `json:"duration"`
}

func (j JobCompleted) GetType() EventType {
	return JobCompletedEvent
}

type JobRequeued struct {
	BaseEvent

	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

func (j JobRequeued) GetType() EventType {
	return JobRequeuedEvent
}

type JobRetryScheduled struct {
	BaseEvent

	JobID   string        `json:"job_id"`
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
}

func (j JobRetryScheduled) GetType() EventType {
	return JobRetryScheduledEvent
}

type JobDeadlettered struct {
	BaseEvent

	JobID   string `json:"job_id"`
	Reason  string `json:"reason"`
	Attempt int    `json:"attempt"`
}

func (j JobDeadlettered) GetType() EventType {
	return JobDeadletteredEvent
}

type WorkerRegistered struct {
	BaseEvent
}

func (w WorkerRegistered) GetType() EventType {
	return WorkerRegisteredEvent
}

type WorkerDeregistered struct {
	BaseEvent
}

func (w WorkerDeregistered) GetType() EventType {
	return WorkerDeregisteredEvent
}

type WorkerHealthChanged struct {
	BaseEvent

	PreviousStatus models.WorkerStatus `json:"previous_status"`
	Status         models.WorkerStatus `json:"status"`
}

func (w WorkerHealthChanged) GetType() EventType {
	return WorkerHealthChangedEvent
}
