package statemachine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brandkit/conveyor/pkg/eventbus"
	"github.com/brandkit/conveyor/pkg/events"
	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/persistence"
	"github.com/google/uuid"
)

// ErrDuplicateTrigger indicates a trigger event ID was already consumed.
// Replays are acknowledged without creating a second workflow instance.
var ErrDuplicateTrigger = errors.New("trigger event already consumed")

// maxAdvanceRetries bounds the optimistic-concurrency retry loop. Conflicts
// only happen when two outcomes race for the same workflow, so a handful of
// reloads is plenty.
const maxAdvanceRetries = 3

// AdvanceResult is what an applied transition produced: the new state and the
// jobs to enqueue for it. Jobs is empty when the new state is terminal.
type AdvanceResult struct {
	Instance  *models.WorkflowInstance
	FromState models.State
	NextState models.State
	Jobs      []*models.Job
}

// Engine validates and applies state transitions for workflow instances.
// It owns WorkflowInstance records exclusively; everything else reads them.
type Engine struct {
	registry    *Registry
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

// NewEngine creates a state machine engine over the given table registry.
func NewEngine(
	registry *Registry,
	persist persistence.Persistence,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		registry:    registry,
		persistence: persist,
		publisher:   publisher,
		logger:      logger.With("module", "statemachine"),
	}
}

// Submit consumes a trigger event, creates a workflow instance in its initial
// state, and returns the first jobs to enqueue. Replayed event IDs return
// ErrDuplicateTrigger and create nothing.
func (e *Engine) Submit(ctx context.Context, event *models.TriggerEvent) (*models.WorkflowInstance, []*models.Job, error) {
	table, ok := e.registry.Lookup(models.WorkflowType(event.Type))
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedWorkflow, event.Type)
	}

	err := table.ValidatePayload(event.Payload)
	if err != nil {
		return nil, nil, err
	}

	instanceID := instanceIDForTrigger(event.ID)

	err = e.persistence.TriggerEvents().Record(ctx, event)
	if err != nil {
		if persistence.IsTriggerEventExists(err) {
			_, getErr := e.persistence.Instances().GetByID(ctx, instanceID)
			if getErr == nil {
				return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateTrigger, event.ID)
			}

			if !persistence.IsInstanceNotFound(getErr) {
				return nil, nil, getErr
			}

			// The trigger was recorded but the instance never reached the
			// store. This is a redelivery after a partial failure, not a
			// replay: resume creation so the trigger is not lost.
			e.logger.WarnContext(ctx, "Resuming workflow creation for recorded trigger",
				"event_id", event.ID,
				"workflow_id", instanceID)
		} else {
			return nil, nil, fmt.Errorf("failed to record trigger event: %w", err)
		}
	}

	now := time.Now().UTC()
	instance := &models.WorkflowInstance{
		ID:           instanceID,
		WorkflowType: table.Type,
		CurrentState: table.Initial,
		Priority:     priorityFromPayload(event.Payload, table.DefaultPriority),
		Context:      event.Payload,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = e.persistence.Instances().Save(ctx, instance)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to save workflow instance: %w", err)
	}

	err = e.appendTransition(ctx, instance.ID, "", table.Initial, event.ID, models.TransitionOutcomeSuccess)
	if err != nil {
		return nil, nil, err
	}

	e.publish(ctx, instance.ID, events.WorkflowSubmitted{
		BaseEvent:    events.NewBaseEvent(events.WorkflowSubmittedEvent, instance.ID),
		WorkflowType: string(instance.WorkflowType),
		InitialState: string(instance.CurrentState),
		TriggerID:    event.ID,
		Priority:     instance.Priority,
	})

	e.logger.InfoContext(ctx, "Workflow instance created",
		"workflow_id", instance.ID,
		"workflow_type", instance.WorkflowType,
		"initial_state", instance.CurrentState)

	return instance, e.buildJobs(instance, table.Initial, table), nil
}

// Advance applies an outcome to a workflow instance. Transitions for one
// workflow are serialized through the instance version; racing outcomes
// reload and re-validate against the fresh state. Advancing a workflow that
// already reached a terminal state is a no-op: the late result is discarded.
func (e *Engine) Advance(ctx context.Context, workflowID string, outcome models.Outcome, triggeredBy string) (*AdvanceResult, error) {
	var lastErr error

	for attempt := 0; attempt < maxAdvanceRetries; attempt++ {
		instance, err := e.persistence.Instances().GetByID(ctx, workflowID)
		if err != nil {
			return nil, err
		}

		if instance.IsTerminal() {
			e.logger.InfoContext(ctx, "Discarding outcome for terminal workflow",
				"workflow_id", workflowID,
				"state", instance.CurrentState,
				"outcome", outcome)

			return &AdvanceResult{Instance: instance, FromState: instance.CurrentState, NextState: instance.CurrentState}, nil
		}

		table, ok := e.registry.Lookup(instance.WorkflowType)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedWorkflow, instance.WorkflowType)
		}

		fromState := instance.CurrentState

		nextState, ok := table.Next(fromState, outcome)
		if !ok {
			e.publish(ctx, workflowID, events.TransitionRejected{
				BaseEvent:   events.NewBaseEvent(events.TransitionRejectedEvent, workflowID),
				FromState:   string(fromState),
				OutcomeType: string(outcome),
				Reason:      "no transition defined",
			})

			return nil, &TransitionError{
				WorkflowID: workflowID,
				State:      fromState,
				Outcome:    outcome,
				Err:        ErrIllegalTransition,
			}
		}

		err = e.persistence.Instances().UpdateState(ctx, workflowID, instance.Version, nextState)
		if err != nil {
			if persistence.IsVersionConflict(err) {
				lastErr = err

				continue
			}

			return nil, err
		}

		err = e.appendTransition(ctx, workflowID, fromState, nextState, triggeredBy, models.TransitionOutcomeSuccess)
		if err != nil {
			return nil, err
		}

		instance.CurrentState = nextState
		instance.Version++
		instance.UpdatedAt = time.Now().UTC()

		e.publishTransition(ctx, instance, fromState, nextState, outcome, triggeredBy)

		result := &AdvanceResult{
			Instance:  instance,
			FromState: fromState,
			NextState: nextState,
		}
		if !instance.IsTerminal() {
			result.Jobs = e.buildJobs(instance, nextState, table)
		}

		return result, nil
	}

	return nil, fmt.Errorf("advance for workflow %s kept losing version races: %w", workflowID, lastErr)
}

// Cancel moves an instance to cancelled from any non-terminal state. Queued
// jobs for the workflow are deadlettered immediately; in-flight ones are left
// to finish and their late outcomes are discarded by Advance. Cancelling an
// already-terminal workflow is a no-op.
func (e *Engine) Cancel(ctx context.Context, workflowID string) error {
	var lastErr error

	for attempt := 0; attempt < maxAdvanceRetries; attempt++ {
		instance, err := e.persistence.Instances().GetByID(ctx, workflowID)
		if err != nil {
			return err
		}

		if instance.IsTerminal() {
			return nil
		}

		fromState := instance.CurrentState

		err = e.persistence.Instances().UpdateState(ctx, workflowID, instance.Version, models.StateCancelled)
		if err != nil {
			if persistence.IsVersionConflict(err) {
				lastErr = err

				continue
			}

			return err
		}

		err = e.appendTransition(ctx, workflowID, fromState, models.StateCancelled, "cancel", models.TransitionOutcomeSuccess)
		if err != nil {
			return err
		}

		e.deadletterPendingJobs(ctx, workflowID)

		e.publish(ctx, workflowID, events.WorkflowCancelled{
			BaseEvent: events.NewBaseEvent(events.WorkflowCancelledEvent, workflowID),
			FromState: string(fromState),
		})

		e.logger.InfoContext(ctx, "Workflow cancelled",
			"workflow_id", workflowID,
			"from_state", fromState)

		return nil
	}

	return fmt.Errorf("cancel for workflow %s kept losing version races: %w", workflowID, lastErr)
}

func (e *Engine) buildJobs(instance *models.WorkflowInstance, state models.State, table *TransitionTable) []*models.Job {
	specs := table.JobsFor(state)
	if len(specs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	jobs := make([]*models.Job, 0, len(specs))

	for _, spec := range specs {
		jobs = append(jobs, &models.Job{
			ID:         uuid.New().String(),
			WorkflowID: instance.ID,
			Payload: models.JobPayload{
				Kind: spec.Kind,
				// Stable per workflow step, so a re-executed job after a
				// worker timeout carries the same key and collaborators can
				// de-duplicate the side effect.
				IdempotencyKey: fmt.Sprintf("wf:%s:%s:%s", instance.ID, state, spec.Kind),
				Data:           instance.Context,
			},
			Priority:   instance.Priority,
			Status:     models.JobStatusQueued,
			EnqueuedAt: now,
			UpdatedAt:  now,
		})
	}

	return jobs
}

func (e *Engine) deadletterPendingJobs(ctx context.Context, workflowID string) {
	jobs, err := e.persistence.Jobs().ListByWorkflow(ctx, workflowID)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to list jobs for cancelled workflow",
			"workflow_id", workflowID, "error", err)

		return
	}

	for _, job := range jobs {
		if job.Status != models.JobStatusQueued {
			continue
		}

		err := e.persistence.Jobs().CASStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusDeadlettered)
		if err != nil {
			// A dispatcher may have claimed the job in the meantime; its
			// result will be discarded on completion.
			e.logger.WarnContext(ctx, "Could not deadletter queued job",
				"job_id", job.ID, "error", err)

			continue
		}

		e.publish(ctx, workflowID, events.JobDeadlettered{
			BaseEvent: events.NewBaseEvent(events.JobDeadletteredEvent, workflowID),
			JobID:     job.ID,
			Reason:    "workflow cancelled",
			Attempt:   job.Attempt,
		})
	}
}

func (e *Engine) appendTransition(
	ctx context.Context,
	workflowID string,
	from, to models.State,
	triggeredBy string,
	outcome models.TransitionOutcome,
) error {
	transition := &models.StateTransition{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		FromState:   from,
		ToState:     to,
		TriggeredBy: triggeredBy,
		Outcome:     outcome,
		Timestamp:   time.Now().UTC(),
	}

	err := e.persistence.Transitions().Append(ctx, transition)
	if err != nil {
		return fmt.Errorf("failed to append transition for workflow %s: %w", workflowID, err)
	}

	return nil
}

func (e *Engine) publishTransition(
	ctx context.Context,
	instance *models.WorkflowInstance,
	from, to models.State,
	outcome models.Outcome,
	triggeredBy string,
) {
	e.publish(ctx, instance.ID, events.WorkflowTransitioned{
		BaseEvent:   events.NewBaseEvent(events.WorkflowTransitionedEvent, instance.ID),
		FromState:   string(from),
		ToState:     string(to),
		OutcomeType: string(outcome),
		TriggeredBy: triggeredBy,
	})

	duration := instance.UpdatedAt.Sub(instance.CreatedAt)

	switch to {
	case models.StateCompleted:
		e.publish(ctx, instance.ID, events.WorkflowCompleted{
			BaseEvent: events.NewBaseEvent(events.WorkflowCompletedEvent, instance.ID),
			Duration:  duration,
		})
	case models.StateFailed:
		e.publish(ctx, instance.ID, events.WorkflowFailed{
			BaseEvent: events.NewBaseEvent(events.WorkflowFailedEvent, instance.ID),
			Reason:    string(outcome),
			Duration:  duration,
		})
	}
}

// publish is fire-and-forget: monitoring consumers must never block or fail
// the pipeline.
func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish lifecycle event",
			"event_type", event.GetType(), "error", err)
	}
}

// instanceIDForTrigger derives the workflow instance ID from the trigger
// event ID. A redelivered trigger always maps to the same instance, which is
// what lets Submit distinguish a true replay from a crashed first attempt.
func instanceIDForTrigger(eventID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("workflow:"+eventID)).String()
}

func priorityFromPayload(payload map[string]any, fallback int) int {
	if payload == nil {
		return fallback
	}

	switch v := payload["priority"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
