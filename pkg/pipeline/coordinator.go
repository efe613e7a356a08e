// Package pipeline glues the orchestration stages together: it feeds triggers
// into the state machine engine, enqueues the jobs transitions produce, and
// routes execution results through the retry manager and back into the engine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brandkit/conveyor/pkg/collaborator"
	"github.com/brandkit/conveyor/pkg/eventbus"
	"github.com/brandkit/conveyor/pkg/events"
	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/persistence"
	"github.com/brandkit/conveyor/pkg/queue"
	"github.com/brandkit/conveyor/pkg/retry"
	"github.com/brandkit/conveyor/pkg/statemachine"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// StandaloneTriggerType marks trigger events that enqueue a single job
// directly instead of starting a workflow.
const StandaloneTriggerType = "standalone-job"

// enqueueMaxElapsed bounds how long a saturated enqueue is retried before the
// error is surfaced. The trigger event stays durable either way.
const enqueueMaxElapsed = 15 * time.Second

// Coordinator connects engine, queue, and retry manager.
type Coordinator struct {
	engine      *statemachine.Engine
	queue       queue.Queue
	jobs        persistence.JobRepository
	instances   persistence.InstanceRepository
	triggers    persistence.TriggerEventRepository
	retry       *retry.Manager
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	retryTimers func(delay time.Duration, fn func()) // overridable in tests
}

// NewCoordinator creates the pipeline coordinator.
func NewCoordinator(
	engine *statemachine.Engine,
	q queue.Queue,
	persist persistence.Persistence,
	retryManager *retry.Manager,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		engine:    engine,
		queue:     q,
		jobs:      persist.Jobs(),
		instances: persist.Instances(),
		triggers:  persist.TriggerEvents(),
		retry:     retryManager,
		publisher: publisher,
		logger:    logger.With("module", "pipeline"),
		retryTimers: func(delay time.Duration, fn func()) {
			time.AfterFunc(delay, fn)
		},
	}
}

// SubmitTrigger consumes one trigger event: either it starts a workflow
// instance or, for standalone trigger types, enqueues a single job. Replayed
// event IDs are acknowledged without duplicating anything.
func (c *Coordinator) SubmitTrigger(ctx context.Context, event *models.TriggerEvent) (*models.WorkflowInstance, error) {
	if event.Type == StandaloneTriggerType {
		return nil, c.enqueueStandalone(ctx, event)
	}

	instance, jobs, err := c.engine.Submit(ctx, event)
	if err != nil {
		if errors.Is(err, statemachine.ErrDuplicateTrigger) {
			c.logger.InfoContext(ctx, "Ignoring replayed trigger event", "event_id", event.ID)

			return nil, nil
		}

		return nil, err
	}

	for _, job := range jobs {
		err = c.enqueueJob(ctx, job)
		if err != nil {
			return instance, err
		}
	}

	return instance, nil
}

// HandleResult is the worker pool's feedback path. Successes advance the
// owning workflow; failures go through the retry manager and, once
// exhausted or fatal, deadletter and push the workflow onto its failure path.
func (c *Coordinator) HandleResult(ctx context.Context, job *models.Job, result *collaborator.Result, invokeErr error) {
	if invokeErr == nil {
		c.handleSuccess(ctx, job)

		return
	}

	c.handleFailure(ctx, job, invokeErr)
}

func (c *Coordinator) handleSuccess(ctx context.Context, job *models.Job) {
	if job.WorkflowID == "" {
		return
	}

	advanced, err := c.engine.Advance(ctx, job.WorkflowID, models.OutcomeSucceeded, job.ID)
	if err != nil {
		// Illegal transitions are surfaced by the engine itself; nothing to
		// retry from here.
		c.logger.ErrorContext(ctx, "Failed to advance workflow after job success",
			"workflow_id", job.WorkflowID, "job_id", job.ID, "error", err)

		return
	}

	for _, next := range advanced.Jobs {
		err = c.enqueueJob(ctx, next)
		if err != nil {
			c.logger.ErrorContext(ctx, "Failed to enqueue follow-up job",
				"workflow_id", job.WorkflowID, "job_id", next.ID, "error", err)
		}
	}
}

func (c *Coordinator) handleFailure(ctx context.Context, job *models.Job, invokeErr error) {
	// A terminal workflow has no owner left for this result: its in-flight
	// job is deadlettered on observation instead of retried.
	if job.WorkflowID != "" && c.workflowIsTerminal(ctx, job.WorkflowID) {
		c.deadletter(ctx, job, invokeErr)

		return
	}

	decision := c.retry.OnFailure(job, invokeErr)
	job.Attempt = decision.Attempt

	if decision.Deadletter {
		c.deadletter(ctx, job, invokeErr)

		return
	}

	c.publish(ctx, job.WorkflowID, events.JobRetryScheduled{
		BaseEvent: events.NewBaseEvent(events.JobRetryScheduledEvent, job.WorkflowID),
		JobID:     job.ID,
		Attempt:   decision.Attempt,
		Delay:     decision.Delay,
	})

	c.logger.InfoContext(ctx, "Job retry scheduled",
		"job_id", job.ID, "attempt", decision.Attempt, "delay", decision.Delay)

	jobCopy := *job
	c.retryTimers(decision.Delay, func() {
		// The dispatch context is long gone by the time the timer fires.
		requeueCtx := context.Background()

		err := c.enqueueJob(requeueCtx, &jobCopy)
		if err != nil {
			c.logger.Error("Failed to re-enqueue job for retry", "job_id", jobCopy.ID, "error", err)
		}
	})
}

func (c *Coordinator) workflowIsTerminal(ctx context.Context, workflowID string) bool {
	instance, err := c.instances.GetByID(ctx, workflowID)
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to load workflow for failed job",
			"workflow_id", workflowID, "error", err)

		return false
	}

	return instance.IsTerminal()
}

func (c *Coordinator) deadletter(ctx context.Context, job *models.Job, invokeErr error) {
	job.Status = models.JobStatusDeadlettered
	job.UpdatedAt = time.Now().UTC()

	err := c.jobs.Save(ctx, job)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to persist deadlettered job", "job_id", job.ID, "error", err)
	}

	c.publish(ctx, job.WorkflowID, events.JobDeadlettered{
		BaseEvent: events.NewBaseEvent(events.JobDeadletteredEvent, job.WorkflowID),
		JobID:     job.ID,
		Reason:    invokeErr.Error(),
		Attempt:   job.Attempt,
	})

	c.logger.WarnContext(ctx, "Job deadlettered",
		"job_id", job.ID, "attempt", job.Attempt, "reason", invokeErr)

	if job.WorkflowID == "" {
		return
	}

	_, err = c.engine.Advance(ctx, job.WorkflowID, models.OutcomeFailed, job.ID)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to advance workflow to failure path",
			"workflow_id", job.WorkflowID, "job_id", job.ID, "error", err)
	}
}

func (c *Coordinator) enqueueStandalone(ctx context.Context, event *models.TriggerEvent) error {
	err := c.triggers.Record(ctx, event)
	if err != nil {
		if persistence.IsTriggerEventExists(err) {
			c.logger.InfoContext(ctx, "Ignoring replayed standalone trigger", "event_id", event.ID)

			return nil
		}

		return err
	}

	kind, _ := event.Payload["kind"].(string)
	if kind == "" {
		return fmt.Errorf("standalone trigger %s has no job kind", event.ID)
	}

	priority := 0
	if p, ok := event.Payload["priority"].(float64); ok {
		priority = int(p)
	}

	data, _ := event.Payload["data"].(map[string]any)

	now := time.Now().UTC()
	job := &models.Job{
		ID: uuid.New().String(),
		Payload: models.JobPayload{
			Kind:           kind,
			IdempotencyKey: "evt:" + event.ID,
			Data:           data,
		},
		Priority:   priority,
		Status:     models.JobStatusQueued,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}

	return c.enqueueJob(ctx, job)
}

// enqueueJob pushes a job onto the queue, backing off while the queue is
// saturated. Saturation is retryable by contract: the work is never dropped.
func (c *Coordinator) enqueueJob(ctx context.Context, job *models.Job) error {
	operation := func() error {
		err := c.queue.Enqueue(ctx, job)
		if err != nil {
			if queue.IsSaturated(err) {
				return err
			}

			return backoff.Permanent(err)
		}

		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = enqueueMaxElapsed

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	c.publish(ctx, job.WorkflowID, events.JobEnqueued{
		BaseEvent: events.NewBaseEvent(events.JobEnqueuedEvent, job.WorkflowID),
		JobID:     job.ID,
		Kind:      job.Payload.Kind,
		Priority:  job.Priority,
		Attempt:   job.Attempt,
	})

	return nil
}

func (c *Coordinator) publish(ctx context.Context, key string, event eventbus.Event) {
	if c.publisher == nil {
		return
	}

	err := c.publisher.Publish(ctx, key, event)
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to publish pipeline event",
			"event_type", event.GetType(), "error", err)
	}
}
