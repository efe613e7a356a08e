// Package worker executes job payloads through registered collaborators and
// reports outcomes back to the dispatcher.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brandkit/conveyor/pkg/collaborator"
	"github.com/brandkit/conveyor/pkg/dispatcher"
	"github.com/brandkit/conveyor/pkg/eventbus"
	"github.com/brandkit/conveyor/pkg/events"
	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/otelhelper"
	"github.com/brandkit/conveyor/pkg/persistence"
	"github.com/brandkit/conveyor/pkg/retry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultJobTimeout = 2 * time.Minute

// ResultHandler receives every execution outcome: success, failure, or a
// collaborator lookup miss.
type ResultHandler interface {
	HandleResult(ctx context.Context, job *models.Job, result *collaborator.Result, invokeErr error)
}

// Pool is a set of logical execution slots. Slots share nothing with each
// other; all coordination flows through the dispatcher and the queue.
type Pool struct {
	size              int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	registry          *collaborator.Registry
	dispatcher        *dispatcher.Dispatcher
	jobs              persistence.JobRepository
	publisher         eventbus.EventPublisher
	handler           ResultHandler
	tracer            trace.Tracer
	logger            *slog.Logger

	workerIDs []string
	wg        sync.WaitGroup
}

// NewPool creates a pool with the given number of slots.
func NewPool(
	size int,
	registry *collaborator.Registry,
	disp *dispatcher.Dispatcher,
	jobs persistence.JobRepository,
	publisher eventbus.EventPublisher,
	handler ResultHandler,
	logger *slog.Logger,
) *Pool {
	return &Pool{
		size:              size,
		jobTimeout:        defaultJobTimeout,
		heartbeatInterval: dispatcher.DefaultConfig().HeartbeatInterval,
		registry:          registry,
		dispatcher:        disp,
		jobs:              jobs,
		publisher:         publisher,
		handler:           handler,
		tracer:            noop.NewTracerProvider().Tracer("worker"),
		logger:            logger.With("module", "worker_pool"),
	}
}

// SetJobTimeout overrides the per-job execution deadline.
func (p *Pool) SetJobTimeout(timeout time.Duration) {
	p.jobTimeout = timeout
}

// SetTracer replaces the no-op tracer with a real one.
func (p *Pool) SetTracer(tracer trace.Tracer) {
	p.tracer = tracer
}

// Start registers the slots with the dispatcher and begins heartbeating.
// Heartbeats stop when the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.dispatcher.SetExecutor(p, p.registry.Kinds())

	for i := 0; i < p.size; i++ {
		workerID := "worker-" + uuid.New().String()[:8]
		p.workerIDs = append(p.workerIDs, workerID)
		p.dispatcher.RegisterWorker(workerID)

		p.wg.Add(1)

		go p.heartbeatLoop(ctx, workerID)
	}

	p.logger.InfoContext(ctx, "Worker pool started", "size", p.size)
}

// Wait blocks until all heartbeat loops have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) heartbeatLoop(ctx context.Context, workerID string) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.dispatcher.DeregisterWorker(workerID)

			return
		case <-ticker.C:
			p.dispatcher.Heartbeat(workerID)
		}
	}
}

// Execute runs one assigned job. Called by the dispatcher on its own goroutine.
func (p *Pool) Execute(ctx context.Context, workerID string, job *models.Job) {
	defer p.dispatcher.Complete(workerID)

	logger := p.logger.With("worker_id", workerID, "job_id", job.ID, "kind", job.Payload.Kind)

	err := p.jobs.CASStatus(ctx, job.ID, models.JobStatusAssigned, models.JobStatusRunning)
	if err != nil {
		// The job was deadlettered or requeued between assignment and start.
		logger.WarnContext(ctx, "Skipping job that is no longer assigned", "error", err)

		return
	}

	job.Status = models.JobStatusRunning

	execCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	execCtx, span := otelhelper.StartSpan(execCtx, p.tracer, "worker.execute",
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.JobKindKey, job.Payload.Kind),
		attribute.Int(otelhelper.AttemptKey, job.Attempt),
		attribute.String(otelhelper.WorkerIDKey, workerID),
	)
	defer span.End()

	started := time.Now()

	result, invokeErr := p.invoke(execCtx, job)
	duration := time.Since(started)

	if invokeErr != nil {
		otelhelper.SetError(span, invokeErr)
	}

	if invokeErr == nil {
		err = p.jobs.CASStatus(ctx, job.ID, models.JobStatusRunning, models.JobStatusSucceeded)
		if err != nil {
			// Ownership was lost mid-run: the health check requeued the job
			// or a cancel deadlettered it. Whoever owns the job now reports
			// its result; handing off this one would advance the workflow
			// twice.
			logger.WarnContext(ctx, "Job finished but was no longer running", "error", err)

			return
		}

		job.Status = models.JobStatusSucceeded

		logger.InfoContext(ctx, "Job succeeded", "duration", duration)
	} else {
		err = p.jobs.CASStatus(ctx, job.ID, models.JobStatusRunning, models.JobStatusFailed)
		if err != nil {
			logger.WarnContext(ctx, "Job failed but was no longer running", "error", err)

			return
		}

		job.Status = models.JobStatusFailed

		logger.WarnContext(ctx, "Job failed", "duration", duration, "error", invokeErr)
	}

	p.publishCompletion(ctx, workerID, job, invokeErr, duration)

	if p.handler != nil {
		p.handler.HandleResult(ctx, job, result, invokeErr)
	}
}

func (p *Pool) invoke(ctx context.Context, job *models.Job) (*collaborator.Result, error) {
	c, err := p.registry.Lookup(job.Payload.Kind)
	if err != nil {
		// No collaborator can ever handle this payload; retrying is pointless.
		return nil, retry.Fatal(err)
	}

	return c.Invoke(ctx, job.Payload)
}

func (p *Pool) publishCompletion(ctx context.Context, workerID string, job *models.Job, invokeErr error, duration time.Duration) {
	if p.publisher == nil {
		return
	}

	completed := events.JobCompleted{
		BaseEvent: events.NewBaseEvent(events.JobCompletedEvent, job.WorkflowID),
		JobID:     job.ID,
		Success:   invokeErr == nil,
		Attempt:   job.Attempt,
		Duration:  duration,
	}
	completed.WorkerID = workerID

	if invokeErr != nil {
		completed.Reason = invokeErr.Error()
	}

	err := p.publisher.Publish(ctx, job.WorkflowID, completed)
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to publish job completion", "job_id", job.ID, "error", err)
	}
}
