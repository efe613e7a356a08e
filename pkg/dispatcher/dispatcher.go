// Package dispatcher assigns queued jobs to idle workers and tracks worker health.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brandkit/conveyor/pkg/eventbus"
	"github.com/brandkit/conveyor/pkg/events"
	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/persistence"
	"github.com/brandkit/conveyor/pkg/queue"
)

// Config tunes the dispatch and health loops.
type Config struct {
	PollInterval      time.Duration // queue poll cadence when idle
	HeartbeatInterval time.Duration // expected worker heartbeat cadence
	DegradedAfter     int           // consecutive missed heartbeats before a worker is degraded
	OfflineAfter      time.Duration // heartbeat silence before a worker is offline and its job requeued
}

// DefaultConfig returns the standard dispatcher timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:      250 * time.Millisecond,
		HeartbeatInterval: 5 * time.Second,
		DegradedAfter:     2,
		OfflineAfter:      30 * time.Second,
	}
}

// JobExecutor runs an assigned job on a specific worker. Implemented by the
// worker pool; calls must not block the dispatch loop.
type JobExecutor interface {
	Execute(ctx context.Context, workerID string, job *models.Job)
}

// Stats is the scaling signal exposed to external autoscalers and /metrics.
type Stats struct {
	QueueDepth        int     `json:"queue_depth"`
	TotalWorkers      int     `json:"total_workers"`
	IdleWorkers       int     `json:"idle_workers"`
	BusyWorkers       int     `json:"busy_workers"`
	DegradedWorkers   int     `json:"degraded_workers"`
	OfflineWorkers    int     `json:"offline_workers"`
	WorkerUtilization float64 `json:"worker_utilization"`
}

// Dispatcher continuously pulls from the job queue and assigns work to the
// least-recently-used idle worker. It never provisions workers itself; the
// pool registers them and an external autoscaler reads Stats.
type Dispatcher struct {
	queue        queue.Queue
	jobs         persistence.JobRepository
	executor     JobExecutor
	publisher    eventbus.EventPublisher
	logger       *slog.Logger
	config       Config
	capabilities []string

	mu      sync.Mutex
	workers map[string]*models.Worker
}

// NewDispatcher creates a dispatcher over the given queue.
func NewDispatcher(
	q queue.Queue,
	jobs persistence.JobRepository,
	publisher eventbus.EventPublisher,
	config Config,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		queue:     q,
		jobs:      jobs,
		publisher: publisher,
		config:    config,
		logger:    logger.With("module", "dispatcher"),
		workers:   make(map[string]*models.Worker),
	}
}

// SetExecutor wires the worker pool in. Must be called before Run.
func (d *Dispatcher) SetExecutor(executor JobExecutor, capabilities []string) {
	d.executor = executor
	d.capabilities = capabilities
}

// RegisterWorker adds a logical execution slot.
func (d *Dispatcher) RegisterWorker(workerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UTC()
	d.workers[workerID] = &models.Worker{
		ID:            workerID,
		Status:        models.WorkerStatusIdle,
		LastHeartbeat: now,
	}

	d.publish(context.Background(), workerID, events.WorkerRegistered{
		BaseEvent: baseWorkerEvent(events.WorkerRegisteredEvent, workerID),
	})

	d.logger.Info("Worker registered", "worker_id", workerID)
}

// DeregisterWorker removes a slot at shutdown.
func (d *Dispatcher) DeregisterWorker(workerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.workers, workerID)

	d.publish(context.Background(), workerID, events.WorkerDeregistered{
		BaseEvent: baseWorkerEvent(events.WorkerDeregisteredEvent, workerID),
	})
}

// Heartbeat records liveness for a worker. A degraded worker that resumes
// heartbeating is readmitted to assignment.
func (d *Dispatcher) Heartbeat(workerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	worker, ok := d.workers[workerID]
	if !ok || worker.Status == models.WorkerStatusOffline {
		return
	}

	worker.LastHeartbeat = time.Now().UTC()

	if worker.Status == models.WorkerStatusDegraded {
		previous := worker.Status
		if worker.CurrentJobID != "" {
			worker.Status = models.WorkerStatusBusy
		} else {
			worker.Status = models.WorkerStatusIdle
		}

		d.publishHealthChange(worker.ID, previous, worker.Status)
	}
}

// Run drives the assignment and health loops until the context is cancelled.
// Queue and persistence failures are infrastructure errors: they stop
// dispatch rather than let the system run against inconsistent state.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.executor == nil {
		return fmt.Errorf("dispatcher has no executor wired")
	}

	healthTicker := time.NewTicker(d.config.HeartbeatInterval)
	defer healthTicker.Stop()

	pollTicker := time.NewTicker(d.config.PollInterval)
	defer pollTicker.Stop()

	d.logger.InfoContext(ctx, "Dispatcher started",
		"poll_interval", d.config.PollInterval,
		"offline_after", d.config.OfflineAfter)

	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "Dispatcher stopping")

			return nil
		case <-healthTicker.C:
			d.checkWorkerHealth(ctx)
		case <-pollTicker.C:
			err := d.dispatchPending(ctx)
			if err != nil {
				return fmt.Errorf("dispatch loop failed: %w", err)
			}
		}
	}
}

// dispatchPending assigns queued jobs to idle workers until one side runs dry.
func (d *Dispatcher) dispatchPending(ctx context.Context) error {
	for {
		workerID, ok := d.reserveWorker()
		if !ok {
			return nil
		}

		job, err := d.queue.DequeueNext(ctx, d.capabilities...)
		if err != nil {
			d.releaseWorker(workerID)

			return err
		}

		if job == nil {
			d.releaseWorker(workerID)

			return nil
		}

		d.assign(ctx, workerID, job)
	}
}

// reserveWorker picks the least-recently-used idle worker and holds it so a
// concurrent loop iteration cannot pick it twice.
func (d *Dispatcher) reserveWorker() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var candidate *models.Worker

	for _, worker := range d.workers {
		if worker.Status != models.WorkerStatusIdle {
			continue
		}

		if candidate == nil || worker.LastAssigned.Before(candidate.LastAssigned) {
			candidate = worker
		}
	}

	if candidate == nil {
		return "", false
	}

	candidate.Status = models.WorkerStatusBusy
	candidate.LastAssigned = time.Now().UTC()

	return candidate.ID, true
}

func (d *Dispatcher) releaseWorker(workerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	worker, ok := d.workers[workerID]
	if !ok {
		return
	}

	worker.Status = models.WorkerStatusIdle
	worker.CurrentJobID = ""
}

func (d *Dispatcher) assign(ctx context.Context, workerID string, job *models.Job) {
	d.mu.Lock()
	if worker, ok := d.workers[workerID]; ok {
		worker.CurrentJobID = job.ID
	}
	d.mu.Unlock()

	job.WorkerID = workerID
	job.UpdatedAt = time.Now().UTC()

	err := d.jobs.Save(ctx, job)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to record job assignment",
			"job_id", job.ID, "worker_id", workerID, "error", err)
	}

	assignedEvent := events.JobAssigned{
		BaseEvent: events.NewBaseEvent(events.JobAssignedEvent, job.WorkflowID),
		JobID:     job.ID,
	}
	assignedEvent.WorkerID = workerID
	d.publish(ctx, job.WorkflowID, assignedEvent)

	d.logger.InfoContext(ctx, "Job assigned",
		"job_id", job.ID,
		"worker_id", workerID,
		"priority", job.Priority,
		"attempt", job.Attempt)

	go d.executor.Execute(ctx, workerID, job)
}

// Complete returns a worker to the idle set after its job finished.
func (d *Dispatcher) Complete(workerID string) {
	d.releaseWorker(workerID)
}

// Stats returns queue depth and worker utilization for autoscaling and metrics.
func (d *Dispatcher) Stats(ctx context.Context) Stats {
	depth, err := d.queue.Depth(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to read queue depth", "error", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	stats := Stats{QueueDepth: depth, TotalWorkers: len(d.workers)}

	for _, worker := range d.workers {
		switch worker.Status {
		case models.WorkerStatusIdle:
			stats.IdleWorkers++
		case models.WorkerStatusBusy:
			stats.BusyWorkers++
		case models.WorkerStatusDegraded:
			stats.DegradedWorkers++
		case models.WorkerStatusOffline:
			stats.OfflineWorkers++
		}
	}

	active := stats.IdleWorkers + stats.BusyWorkers
	if active > 0 {
		stats.WorkerUtilization = float64(stats.BusyWorkers) / float64(active)
	}

	return stats
}

// checkWorkerHealth degrades workers that miss heartbeats and takes offline
// the ones silent past the deadline, requeueing their in-flight job with the
// attempt count untouched.
func (d *Dispatcher) checkWorkerHealth(ctx context.Context) {
	now := time.Now().UTC()
	degradedCutoff := time.Duration(d.config.DegradedAfter) * d.config.HeartbeatInterval

	type requeueTarget struct {
		workerID string
		jobID    string
	}

	var requeues []requeueTarget

	d.mu.Lock()

	for _, worker := range d.workers {
		if worker.Status == models.WorkerStatusOffline {
			continue
		}

		silence := now.Sub(worker.LastHeartbeat)

		switch {
		case silence > d.config.OfflineAfter:
			previous := worker.Status
			worker.Status = models.WorkerStatusOffline

			if worker.CurrentJobID != "" {
				requeues = append(requeues, requeueTarget{workerID: worker.ID, jobID: worker.CurrentJobID})
				worker.CurrentJobID = ""
			}

			d.publishHealthChange(worker.ID, previous, models.WorkerStatusOffline)
			d.logger.WarnContext(ctx, "Worker offline, requeueing in-flight work",
				"worker_id", worker.ID, "silence", silence)
		case silence > degradedCutoff:
			if worker.Status == models.WorkerStatusDegraded {
				continue
			}

			previous := worker.Status
			worker.Status = models.WorkerStatusDegraded

			d.publishHealthChange(worker.ID, previous, models.WorkerStatusDegraded)
			d.logger.WarnContext(ctx, "Worker degraded, excluded from assignment",
				"worker_id", worker.ID, "silence", silence)
		}
	}

	d.mu.Unlock()

	for _, target := range requeues {
		d.requeueJob(ctx, target.jobID, target.workerID)
	}
}

// requeueJob puts a lost worker's job back on the queue. The attempt count
// stays unchanged: a worker timeout is not a job failure. The worker may not
// actually be dead, so the job can end up executing twice; idempotency keys
// on the payload are the mitigation.
func (d *Dispatcher) requeueJob(ctx context.Context, jobID, workerID string) {
	job, err := d.jobs.GetByID(ctx, jobID)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to load job for requeue", "job_id", jobID, "error", err)

		return
	}

	if job.IsTerminal() {
		return
	}

	job.WorkerID = ""

	err = d.queue.Enqueue(ctx, job)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to requeue job from offline worker",
			"job_id", jobID, "error", err)

		return
	}

	requeuedEvent := events.JobRequeued{
		BaseEvent: events.NewBaseEvent(events.JobRequeuedEvent, job.WorkflowID),
		JobID:     jobID,
		Reason:    "worker heartbeat timeout",
	}
	requeuedEvent.WorkerID = workerID
	d.publish(ctx, job.WorkflowID, requeuedEvent)
}

func (d *Dispatcher) publishHealthChange(workerID string, previous, current models.WorkerStatus) {
	d.publish(context.Background(), workerID, events.WorkerHealthChanged{
		BaseEvent:      baseWorkerEvent(events.WorkerHealthChangedEvent, workerID),
		PreviousStatus: previous,
		Status:         current,
	})
}

func (d *Dispatcher) publish(ctx context.Context, key string, event eventbus.Event) {
	if d.publisher == nil {
		return
	}

	err := d.publisher.Publish(ctx, key, event)
	if err != nil {
		d.logger.Warn("Failed to publish dispatcher event",
			"event_type", event.GetType(), "error", err)
	}
}

func baseWorkerEvent(eventType events.EventType, workerID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, "")
	base.WorkerID = workerID

	return base
}
