package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brandkit/conveyor/pkg/collaborator"
	"github.com/brandkit/conveyor/pkg/dispatcher"
	"github.com/brandkit/conveyor/pkg/eventbus"
	"github.com/brandkit/conveyor/pkg/events"
	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/persistence"
	"github.com/brandkit/conveyor/pkg/persistence/file"
	"github.com/brandkit/conveyor/pkg/queue"
	"github.com/brandkit/conveyor/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCollaborator struct {
	kind string
	err  error
}

func (s *stubCollaborator) Kind() string {
	return s.kind
}

func (s *stubCollaborator) Invoke(_ context.Context, _ models.JobPayload) (*collaborator.Result, error) {
	if s.err != nil {
		return nil, s.err
	}

	return &collaborator.Result{Output: map[string]any{"ok": true}}, nil
}

type resultRecorder struct {
	mu      sync.Mutex
	job     *models.Job
	result  *collaborator.Result
	err     error
	handled bool
}

func (r *resultRecorder) HandleResult(_ context.Context, job *models.Job, result *collaborator.Result, invokeErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.job = job
	r.result = result
	r.err = invokeErr
	r.handled = true
}

type capturePublisher struct {
	mu        sync.Mutex
	published []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.published = append(p.published, event)

	return nil
}

func (p *capturePublisher) lastCompletion() (events.JobCompleted, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := len(p.published) - 1; i >= 0; i-- {
		if completed, ok := p.published[i].(events.JobCompleted); ok {
			return completed, true
		}
	}

	return events.JobCompleted{}, false
}

type poolFixture struct {
	pool       *Pool
	dispatcher *dispatcher.Dispatcher
	jobs       persistence.JobRepository
	handler    *resultRecorder
	publisher  *capturePublisher
}

func newPoolFixture(t *testing.T, collaborators ...collaborator.Collaborator) *poolFixture {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	jobQueue := queue.NewMemoryQueue(persist.Jobs(), 100)
	registry := collaborator.NewRegistry(slog.Default())

	for _, c := range collaborators {
		registry.Register(c)
	}

	disp := dispatcher.NewDispatcher(jobQueue, persist.Jobs(), nil, dispatcher.DefaultConfig(), slog.Default())
	handler := &resultRecorder{}
	publisher := &capturePublisher{}
	pool := NewPool(1, registry, disp, persist.Jobs(), publisher, handler, slog.Default())

	return &poolFixture{
		pool:       pool,
		dispatcher: disp,
		jobs:       persist.Jobs(),
		handler:    handler,
		publisher:  publisher,
	}
}

func (f *poolFixture) seedAssignedJob(t *testing.T, kind string) *models.Job {
	t.Helper()

	now := time.Now().UTC()
	job := &models.Job{
		ID:         "job-1",
		WorkflowID: "wf-1",
		Payload: models.JobPayload{
			Kind:           kind,
			IdempotencyKey: "wf:wf-1:state:" + kind,
		},
		Priority:   5,
		Status:     models.JobStatusAssigned,
		Attempt:    1,
		WorkerID:   "w-1",
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
	require.NoError(t, f.jobs.Save(t.Context(), job))

	return job
}

func TestPool_ExecuteSuccess(t *testing.T) {
	fixture := newPoolFixture(t, &stubCollaborator{kind: "content.generate"})
	fixture.dispatcher.RegisterWorker("w-1")

	job := fixture.seedAssignedJob(t, "content.generate")

	fixture.pool.Execute(t.Context(), "w-1", job)

	stored, err := fixture.jobs.GetByID(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, stored.Status)

	require.True(t, fixture.handler.handled)
	require.NoError(t, fixture.handler.err)
	require.NotNil(t, fixture.handler.result)
	assert.Equal(t, true, fixture.handler.result.Output["ok"])

	completed, ok := fixture.publisher.lastCompletion()
	require.True(t, ok)
	assert.True(t, completed.Success)
	assert.Equal(t, job.ID, completed.JobID)
	assert.Equal(t, "w-1", completed.WorkerID)
}

func TestPool_ExecuteFailure(t *testing.T) {
	fixture := newPoolFixture(t, &stubCollaborator{kind: "content.generate", err: errors.New("upstream 502")})
	fixture.dispatcher.RegisterWorker("w-1")

	job := fixture.seedAssignedJob(t, "content.generate")

	fixture.pool.Execute(t.Context(), "w-1", job)

	stored, err := fixture.jobs.GetByID(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)

	require.True(t, fixture.handler.handled)
	require.Error(t, fixture.handler.err)
	assert.False(t, retry.IsFatal(fixture.handler.err))

	completed, ok := fixture.publisher.lastCompletion()
	require.True(t, ok)
	assert.False(t, completed.Success)
	assert.Equal(t, "upstream 502", completed.Reason)
}

func TestPool_ExecuteUnknownKindIsFatal(t *testing.T) {
	fixture := newPoolFixture(t)
	fixture.dispatcher.RegisterWorker("w-1")

	job := fixture.seedAssignedJob(t, "content.generate")

	fixture.pool.Execute(t.Context(), "w-1", job)

	stored, err := fixture.jobs.GetByID(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)

	// A missing collaborator can never succeed on retry.
	require.True(t, fixture.handler.handled)
	assert.True(t, retry.IsFatal(fixture.handler.err))
}

func TestPool_ExecuteSkipsReassignedJob(t *testing.T) {
	fixture := newPoolFixture(t, &stubCollaborator{kind: "content.generate"})
	fixture.dispatcher.RegisterWorker("w-1")

	job := fixture.seedAssignedJob(t, "content.generate")

	// The dispatcher requeued the job before the slot picked it up.
	job.Status = models.JobStatusQueued
	job.WorkerID = ""
	require.NoError(t, fixture.jobs.Save(t.Context(), job))

	fixture.pool.Execute(t.Context(), "w-1", job)

	stored, err := fixture.jobs.GetByID(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, stored.Status)

	assert.False(t, fixture.handler.handled)

	_, published := fixture.publisher.lastCompletion()
	assert.False(t, published)
}

// hookedCollaborator runs a callback before returning, which lets a test
// mutate stored state while the job is mid-run.
type hookedCollaborator struct {
	kind string
	hook func()
}

func (h *hookedCollaborator) Kind() string {
	return h.kind
}

func (h *hookedCollaborator) Invoke(_ context.Context, _ models.JobPayload) (*collaborator.Result, error) {
	h.hook()

	return &collaborator.Result{Output: map[string]any{"ok": true}}, nil
}

func TestPool_ExecuteDropsResultWhenOwnershipLost(t *testing.T) {
	var fixture *poolFixture

	stolen := &hookedCollaborator{kind: "content.generate", hook: func() {
		// The health check requeued the job while the slot was still
		// executing it.
		job, err := fixture.jobs.GetByID(t.Context(), "job-1")
		if !assert.NoError(t, err) {
			return
		}

		job.Status = models.JobStatusQueued
		job.WorkerID = ""
		assert.NoError(t, fixture.jobs.Save(t.Context(), job))
	}}

	fixture = newPoolFixture(t, stolen)
	fixture.dispatcher.RegisterWorker("w-1")

	job := fixture.seedAssignedJob(t, "content.generate")

	fixture.pool.Execute(t.Context(), "w-1", job)

	stored, err := fixture.jobs.GetByID(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, stored.Status)

	// The new owner reports the result, not this slot.
	assert.False(t, fixture.handler.handled)

	_, published := fixture.publisher.lastCompletion()
	assert.False(t, published)
}

func TestPool_StartRegistersAndStops(t *testing.T) {
	persist := file.NewPersistence(t.TempDir())
	jobQueue := queue.NewMemoryQueue(persist.Jobs(), 100)
	registry := collaborator.NewRegistry(slog.Default())
	registry.Register(&stubCollaborator{kind: "content.generate"})

	disp := dispatcher.NewDispatcher(jobQueue, persist.Jobs(), nil, dispatcher.DefaultConfig(), slog.Default())
	pool := NewPool(3, registry, disp, persist.Jobs(), nil, nil, slog.Default())

	ctx, cancel := context.WithCancel(t.Context())
	pool.Start(ctx)

	stats := disp.Stats(ctx)
	assert.Equal(t, 3, stats.TotalWorkers)
	assert.Equal(t, 3, stats.IdleWorkers)

	cancel()
	pool.Wait()

	stats = disp.Stats(t.Context())
	assert.Zero(t, stats.TotalWorkers)
}
