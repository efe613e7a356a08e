package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/persistence/file"
	"github.com/brandkit/conveyor/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	mu    sync.Mutex
	calls []string // workerID:jobID
	done  chan struct{}
}

func newRecordingExecutor(expected int) *recordingExecutor {
	return &recordingExecutor{done: make(chan struct{}, expected)}
}

func (e *recordingExecutor) Execute(_ context.Context, workerID string, job *models.Job) {
	e.mu.Lock()
	e.calls = append(e.calls, workerID+":"+job.ID)
	e.mu.Unlock()

	e.done <- struct{}{}
}

func (e *recordingExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.calls)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *file.Persistence, queue.Queue) {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	q := queue.NewMemoryQueue(persist.Jobs(), 0)
	d := NewDispatcher(q, persist.Jobs(), nil, DefaultConfig(), slog.Default())

	return d, persist, q
}

func queuedJob(id string, priority int) *models.Job {
	now := time.Now().UTC()

	return &models.Job{
		ID:         id,
		WorkflowID: "wf-1",
		Payload: models.JobPayload{
			Kind:           "content.generate",
			IdempotencyKey: "wf:wf-1:pending_generation:content.generate",
		},
		Priority:   priority,
		Status:     models.JobStatusQueued,
		Attempt:    1,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
}

func TestDispatcher_DispatchPending(t *testing.T) {
	d, persist, q := newTestDispatcher(t)

	executor := newRecordingExecutor(1)
	d.SetExecutor(executor, nil)
	d.RegisterWorker("w-1")

	require.NoError(t, q.Enqueue(t.Context(), queuedJob("job-1", 5)))

	require.NoError(t, d.dispatchPending(t.Context()))

	select {
	case <-executor.done:
	case <-time.After(time.Second):
		t.Fatal("executor was not invoked")
	}

	assert.Equal(t, 1, executor.callCount())

	// Assignment was persisted on the job.
	job, err := persist.Jobs().GetByID(t.Context(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusAssigned, job.Status)
	assert.Equal(t, "w-1", job.WorkerID)
}

func TestDispatcher_DispatchPending_NoIdleWorkers(t *testing.T) {
	d, _, q := newTestDispatcher(t)

	executor := newRecordingExecutor(1)
	d.SetExecutor(executor, nil)

	require.NoError(t, q.Enqueue(t.Context(), queuedJob("job-1", 5)))

	// No workers registered: nothing dispatches, nothing errors.
	require.NoError(t, d.dispatchPending(t.Context()))
	assert.Equal(t, 0, executor.callCount())

	depth, err := q.Depth(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestDispatcher_LeastRecentlyUsedAssignment(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	d.RegisterWorker("w-old")
	d.RegisterWorker("w-new")

	// w-new worked recently; w-old has been idle longer.
	d.workers["w-old"].LastAssigned = time.Now().UTC().Add(-time.Hour)
	d.workers["w-new"].LastAssigned = time.Now().UTC()

	workerID, ok := d.reserveWorker()
	require.True(t, ok)
	assert.Equal(t, "w-old", workerID)

	// The reserved worker is busy; the other one is picked next.
	workerID, ok = d.reserveWorker()
	require.True(t, ok)
	assert.Equal(t, "w-new", workerID)

	// Nobody left.
	_, ok = d.reserveWorker()
	assert.False(t, ok)
}

func TestDispatcher_CompleteReturnsWorkerToIdle(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	d.RegisterWorker("w-1")

	_, ok := d.reserveWorker()
	require.True(t, ok)

	_, ok = d.reserveWorker()
	require.False(t, ok)

	d.Complete("w-1")

	_, ok = d.reserveWorker()
	assert.True(t, ok)
}

func TestDispatcher_HeartbeatReadmitsDegradedWorker(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	d.RegisterWorker("w-1")
	d.workers["w-1"].Status = models.WorkerStatusDegraded

	d.Heartbeat("w-1")

	assert.Equal(t, models.WorkerStatusIdle, d.workers["w-1"].Status)
}

func TestDispatcher_HeartbeatIgnoresOfflineWorker(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	d.RegisterWorker("w-1")
	d.workers["w-1"].Status = models.WorkerStatusOffline

	d.Heartbeat("w-1")

	// Offline is final until re-registration.
	assert.Equal(t, models.WorkerStatusOffline, d.workers["w-1"].Status)
}

func TestDispatcher_CheckWorkerHealth_Degraded(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	d.RegisterWorker("w-1")

	// Silent past the degraded cutoff but not the offline deadline.
	cutoff := time.Duration(d.config.DegradedAfter) * d.config.HeartbeatInterval
	d.workers["w-1"].LastHeartbeat = time.Now().UTC().Add(-cutoff - time.Second)

	d.checkWorkerHealth(t.Context())

	assert.Equal(t, models.WorkerStatusDegraded, d.workers["w-1"].Status)

	// Degraded workers are excluded from assignment.
	_, ok := d.reserveWorker()
	assert.False(t, ok)
}

func TestDispatcher_CheckWorkerHealth_OfflineRequeuesJob(t *testing.T) {
	d, persist, q := newTestDispatcher(t)

	job := queuedJob("job-1", 5)
	job.Status = models.JobStatusAssigned
	job.WorkerID = "w-1"
	job.Attempt = 2
	require.NoError(t, persist.Jobs().Save(t.Context(), job))

	d.RegisterWorker("w-1")
	d.workers["w-1"].Status = models.WorkerStatusBusy
	d.workers["w-1"].CurrentJobID = "job-1"
	d.workers["w-1"].LastHeartbeat = time.Now().UTC().Add(-d.config.OfflineAfter - time.Second)

	d.checkWorkerHealth(t.Context())

	assert.Equal(t, models.WorkerStatusOffline, d.workers["w-1"].Status)

	// The job went back on the queue with the attempt count untouched.
	depth, err := q.Depth(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	requeued, err := persist.Jobs().GetByID(t.Context(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, requeued.Status)
	assert.Equal(t, 2, requeued.Attempt)
	assert.Empty(t, requeued.WorkerID)
}

func TestDispatcher_CheckWorkerHealth_TerminalJobNotRequeued(t *testing.T) {
	d, persist, q := newTestDispatcher(t)

	job := queuedJob("job-1", 5)
	job.Status = models.JobStatusSucceeded
	require.NoError(t, persist.Jobs().Save(t.Context(), job))

	d.RegisterWorker("w-1")
	d.workers["w-1"].Status = models.WorkerStatusBusy
	d.workers["w-1"].CurrentJobID = "job-1"
	d.workers["w-1"].LastHeartbeat = time.Now().UTC().Add(-d.config.OfflineAfter - time.Second)

	d.checkWorkerHealth(t.Context())

	depth, err := q.Depth(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestDispatcher_Stats(t *testing.T) {
	d, _, q := newTestDispatcher(t)

	d.RegisterWorker("w-1")
	d.RegisterWorker("w-2")
	d.RegisterWorker("w-3")
	d.workers["w-2"].Status = models.WorkerStatusBusy
	d.workers["w-3"].Status = models.WorkerStatusDegraded

	require.NoError(t, q.Enqueue(t.Context(), queuedJob("job-1", 5)))

	stats := d.Stats(t.Context())

	assert.Equal(t, 1, stats.QueueDepth)
	assert.Equal(t, 3, stats.TotalWorkers)
	assert.Equal(t, 1, stats.IdleWorkers)
	assert.Equal(t, 1, stats.BusyWorkers)
	assert.Equal(t, 1, stats.DegradedWorkers)
	assert.InDelta(t, 0.5, stats.WorkerUtilization, 0.001)
}

func TestDispatcher_Run_RequiresExecutor(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	err := d.Run(t.Context())
	require.Error(t, err)
}
