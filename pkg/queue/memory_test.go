package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/persistence"
	"github.com/brandkit/conveyor/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, maxDepth int) *MemoryQueue {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())

	return NewMemoryQueue(persist.Jobs(), maxDepth)
}

func makeJob(id string, priority int, enqueuedAt time.Time) *models.Job {
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
		EnqueuedAt: enqueuedAt,
	}
}

func TestMemoryQueue_PriorityOrder(t *testing.T) {
	q := newTestQueue(t, 0)
	now := time.Now().UTC()

	require.NoError(t, q.Enqueue(t.Context(), makeJob("low", 1, now)))
	require.NoError(t, q.Enqueue(t.Context(), makeJob("high", 10, now.Add(time.Second))))
	require.NoError(t, q.Enqueue(t.Context(), makeJob("mid", 5, now.Add(2*time.Second))))

	// Higher priority always wins, regardless of enqueue order.
	for _, want := range []string{"high", "mid", "low"} {
		job, err := q.DequeueNext(t.Context())
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.ID)
		assert.Equal(t, models.JobStatusAssigned, job.Status)
	}
}

func TestMemoryQueue_FIFOWithinPriority(t *testing.T) {
	q := newTestQueue(t, 0)
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		job := makeJob(fmt.Sprintf("job-%d", i), 5, now.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, q.Enqueue(t.Context(), job))
	}

	for i := 0; i < 5; i++ {
		job, err := q.DequeueNext(t.Context())
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, fmt.Sprintf("job-%d", i), job.ID)
	}
}

func TestMemoryQueue_HighPriorityBurstDoesNotStarveOrder(t *testing.T) {
	q := newTestQueue(t, 0)
	now := time.Now().UTC()

	// 100 priority-1 jobs already waiting.
	for i := 0; i < 100; i++ {
		job := makeJob(fmt.Sprintf("low-%03d", i), 1, now.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, q.Enqueue(t.Context(), job))
	}

	// A burst of 10 priority-10 jobs arrives afterwards.
	for i := 0; i < 10; i++ {
		job := makeJob(fmt.Sprintf("high-%02d", i), 10, now.Add(time.Second).Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, q.Enqueue(t.Context(), job))
	}

	// All 10 high-priority jobs come out first, FIFO within the burst.
	for i := 0; i < 10; i++ {
		job, err := q.DequeueNext(t.Context())
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, fmt.Sprintf("high-%02d", i), job.ID)
	}

	// Then the backlog drains in its original order.
	job, err := q.DequeueNext(t.Context())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "low-000", job.ID)
}

func TestMemoryQueue_Saturation(t *testing.T) {
	q := newTestQueue(t, 2)
	now := time.Now().UTC()

	require.NoError(t, q.Enqueue(t.Context(), makeJob("a", 1, now)))
	require.NoError(t, q.Enqueue(t.Context(), makeJob("b", 1, now)))

	err := q.Enqueue(t.Context(), makeJob("c", 1, now))
	require.Error(t, err)
	assert.True(t, IsSaturated(err))

	// Draining one slot readmits enqueues.
	_, err = q.DequeueNext(t.Context())
	require.NoError(t, err)
	assert.NoError(t, q.Enqueue(t.Context(), makeJob("c", 1, now)))
}

func TestMemoryQueue_EmptyReturnsNil(t *testing.T) {
	q := newTestQueue(t, 0)

	job, err := q.DequeueNext(t.Context())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMemoryQueue_CapabilityFilter(t *testing.T) {
	q := newTestQueue(t, 0)
	now := time.Now().UTC()

	generate := makeJob("gen", 5, now)
	distribute := makeJob("dist", 9, now)
	distribute.Payload.Kind = "content.distribute"

	require.NoError(t, q.Enqueue(t.Context(), generate))
	require.NoError(t, q.Enqueue(t.Context(), distribute))

	// A worker that only generates skips the higher-priority distribute job.
	job, err := q.DequeueNext(t.Context(), "content.generate")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "gen", job.ID)

	// The skipped job stays claimable for a capable worker.
	job, err = q.DequeueNext(t.Context(), "content.distribute")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "dist", job.ID)
}

func TestMemoryQueue_SkipsJobsClaimedElsewhere(t *testing.T) {
	persist := file.NewPersistence(t.TempDir())
	q := NewMemoryQueue(persist.Jobs(), 0)
	now := time.Now().UTC()

	job := makeJob("cancelled", 5, now)
	require.NoError(t, q.Enqueue(t.Context(), job))

	// A workflow cancel deadletters the job underneath the queue.
	require.NoError(t, persist.Jobs().CASStatus(t.Context(), "cancelled", models.JobStatusQueued, models.JobStatusDeadlettered))

	got, err := q.DequeueNext(t.Context())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryQueue_ConcurrentClaimsAreExclusive(t *testing.T) {
	q := newTestQueue(t, 0)
	now := time.Now().UTC()

	const jobCount = 50

	for i := 0; i < jobCount; i++ {
		job := makeJob(fmt.Sprintf("job-%02d", i), i%7, now.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, q.Enqueue(t.Context(), job))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)

	// 10 dispatchers race for the same jobs.
	for w := 0; w < 10; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				job, err := q.DequeueNext(t.Context())
				if !assert.NoError(t, err) {
					return
				}

				if job == nil {
					return
				}

				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	// Every job was claimed exactly once.
	assert.Len(t, claimed, jobCount)

	for id, count := range claimed {
		assert.Equal(t, 1, count, "job %s claimed %d times", id, count)
	}
}

func TestMemoryQueue_ConcurrentProducersKeepPriorityOrder(t *testing.T) {
	q := newTestQueue(t, 0)
	now := time.Now().UTC()

	var wg sync.WaitGroup

	// A backlog producer and a burst producer race their enqueues.
	wg.Add(2)

	go func() {
		defer wg.Done()

		for i := 0; i < 100; i++ {
			job := makeJob(fmt.Sprintf("low-%03d", i), 1, now.Add(time.Duration(i)*time.Millisecond))
			assert.NoError(t, q.Enqueue(t.Context(), job))
		}
	}()

	go func() {
		defer wg.Done()

		for i := 0; i < 10; i++ {
			job := makeJob(fmt.Sprintf("high-%02d", i), 10, now.Add(time.Duration(i)*time.Millisecond))
			assert.NoError(t, q.Enqueue(t.Context(), job))
		}
	}()

	wg.Wait()

	// However the enqueues interleaved, every priority-10 job drains before
	// the first priority-1 job.
	for i := 0; i < 110; i++ {
		job, err := q.DequeueNext(t.Context())
		require.NoError(t, err)
		require.NotNil(t, job)

		if i < 10 {
			assert.Equal(t, 10, job.Priority, "job %s drained before the burst", job.ID)
		} else {
			assert.Equal(t, 1, job.Priority)
		}
	}
}

// flakyJobs fails a configurable number of CASStatus or GetByID calls before
// recovering, standing in for a store that hiccups mid-claim.
type flakyJobs struct {
	persistence.JobRepository
	casFailures int
	getFailures int
}

func (f *flakyJobs) CASStatus(ctx context.Context, id string, expected, next models.JobStatus) error {
	if f.casFailures > 0 {
		f.casFailures--

		return errors.New("store unavailable")
	}

	return f.JobRepository.CASStatus(ctx, id, expected, next)
}

func (f *flakyJobs) GetByID(ctx context.Context, id string) (*models.Job, error) {
	if f.getFailures > 0 {
		f.getFailures--

		return nil, errors.New("store unavailable")
	}

	return f.JobRepository.GetByID(ctx, id)
}

func TestMemoryQueue_StoreErrorDoesNotLoseJob(t *testing.T) {
	persist := file.NewPersistence(t.TempDir())
	flaky := &flakyJobs{JobRepository: persist.Jobs()}
	q := NewMemoryQueue(flaky, 0)
	now := time.Now().UTC()

	require.NoError(t, q.Enqueue(t.Context(), makeJob("only", 5, now)))

	// The claim CAS fails once; the entry must survive for the next attempt.
	flaky.casFailures = 1

	job, err := q.DequeueNext(t.Context())
	require.Error(t, err)
	assert.Nil(t, job)

	depth, err := q.Depth(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	job, err = q.DequeueNext(t.Context())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "only", job.ID)
}

func TestMemoryQueue_LoadErrorReleasesClaim(t *testing.T) {
	persist := file.NewPersistence(t.TempDir())
	flaky := &flakyJobs{JobRepository: persist.Jobs()}
	q := NewMemoryQueue(flaky, 0)
	now := time.Now().UTC()

	require.NoError(t, q.Enqueue(t.Context(), makeJob("only", 5, now)))

	// The claim lands but the body read fails. The claim has to be undone
	// or the job would sit assigned to nobody forever.
	flaky.getFailures = 1

	job, err := q.DequeueNext(t.Context())
	require.Error(t, err)
	assert.Nil(t, job)

	stored, err := persist.Jobs().GetByID(t.Context(), "only")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, stored.Status)

	job, err = q.DequeueNext(t.Context())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "only", job.ID)
}

func TestMemoryQueue_Depth(t *testing.T) {
	q := newTestQueue(t, 0)
	now := time.Now().UTC()

	depth, err := q.Depth(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	require.NoError(t, q.Enqueue(t.Context(), makeJob("a", 1, now)))
	require.NoError(t, q.Enqueue(t.Context(), makeJob("b", 2, now)))

	depth, err = q.Depth(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}
