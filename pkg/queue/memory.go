package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"

	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/persistence"
)

// MemoryQueue is the in-process queue used for local development and tests.
// Job bodies live in the job repository; the heap only orders IDs. The mutex
// makes each claim atomic, and the persisted queued → assigned CAS keeps the
// handoff safe even if another owner (a cancel, another queue instance)
// touched the job in between.
type MemoryQueue struct {
	mu       sync.Mutex
	items    *jobHeap
	maxDepth int
	jobs     persistence.JobRepository
	seq      uint64
}

// NewMemoryQueue creates an in-memory queue with the given depth ceiling.
// A maxDepth of zero means unbounded.
func NewMemoryQueue(jobs persistence.JobRepository, maxDepth int) *MemoryQueue {
	h := &jobHeap{}
	heap.Init(h)

	return &MemoryQueue{
		items:    h,
		maxDepth: maxDepth,
		jobs:     jobs,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxDepth > 0 && q.items.Len() >= q.maxDepth {
		return fmt.Errorf("%w: depth %d", ErrQueueSaturated, q.items.Len())
	}

	job.Status = models.JobStatusQueued

	err := q.jobs.Save(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to persist queued job %s: %w", job.ID, err)
	}

	q.seq++
	heap.Push(q.items, &queuedJob{
		id:         job.ID,
		kind:       job.Payload.Kind,
		priority:   job.Priority,
		enqueuedAt: job.EnqueuedAt.UnixNano(),
		seq:        q.seq,
	})

	return nil
}

func (q *MemoryQueue) DequeueNext(ctx context.Context, capabilities ...string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	skipped := make([]*queuedJob, 0)

	defer func() {
		for _, item := range skipped {
			heap.Push(q.items, item)
		}
	}()

	for q.items.Len() > 0 {
		item, _ := heap.Pop(q.items).(*queuedJob)

		if !capabilityMatch(item.kind, capabilities) {
			skipped = append(skipped, item)

			continue
		}

		err := q.jobs.CASStatus(ctx, item.id, models.JobStatusQueued, models.JobStatusAssigned)
		if err != nil {
			if persistence.IsStatusConflict(err) || persistence.IsJobNotFound(err) {
				// The job was deadlettered or claimed elsewhere; drop it.
				continue
			}

			// A transient store error must not lose the entry: put it back
			// so the next dequeue can retry the claim.
			skipped = append(skipped, item)

			return nil, err
		}

		job, err := q.jobs.GetByID(ctx, item.id)
		if err != nil {
			// The claim went through but the body did not load. Release the
			// claim and keep the entry so the job stays dispatchable.
			if undoErr := q.jobs.CASStatus(ctx, item.id, models.JobStatusAssigned, models.JobStatusQueued); undoErr == nil {
				skipped = append(skipped, item)
			}

			return nil, err
		}

		return job, nil
	}

	return nil, nil
}

func (q *MemoryQueue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.items.Len(), nil
}

func (q *MemoryQueue) Close() error {
	return nil
}

type queuedJob struct {
	id         string
	kind       string
	priority   int
	enqueuedAt int64
	seq        uint64
}

// jobHeap orders by priority descending, then enqueue time ascending, then
// insertion sequence for a stable FIFO inside the same timestamp.
type jobHeap []*queuedJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}

	if h[i].enqueuedAt != h[j].enqueuedAt {
		return h[i].enqueuedAt < h[j].enqueuedAt
	}

	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) {
	item, _ := x.(*queuedJob)
	*h = append(*h, item)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return item
}
