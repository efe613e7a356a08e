package queue

import (
	"context"
	"fmt"

	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
)

const defaultQueueKey = "conveyor:queue"

// Scores pack priority (primary, descending) and enqueue time (secondary,
// ascending) into one float: higher priority always wins, and within a
// priority class an earlier enqueue yields a larger score. Millisecond
// timestamps stay far below the scale factor, so classes never overlap.
const priorityScale = 1e13

// enqueueScript rejects the add when the depth ceiling is reached, so the
// saturation check and the insert are one atomic step.
var enqueueScript = redis.NewScript(`
	local depth = redis.call('ZCARD', KEYS[1])
	if tonumber(ARGV[3]) > 0 and depth >= tonumber(ARGV[3]) then
		return 0
	end
	redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
	return 1
`)

// RedisQueue is the shared queue for multi-process deployments. Members are
// job IDs scored by priority and enqueue time; job bodies stay in the job
// repository. ZPOPMAX makes each claim atomic across dispatchers.
type RedisQueue struct {
	client   redis.UniversalClient
	key      string
	maxDepth int
	jobs     persistence.JobRepository
}

// NewRedisQueue creates a Redis-backed queue. A maxDepth of zero means unbounded.
func NewRedisQueue(client redis.UniversalClient, jobs persistence.JobRepository, maxDepth int) *RedisQueue {
	return &RedisQueue{
		client:   client,
		key:      defaultQueueKey,
		maxDepth: maxDepth,
		jobs:     jobs,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *models.Job) error {
	job.Status = models.JobStatusQueued

	err := q.jobs.Save(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to persist queued job %s: %w", job.ID, err)
	}

	score := float64(job.Priority)*priorityScale + (priorityScale - float64(job.EnqueuedAt.UnixMilli()))

	added, err := enqueueScript.Run(ctx, q.client, []string{q.key}, score, job.ID, q.maxDepth).Int()
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	if added == 0 {
		return fmt.Errorf("%w: depth ceiling %d", ErrQueueSaturated, q.maxDepth)
	}

	return nil
}

func (q *RedisQueue) DequeueNext(ctx context.Context, capabilities ...string) (*models.Job, error) {
	for {
		popped, err := q.client.ZPopMax(ctx, q.key, 1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to pop from queue: %w", err)
		}

		if len(popped) == 0 {
			return nil, nil
		}

		jobID, _ := popped[0].Member.(string)

		job, err := q.jobs.GetByID(ctx, jobID)
		if err != nil {
			if persistence.IsJobNotFound(err) {
				continue
			}

			return nil, err
		}

		if !capabilityMatch(job.Payload.Kind, capabilities) {
			// Put it back; another dispatcher with matching capabilities
			// will claim it.
			score := float64(job.Priority)*priorityScale + (priorityScale - float64(job.EnqueuedAt.UnixMilli()))

			err = q.client.ZAdd(ctx, q.key, redis.Z{Score: score, Member: job.ID}).Err()
			if err != nil {
				return nil, fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
			}

			return nil, nil
		}

		err = q.jobs.CASStatus(ctx, jobID, models.JobStatusQueued, models.JobStatusAssigned)
		if err != nil {
			if persistence.IsStatusConflict(err) || persistence.IsJobNotFound(err) {
				// Deadlettered or claimed elsewhere between pop and CAS.
				continue
			}

			return nil, err
		}

		job.Status = models.JobStatusAssigned

		return job, nil
	}
}

func (q *RedisQueue) Depth(ctx context.Context) (int, error) {
	depth, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}

	return int(depth), nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
