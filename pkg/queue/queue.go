// Package queue holds pending work units ordered by priority and submission time.
package queue

import (
	"context"
	"errors"

	"github.com/brandkit/conveyor/pkg/models"
)

// ErrQueueSaturated indicates the queue depth ceiling was hit. Callers must
// treat it as retryable with backoff; the triggering event stays durable and
// can be replayed, so nothing is lost.
var ErrQueueSaturated = errors.New("queue saturated")

// Queue is a strict priority queue with FIFO tie-break inside a priority
// class. DequeueNext hands a job to at most one caller: the claim flips the
// job status queued → assigned as one atomic operation, so racing dispatchers
// never double-assign. An empty queue returns (nil, nil).
type Queue interface {
	Enqueue(ctx context.Context, job *models.Job) error
	DequeueNext(ctx context.Context, capabilities ...string) (*models.Job, error)
	Depth(ctx context.Context) (int, error)
	Close() error
}

// IsSaturated checks whether an error is a queue backpressure rejection.
func IsSaturated(err error) bool {
	return errors.Is(err, ErrQueueSaturated)
}

func capabilityMatch(kind string, capabilities []string) bool {
	if len(capabilities) == 0 {
		return true
	}

	for _, c := range capabilities {
		if c == kind {
			return true
		}
	}

	return false
}
