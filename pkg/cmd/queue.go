package cmd

import (
	"log/slog"
	"strings"

	"github.com/brandkit/conveyor/pkg/persistence"
	"github.com/brandkit/conveyor/pkg/queue"
	redis "github.com/redis/go-redis/v9"
)

// NewQueue creates the job queue for the given URL. "redis://..." gets the
// shared sorted-set queue; an empty or "memory" URL gets the in-process heap.
func NewQueue(queueURL string, jobs persistence.JobRepository, maxDepth int, logger *slog.Logger) queue.Queue {
	if strings.HasPrefix(queueURL, "redis://") {
		opts, err := redis.ParseURL(queueURL)
		if err != nil {
			panic("Invalid redis queue URL: " + err.Error())
		}

		client := redis.NewClient(opts)

		logger.Info("Using redis job queue", "addr", opts.Addr)

		return queue.NewRedisQueue(client, jobs, maxDepth)
	}

	logger.Info("Using in-memory job queue")

	return queue.NewMemoryQueue(jobs, maxDepth)
}
