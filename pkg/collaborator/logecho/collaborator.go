// Package logecho provides a collaborator that only logs its payload. Useful
// for local development and as the simplest reference integration.
package logecho

import (
	"context"
	"log/slog"

	"github.com/brandkit/conveyor/pkg/collaborator"
	"github.com/brandkit/conveyor/pkg/models"
)

type Collaborator struct {
	kind   string
	logger *slog.Logger
}

// New creates a log-echo collaborator answering for the given payload kind.
func New(kind string, logger *slog.Logger) *Collaborator {
	return &Collaborator{
		kind:   kind,
		logger: logger.With("module", "logecho_collaborator", "kind", kind),
	}
}

func (c *Collaborator) Kind() string {
	return c.kind
}

func (c *Collaborator) Invoke(ctx context.Context, payload models.JobPayload) (*collaborator.Result, error) {
	c.logger.InfoContext(ctx, "Invoking log-echo collaborator",
		"idempotency_key", payload.IdempotencyKey,
		"data", payload.Data)

	return &collaborator.Result{
		Output: map[string]any{
			"echoed": payload.Data,
		},
	}, nil
}
