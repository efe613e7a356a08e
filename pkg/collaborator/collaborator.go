// Package collaborator defines the narrow contract every external integration
// implements: publishing APIs, project-management sync, content generation.
package collaborator

import (
	"context"

	"github.com/brandkit/conveyor/pkg/models"
)

// Result is the output of a successful invocation.
type Result struct {
	Output map[string]any
}

// Collaborator executes one job payload kind against an external system.
//
// Because a worker timeout can reassign a job that is still running, the same
// payload may be invoked twice. Every payload carries an idempotency key and
// implementations are required to de-duplicate side effects on it. That
// obligation sits with the integration, not with the worker.
type Collaborator interface {
	Kind() string
	Invoke(ctx context.Context, payload models.JobPayload) (*Result, error)
}
