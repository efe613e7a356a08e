// Package persistence provides the durable storage abstraction for workflow
// instances, transitions, jobs, and trigger events.
package persistence

import (
	"context"

	"github.com/brandkit/conveyor/pkg/models"
)

// InstanceRepository stores workflow instances. UpdateState is a conditional
// write: it only succeeds when the stored version matches expectedVersion,
// which serializes competing transitions for one workflow.
type InstanceRepository interface {
	Save(ctx context.Context, instance *models.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	UpdateState(ctx context.Context, id string, expectedVersion int, newState models.State) error
	List(ctx context.Context) ([]*models.WorkflowInstance, error)
}

// TransitionRepository is the append-only audit trail. Records are never
// deleted or updated.
type TransitionRepository interface {
	Append(ctx context.Context, transition *models.StateTransition) error
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.StateTransition, error)
}

// JobRepository stores queued work units. CASStatus only succeeds when the
// stored status matches expected, giving at-most-one ownership handoffs.
type JobRepository interface {
	Save(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	CASStatus(ctx context.Context, id string, expected, next models.JobStatus) error
	ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Job, error)
}

// TriggerEventRepository records ingress events exactly once. Record returns
// ErrTriggerEventExists when the event ID was already seen, which is how
// replayed deliveries are detected.
type TriggerEventRepository interface {
	Record(ctx context.Context, event *models.TriggerEvent) error
	GetByID(ctx context.Context, id string) (*models.TriggerEvent, error)
}

type Persistence interface {
	Instances() InstanceRepository
	Transitions() TransitionRepository
	Jobs() JobRepository
	TriggerEvents() TriggerEventRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
