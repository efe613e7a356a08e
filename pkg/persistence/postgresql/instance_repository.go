package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/persistence"
)

// InstanceRepository stores workflow instances in PostgreSQL.
type InstanceRepository struct {
	db *sql.DB
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

func (ir *InstanceRepository) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	contextJSON, err := json.Marshal(instance.Context)
	if err != nil {
		return persistence.NewInstanceError("Save", instance.ID, err)
	}

	query := `
		INSERT INTO workflow_instances (id, workflow_type, current_state, priority, context, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			current_state = EXCLUDED.current_state,
			priority = EXCLUDED.priority,
			context = EXCLUDED.context,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
	`

	_, err = ir.db.ExecContext(ctx, query,
		instance.ID,
		string(instance.WorkflowType),
		string(instance.CurrentState),
		instance.Priority,
		contextJSON,
		instance.Version,
		instance.CreatedAt,
		instance.UpdatedAt,
	)
	if err != nil {
		return persistence.NewInstanceError("Save", instance.ID, err)
	}

	return nil
}

func (ir *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	query := `
		SELECT id, workflow_type, current_state, priority, context, version, created_at, updated_at
		FROM workflow_instances
		WHERE id = $1
	`

	instance, err := scanInstance(ir.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
	}

	if err != nil {
		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	return instance, nil
}

// UpdateState is the conditional write backing per-workflow transition
// serialization. Zero rows affected means the expected version was stale.
func (ir *InstanceRepository) UpdateState(ctx context.Context, id string, expectedVersion int, newState models.State) error {
	query := `
		UPDATE workflow_instances
		SET current_state = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4
	`

	result, err := ir.db.ExecContext(ctx, query, string(newState), time.Now().UTC(), id, expectedVersion)
	if err != nil {
		return persistence.NewInstanceError("UpdateState", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewInstanceError("UpdateState", id, err)
	}

	if affected == 0 {
		_, getErr := ir.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}

		return persistence.NewInstanceError("UpdateState", id, persistence.ErrVersionConflict)
	}

	return nil
}

func (ir *InstanceRepository) List(ctx context.Context) ([]*models.WorkflowInstance, error) {
	query := `
		SELECT id, workflow_type, current_state, priority, context, version, created_at, updated_at
		FROM workflow_instances
		ORDER BY created_at
	`

	rows, err := ir.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow instances: %w", err)
	}
	defer rows.Close()

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
		}

		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflow instances: %w", err)
	}

	return instances, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*models.WorkflowInstance, error) {
	var (
		instance    models.WorkflowInstance
		contextJSON []byte
	)

	err := row.Scan(
		&instance.ID,
		&instance.WorkflowType,
		&instance.CurrentState,
		&instance.Priority,
		&contextJSON,
		&instance.Version,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(contextJSON) > 0 {
		err = json.Unmarshal(contextJSON, &instance.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal instance context: %w", err)
		}
	}

	return &instance, nil
}
