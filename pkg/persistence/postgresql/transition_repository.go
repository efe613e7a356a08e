package postgresql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/brandkit/conveyor/pkg/models"
)

// TransitionRepository stores the append-only transition audit trail.
type TransitionRepository struct {
	db *sql.DB
}

// NewTransitionRepository creates a new transition repository.
func NewTransitionRepository(db *sql.DB) *TransitionRepository {
	return &TransitionRepository{db: db}
}

func (tr *TransitionRepository) Append(ctx context.Context, transition *models.StateTransition) error {
	query := `
		INSERT INTO state_transitions (id, workflow_id, from_state, to_state, triggered_by, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := tr.db.ExecContext(ctx, query,
		transition.ID,
		transition.WorkflowID,
		string(transition.FromState),
		string(transition.ToState),
		transition.TriggeredBy,
		string(transition.Outcome),
		transition.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append transition for workflow %s: %w", transition.WorkflowID, err)
	}

	return nil
}

func (tr *TransitionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.StateTransition, error) {
	query := `
		SELECT id, workflow_id, from_state, to_state, triggered_by, outcome, created_at
		FROM state_transitions
		WHERE workflow_id = $1
		ORDER BY created_at
	`

	rows, err := tr.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions for workflow %s: %w", workflowID, err)
	}
	defer rows.Close()

	transitions := make([]*models.StateTransition, 0)

	for rows.Next() {
		var transition models.StateTransition

		err := rows.Scan(
			&transition.ID,
			&transition.WorkflowID,
			&transition.FromState,
			&transition.ToState,
			&transition.TriggeredBy,
			&transition.Outcome,
			&transition.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}

		transitions = append(transitions, &transition)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transitions: %w", err)
	}

	return transitions, nil
}
