package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/brandkit/conveyor/pkg/models"
)

// TransitionRepository stores the append-only transition log. Each workflow
// gets one JSON file holding its ordered transition list.
type TransitionRepository struct {
	root string
	mu   sync.Mutex
}

// NewTransitionRepository creates a new transition repository.
func NewTransitionRepository(root string) *TransitionRepository {
	return &TransitionRepository{root: root}
}

func (tr *TransitionRepository) dir() string {
	return filepath.Join(tr.root, "transitions")
}

func (tr *TransitionRepository) Append(ctx context.Context, transition *models.StateTransition) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	var transitions []*models.StateTransition

	_, err := readJSON(tr.dir(), transition.WorkflowID, &transitions)
	if err != nil {
		return fmt.Errorf("failed to load transitions for %s: %w", transition.WorkflowID, err)
	}

	transitions = append(transitions, transition)

	err = writeJSON(tr.dir(), transition.WorkflowID, transitions)
	if err != nil {
		return fmt.Errorf("failed to append transition for %s: %w", transition.WorkflowID, err)
	}

	return nil
}

func (tr *TransitionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.StateTransition, error) {
	var transitions []*models.StateTransition

	found, err := readJSON(tr.dir(), workflowID, &transitions)
	if err != nil {
		return nil, fmt.Errorf("failed to read transitions for %s: %w", workflowID, err)
	}

	if !found {
		return []*models.StateTransition{}, nil
	}

	sort.Slice(transitions, func(i, j int) bool {
		return transitions[i].Timestamp.Before(transitions[j].Timestamp)
	})

	return transitions, nil
}
