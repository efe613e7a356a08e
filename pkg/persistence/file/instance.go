package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/persistence"
)

// InstanceRepository handles workflow instance file operations.
type InstanceRepository struct {
	root string
	mu   sync.Mutex
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(root string) *InstanceRepository {
	return &InstanceRepository{root: root}
}

func (ir *InstanceRepository) dir() string {
	return filepath.Join(ir.root, "instances")
}

func (ir *InstanceRepository) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	err := writeJSON(ir.dir(), instance.ID, instance)
	if err != nil {
		return persistence.NewInstanceError("Save", instance.ID, err)
	}

	return nil
}

func (ir *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance

	found, err := readJSON(ir.dir(), id, &instance)
	if err != nil {
		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	if !found {
		return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
	}

	return &instance, nil
}

// UpdateState applies a conditional state change. The write only happens when
// the stored version matches expectedVersion; a mismatch means another
// transition won the race.
func (ir *InstanceRepository) UpdateState(ctx context.Context, id string, expectedVersion int, newState models.State) error {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	var instance models.WorkflowInstance

	found, err := readJSON(ir.dir(), id, &instance)
	if err != nil {
		return persistence.NewInstanceError("UpdateState", id, err)
	}

	if !found {
		return persistence.NewInstanceError("UpdateState", id, persistence.ErrInstanceNotFound)
	}

	if instance.Version != expectedVersion {
		return persistence.NewInstanceError("UpdateState", id, persistence.ErrVersionConflict)
	}

	instance.CurrentState = newState
	instance.Version++
	instance.UpdatedAt = time.Now().UTC()

	err = writeJSON(ir.dir(), id, &instance)
	if err != nil {
		return persistence.NewInstanceError("UpdateState", id, err)
	}

	return nil
}

func (ir *InstanceRepository) List(ctx context.Context) ([]*models.WorkflowInstance, error) {
	if _, err := os.Stat(ir.dir()); os.IsNotExist(err) {
		return []*models.WorkflowInstance{}, nil
	}

	jsonFiles, err := fs.Glob(os.DirFS(ir.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list instance files: %w", err)
	}

	instances := make([]*models.WorkflowInstance, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		id := file[:len(file)-len(".json")]

		instance, err := ir.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		instances = append(instances, instance)
	}

	return instances, nil
}
