package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/persistence"
)

// TriggerEventRepository records ingress events, one file per event ID.
type TriggerEventRepository struct {
	root string
	mu   sync.Mutex
}

// NewTriggerEventRepository creates a new trigger event repository.
func NewTriggerEventRepository(root string) *TriggerEventRepository {
	return &TriggerEventRepository{root: root}
}

func (er *TriggerEventRepository) dir() string {
	return filepath.Join(er.root, "trigger_events")
}

// Record writes the event exactly once. A second call with the same ID
// returns ErrTriggerEventExists, which callers use for replay detection.
func (er *TriggerEventRepository) Record(ctx context.Context, event *models.TriggerEvent) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	if _, err := os.Stat(filepath.Join(er.dir(), event.ID+".json")); err == nil {
		return persistence.ErrTriggerEventExists
	}

	return writeJSON(er.dir(), event.ID, event)
}

func (er *TriggerEventRepository) GetByID(ctx context.Context, id string) (*models.TriggerEvent, error) {
	var event models.TriggerEvent

	found, err := readJSON(er.dir(), id, &event)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrTriggerEventNotFound
	}

	return &event, nil
}
