// Package file provides file-based persistence for local development and tests.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brandkit/conveyor/pkg/persistence"
)

// Persistence implements persistence.Persistence on top of the file system.
// Conditional writes are serialized with in-process locks, so a single
// process owns the data directory at a time.
type Persistence struct {
	root            string
	instanceRepo    *InstanceRepository
	transitionRepo  *TransitionRepository
	jobRepo         *JobRepository
	triggerEventsRp *TriggerEventRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:            cleanRoot,
		instanceRepo:    NewInstanceRepository(cleanRoot),
		transitionRepo:  NewTransitionRepository(cleanRoot),
		jobRepo:         NewJobRepository(cleanRoot),
		triggerEventsRp: NewTriggerEventRepository(cleanRoot),
	}
}

func (fp *Persistence) Instances() persistence.InstanceRepository {
	return fp.instanceRepo
}

func (fp *Persistence) Transitions() persistence.TransitionRepository {
	return fp.transitionRepo
}

func (fp *Persistence) Jobs() persistence.JobRepository {
	return fp.jobRepo
}

func (fp *Persistence) TriggerEvents() persistence.TriggerEventRepository {
	return fp.triggerEventsRp
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// validID rejects record IDs that would escape the data directory when used
// as a file name.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}

	return !strings.ContainsAny(id, `/\`)
}

func writeJSON(dir, id string, v any) error {
	if !validID(id) {
		return fmt.Errorf("invalid record id %q", id)
	}

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	// Write to a temp file and rename so readers never see a torn record.
	tmp, err := os.CreateTemp(dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", id, err)
	}

	_, err = tmp.Write(data)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	err = tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	err = os.Rename(tmp.Name(), filepath.Join(dir, id+".json"))
	if err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	return nil
}

func readJSON(dir, id string, v any) (bool, error) {
	if !validID(id) {
		return false, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, id+".json"))
	if os.IsNotExist(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", id, err)
	}

	err = json.Unmarshal(data, v)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}

	return true, nil
}
