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

// JobRepository handles job file operations.
type JobRepository struct {
	root string
	mu   sync.Mutex
}

// NewJobRepository creates a new job repository.
func NewJobRepository(root string) *JobRepository {
	return &JobRepository{root: root}
}

func (jr *JobRepository) dir() string {
	return filepath.Join(jr.root, "jobs")
}

func (jr *JobRepository) Save(ctx context.Context, job *models.Job) error {
	jr.mu.Lock()
	defer jr.mu.Unlock()

	err := writeJSON(jr.dir(), job.ID, job)
	if err != nil {
		return persistence.NewJobError("Save", job.ID, err)
	}

	return nil
}

func (jr *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job

	found, err := readJSON(jr.dir(), id, &job)
	if err != nil {
		return nil, persistence.NewJobError("GetByID", id, err)
	}

	if !found {
		return nil, persistence.NewJobError("GetByID", id, persistence.ErrJobNotFound)
	}

	return &job, nil
}

// CASStatus transitions a job's status only when the stored status matches
// expected, so two racing owners cannot both claim the job.
func (jr *JobRepository) CASStatus(ctx context.Context, id string, expected, next models.JobStatus) error {
	jr.mu.Lock()
	defer jr.mu.Unlock()

	var job models.Job

	found, err := readJSON(jr.dir(), id, &job)
	if err != nil {
		return persistence.NewJobError("CASStatus", id, err)
	}

	if !found {
		return persistence.NewJobError("CASStatus", id, persistence.ErrJobNotFound)
	}

	if job.Status != expected {
		return persistence.NewJobError("CASStatus", id, persistence.ErrStatusConflict)
	}

	job.Status = next
	job.UpdatedAt = time.Now().UTC()

	err = writeJSON(jr.dir(), id, &job)
	if err != nil {
		return persistence.NewJobError("CASStatus", id, err)
	}

	return nil
}

func (jr *JobRepository) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	jobs, err := jr.list(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Job, 0)

	for _, job := range jobs {
		if job.Status == status {
			filtered = append(filtered, job)
		}
	}

	return filtered, nil
}

func (jr *JobRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Job, error) {
	jobs, err := jr.list(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Job, 0)

	for _, job := range jobs {
		if job.WorkflowID == workflowID {
			filtered = append(filtered, job)
		}
	}

	return filtered, nil
}

func (jr *JobRepository) list(ctx context.Context) ([]*models.Job, error) {
	if _, err := os.Stat(jr.dir()); os.IsNotExist(err) {
		return []*models.Job{}, nil
	}

	jsonFiles, err := fs.Glob(os.DirFS(jr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list job files: %w", err)
	}

	jobs := make([]*models.Job, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		id := file[:len(file)-len(".json")]

		job, err := jr.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, job)
	}

	return jobs, nil
}
