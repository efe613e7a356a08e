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

// JobRepository stores queued work units in PostgreSQL.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (jr *JobRepository) Save(ctx context.Context, job *models.Job) error {
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return persistence.NewJobError("Save", job.ID, err)
	}

	query := `
		INSERT INTO jobs (id, workflow_id, payload, priority, status, attempt, worker_id, enqueued_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempt = EXCLUDED.attempt,
			worker_id = EXCLUDED.worker_id,
			updated_at = EXCLUDED.updated_at
	`

	_, err = jr.db.ExecContext(ctx, query,
		job.ID,
		nullableString(job.WorkflowID),
		payloadJSON,
		job.Priority,
		string(job.Status),
		job.Attempt,
		nullableString(job.WorkerID),
		job.EnqueuedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return persistence.NewJobError("Save", job.ID, err)
	}

	return nil
}

func (jr *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	query := `
		SELECT id, workflow_id, payload, priority, status, attempt, worker_id, enqueued_at, updated_at
		FROM jobs
		WHERE id = $1
	`

	job, err := scanJob(jr.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewJobError("GetByID", id, persistence.ErrJobNotFound)
	}

	if err != nil {
		return nil, persistence.NewJobError("GetByID", id, err)
	}

	return job, nil
}

// CASStatus performs the atomic queued→assigned style handoff. Zero rows
// affected means the job was not in the expected status.
func (jr *JobRepository) CASStatus(ctx context.Context, id string, expected, next models.JobStatus) error {
	query := `
		UPDATE jobs
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := jr.db.ExecContext(ctx, query, string(next), time.Now().UTC(), id, string(expected))
	if err != nil {
		return persistence.NewJobError("CASStatus", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewJobError("CASStatus", id, err)
	}

	if affected == 0 {
		_, getErr := jr.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}

		return persistence.NewJobError("CASStatus", id, persistence.ErrStatusConflict)
	}

	return nil
}

func (jr *JobRepository) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	query := `
		SELECT id, workflow_id, payload, priority, status, attempt, worker_id, enqueued_at, updated_at
		FROM jobs
		WHERE status = $1
		ORDER BY priority DESC, enqueued_at
	`

	return jr.queryJobs(ctx, query, string(status))
}

func (jr *JobRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Job, error) {
	query := `
		SELECT id, workflow_id, payload, priority, status, attempt, worker_id, enqueued_at, updated_at
		FROM jobs
		WHERE workflow_id = $1
		ORDER BY enqueued_at
	`

	return jr.queryJobs(ctx, query, workflowID)
}

func (jr *JobRepository) queryJobs(ctx context.Context, query string, arg any) ([]*models.Job, error) {
	rows, err := jr.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.Job, 0)

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	return jobs, nil
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job         models.Job
		workflowID  sql.NullString
		workerID    sql.NullString
		payloadJSON []byte
	)

	err := row.Scan(
		&job.ID,
		&workflowID,
		&payloadJSON,
		&job.Priority,
		&job.Status,
		&job.Attempt,
		&workerID,
		&job.EnqueuedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.WorkflowID = workflowID.String
	job.WorkerID = workerID.String

	err = json.Unmarshal(payloadJSON, &job.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job payload: %w", err)
	}

	return &job, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
