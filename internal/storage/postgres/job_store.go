package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
)

// JobStore is a Postgres-backed crawl.JobStore.
type JobStore struct {
	pool Pool
}

// NewJobStore constructs a JobStore over an existing pool.
func NewJobStore(pool Pool) *JobStore {
	return &JobStore{pool: pool}
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawl.Job) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO crawl_jobs (id, status, submitted_at, error_text, parameters, counters)
VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, string(job.Status), job.Submitted, job.ErrorText, params, counters,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus updates status, error text, and counters. The first
// transition to running stamps started_at; terminal states stamp
// finished_at. A job already in a terminal status only accepts updates
// that keep that status, so a late progress write cannot overwrite an
// external cancel.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawl.JobStatus,
	errText string,
	counters crawl.JobCounters,
) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_jobs SET
	status = $2,
	error_text = $3,
	counters = $4,
	started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN now() ELSE finished_at END
WHERE id = $1
  AND (status NOT IN ('completed', 'failed', 'cancelled') OR status = $2)`,
		jobID, string(status), errText, countersJSON,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.pool.QueryRow(ctx, `SELECT status FROM crawl_jobs WHERE id = $1`, jobID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("job %q: %w", jobID, crawl.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check job: %w", err)
		}
		return fmt.Errorf("job %q is %s: %w", jobID, current, crawl.ErrJobSettled)
	}
	return nil
}

// GetJob fetches one job row.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawl.Job, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, status, submitted_at, started_at, finished_at, error_text, parameters, counters
FROM crawl_jobs WHERE id = $1`, jobID)

	var (
		job          crawl.Job
		status       string
		paramsJSON   []byte
		countersJSON []byte
	)
	err := row.Scan(&job.ID, &status, &job.Submitted, &job.Started, &job.Finished, &job.ErrorText, &paramsJSON, &countersJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.Job{}, fmt.Errorf("job %q: %w", jobID, crawl.ErrNotFound)
		}
		return crawl.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.Status = crawl.JobStatus(status)
	if err := json.Unmarshal(paramsJSON, &job.Parameters); err != nil {
		return crawl.Job{}, fmt.Errorf("decode parameters: %w", err)
	}
	if err := json.Unmarshal(countersJSON, &job.Counters); err != nil {
		return crawl.Job{}, fmt.Errorf("decode counters: %w", err)
	}
	return job, nil
}
