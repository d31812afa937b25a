// Package memory provides in-memory store implementations used for
// development, tests, and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
)

// JobStore is an in-memory crawl.JobStore.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawl.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]crawl.Job)}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawl.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job. The first
// transition to running stamps Started; any terminal status stamps
// Finished. A job in a terminal status only accepts updates that keep
// that status.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawl.JobStatus,
	errText string,
	counters crawl.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %q: %w", jobID, crawl.ErrNotFound)
	}
	if job.Status.IsTerminal() && status != job.Status {
		return fmt.Errorf("job %q is %s: %w", jobID, job.Status, crawl.ErrJobSettled)
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := time.Now().UTC()
	if status == crawl.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if status.IsTerminal() {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawl.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawl.Job{}, fmt.Errorf("job %q: %w", jobID, crawl.ErrNotFound)
	}
	return job, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
