package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := crawl.Job{
		ID:        "job-1",
		Status:    crawl.JobStatusPending,
		Submitted: time.Now().UTC(),
		Parameters: crawl.JobParameters{
			RootURL:  "https://example.com",
			MaxPages: 10,
		},
	}

	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job), "duplicate IDs must be rejected")

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawl.JobStatusPending, got.Status)
	require.Nil(t, got.Started)

	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", crawl.JobStatusRunning, "", crawl.JobCounters{}))
	got, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got.Started)
	require.Nil(t, got.Finished)

	counters := crawl.JobCounters{PagesSucceeded: 7, PagesFailed: 1, MappingsCreated: 12}
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", crawl.JobStatusCompleted, "", counters))
	got, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawl.JobStatusCompleted, got.Status)
	require.Equal(t, counters, got.Counters)
	require.NotNil(t, got.Finished)
}

func TestJobStoreNotFound(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	_, err := store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, crawl.ErrNotFound)

	err = store.UpdateJobStatus(ctx, "missing", crawl.JobStatusRunning, "", crawl.JobCounters{})
	require.ErrorIs(t, err, crawl.ErrNotFound)
}

func TestJobStoreTerminalStatusIsFinal(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, crawl.Job{ID: "job-1", Status: crawl.JobStatusPending}))
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", crawl.JobStatusCancelled, "", crawl.JobCounters{}))

	// A progress heartbeat racing the cancel must not resurrect the job.
	err := store.UpdateJobStatus(ctx, "job-1", crawl.JobStatusRunning, "", crawl.JobCounters{PagesSucceeded: 2})
	require.ErrorIs(t, err, crawl.ErrJobSettled)

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawl.JobStatusCancelled, got.Status)

	// A same-status write still lands so final counters persist.
	counters := crawl.JobCounters{PagesSucceeded: 2}
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", crawl.JobStatusCancelled, "", counters))
	got, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, counters, got.Counters)
}

func TestJobStoreStartedStampedOnce(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, crawl.Job{ID: "job-1", Status: crawl.JobStatusPending}))

	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", crawl.JobStatusRunning, "", crawl.JobCounters{}))
	first, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)

	// Pause and resume must not move the original start time.
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", crawl.JobStatusPaused, "", crawl.JobCounters{}))
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", crawl.JobStatusRunning, "", crawl.JobCounters{}))
	second, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, first.Started, second.Started)
}
