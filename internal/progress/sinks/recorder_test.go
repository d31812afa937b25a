package sinks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thehouseofbailey/personamapper/internal/progress"
)

func TestRecorderKeepsEventsPerJob(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(10)
	batch := []progress.Event{
		{JobID: "job-1", TS: time.Now(), Stage: progress.StageJobStart},
		{JobID: "job-2", TS: time.Now(), Stage: progress.StageJobStart},
		{JobID: "job-1", TS: time.Now(), Stage: progress.StageJobDone},
	}
	require.NoError(t, rec.Consume(context.Background(), batch))

	events := rec.JobEvents("job-1")
	require.Len(t, events, 2)
	require.Equal(t, progress.StageJobStart, events[0].Stage)
	require.Equal(t, progress.StageJobDone, events[1].Stage)

	require.Len(t, rec.JobEvents("job-2"), 1)
	require.Empty(t, rec.JobEvents("unknown"))
}

func TestRecorderTrimsOldestBeyondLimit(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(3)
	var batch []progress.Event
	for i := 0; i < 5; i++ {
		batch = append(batch, progress.Event{
			JobID: "job-1",
			TS:    time.Now(),
			Stage: progress.StageURLDone,
			URL:   fmt.Sprintf("https://example.com/%d", i),
		})
	}
	require.NoError(t, rec.Consume(context.Background(), batch))

	events := rec.JobEvents("job-1")
	require.Len(t, events, 3)
	require.Equal(t, "https://example.com/2", events[0].URL)
	require.Equal(t, "https://example.com/4", events[2].URL)
}
