package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
	queueMemory "github.com/thehouseofbailey/personamapper/internal/queue/memory"
)

type recordingRunner struct {
	mu   sync.Mutex
	jobs []string
	done chan struct{}
	want int
}

func newRecordingRunner(want int) *recordingRunner {
	return &recordingRunner{done: make(chan struct{}), want: want}
}

func (r *recordingRunner) Run(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, jobID)
	if len(r.jobs) == r.want {
		close(r.done)
	}
	return nil
}

func (r *recordingRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.jobs...)
}

func TestDispatcherRunsEnqueuedJobs(t *testing.T) {
	t.Parallel()

	queue := queueMemory.NewQueue(4)
	runner := newRecordingRunner(2)
	dispatch := New(queue, runner, 2, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	require.NoError(t, dispatch.Enqueue(ctx, crawl.QueueItem{JobID: "job-1"}))
	require.NoError(t, dispatch.Enqueue(ctx, crawl.QueueItem{JobID: "job-2"}))

	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("runners did not pick up jobs")
	}
	require.ElementsMatch(t, []string{"job-1", "job-2"}, runner.seen())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherStopsOnClosedQueue(t *testing.T) {
	t.Parallel()

	queue := queueMemory.NewQueue(1)
	dispatch := New(queue, newRecordingRunner(1), 1, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	queue.Close()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after queue close")
	}
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, newRecordingRunner(1), 1, zap.NewNop())

	err := dispatch.Enqueue(context.Background(), crawl.QueueItem{JobID: "job"})
	require.EqualError(t, err, "queue enqueue: boom")
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawl.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(ctx context.Context) (crawl.QueueItem, error) {
	<-ctx.Done()
	return crawl.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
}

func (q *errorQueue) Close() {}
