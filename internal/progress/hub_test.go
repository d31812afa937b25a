package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHubFlushBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:    8,
		FlushEvents:   2,
		FlushInterval: time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(StageJobStart)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushByInterval(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:    4,
		FlushEvents:   10,
		FlushInterval: 25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageJobStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	// Tiny buffer and a sink that never returns; extra emits must drop
	// instead of blocking the caller.
	hub := NewHub(Config{
		BufferSize:    1,
		FlushEvents:   100,
		FlushInterval: time.Minute,
	}, blockedSink{})

	start := time.Now()
	for i := 0; i < 50; i++ {
		hub.Emit(sampleEvent(StageJobStart))
	}
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:    4,
		FlushEvents:   100,
		FlushInterval: time.Minute,
	}, sink)

	hub.Emit(sampleEvent(StageJobStart))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, FlushEvents: 1}, sink)

	hub.Emit(Event{Stage: StageJobStart}) // missing job id and timestamp

	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

type blockedSink struct{}

func (blockedSink) Consume(ctx context.Context, _ []Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockedSink) Close(context.Context) error { return nil }

func sampleEvent(stage Stage) Event {
	evt := Event{
		JobID: "job-1",
		TS:    time.Now().UTC(),
		Stage: stage,
		Site:  "example.com",
	}
	if stage == StageURLDone {
		evt.URL = "https://example.com/page"
		evt.FetchStatus = "success"
	}
	return evt
}
