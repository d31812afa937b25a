package sinks

import (
	"context"
	"sync"

	"github.com/thehouseofbailey/personamapper/internal/progress"
)

const defaultRecorderLimit = 256

// Recorder keeps the most recent events per job in memory so the API can
// stream them back to clients. Older events roll off once a job exceeds the
// per-job limit.
type Recorder struct {
	mu     sync.RWMutex
	limit  int
	events map[string][]progress.Event
}

// NewRecorder builds a Recorder retaining up to limit events per job.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = defaultRecorderLimit
	}
	return &Recorder{
		limit:  limit,
		events: make(map[string][]progress.Event),
	}
}

// Consume appends the batch to each job's ring of recent events.
func (r *Recorder) Consume(_ context.Context, batch []progress.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, evt := range batch {
		events := append(r.events[evt.JobID], evt)
		if over := len(events) - r.limit; over > 0 {
			events = events[over:]
		}
		r.events[evt.JobID] = events
	}
	return nil
}

// JobEvents returns a copy of the retained events for a job, oldest first.
func (r *Recorder) JobEvents(jobID string) []progress.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]progress.Event(nil), r.events[jobID]...)
}

// Close implements the Sink interface; it performs no action.
func (r *Recorder) Close(context.Context) error {
	return nil
}
