package memory

import (
	"context"
	"sync"
	"time"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
)

// FrontierStore is an in-memory crawl.FrontierStore. Entries keep their
// discovery order so claims are roughly breadth-first.
type FrontierStore struct {
	mu      sync.Mutex
	entries map[string][]*crawl.CrawlURL
	index   map[string]map[string]*crawl.CrawlURL
}

// NewFrontierStore constructs a FrontierStore.
func NewFrontierStore() *FrontierStore {
	return &FrontierStore{
		entries: make(map[string][]*crawl.CrawlURL),
		index:   make(map[string]map[string]*crawl.CrawlURL),
	}
}

// Add inserts entries that are not already present for their job and
// returns how many were new. Duplicate URLs within one job are ignored,
// whatever state the existing entry is in.
func (s *FrontierStore) Add(_ context.Context, entries []crawl.CrawlURL) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, e := range entries {
		byURL, ok := s.index[e.JobID]
		if !ok {
			byURL = make(map[string]*crawl.CrawlURL)
			s.index[e.JobID] = byURL
		}
		if _, dup := byURL[e.URL]; dup {
			continue
		}
		entry := e
		if entry.Status == "" {
			entry.Status = crawl.URLStatusPending
		}
		byURL[entry.URL] = &entry
		s.entries[entry.JobID] = append(s.entries[entry.JobID], &entry)
		added++
	}
	return added, nil
}

// Claim atomically moves up to limit pending or retrying entries to
// in_progress and returns copies of them.
func (s *FrontierStore) Claim(_ context.Context, jobID string, limit int) ([]crawl.CrawlURL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []crawl.CrawlURL
	for _, entry := range s.entries[jobID] {
		if limit > 0 && len(claimed) >= limit {
			break
		}
		if entry.Status != crawl.URLStatusPending && entry.Status != crawl.URLStatusRetrying {
			continue
		}
		entry.Status = crawl.URLStatusInProgress
		entry.Attempts++
		claimed = append(claimed, *entry)
	}
	return claimed, nil
}

// Resolve records the outcome of a claimed entry.
func (s *FrontierStore) Resolve(
	_ context.Context,
	jobID, url string,
	status crawl.URLStatus,
	kind crawl.ErrorKind,
	attemptAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byURL, ok := s.index[jobID]
	if !ok {
		return crawl.ErrNotFound
	}
	entry, ok := byURL[url]
	if !ok {
		return crawl.ErrNotFound
	}
	entry.Status = status
	entry.LastErrorKind = kind
	at := attemptAt
	entry.LastAttempt = &at
	return nil
}

// PendingCount reports how many entries are still claimable for a job.
func (s *FrontierStore) PendingCount(_ context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, entry := range s.entries[jobID] {
		if entry.Status == crawl.URLStatusPending || entry.Status == crawl.URLStatusRetrying {
			count++
		}
	}
	return count, nil
}

// List returns copies of every entry for a job in discovery order.
func (s *FrontierStore) List(_ context.Context, jobID string) ([]crawl.CrawlURL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.entries[jobID]
	out := make([]crawl.CrawlURL, 0, len(entries))
	for _, entry := range entries {
		out = append(out, *entry)
	}
	return out, nil
}
