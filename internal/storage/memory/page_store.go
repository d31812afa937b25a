package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
)

// PageStore is an in-memory crawl.PageStore keyed by normalized URL.
type PageStore struct {
	mu    sync.RWMutex
	byURL map[string]crawl.Page
}

// NewPageStore constructs a PageStore.
func NewPageStore() *PageStore {
	return &PageStore{byURL: make(map[string]crawl.Page)}
}

// RecordPage stores a page snapshot. When a snapshot already exists for
// the URL with the same content hash, the existing page is returned and
// nothing is written; a differing hash replaces the snapshot.
func (s *PageStore) RecordPage(_ context.Context, page crawl.Page) (crawl.Page, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byURL[page.URL]; ok && existing.ContentHash == page.ContentHash {
		return existing, false, nil
	}
	s.byURL[page.URL] = page
	return page, true, nil
}

// GetPageByURL fetches the current snapshot for a URL.
func (s *PageStore) GetPageByURL(_ context.Context, url string) (crawl.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.byURL[url]
	if !ok {
		return crawl.Page{}, fmt.Errorf("page %q: %w", url, crawl.ErrNotFound)
	}
	return page, nil
}
