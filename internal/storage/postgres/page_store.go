package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
)

// PageStore is a Postgres-backed crawl.PageStore.
type PageStore struct {
	pool Pool
}

// NewPageStore constructs a PageStore over an existing pool.
func NewPageStore(pool Pool) *PageStore {
	return &PageStore{pool: pool}
}

// RecordPage upserts a page snapshot keyed by URL. When the stored hash
// matches the incoming one the existing row wins and nothing changes.
func (s *PageStore) RecordPage(ctx context.Context, page crawl.Page) (crawl.Page, bool, error) {
	existing, err := s.GetPageByURL(ctx, page.URL)
	switch {
	case err == nil:
		if existing.ContentHash == page.ContentHash {
			return existing, false, nil
		}
		_, err = s.pool.Exec(ctx, `
UPDATE pages SET id = $2, title = $3, content = $4, word_count = $5, content_hash = $6, archive_uri = $7, fetched_at = $8
WHERE url = $1`,
			page.URL, page.ID, page.Title, page.Text, page.WordCount, page.ContentHash, page.ArchiveURI, page.FetchedAt,
		)
		if err != nil {
			return crawl.Page{}, false, fmt.Errorf("update page: %w", err)
		}
		return page, true, nil
	case crawl.IsNotFound(err):
		_, err = s.pool.Exec(ctx, `
INSERT INTO pages (id, url, title, content, word_count, content_hash, archive_uri, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			page.ID, page.URL, page.Title, page.Text, page.WordCount, page.ContentHash, page.ArchiveURI, page.FetchedAt,
		)
		if err != nil {
			return crawl.Page{}, false, fmt.Errorf("insert page: %w", err)
		}
		return page, true, nil
	default:
		return crawl.Page{}, false, err
	}
}

// GetPageByURL fetches the snapshot for a URL.
func (s *PageStore) GetPageByURL(ctx context.Context, url string) (crawl.Page, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, url, title, content, word_count, content_hash, archive_uri, fetched_at
FROM pages WHERE url = $1`, url)

	var page crawl.Page
	err := row.Scan(&page.ID, &page.URL, &page.Title, &page.Text, &page.WordCount, &page.ContentHash, &page.ArchiveURI, &page.FetchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.Page{}, fmt.Errorf("page %q: %w", url, crawl.ErrNotFound)
		}
		return crawl.Page{}, fmt.Errorf("scan page: %w", err)
	}
	return page, nil
}
