package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
)

// FrontierStore is a Postgres-backed crawl.FrontierStore. Claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never receive the same
// entry.
type FrontierStore struct {
	pool Pool
}

// NewFrontierStore constructs a FrontierStore over an existing pool.
func NewFrontierStore(pool Pool) *FrontierStore {
	return &FrontierStore{pool: pool}
}

// Add inserts new frontier entries, ignoring URLs already present for the
// job, and returns how many rows were actually inserted.
func (s *FrontierStore) Add(ctx context.Context, entries []crawl.CrawlURL) (int, error) {
	added := 0
	for _, e := range entries {
		status := e.Status
		if status == "" {
			status = crawl.URLStatusPending
		}
		tag, err := s.pool.Exec(ctx, `
INSERT INTO crawl_urls (job_id, url, source, status, attempts)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (job_id, url) DO NOTHING`,
			e.JobID, e.URL, string(e.Source), string(status), e.Attempts,
		)
		if err != nil {
			return added, fmt.Errorf("insert frontier entry: %w", err)
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

// Claim atomically moves up to limit claimable entries to in_progress and
// returns them in discovery order.
func (s *FrontierStore) Claim(ctx context.Context, jobID string, limit int) ([]crawl.CrawlURL, error) {
	rows, err := s.pool.Query(ctx, `
UPDATE crawl_urls SET status = 'in_progress', attempts = attempts + 1
WHERE (job_id, url) IN (
	SELECT job_id, url FROM crawl_urls
	WHERE job_id = $1 AND status IN ('pending', 'retrying')
	ORDER BY url
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
RETURNING job_id, url, source, status, attempts, last_error_kind, last_attempt_at`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim frontier entries: %w", err)
	}
	defer rows.Close()

	var claimed []crawl.CrawlURL
	for rows.Next() {
		entry, err := scanCrawlURL(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed entries: %w", err)
	}
	return claimed, nil
}

// Resolve records the outcome of a claimed entry.
func (s *FrontierStore) Resolve(
	ctx context.Context,
	jobID, url string,
	status crawl.URLStatus,
	kind crawl.ErrorKind,
	attemptAt time.Time,
) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_urls SET status = $3, last_error_kind = $4, last_attempt_at = $5
WHERE job_id = $1 AND url = $2`,
		jobID, url, string(status), string(kind), attemptAt,
	)
	if err != nil {
		return fmt.Errorf("resolve frontier entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("frontier entry %q/%q: %w", jobID, url, crawl.ErrNotFound)
	}
	return nil
}

// PendingCount reports how many entries are still claimable for a job.
func (s *FrontierStore) PendingCount(ctx context.Context, jobID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
SELECT count(*) FROM crawl_urls
WHERE job_id = $1 AND status IN ('pending', 'retrying')`, jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending entries: %w", err)
	}
	return count, nil
}

// List returns every entry for a job.
func (s *FrontierStore) List(ctx context.Context, jobID string) ([]crawl.CrawlURL, error) {
	rows, err := s.pool.Query(ctx, `
SELECT job_id, url, source, status, attempts, last_error_kind, last_attempt_at
FROM crawl_urls WHERE job_id = $1 ORDER BY url`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list frontier entries: %w", err)
	}
	defer rows.Close()

	var entries []crawl.CrawlURL
	for rows.Next() {
		entry, err := scanCrawlURL(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frontier entries: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCrawlURL(row rowScanner) (crawl.CrawlURL, error) {
	var (
		entry  crawl.CrawlURL
		source string
		status string
		kind   string
	)
	err := row.Scan(&entry.JobID, &entry.URL, &source, &status, &entry.Attempts, &kind, &entry.LastAttempt)
	if err != nil {
		return crawl.CrawlURL{}, fmt.Errorf("scan frontier entry: %w", err)
	}
	entry.Source = crawl.DiscoverySource(source)
	entry.Status = crawl.URLStatus(status)
	entry.LastErrorKind = crawl.ErrorKind(kind)
	return entry, nil
}
