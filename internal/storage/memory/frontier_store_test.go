package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
)

func seedFrontier(t *testing.T, store *FrontierStore, jobID string, urls ...string) {
	t.Helper()
	entries := make([]crawl.CrawlURL, 0, len(urls))
	for _, u := range urls {
		entries = append(entries, crawl.CrawlURL{JobID: jobID, URL: u, Source: crawl.SourceSeed})
	}
	added, err := store.Add(context.Background(), entries)
	require.NoError(t, err)
	require.Equal(t, len(urls), added)
}

func TestFrontierAddDeduplicates(t *testing.T) {
	t.Parallel()

	store := NewFrontierStore()
	ctx := context.Background()
	seedFrontier(t, store, "job-1", "https://example.com/a", "https://example.com/b")

	added, err := store.Add(ctx, []crawl.CrawlURL{
		{JobID: "job-1", URL: "https://example.com/a", Source: crawl.SourceLink},
		{JobID: "job-1", URL: "https://example.com/c", Source: crawl.SourceLink},
	})
	require.NoError(t, err)
	require.Equal(t, 1, added)

	// The same URL under another job is a separate entry.
	added, err = store.Add(ctx, []crawl.CrawlURL{{JobID: "job-2", URL: "https://example.com/a"}})
	require.NoError(t, err)
	require.Equal(t, 1, added)
}

func TestFrontierClaimTransitionsAndCounts(t *testing.T) {
	t.Parallel()

	store := NewFrontierStore()
	ctx := context.Background()
	seedFrontier(t, store, "job-1", "https://example.com/a", "https://example.com/b", "https://example.com/c")

	claimed, err := store.Claim(ctx, "job-1", 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	for _, c := range claimed {
		require.Equal(t, crawl.URLStatusInProgress, c.Status)
		require.Equal(t, 1, c.Attempts)
	}

	// Claimed entries are not claimable again.
	again, err := store.Claim(ctx, "job-1", 10)
	require.NoError(t, err)
	require.Len(t, again, 1)

	pending, err := store.PendingCount(ctx, "job-1")
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestFrontierResolveAndRetry(t *testing.T) {
	t.Parallel()

	store := NewFrontierStore()
	ctx := context.Background()
	seedFrontier(t, store, "job-1", "https://example.com/a")

	claimed, err := store.Claim(ctx, "job-1", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	at := time.Now().UTC()
	require.NoError(t, store.Resolve(ctx, "job-1", "https://example.com/a", crawl.URLStatusRetrying, crawl.ErrKindHTTPServer, at))

	pending, err := store.PendingCount(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, 1, pending, "retrying entries are claimable again")

	claimed, err = store.Claim(ctx, "job-1", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, 2, claimed[0].Attempts)

	require.NoError(t, store.Resolve(ctx, "job-1", "https://example.com/a", crawl.URLStatusSucceeded, crawl.ErrKindNone, at))
	entries, err := store.List(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, crawl.URLStatusSucceeded, entries[0].Status)
	require.NotNil(t, entries[0].LastAttempt)
}

func TestFrontierResolveUnknown(t *testing.T) {
	t.Parallel()

	store := NewFrontierStore()
	err := store.Resolve(context.Background(), "job-1", "https://example.com/a", crawl.URLStatusFailed, crawl.ErrKindTimeout, time.Now())
	require.ErrorIs(t, err, crawl.ErrNotFound)
}

func TestFrontierClaimPreservesDiscoveryOrder(t *testing.T) {
	t.Parallel()

	store := NewFrontierStore()
	ctx := context.Background()
	seedFrontier(t, store, "job-1", "https://example.com/1", "https://example.com/2", "https://example.com/3")

	claimed, err := store.Claim(ctx, "job-1", 3)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/1", claimed[0].URL)
	require.Equal(t, "https://example.com/2", claimed[1].URL)
	require.Equal(t, "https://example.com/3", claimed[2].URL)
}
