package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
)

func TestPageStoreRecordAndFetch(t *testing.T) {
	t.Parallel()

	store := NewPageStore()
	ctx := context.Background()
	page := crawl.Page{
		ID:          "page-1",
		URL:         "https://example.com/a",
		Title:       "A",
		Text:        "content",
		WordCount:   1,
		ContentHash: "hash-1",
		FetchedAt:   time.Now().UTC(),
	}

	stored, isNew, err := store.RecordPage(ctx, page)
	require.NoError(t, err)
	require.True(t, isNew)
	require.Equal(t, "page-1", stored.ID)

	got, err := store.GetPageByURL(ctx, "https://example.com/a")
	require.NoError(t, err)
	require.Equal(t, page, got)
}

func TestPageStoreUnchangedHashIsNoop(t *testing.T) {
	t.Parallel()

	store := NewPageStore()
	ctx := context.Background()
	original := crawl.Page{ID: "page-1", URL: "https://example.com/a", ContentHash: "hash-1"}

	_, isNew, err := store.RecordPage(ctx, original)
	require.NoError(t, err)
	require.True(t, isNew)

	// Re-crawl with identical content: the first snapshot survives.
	recrawl := crawl.Page{ID: "page-2", URL: "https://example.com/a", ContentHash: "hash-1"}
	stored, isNew, err := store.RecordPage(ctx, recrawl)
	require.NoError(t, err)
	require.False(t, isNew)
	require.Equal(t, "page-1", stored.ID)

	// Changed content replaces the snapshot.
	changed := crawl.Page{ID: "page-3", URL: "https://example.com/a", ContentHash: "hash-2"}
	stored, isNew, err = store.RecordPage(ctx, changed)
	require.NoError(t, err)
	require.True(t, isNew)
	require.Equal(t, "page-3", stored.ID)
}

func TestPageStoreNotFound(t *testing.T) {
	t.Parallel()

	store := NewPageStore()
	_, err := store.GetPageByURL(context.Background(), "https://example.com/missing")
	require.ErrorIs(t, err, crawl.ErrNotFound)
}
