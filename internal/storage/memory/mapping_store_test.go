package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
	"github.com/thehouseofbailey/personamapper/internal/persona"
)

func TestMappingStoreReplaceSupersedes(t *testing.T) {
	t.Parallel()

	store := NewMappingStore()
	ctx := context.Background()

	first := []persona.ContentMapping{
		{PersonaID: "eng", Confidence: 0.8, Method: "keyword"},
		{PersonaID: "mgr", Confidence: 0.4, Method: "keyword"},
	}
	require.NoError(t, store.Replace(ctx, "page-1", first))

	active, err := store.ActiveForPage(ctx, "page-1")
	require.NoError(t, err)
	require.Len(t, active, 2)

	second := []persona.ContentMapping{
		{PersonaID: "eng", Confidence: 0.9, Method: "hybrid"},
	}
	require.NoError(t, store.Replace(ctx, "page-1", second))

	active, err = store.ActiveForPage(ctx, "page-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "eng", active[0].PersonaID)
	require.InDelta(t, 0.9, active[0].Confidence, 1e-9)
	require.Equal(t, "hybrid", active[0].Method)

	// History keeps the superseded rows.
	history, err := store.HistoryForPage(ctx, "page-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.False(t, history[0].Active)
	require.False(t, history[1].Active)
	require.True(t, history[2].Active)
}

func TestMappingStoreReplaceWithEmptyDeactivatesAll(t *testing.T) {
	t.Parallel()

	store := NewMappingStore()
	ctx := context.Background()
	require.NoError(t, store.Replace(ctx, "page-1", []persona.ContentMapping{{PersonaID: "eng", Confidence: 0.8}}))
	require.NoError(t, store.Replace(ctx, "page-1", nil))

	active, err := store.ActiveForPage(ctx, "page-1")
	require.NoError(t, err)
	require.Empty(t, active)

	history, err := store.HistoryForPage(ctx, "page-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestMappingStoreCountActiveForPersona(t *testing.T) {
	t.Parallel()

	store := NewMappingStore()
	ctx := context.Background()
	require.NoError(t, store.Replace(ctx, "page-1", []persona.ContentMapping{{PersonaID: "eng", Confidence: 0.8}}))
	require.NoError(t, store.Replace(ctx, "page-2", []persona.ContentMapping{
		{PersonaID: "eng", Confidence: 0.6},
		{PersonaID: "mgr", Confidence: 0.5},
	}))

	count, err := store.CountActiveForPersona(ctx, "eng")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	count, err = store.CountActiveForPersona(ctx, "mgr")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestPersonaStoreSnapshot(t *testing.T) {
	t.Parallel()

	store := NewPersonaStore([]persona.Persona{
		{ID: "b", Title: "Beta", Active: true},
		{ID: "a", Title: "Alpha", Active: true},
		{ID: "c", Title: "Gamma", Active: false},
	})
	ctx := context.Background()

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "Alpha", active[0].Title)
	require.Equal(t, "Beta", active[1].Title)

	inactive, err := store.Get(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, "Gamma", inactive.Title)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, crawl.ErrNotFound)
}
