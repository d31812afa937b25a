package predict

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
	"github.com/thehouseofbailey/personamapper/internal/metrics"
	"github.com/thehouseofbailey/personamapper/internal/persona"
)

func init() {
	metrics.Init()
}

type fakePages struct {
	byURL map[string]crawl.Page
}

func (f *fakePages) RecordPage(_ context.Context, page crawl.Page) (crawl.Page, bool, error) {
	return page, false, nil
}

func (f *fakePages) GetPageByURL(_ context.Context, url string) (crawl.Page, error) {
	page, ok := f.byURL[url]
	if !ok {
		return crawl.Page{}, fmt.Errorf("page %q: %w", url, crawl.ErrNotFound)
	}
	return page, nil
}

type fakeMappings struct {
	byPage map[string][]persona.ContentMapping
}

func (f *fakeMappings) Replace(_ context.Context, _ string, _ []persona.ContentMapping) error {
	return nil
}

func (f *fakeMappings) ActiveForPage(_ context.Context, pageID string) ([]persona.ContentMapping, error) {
	return f.byPage[pageID], nil
}

func (f *fakeMappings) CountActiveForPersona(_ context.Context, _ string) (int, error) {
	return 0, nil
}

type fakePersonas struct {
	byID map[string]persona.Persona
}

func (f *fakePersonas) ListActive(_ context.Context) ([]persona.Persona, error) {
	out := make([]persona.Persona, 0, len(f.byID))
	for _, p := range f.byID {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePersonas) Get(_ context.Context, id string) (persona.Persona, error) {
	p, ok := f.byID[id]
	if !ok {
		return persona.Persona{}, fmt.Errorf("persona %q: %w", id, crawl.ErrNotFound)
	}
	return p, nil
}

func newTestEngine() *Engine {
	pages := &fakePages{byURL: map[string]crawl.Page{
		"https://example.com/a": {ID: "page-a", URL: "https://example.com/a"},
		"https://example.com/b": {ID: "page-b", URL: "https://example.com/b"},
		"https://example.com/c": {ID: "page-c", URL: "https://example.com/c"},
	}}
	mappings := &fakeMappings{byPage: map[string][]persona.ContentMapping{
		"page-a": {
			{PageID: "page-a", PersonaID: "eng", Confidence: 0.9, Method: "keyword", Active: true},
			{PageID: "page-a", PersonaID: "mgr", Confidence: 0.4, Method: "keyword", Active: true},
		},
		"page-b": {
			{PageID: "page-b", PersonaID: "eng", Confidence: 0.7, Method: "keyword", Active: true},
		},
		"page-c": {
			{PageID: "page-c", PersonaID: "eng", Confidence: 0.8, Method: "keyword", Active: true},
			{PageID: "page-c", PersonaID: "mgr", Confidence: 0.6, Method: "keyword", Active: true},
		},
	}}
	personas := &fakePersonas{byID: map[string]persona.Persona{
		"eng": {ID: "eng", Title: "Engineer", Active: true},
		"mgr": {ID: "mgr", Title: "Manager", Active: true},
	}}
	return NewEngine(pages, mappings, personas, nil)
}

func visitedURLs() []string {
	return []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}
}

func TestPredictWeighted(t *testing.T) {
	t.Parallel()

	engine := newTestEngine()
	result, err := engine.Predict(context.Background(), visitedURLs(), StrategyWeighted, 0, 0)
	require.NoError(t, err)
	require.Len(t, result.Predictions, 2)
	require.Equal(t, 3, result.PagesAnalyzed)
	require.Equal(t, 3, result.TotalPagesSubmitted)

	// eng: mean (0.9+0.7+0.8)/3 = 0.8, factor min(1, 3/3+0.2) = 1 -> 0.8.
	require.Equal(t, "eng", result.Predictions[0].PersonaID)
	require.Equal(t, "Engineer", result.Predictions[0].Title)
	require.InDelta(t, 0.8, result.Predictions[0].Score, 1e-9)
	require.Equal(t, 3, result.Predictions[0].Appearances)
	require.InDelta(t, 0.8, result.Predictions[0].MeanConfidence, 1e-9)
	require.InDelta(t, result.Predictions[0].Score, result.Confidence, 1e-9)

	// mgr: mean (0.4+0.6)/2 = 0.5, factor 2/3+0.2 -> 0.4333...
	require.Equal(t, "mgr", result.Predictions[1].PersonaID)
	require.InDelta(t, 0.5*(2.0/3.0+0.2), result.Predictions[1].Score, 1e-9)
}

func TestPredictWeightedFrequentPersonaOutranksRareHit(t *testing.T) {
	t.Parallel()

	pages := &fakePages{byURL: map[string]crawl.Page{
		"https://example.com/p1": {ID: "p1", URL: "https://example.com/p1"},
		"https://example.com/p2": {ID: "p2", URL: "https://example.com/p2"},
	}}
	mappings := &fakeMappings{byPage: map[string][]persona.ContentMapping{
		"p1": {{PageID: "p1", PersonaID: "a", Confidence: 0.9, Method: "keyword", Active: true}},
		"p2": {
			{PageID: "p2", PersonaID: "a", Confidence: 0.5, Method: "keyword", Active: true},
			{PageID: "p2", PersonaID: "b", Confidence: 0.9, Method: "keyword", Active: true},
		},
	}}
	personas := &fakePersonas{byID: map[string]persona.Persona{
		"a": {ID: "a", Title: "A", Active: true},
		"b": {ID: "b", Title: "B", Active: true},
	}}
	engine := NewEngine(pages, mappings, personas, nil)

	urls := []string{"https://example.com/p1", "https://example.com/p2"}
	result, err := engine.Predict(context.Background(), urls, StrategyWeighted, 0, 0)
	require.NoError(t, err)
	require.Len(t, result.Predictions, 2)

	// a appears on both pages with mean 0.7; b once with mean 0.9. The
	// frequency factor must keep a ranked at or above b.
	require.Equal(t, "a", result.Predictions[0].PersonaID)
	require.GreaterOrEqual(t, result.Predictions[0].Score, result.Predictions[1].Score)
	require.InDelta(t, 0.7, result.Predictions[0].Score, 1e-9)
	require.InDelta(t, 0.9*0.7, result.Predictions[1].Score, 1e-9)
}

func TestPredictFrequency(t *testing.T) {
	t.Parallel()

	engine := newTestEngine()
	result, err := engine.Predict(context.Background(), visitedURLs(), StrategyFrequency, 0, 0)
	require.NoError(t, err)
	require.Len(t, result.Predictions, 2)

	// eng: 3/3 + 0.8*0.3 = 1.24 -> capped 1.0.
	require.Equal(t, "eng", result.Predictions[0].PersonaID)
	require.InDelta(t, 1.0, result.Predictions[0].Score, 1e-9)

	// mgr: 2/3 + 0.5*0.3 = 0.81666...
	require.Equal(t, "mgr", result.Predictions[1].PersonaID)
	require.InDelta(t, 2.0/3.0+0.15, result.Predictions[1].Score, 1e-9)
}

func TestPredictUncrawledURLsCountTowardTotal(t *testing.T) {
	t.Parallel()

	engine := newTestEngine()
	urls := append(visitedURLs(), "https://example.com/never-crawled")
	result, err := engine.Predict(context.Background(), urls, StrategyFrequency, 0, 0)
	require.NoError(t, err)
	require.Len(t, result.Predictions, 2)
	require.Equal(t, 3, result.PagesAnalyzed)
	require.Equal(t, 4, result.TotalPagesSubmitted)

	// mgr: 2/4 + 0.5*0.3 = 0.65 with the uncrawled URL in the denominator.
	require.InDelta(t, 0.65, result.Predictions[1].Score, 1e-9)
}

func TestPredictMinConfidenceFiltersBeforeAggregation(t *testing.T) {
	t.Parallel()

	engine := newTestEngine()
	result, err := engine.Predict(context.Background(), visitedURLs(), StrategyWeighted, 0.5, 0)
	require.NoError(t, err)
	require.Len(t, result.Predictions, 2)

	// mgr's 0.4 mapping on page-a drops out before aggregation, so its
	// mean and appearance count change, not just the returned list.
	require.Equal(t, "mgr", result.Predictions[1].PersonaID)
	require.Equal(t, 1, result.Predictions[1].Appearances)
	require.InDelta(t, 0.6, result.Predictions[1].MeanConfidence, 1e-9)
	require.InDelta(t, 0.6*(1.0/3.0+0.2), result.Predictions[1].Score, 1e-9)
}

func TestPredictNormalizesAndDeduplicates(t *testing.T) {
	t.Parallel()

	engine := newTestEngine()
	urls := []string{
		"https://example.com/a",
		"HTTPS://EXAMPLE.COM/a",
		"https://example.com/a?utm_source=mail",
	}
	result, err := engine.Predict(context.Background(), urls, StrategyWeighted, 0, 0)
	require.NoError(t, err)
	require.Len(t, result.Predictions, 2)
	require.Equal(t, 1, result.PagesAnalyzed)
	require.Equal(t, 3, result.TotalPagesSubmitted)

	// One visited page after dedupe: eng keeps its full 0.9 mean.
	require.Equal(t, "eng", result.Predictions[0].PersonaID)
	require.Equal(t, 1, result.Predictions[0].Appearances)
	require.InDelta(t, 0.9, result.Predictions[0].Score, 1e-9)
}

func TestPredictLimit(t *testing.T) {
	t.Parallel()

	engine := newTestEngine()
	result, err := engine.Predict(context.Background(), visitedURLs(), StrategyWeighted, 0, 1)
	require.NoError(t, err)
	require.Len(t, result.Predictions, 1)
	require.Equal(t, "eng", result.Predictions[0].PersonaID)

	// The limit trims the list, not the reported top confidence.
	require.InDelta(t, result.Predictions[0].Score, result.Confidence, 1e-9)
}

func TestPredictPageDetails(t *testing.T) {
	t.Parallel()

	engine := newTestEngine()
	result, err := engine.Predict(context.Background(), visitedURLs(), StrategyWeighted, 0, 0)
	require.NoError(t, err)
	require.Len(t, result.PageDetails, 3)
	require.Equal(t, "page-a", result.PageDetails[0].PageID)
	require.Equal(t, "https://example.com/a", result.PageDetails[0].URL)
	require.Len(t, result.PageDetails[0].Personas, 2)
	require.Equal(t, "keyword", result.PageDetails[0].Personas[0].Method)
}

func TestPredictUnknownStrategy(t *testing.T) {
	t.Parallel()

	engine := newTestEngine()
	_, err := engine.Predict(context.Background(), visitedURLs(), Strategy("bayesian"), 0, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown prediction strategy")
}

func TestPredictEmptyHistory(t *testing.T) {
	t.Parallel()

	engine := newTestEngine()
	result, err := engine.Predict(context.Background(), nil, StrategyWeighted, 0, 0)
	require.NoError(t, err)
	require.Empty(t, result.Predictions)
	require.Zero(t, result.Confidence)
	require.Zero(t, result.PagesAnalyzed)
}
