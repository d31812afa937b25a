// Package predict aggregates persona mappings across a visitor's page
// history into a ranked persona prediction.
package predict

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
	"github.com/thehouseofbailey/personamapper/internal/metrics"
	"github.com/thehouseofbailey/personamapper/internal/persona"
)

// Strategy selects the aggregation formula.
type Strategy string

const (
	// StrategyWeighted scales each persona's mean confidence by how many
	// of the analyzed pages it appears on, so a persona seen across the
	// visit outranks a single high-confidence hit.
	StrategyWeighted Strategy = "weighted"
	// StrategyFrequency favors personas that appear on a large share of
	// the visited pages, with a smaller confidence contribution.
	StrategyFrequency Strategy = "frequency"

	// frequencyBoostBase pads the weighted frequency factor so a persona
	// on every analyzed page keeps its full mean confidence. Must stay
	// below 0.28 or a one-page 0.9 hit would overtake a 0.7 mean seen on
	// both of two pages.
	frequencyBoostBase = 0.2
	confidenceWeight   = 0.3
)

// ValidStrategy reports whether s names a known aggregation formula.
func ValidStrategy(s Strategy) bool {
	return s == StrategyWeighted || s == StrategyFrequency
}

// Prediction is one ranked persona for a visit history.
type Prediction struct {
	PersonaID      string  `json:"persona_id"`
	Title          string  `json:"title"`
	Score          float64 `json:"score"`
	Appearances    int     `json:"appearances"`
	MeanConfidence float64 `json:"mean_confidence"`
}

// PageScore is one mapping a visited page contributed to the aggregation.
type PageScore struct {
	PersonaID  string  `json:"persona_id"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// PageDetail records what one analyzed page contributed.
type PageDetail struct {
	URL      string      `json:"url"`
	PageID   string      `json:"page_id"`
	Personas []PageScore `json:"personas"`
}

// Result is the full outcome of one prediction request. PagesAnalyzed
// counts the distinct visited pages that contributed at least one mapping;
// it is smaller than TotalPagesSubmitted when the history holds
// duplicates, uncrawled URLs, or pages whose mappings fell below the
// confidence floor.
type Result struct {
	Predictions         []Prediction `json:"predictions"`
	Confidence          float64      `json:"confidence"`
	PagesAnalyzed       int          `json:"pages_analyzed"`
	TotalPagesSubmitted int          `json:"total_pages_submitted"`
	PageDetails         []PageDetail `json:"page_details"`
}

// Engine aggregates active mappings for visited pages.
type Engine struct {
	pages    crawl.PageStore
	mappings persona.MappingStore
	personas persona.Store
	logger   *zap.Logger
}

// NewEngine builds a prediction engine.
func NewEngine(pages crawl.PageStore, mappings persona.MappingStore, personas persona.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{pages: pages, mappings: mappings, personas: personas, logger: logger}
}

type accumulator struct {
	appearances int
	total       float64
}

// Predict ranks personas for the given visited URLs. URLs that were never
// crawled still count toward the visit total but contribute no mappings,
// and an empty history yields an empty result rather than an error.
// Mappings below minConfidence are excluded before aggregation. A
// non-positive limit returns every scored persona.
func (e *Engine) Predict(ctx context.Context, urls []string, strategy Strategy, minConfidence float64, limit int) (Result, error) {
	if !ValidStrategy(strategy) {
		return Result{}, fmt.Errorf("unknown prediction strategy %q", strategy)
	}

	result := Result{TotalPagesSubmitted: len(urls)}
	visited := normalizeVisited(urls)
	if len(visited) == 0 {
		return result, nil
	}

	acc := make(map[string]*accumulator)
	for _, u := range visited {
		page, err := e.pages.GetPageByURL(ctx, u)
		if err != nil {
			if crawl.IsNotFound(err) {
				continue
			}
			return Result{}, fmt.Errorf("look up page %q: %w", u, err)
		}
		mappings, err := e.mappings.ActiveForPage(ctx, page.ID)
		if err != nil {
			return Result{}, fmt.Errorf("load mappings for page %q: %w", u, err)
		}
		detail := PageDetail{URL: u, PageID: page.ID}
		for _, m := range mappings {
			if m.Confidence < minConfidence {
				continue
			}
			a, ok := acc[m.PersonaID]
			if !ok {
				a = &accumulator{}
				acc[m.PersonaID] = a
			}
			a.appearances++
			a.total += m.Confidence
			detail.Personas = append(detail.Personas, PageScore{
				PersonaID:  m.PersonaID,
				Confidence: m.Confidence,
				Method:     m.Method,
			})
		}
		if len(detail.Personas) == 0 {
			continue
		}
		result.PagesAnalyzed++
		result.PageDetails = append(result.PageDetails, detail)
	}

	predictions := make([]Prediction, 0, len(acc))
	for personaID, a := range acc {
		mean := a.total / float64(a.appearances)
		score := scoreFor(strategy, mean, a.appearances, result.PagesAnalyzed, len(visited))

		p, err := e.personas.Get(ctx, personaID)
		if err != nil {
			return Result{}, fmt.Errorf("load persona %q: %w", personaID, err)
		}
		predictions = append(predictions, Prediction{
			PersonaID:      personaID,
			Title:          p.Title,
			Score:          score,
			Appearances:    a.appearances,
			MeanConfidence: mean,
		})
	}

	sort.SliceStable(predictions, func(i, j int) bool {
		return predictions[i].Score > predictions[j].Score
	})
	if limit > 0 && len(predictions) > limit {
		predictions = predictions[:limit]
	}
	result.Predictions = predictions
	if len(predictions) > 0 {
		result.Confidence = predictions[0].Score
	}

	metrics.ObservePrediction(string(strategy))
	e.logger.Debug("prediction computed",
		zap.Int("visited_urls", len(visited)),
		zap.String("strategy", string(strategy)),
		zap.Int("pages_analyzed", result.PagesAnalyzed),
		zap.Int("personas", len(predictions)),
	)
	return result, nil
}

// scoreFor applies one of the two aggregation formulas, clamped to [0, 1].
// Weighted multiplies the mean confidence by min(1, appearances/analyzed +
// base); frequency scores by share of visited pages with a small mean
// confidence contribution.
func scoreFor(strategy Strategy, mean float64, appearances, analyzed, visited int) float64 {
	var score float64
	switch strategy {
	case StrategyWeighted:
		factor := float64(appearances)/float64(analyzed) + frequencyBoostBase
		if factor > 1 {
			factor = 1
		}
		score = mean * factor
	case StrategyFrequency:
		score = float64(appearances)/float64(visited) + mean*confidenceWeight
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

func normalizeVisited(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		normalized, err := crawl.NormalizeURL(raw)
		if err != nil {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
