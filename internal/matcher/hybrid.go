package matcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/thehouseofbailey/personamapper/internal/persona"
)

// SemanticScorer yields raw per-persona similarity scores.
// *EmbeddingStrategy implements it.
type SemanticScorer interface {
	Scores(ctx context.Context, content Content, personas []persona.Persona) (map[string]float64, error)
}

// HybridConfig weights the two legs. Weights are normalized so they do
// not have to sum to one.
type HybridConfig struct {
	KeywordWeight       float64
	SemanticWeight      float64
	ConfidenceThreshold float64
}

// HybridStrategy blends keyword and semantic scores. When the semantic
// leg fails the strategy degrades to keyword-only scoring rather than
// failing the page.
type HybridStrategy struct {
	keyword  *KeywordStrategy
	semantic SemanticScorer
	cfg      HybridConfig
	logger   *zap.Logger
}

// NewHybridStrategy builds the blended strategy.
func NewHybridStrategy(keyword *KeywordStrategy, semantic SemanticScorer, cfg HybridConfig, logger *zap.Logger) *HybridStrategy {
	if cfg.KeywordWeight <= 0 && cfg.SemanticWeight <= 0 {
		cfg.KeywordWeight = 0.4
		cfg.SemanticWeight = 0.6
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = defaultConfidenceThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridStrategy{keyword: keyword, semantic: semantic, cfg: cfg, logger: logger}
}

// Name implements Strategy.
func (s *HybridStrategy) Name() string { return StrategyHybrid }

// Analyze implements Strategy.
func (s *HybridStrategy) Analyze(ctx context.Context, content Content, personas []persona.Persona) ([]Match, error) {
	keywordScores := make(map[string]float64, len(personas))
	keywordMatches, err := s.keyword.Analyze(ctx, content, personas)
	if err != nil {
		return nil, err
	}
	for _, m := range keywordMatches {
		keywordScores[m.PersonaID] = m.Confidence
	}

	semanticScores, err := s.semantic.Scores(ctx, content, personas)
	if err != nil {
		if errors.Is(err, ErrContentTooShort) {
			return nil, err
		}
		s.logger.Warn("semantic scoring failed, degrading to keyword only",
			zap.String("url", content.URL),
			zap.Error(err),
		)
		for i := range keywordMatches {
			keywordMatches[i].Method = StrategyHybrid
			keywordMatches[i].Reason = "semantic leg unavailable; " + keywordMatches[i].Reason
		}
		return keywordMatches, nil
	}

	kwWeight, semWeight := normalizeWeights(s.cfg.KeywordWeight, s.cfg.SemanticWeight)

	matches := make([]Match, 0, len(personas))
	for _, p := range personas {
		kw := keywordScores[p.ID]
		sem := semanticScores[p.ID]
		combined := clampConfidence(kw*kwWeight + sem*semWeight)
		if combined < s.cfg.ConfidenceThreshold {
			continue
		}
		matches = append(matches, Match{
			PersonaID:  p.ID,
			Title:      p.Title,
			Confidence: combined,
			Method:     StrategyHybrid,
			Reason:     fmt.Sprintf("keyword %.2f, semantic %.2f", kw, sem),
		})
	}
	sortMatches(matches)
	return matches, nil
}

func normalizeWeights(a, b float64) (float64, float64) {
	if a < 0 {
		a = 0
	}
	if b < 0 {
		b = 0
	}
	total := a + b
	if total == 0 {
		return 0.5, 0.5
	}
	return a / total, b / total
}
