package matcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/thehouseofbailey/personamapper/internal/persona"
)

// ValidationConfig tunes cross-checking of keyword candidates.
type ValidationConfig struct {
	SimilarityThreshold float64
}

// ValidationStrategy uses keyword matching to nominate candidates and the
// semantic scorer to confirm them. A confirmed candidate's confidence is
// the mean of both legs; an unconfirmed one keeps its keyword confidence.
// When the semantic leg fails the keyword results stand as-is.
type ValidationStrategy struct {
	keyword  *KeywordStrategy
	semantic SemanticScorer
	cfg      ValidationConfig
	logger   *zap.Logger
}

// NewValidationStrategy builds the cross-checking strategy.
func NewValidationStrategy(keyword *KeywordStrategy, semantic SemanticScorer, cfg ValidationConfig, logger *zap.Logger) *ValidationStrategy {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = defaultSimilarityThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValidationStrategy{keyword: keyword, semantic: semantic, cfg: cfg, logger: logger}
}

// Name implements Strategy.
func (s *ValidationStrategy) Name() string { return StrategyValidation }

// Analyze implements Strategy.
func (s *ValidationStrategy) Analyze(ctx context.Context, content Content, personas []persona.Persona) ([]Match, error) {
	candidates, err := s.keyword.Analyze(ctx, content, personas)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	scores, err := s.semantic.Scores(ctx, content, personas)
	if err != nil {
		if errors.Is(err, ErrContentTooShort) {
			return nil, err
		}
		s.logger.Warn("semantic validation unavailable, keeping keyword results",
			zap.String("url", content.URL),
			zap.Error(err),
		)
		return candidates, nil
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		sem := scores[c.PersonaID]
		m := Match{
			PersonaID: c.PersonaID,
			Title:     c.Title,
			Method:    StrategyValidation,
		}
		if sem >= s.cfg.SimilarityThreshold {
			m.Confidence = clampConfidence((c.Confidence + sem) / 2)
			m.Reason = fmt.Sprintf("keyword %.2f confirmed by semantic %.2f", c.Confidence, sem)
		} else {
			m.Confidence = c.Confidence
			m.Reason = fmt.Sprintf("keyword %.2f, semantic unconfirmed (%.2f)", c.Confidence, sem)
		}
		matches = append(matches, m)
	}
	sortMatches(matches)
	return matches, nil
}
