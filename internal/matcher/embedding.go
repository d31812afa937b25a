package matcher

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/thehouseofbailey/personamapper/internal/persona"
)

const defaultSimilarityThreshold = 0.5

// Embedder turns texts into dense vectors. All vectors in one call share a
// dimensionality.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// EmbeddingConfig tunes the semantic strategy.
type EmbeddingConfig struct {
	SimilarityThreshold float64
	MinContentLength    int
}

// EmbeddingStrategy scores personas by cosine similarity between the page
// text vector and each persona's profile vector. Persona vectors are
// computed once per persona text and cached. When a gate is configured,
// every embedder call is authorized and recorded against it; a nil gate
// leaves the strategy ungated for local models.
type EmbeddingStrategy struct {
	embedder Embedder
	gate     Gate
	cfg      EmbeddingConfig
	logger   *zap.Logger

	mu    sync.RWMutex
	cache map[string][]float64
}

// NewEmbeddingStrategy builds the semantic strategy.
func NewEmbeddingStrategy(embedder Embedder, gate Gate, cfg EmbeddingConfig, logger *zap.Logger) *EmbeddingStrategy {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = defaultSimilarityThreshold
	}
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = defaultMinContentLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingStrategy{
		embedder: embedder,
		gate:     gate,
		cfg:      cfg,
		logger:   logger,
		cache:    make(map[string][]float64),
	}
}

// Name implements Strategy.
func (s *EmbeddingStrategy) Name() string { return StrategyEmbedding }

// Analyze implements Strategy.
func (s *EmbeddingStrategy) Analyze(ctx context.Context, content Content, personas []persona.Persona) ([]Match, error) {
	scores, err := s.Scores(ctx, content, personas)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(personas))
	for _, p := range personas {
		similarity, ok := scores[p.ID]
		if !ok || similarity < s.cfg.SimilarityThreshold {
			continue
		}
		matches = append(matches, Match{
			PersonaID:  p.ID,
			Title:      p.Title,
			Confidence: similarity,
			Method:     StrategyEmbedding,
			Reason:     fmt.Sprintf("semantic similarity %.2f", similarity),
		})
	}
	sortMatches(matches)

	s.logger.Debug("embedding analysis complete",
		zap.String("url", content.URL),
		zap.Int("matches", len(matches)),
	)
	return matches, nil
}

// Scores returns the raw, unthresholded cosine similarity per persona ID.
// The hybrid and validation strategies consume these directly.
func (s *EmbeddingStrategy) Scores(ctx context.Context, content Content, personas []persona.Persona) (map[string]float64, error) {
	if len(strings.TrimSpace(content.Text)) < s.cfg.MinContentLength {
		return nil, ErrContentTooShort
	}

	pageVec, err := s.embed(ctx, content.OrgID, content.Text)
	if err != nil {
		return nil, fmt.Errorf("embed page: %w", err)
	}

	scores := make(map[string]float64, len(personas))
	for _, p := range personas {
		vec, err := s.personaVector(ctx, content.OrgID, p)
		if err != nil {
			return nil, fmt.Errorf("embed persona %q: %w", p.Title, err)
		}
		scores[p.ID] = CosineSimilarity(pageVec, vec)
	}
	return scores, nil
}

// embed runs one gated embedder call. Spend is authorized before and
// recorded after the call, estimated at four characters per token.
func (s *EmbeddingStrategy) embed(ctx context.Context, orgID, text string) ([]float64, error) {
	estimated := len(text)/4 + 1
	if s.gate != nil {
		if err := s.gate.Authorize(ctx, orgID, estimated); err != nil {
			return nil, fmt.Errorf("authorize embedding spend: %w", err)
		}
	}
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embedder returned %d vectors for one text", len(vectors))
	}
	if s.gate != nil {
		if err := s.gate.Record(ctx, orgID, estimated); err != nil {
			return nil, fmt.Errorf("record embedding spend: %w", err)
		}
	}
	return vectors[0], nil
}

// personaVector returns the cached vector for a persona's profile text,
// embedding it on first use. A persona with a precomputed embedding skips
// the embedder entirely.
func (s *EmbeddingStrategy) personaVector(ctx context.Context, orgID string, p persona.Persona) ([]float64, error) {
	if len(p.Embedding) > 0 {
		return p.Embedding, nil
	}
	text := PersonaProfileText(p)

	s.mu.RLock()
	vec, ok := s.cache[text]
	s.mu.RUnlock()
	if ok {
		return vec, nil
	}

	vec, err := s.embed(ctx, orgID, text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[text] = vec
	s.mu.Unlock()
	return vec, nil
}

// PersonaProfileText builds the canonical text a persona is embedded from.
func PersonaProfileText(p persona.Persona) string {
	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(p.Title)
	b.WriteString(". Description: ")
	b.WriteString(p.Description)
	if len(p.Keywords) > 0 {
		b.WriteString(". Keywords: ")
		b.WriteString(strings.Join(p.Keywords, ", "))
	}
	return b.String()
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// clipped to [0, 1]. Mismatched or zero-norm vectors score zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return clampConfidence(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
