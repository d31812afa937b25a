package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/thehouseofbailey/personamapper/internal/cost"
	"github.com/thehouseofbailey/personamapper/internal/persona"
)

const (
	defaultChunkSize = 2000

	// Model confidences are reported on a 0-100 scale; anything at or
	// below this floor is noise.
	llmConfidenceFloor = 30
)

// Completion is one model response plus the tokens it consumed.
type Completion struct {
	Text       string
	TokensUsed int
}

// LLMClient calls a remote completion model.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
}

// Gate authorizes and records remote spend. *cost.Governor implements it.
type Gate interface {
	Authorize(ctx context.Context, orgID string, estimatedTokens int) error
	Record(ctx context.Context, orgID string, tokens int) error
}

// LLMConfig tunes the remote strategy.
type LLMConfig struct {
	ChunkSize        int
	MinContentLength int
}

// LLMStrategy asks a remote model to score content against the persona
// set. Spend is authorized per chunk through the gate; when the budget is
// exhausted, the call fails, or the response cannot be decoded, the
// strategy degrades to its fallback instead of failing the page.
type LLMStrategy struct {
	client   LLMClient
	gate     Gate
	fallback Strategy
	cfg      LLMConfig
	logger   *zap.Logger
}

// NewLLMStrategy builds the remote strategy. The fallback is required.
func NewLLMStrategy(client LLMClient, gate Gate, fallback Strategy, cfg LLMConfig, logger *zap.Logger) *LLMStrategy {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = defaultMinContentLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMStrategy{
		client:   client,
		gate:     gate,
		fallback: fallback,
		cfg:      cfg,
		logger:   logger,
	}
}

// Name implements Strategy.
func (s *LLMStrategy) Name() string { return StrategyLLM }

// Analyze implements Strategy.
func (s *LLMStrategy) Analyze(ctx context.Context, content Content, personas []persona.Persona) ([]Match, error) {
	if len(strings.TrimSpace(content.Text)) < s.cfg.MinContentLength {
		return nil, ErrContentTooShort
	}

	best := make(map[string]Match, len(personas))
	for _, chunk := range chunkText(content.Text, s.cfg.ChunkSize) {
		prompt := buildPrompt(content, chunk, personas)
		estimated := estimateTokens(prompt)

		if err := s.gate.Authorize(ctx, content.OrgID, estimated); err != nil {
			if errors.Is(err, cost.ErrBudgetExhausted) {
				s.logger.Warn("analysis budget exhausted, degrading to fallback",
					zap.String("url", content.URL),
					zap.String("org_id", content.OrgID),
				)
				return s.fallback.Analyze(ctx, content, personas)
			}
			return nil, fmt.Errorf("authorize spend: %w", err)
		}

		completion, err := s.client.Complete(ctx, prompt)
		if err != nil {
			s.logger.Warn("completion call failed, degrading to fallback",
				zap.String("url", content.URL),
				zap.Error(err),
			)
			return s.fallback.Analyze(ctx, content, personas)
		}
		if completion.TokensUsed > 0 {
			if err := s.gate.Record(ctx, content.OrgID, completion.TokensUsed); err != nil {
				return nil, fmt.Errorf("record spend: %w", err)
			}
		}

		chunkMatches, err := parseCompletion(completion.Text, personas)
		if err != nil {
			s.logger.Warn("unusable model response, degrading to fallback",
				zap.String("url", content.URL),
				zap.Error(err),
			)
			return s.fallback.Analyze(ctx, content, personas)
		}
		for _, m := range chunkMatches {
			if prev, ok := best[m.PersonaID]; !ok || m.Confidence > prev.Confidence {
				best[m.PersonaID] = m
			}
		}
	}

	matches := make([]Match, 0, len(best))
	for _, m := range best {
		matches = append(matches, m)
	}
	sortMatches(matches)
	return matches, nil
}

// llmResponse is the JSON shape the prompt instructs the model to return.
type llmResponse struct {
	Analysis []struct {
		PersonaTitle string  `json:"persona_title"`
		Confidence   float64 `json:"confidence"`
		Reasoning    string  `json:"reasoning"`
	} `json:"analysis"`
}

// parseCompletion decodes the model's JSON and maps titles back to persona
// IDs. Confidences arrive on a 0-100 scale and leave on 0-1. Unknown
// persona titles are dropped; undecodable output is an error.
func parseCompletion(text string, personas []persona.Persona) ([]Match, error) {
	cleaned := stripCodeFence(text)

	var resp llmResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("decode analysis JSON: %w", err)
	}

	byTitle := make(map[string]persona.Persona, len(personas))
	for _, p := range personas {
		byTitle[strings.ToLower(strings.TrimSpace(p.Title))] = p
	}

	var matches []Match
	for _, item := range resp.Analysis {
		if item.Confidence <= llmConfidenceFloor {
			continue
		}
		p, ok := byTitle[strings.ToLower(strings.TrimSpace(item.PersonaTitle))]
		if !ok {
			continue
		}
		matches = append(matches, Match{
			PersonaID:  p.ID,
			Title:      p.Title,
			Confidence: clampConfidence(item.Confidence / 100.0),
			Method:     StrategyLLM,
			Reason:     item.Reasoning,
		})
	}
	return matches, nil
}

func stripCodeFence(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	}
	return cleaned
}

func buildPrompt(content Content, chunk string, personas []persona.Persona) string {
	var b strings.Builder
	b.WriteString("You are analyzing a web page to decide which audience personas it targets.\n\n")
	b.WriteString("Personas:\n")
	for _, p := range personas {
		fmt.Fprintf(&b, "- %s: %s (keywords: %s)\n", p.Title, p.Description, strings.Join(p.Keywords, ", "))
	}
	fmt.Fprintf(&b, "\nPage title: %s\nPage URL: %s\n\nPage content:\n%s\n\n", content.Title, content.URL, chunk)
	b.WriteString("Respond with JSON only, no prose, in this shape:\n")
	b.WriteString(`{"analysis": [{"persona_title": "<title>", "confidence": <0-100>, "reasoning": "<one sentence>"}]}`)
	b.WriteString("\nInclude only personas the content is relevant to.")
	return b.String()
}

// chunkText splits text into pieces of at most size characters, breaking
// on word boundaries where possible.
func chunkText(text string, size int) []string {
	text = strings.TrimSpace(text)
	if len(text) <= size {
		return []string{text}
	}
	var chunks []string
	for len(text) > size {
		cut := size
		if idx := strings.LastIndexByte(text[:size], ' '); idx > size/2 {
			cut = idx
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// estimateTokens approximates the model's tokenizer at four characters per
// token, padded for the response.
func estimateTokens(prompt string) int {
	return len(prompt)/4 + 256
}
