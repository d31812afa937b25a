package matcher

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/thehouseofbailey/personamapper/internal/persona"
)

const (
	defaultConfidenceThreshold = 0.1
	defaultMinContentLength    = 50

	multiWordKeywordWeight = 0.5
	frequencyBoostCap      = 0.3
	titleBonusWeight       = 0.2
	urlBonusWeight         = 0.1
)

// KeywordConfig tunes the keyword strategy. Zero values take defaults.
type KeywordConfig struct {
	ConfidenceThreshold float64
	MinContentLength    int
}

// KeywordStrategy scores personas by keyword occurrence. The score is the
// fraction of a persona's keywords present in the content, boosted by
// match frequency and by hits in the page title and URL.
type KeywordStrategy struct {
	cfg    KeywordConfig
	logger *zap.Logger
}

// NewKeywordStrategy builds the keyword strategy.
func NewKeywordStrategy(cfg KeywordConfig, logger *zap.Logger) *KeywordStrategy {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = defaultConfidenceThreshold
	}
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = defaultMinContentLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeywordStrategy{cfg: cfg, logger: logger}
}

// Name implements Strategy.
func (s *KeywordStrategy) Name() string { return StrategyKeyword }

// Analyze implements Strategy.
func (s *KeywordStrategy) Analyze(_ context.Context, content Content, personas []persona.Persona) ([]Match, error) {
	if len(strings.TrimSpace(content.Text)) < s.cfg.MinContentLength {
		return nil, ErrContentTooShort
	}

	words := Tokenize(content.Text)
	if len(words) == 0 {
		return nil, ErrContentTooShort
	}
	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[w]++
	}
	loweredTitle := strings.ToLower(content.Title)
	loweredURL := strings.ToLower(content.URL)

	matches := make([]Match, 0, len(personas))
	for _, p := range personas {
		if len(p.Keywords) == 0 {
			continue
		}
		confidence, matched := s.score(p, counts, len(words), loweredTitle, loweredURL)
		if confidence < s.cfg.ConfidenceThreshold {
			continue
		}
		matches = append(matches, Match{
			PersonaID:  p.ID,
			Title:      p.Title,
			Confidence: confidence,
			Method:     StrategyKeyword,
			Reason:     fmt.Sprintf("matched keywords: %s", strings.Join(matched, ", ")),
		})
	}
	sortMatches(matches)

	s.logger.Debug("keyword analysis complete",
		zap.String("url", content.URL),
		zap.Int("content_words", len(words)),
		zap.Int("matches", len(matches)),
	)
	return matches, nil
}

// score computes one persona's confidence. Single-word keywords count
// every occurrence at full weight; multi-word keywords count once at half
// weight when every part is present.
func (s *KeywordStrategy) score(
	p persona.Persona,
	counts map[string]int,
	totalWords int,
	loweredTitle, loweredURL string,
) (float64, []string) {
	var (
		uniqueMatches int
		totalScore    float64
		titleMatches  int
		urlMatches    int
		matched       []string
	)

	for _, kw := range p.Keywords {
		keyword := strings.ToLower(strings.TrimSpace(kw))
		if keyword == "" {
			continue
		}
		parts := strings.Fields(keyword)
		if len(parts) == 1 {
			if n := counts[keyword]; n > 0 {
				uniqueMatches++
				totalScore += float64(n)
				matched = append(matched, keyword)
			}
		} else {
			allPresent := true
			for _, part := range parts {
				if counts[part] == 0 {
					allPresent = false
					break
				}
			}
			if allPresent {
				uniqueMatches++
				totalScore += multiWordKeywordWeight
				matched = append(matched, keyword)
			}
		}

		if loweredTitle != "" && strings.Contains(loweredTitle, keyword) {
			titleMatches++
		}
		slug := strings.ReplaceAll(keyword, " ", "-")
		if loweredURL != "" && strings.Contains(loweredURL, slug) {
			urlMatches++
		}
	}

	if uniqueMatches == 0 {
		return 0, nil
	}

	keywordCount := float64(len(p.Keywords))
	base := float64(uniqueMatches) / keywordCount
	freqBoost := totalScore / float64(totalWords)
	if freqBoost > frequencyBoostCap {
		freqBoost = frequencyBoostCap
	}
	titleBonus := float64(titleMatches) / keywordCount * titleBonusWeight
	urlBonus := float64(urlMatches) / keywordCount * urlBonusWeight

	return clampConfidence(base + freqBoost + titleBonus + urlBonus), matched
}
