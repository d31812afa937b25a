// Package matcher scores page content against persona definitions using
// pluggable analysis strategies.
package matcher

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/thehouseofbailey/personamapper/internal/persona"
)

// Strategy names. These double as the mapping method recorded with each
// result, so storage sees which analysis produced a score.
const (
	StrategyKeyword    = "keyword"
	StrategyEmbedding  = "local"
	StrategyLLM        = "llm"
	StrategyHybrid     = "hybrid"
	StrategyValidation = "validation"
)

// ErrContentTooShort rejects pages without enough text to score.
var ErrContentTooShort = errors.New("content too short to analyze")

// Content is the analyzable view of a fetched page.
type Content struct {
	URL   string
	Title string
	Text  string
	OrgID string
}

// Match is one persona scored above a strategy's threshold.
type Match struct {
	PersonaID  string
	Title      string
	Confidence float64
	Method     string
	Reason     string
}

// Strategy scores content against a persona set. Implementations return
// only matches above their own threshold, sorted by descending confidence.
type Strategy interface {
	Name() string
	Analyze(ctx context.Context, content Content, personas []persona.Persona) ([]Match, error)
}

var wordPattern = regexp.MustCompile(`\b[a-zA-Z]{3,}\b`)

// Tokenize lowercases text and extracts alphabetic words of three or more
// letters, dropping stop words.
func Tokenize(text string) []string {
	raw := wordPattern.FindAllString(strings.ToLower(text), -1)
	words := make([]string, 0, len(raw))
	for _, w := range raw {
		if _, stop := stopWords[w]; !stop {
			words = append(words, w)
		}
	}
	return words
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "has": {}, "him": {}, "his": {},
	"how": {}, "its": {}, "may": {}, "new": {}, "now": {}, "old": {},
	"see": {}, "two": {}, "way": {}, "who": {}, "did": {}, "get": {},
	"use": {}, "this": {}, "that": {}, "with": {}, "have": {}, "from": {},
	"they": {}, "been": {}, "were": {}, "said": {}, "each": {}, "which": {},
	"their": {}, "will": {}, "about": {}, "would": {}, "there": {},
	"could": {}, "other": {}, "more": {}, "very": {}, "what": {}, "know": {},
	"just": {}, "into": {}, "over": {}, "than": {}, "them": {}, "some": {},
	"when": {}, "your": {}, "also": {}, "only": {}, "then": {}, "most": {},
	"these": {}, "where": {}, "after": {}, "should": {}, "because": {},
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
}
