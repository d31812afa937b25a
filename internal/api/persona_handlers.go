package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
	"github.com/thehouseofbailey/personamapper/internal/persona"
	"github.com/thehouseofbailey/personamapper/internal/predict"
)

const defaultPredictLimit = 10

// pagePersonaDTO is one active mapping joined with its persona title.
type pagePersonaDTO struct {
	PersonaID  string  `json:"persona_id"`
	Title      string  `json:"title"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
	Reason     string  `json:"reason,omitempty"`
}

// pagePersonas handles GET /v1/pages/personas?url=&min_confidence=&limit=.
// It returns the active persona mappings for a crawled page sorted by
// confidence, 400 for a missing or malformed url parameter, and 404 when
// the page has not been crawled.
func (s *Server) pagePersonas(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	rawURL := strings.TrimSpace(query.Get("url"))
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url parameter required")
		return
	}
	pageURL, err := crawl.NormalizeURL(rawURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid url parameter")
		return
	}
	minConfidence := 0.0
	if raw := query.Get("min_confidence"); raw != "" {
		minConfidence, err = strconv.ParseFloat(raw, 64)
		if err != nil || minConfidence < 0 || minConfidence > 1 {
			writeError(w, http.StatusBadRequest, "min_confidence must be a number in [0,1]")
			return
		}
	}
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}
	page, err := s.pages.GetPageByURL(r.Context(), pageURL)
	if err != nil {
		if crawl.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "page not crawled")
			return
		}
		s.logger.Error("load page failed", zap.String("url", pageURL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load page")
		return
	}
	mappings, err := s.mappings.ActiveForPage(r.Context(), page.ID)
	if err != nil {
		s.logger.Error("load mappings failed", zap.String("page_id", page.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load mappings")
		return
	}
	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].Confidence > mappings[j].Confidence
	})
	out := make([]pagePersonaDTO, 0, len(mappings))
	for _, m := range mappings {
		if m.Confidence < minConfidence {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		dto := pagePersonaDTO{
			PersonaID:  m.PersonaID,
			Confidence: m.Confidence,
			Method:     m.Method,
			Reason:     m.Reason,
		}
		if p, err := s.personas.Get(r.Context(), m.PersonaID); err == nil {
			dto.Title = p.Title
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":      page.URL,
		"page_id":  page.ID,
		"title":    page.Title,
		"personas": out,
	})
}

// personaDTO is one persona with its live mapping count.
type personaDTO struct {
	persona.Persona
	ActiveMappings int `json:"active_mappings"`
}

// listPersonas handles GET /v1/personas, returning the active persona
// snapshot with per-persona active mapping counts.
func (s *Server) listPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := s.personas.ListActive(r.Context())
	if err != nil {
		s.logger.Error("list personas failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list personas")
		return
	}
	out := make([]personaDTO, 0, len(personas))
	for _, p := range personas {
		dto := personaDTO{Persona: p}
		if count, err := s.mappings.CountActiveForPersona(r.Context(), p.ID); err == nil {
			dto.ActiveMappings = count
		}
		// The embedding vector is large and internal; never serve it.
		dto.Embedding = nil
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, map[string]any{"personas": out})
}

type predictRequest struct {
	VisitedURLs   []string `json:"visited_urls"`
	Strategy      string   `json:"strategy"`
	MinConfidence float64  `json:"min_confidence"`
	Limit         int      `json:"limit"`
	SessionID     string   `json:"session_id"`
}

// predictPersonas handles POST /v1/personas/predict. It aggregates the
// active mappings of the visited pages into ranked persona predictions.
// An empty visit history returns an empty result rather than an error.
func (s *Server) predictPersonas(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	strategy := predict.Strategy(req.Strategy)
	if req.Strategy == "" {
		strategy = predict.StrategyWeighted
	}
	if !predict.ValidStrategy(strategy) {
		writeError(w, http.StatusBadRequest, "strategy must be weighted or frequency")
		return
	}
	if req.MinConfidence < 0 || req.MinConfidence > 1 {
		writeError(w, http.StatusBadRequest, "min_confidence must be in [0,1]")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPredictLimit
	}
	result, err := s.engine.Predict(r.Context(), req.VisitedURLs, strategy, req.MinConfidence, limit)
	if err != nil {
		s.logger.Error("prediction failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "prediction failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":            req.SessionID,
		"strategy":              string(strategy),
		"confidence":            result.Confidence,
		"predictions":           result.Predictions,
		"pages_analyzed":        result.PagesAnalyzed,
		"total_pages_submitted": result.TotalPagesSubmitted,
		"page_details":          result.PageDetails,
	})
}

// costUsage handles GET /v1/costs?org_id=, exposing the analysis spend
// snapshot the budget governor enforces.
func (s *Server) costUsage(w http.ResponseWriter, r *http.Request) {
	if s.governor == nil {
		writeError(w, http.StatusServiceUnavailable, "cost tracking disabled")
		return
	}
	orgID := strings.TrimSpace(r.URL.Query().Get("org_id"))
	usage, err := s.governor.Usage(r.Context(), orgID)
	if err != nil {
		s.logger.Error("load cost usage failed", zap.String("org_id", orgID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": usage})
}
