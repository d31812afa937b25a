// Package api exposes the HTTP interface for the persona mapping service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/thehouseofbailey/personamapper/internal/config"
	"github.com/thehouseofbailey/personamapper/internal/cost"
	"github.com/thehouseofbailey/personamapper/internal/crawl"
	"github.com/thehouseofbailey/personamapper/internal/dispatcher"
	"github.com/thehouseofbailey/personamapper/internal/metrics"
	"github.com/thehouseofbailey/personamapper/internal/persona"
	"github.com/thehouseofbailey/personamapper/internal/predict"
	"github.com/thehouseofbailey/personamapper/internal/progress/sinks"
)

const enqueueTimeout = 5 * time.Second

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router   chi.Router
	jobs     crawl.JobStore
	frontier crawl.FrontierStore
	pages    crawl.PageStore
	mappings persona.MappingStore
	personas persona.Store
	dispatch *dispatcher.Dispatcher
	engine   *predict.Engine
	governor *cost.Governor
	recorder *sinks.Recorder
	idGen    crawl.IDGenerator
	clock    crawl.Clock
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs crawl.JobStore,
	frontier crawl.FrontierStore,
	pages crawl.PageStore,
	mappings persona.MappingStore,
	personas persona.Store,
	dispatch *dispatcher.Dispatcher,
	engine *predict.Engine,
	governor *cost.Governor,
	recorder *sinks.Recorder,
	idGen crawl.IDGenerator,
	clock crawl.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:     jobs,
		frontier: frontier,
		pages:    pages,
		mappings: mappings,
		personas: personas,
		dispatch: dispatch,
		engine:   engine,
		governor: governor,
		recorder: recorder,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/urls", s.listJobURLs)
				r.Get("/events", s.listJobEvents)
				r.Post("/cancel", s.cancelJob)
				r.Post("/pause", s.pauseJob)
				r.Post("/resume", s.resumeJob)
			})
		})
		r.Get("/pages/personas", s.pagePersonas)
		r.Route("/personas", func(r chi.Router) {
			r.Get("/", s.listPersonas)
			r.Post("/predict", s.predictPersonas)
		})
		r.Get("/costs", s.costUsage)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The job store backs every endpoint; probing it covers the database
	// deployments as well as the in-memory one.
	if _, err := s.jobs.GetJob(r.Context(), "readiness-probe"); err != nil && !crawl.IsNotFound(err) {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	RootURL         string   `json:"root_url"`
	SeedURLs        []string `json:"seed_urls"`
	IncludePatterns []string `json:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
	MaxPages        *int     `json:"max_pages"`
	Concurrency     *int     `json:"concurrency"`
	DelayMs         *int     `json:"delay_ms"`
	AnalysisMode    string   `json:"analysis_mode"`
	OrgID           string   `json:"org_id"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toJobParameters(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) toJobParameters(req submitJobRequest) (crawl.JobParameters, error) {
	if req.RootURL == "" {
		return crawl.JobParameters{}, errors.New("root_url required")
	}
	rootURL, err := crawl.NormalizeURL(req.RootURL)
	if err != nil {
		return crawl.JobParameters{}, fmt.Errorf("root_url: %w", err)
	}
	mode := crawl.AnalysisMode(req.AnalysisMode)
	if req.AnalysisMode == "" {
		mode = crawl.AnalysisMode(s.cfg.Analysis.Mode)
	}
	switch mode {
	case crawl.ModeKeyword, crawl.ModeLocal, crawl.ModeLLM, crawl.ModeHybrid, crawl.ModeValidation:
	default:
		return crawl.JobParameters{}, fmt.Errorf("unknown analysis_mode %q", mode)
	}
	return crawl.JobParameters{
		RootURL:         rootURL,
		SeedURLs:        append([]string(nil), req.SeedURLs...),
		IncludePatterns: append([]string(nil), req.IncludePatterns...),
		ExcludePatterns: append([]string(nil), req.ExcludePatterns...),
		MaxPages:        valueOrDefault(req.MaxPages, s.cfg.Crawler.MaxPagesDefault),
		Concurrency:     valueOrDefault(req.Concurrency, s.cfg.Crawler.Concurrency),
		DelayMs:         valueOrDefault(req.DelayMs, s.cfg.Crawler.DelayMs),
		AnalysisMode:    mode,
		OrgID:           req.OrgID,
	}, nil
}

func (s *Server) enqueueJob(ctx context.Context, params crawl.JobParameters) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := crawl.Job{
		ID:         jobID,
		Status:     crawl.JobStatusPending,
		Submitted:  now,
		Parameters: params,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := s.dispatch.Enqueue(queueCtx, crawl.QueueItem{JobID: jobID, EnqueuedAt: now}); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) listJobURLs(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.jobs.GetJob(r.Context(), jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	urls, err := s.frontier.List(r.Context(), jobID)
	if err != nil {
		s.logger.Error("list job urls failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list job urls")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"urls": urls})
}

func (s *Server) listJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.jobs.GetJob(r.Context(), jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if s.recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "event recording disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.recorder.JobEvents(jobID)})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	s.transitionJob(w, r, crawl.JobStatusCancelled, "cancelled via API",
		crawl.JobStatusPending, crawl.JobStatusRunning, crawl.JobStatusPaused)
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	s.transitionJob(w, r, crawl.JobStatusPaused, "",
		crawl.JobStatusPending, crawl.JobStatusRunning)
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != crawl.JobStatusPaused {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("cannot resume job in status %q", job.Status))
		return
	}
	queueCtx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	if err := s.dispatch.Enqueue(queueCtx, crawl.QueueItem{JobID: jobID, EnqueuedAt: s.clock.Now()}); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("enqueue job: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "resuming"})
}

// transitionJob applies an externally requested status change after checking
// the job is in one of the allowed states. The running orchestrator observes
// the new status between batches.
func (s *Server) transitionJob(
	w http.ResponseWriter,
	r *http.Request,
	target crawl.JobStatus,
	note string,
	allowed ...crawl.JobStatus,
) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	permitted := false
	for _, st := range allowed {
		if job.Status == st {
			permitted = true
			break
		}
	}
	if !permitted {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("cannot move job from %q to %q", job.Status, target))
		return
	}
	if err := s.jobs.UpdateJobStatus(r.Context(), jobID, target, note, job.Counters); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(target)})
}

func valueOrDefault(ptr *int, def int) int {
	if ptr == nil || *ptr == 0 {
		return def
	}
	return *ptr
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
