// Package server assembles the service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/thehouseofbailey/personamapper/internal/api"
	"github.com/thehouseofbailey/personamapper/internal/clock/system"
	"github.com/thehouseofbailey/personamapper/internal/config"
	"github.com/thehouseofbailey/personamapper/internal/cost"
	"github.com/thehouseofbailey/personamapper/internal/crawl"
	"github.com/thehouseofbailey/personamapper/internal/dispatcher"
	"github.com/thehouseofbailey/personamapper/internal/extract"
	collyfetcher "github.com/thehouseofbailey/personamapper/internal/fetcher/colly"
	"github.com/thehouseofbailey/personamapper/internal/hash/sha256"
	"github.com/thehouseofbailey/personamapper/internal/id/uuid"
	"github.com/thehouseofbailey/personamapper/internal/logging"
	"github.com/thehouseofbailey/personamapper/internal/matcher"
	"github.com/thehouseofbailey/personamapper/internal/matcher/openai"
	"github.com/thehouseofbailey/personamapper/internal/metrics"
	"github.com/thehouseofbailey/personamapper/internal/orchestrator"
	"github.com/thehouseofbailey/personamapper/internal/persona"
	"github.com/thehouseofbailey/personamapper/internal/predict"
	"github.com/thehouseofbailey/personamapper/internal/progress"
	"github.com/thehouseofbailey/personamapper/internal/progress/sinks"
	queueMemory "github.com/thehouseofbailey/personamapper/internal/queue/memory"
	"github.com/thehouseofbailey/personamapper/internal/sitemap"
	localStorage "github.com/thehouseofbailey/personamapper/internal/storage/local"
	memoryStorage "github.com/thehouseofbailey/personamapper/internal/storage/memory"
	pgStorage "github.com/thehouseofbailey/personamapper/internal/storage/postgres"
)

// App holds the assembled service and its shutdown handles.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	queue     *queueMemory.Queue
	hub       *progress.Hub
	pool      *pgxpool.Pool
}

// stores bundles the persistence layer so memory and postgres deployments
// wire identically.
type stores struct {
	jobs     crawl.JobStore
	frontier crawl.FrontierStore
	pages    crawl.PageStore
	mappings persona.MappingStore
	personas persona.Store
	ledger   cost.LedgerStore
}

// Build assembles the application from configuration.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("analysis_mode", cfg.Analysis.Mode),
		zap.Bool("postgres", cfg.DB.DSN != ""),
	)

	st, err := app.buildStores(ctx)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	governor := cost.NewGovernor(st.ledger, clock, cost.Config{
		DailyLimitUSD:   cfg.Cost.DailyLimit,
		MonthlyLimitUSD: cfg.Cost.MonthlyLimit,
		CostPer1KTokens: cfg.Cost.CostPer1KToken,
	}, logger.Named("cost"))

	strategies := buildStrategies(cfg, governor, logger)

	retry := crawl.NewExponentialRetryPolicy(
		cfg.HTTP.MaxRetries,
		time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
	)
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		PerHostDelay:  cfg.PerHostDelay(),
	}, retry, nil, logger.Named("fetcher"))

	archive, err := buildArchive(cfg, logger)
	if err != nil {
		return nil, err
	}

	recorder := sinks.NewRecorder(0)
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init: %w", err)
	}
	app.hub = progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress_log")),
		promSink,
		recorder,
	)

	orch := orchestrator.New(
		st.jobs,
		st.frontier,
		st.pages,
		st.mappings,
		st.personas,
		fetcher,
		extract.New(cfg.Analysis.ContentMaxLength),
		sha256.New(),
		clock,
		uuid.New(),
		sitemap.NewDiscoverer(fetcher, logger.Named("sitemap")),
		strategies,
		app.hub,
		orchestrator.Config{
			BatchSize:          cfg.Crawler.BatchSize,
			DefaultConcurrency: cfg.Crawler.Concurrency,
			DefaultMaxPages:    cfg.Crawler.MaxPagesDefault,
			Archive:            archive,
		},
		logger.Named("orchestrator"),
	)

	app.queue = queueMemory.NewQueue(cfg.Crawler.QueueDepth)
	app.dispatch = dispatcher.New(app.queue, orch, cfg.Crawler.Runners, logger.Named("dispatcher"))

	app.apiServer = api.NewServer(
		st.jobs,
		st.frontier,
		st.pages,
		st.mappings,
		st.personas,
		app.dispatch,
		predict.NewEngine(st.pages, st.mappings, st.personas, logger.Named("predict")),
		governor,
		recorder,
		uuid.New(),
		clock,
		cfg,
		logger.Named("api"),
	)

	return app, nil
}

// Run starts the dispatcher and HTTP server and blocks until a signal or
// context cancellation, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started", zap.Int("runners", a.cfg.Crawler.Runners))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close releases the queue, progress hub and database pool.
func (a *App) Close(ctx context.Context) error {
	a.queue.Close()
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("progress hub close failed", zap.Error(err))
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) buildStores(ctx context.Context) (stores, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("using in-memory stores")
		personas, err := seedPersonas(a.cfg, a.logger)
		if err != nil {
			return stores{}, err
		}
		return stores{
			jobs:     memoryStorage.NewJobStore(),
			frontier: memoryStorage.NewFrontierStore(),
			pages:    memoryStorage.NewPageStore(),
			mappings: memoryStorage.NewMappingStore(),
			personas: memoryStorage.NewPersonaStore(personas),
			ledger:   memoryStorage.NewLedgerStore(),
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, pgStorage.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        int32(a.cfg.DB.MaxConns),
		MinConns:        int32(a.cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(a.cfg.DB.ConnLifetimeMin) * time.Minute,
	})
	if err != nil {
		return stores{}, fmt.Errorf("postgres init: %w", err)
	}
	if err := pgStorage.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return stores{}, fmt.Errorf("postgres schema: %w", err)
	}
	a.pool = pool
	a.logger.Info("using postgres stores", zap.Int("max_conns", a.cfg.DB.MaxConns))
	return stores{
		jobs:     pgStorage.NewJobStore(pool),
		frontier: pgStorage.NewFrontierStore(pool),
		pages:    pgStorage.NewPageStore(pool),
		mappings: pgStorage.NewMappingStore(pool),
		personas: pgStorage.NewPersonaStore(pool),
		ledger:   pgStorage.NewLedgerStore(pool),
	}, nil
}

func seedPersonas(cfg config.Config, logger *zap.Logger) ([]persona.Persona, error) {
	if cfg.Personas.File == "" {
		logger.Warn("no persona catalog configured, analysis will produce no mappings")
		return nil, nil
	}
	personas, err := persona.LoadFile(cfg.Personas.File)
	if err != nil {
		return nil, fmt.Errorf("persona catalog: %w", err)
	}
	logger.Info("persona catalog loaded",
		zap.String("file", cfg.Personas.File),
		zap.Int("personas", len(personas)),
	)
	return personas, nil
}

func buildArchive(cfg config.Config, logger *zap.Logger) (crawl.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		store, err := localStorage.New(localStorage.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("archive init: %w", err)
		}
		logger.Info("archiving raw documents to disk", zap.String("base_dir", cfg.Storage.BaseDir))
		return store, nil
	case "", "memory":
		return memoryStorage.NewBlobStore(), nil
	default:
		logger.Info("raw document archival disabled")
		return nil, nil
	}
}

// buildStrategies maps each analysis mode to its strategy. Modes that need
// a remote model are only available when credentials are configured.
func buildStrategies(cfg config.Config, governor *cost.Governor, logger *zap.Logger) map[crawl.AnalysisMode]matcher.Strategy {
	matcherLog := logger.Named("matcher")
	keyword := matcher.NewKeywordStrategy(matcher.KeywordConfig{
		ConfidenceThreshold: cfg.Analysis.ConfidenceThreshold,
		MinContentLength:    cfg.Analysis.ContentMinLength,
	}, matcherLog)

	strategies := map[crawl.AnalysisMode]matcher.Strategy{
		crawl.ModeKeyword: keyword,
	}

	if cfg.Analysis.LLMAPIKey == "" && cfg.Analysis.LLMBaseURL == "" {
		logger.Warn("no model endpoint configured, only keyword analysis available")
		return strategies
	}

	client := openai.New(openai.Config{
		BaseURL:        cfg.Analysis.LLMBaseURL,
		APIKey:         cfg.Analysis.LLMAPIKey,
		Model:          cfg.Analysis.LLMModel,
		EmbeddingModel: cfg.Analysis.EmbeddingModel,
	}, logger.Named("openai"))

	embedding := matcher.NewEmbeddingStrategy(client, governor, matcher.EmbeddingConfig{
		SimilarityThreshold: cfg.Analysis.SimilarityThreshold,
		MinContentLength:    cfg.Analysis.ContentMinLength,
	}, matcherLog)

	strategies[crawl.ModeLocal] = embedding
	strategies[crawl.ModeLLM] = matcher.NewLLMStrategy(client, governor, keyword, matcher.LLMConfig{
		ChunkSize:        cfg.Analysis.ChunkSize,
		MinContentLength: cfg.Analysis.ContentMinLength,
	}, matcherLog)
	strategies[crawl.ModeHybrid] = matcher.NewHybridStrategy(keyword, embedding, matcher.HybridConfig{
		KeywordWeight:       cfg.Analysis.KeywordWeight,
		SemanticWeight:      cfg.Analysis.SemanticWeight,
		ConfidenceThreshold: cfg.Analysis.ConfidenceThreshold,
	}, matcherLog)
	strategies[crawl.ModeValidation] = matcher.NewValidationStrategy(keyword, embedding, matcher.ValidationConfig{
		SimilarityThreshold: cfg.Analysis.SimilarityThreshold,
	}, matcherLog)

	return strategies
}
