// Package orchestrator drives crawl jobs from seeding through completion.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
	"github.com/thehouseofbailey/personamapper/internal/extract"
	"github.com/thehouseofbailey/personamapper/internal/matcher"
	"github.com/thehouseofbailey/personamapper/internal/metrics"
	"github.com/thehouseofbailey/personamapper/internal/persona"
	"github.com/thehouseofbailey/personamapper/internal/progress"
	"github.com/thehouseofbailey/personamapper/internal/sitemap"
)

// Config controls Orchestrator behavior. A nil Archive disables raw
// document archival.
type Config struct {
	BatchSize          int
	DefaultConcurrency int
	DefaultMaxPages    int
	MaxURLAttempts     int
	Archive            crawl.BlobStore
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.DefaultConcurrency <= 0 {
		c.DefaultConcurrency = 4
	}
	if c.DefaultMaxPages <= 0 {
		c.DefaultMaxPages = 100
	}
	if c.MaxURLAttempts <= 0 {
		c.MaxURLAttempts = 2
	}
	return c
}

// Orchestrator executes one crawl job at a time: it seeds the frontier,
// claims batches, runs the per-URL pipeline under a bounded worker pool and
// settles the job's final status.
type Orchestrator struct {
	jobs       crawl.JobStore
	frontier   crawl.FrontierStore
	pages      crawl.PageStore
	mappings   persona.MappingStore
	personas   persona.Store
	fetcher    crawl.Fetcher
	extractor  *extract.Extractor
	hasher     crawl.Hasher
	clock      crawl.Clock
	ids        crawl.IDGenerator
	discoverer *sitemap.Discoverer
	strategies map[crawl.AnalysisMode]matcher.Strategy
	emitter    progress.Emitter
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Orchestrator.
func New(
	jobs crawl.JobStore,
	frontier crawl.FrontierStore,
	pages crawl.PageStore,
	mappings persona.MappingStore,
	personas persona.Store,
	fetcher crawl.Fetcher,
	extractor *extract.Extractor,
	hasher crawl.Hasher,
	clock crawl.Clock,
	ids crawl.IDGenerator,
	discoverer *sitemap.Discoverer,
	strategies map[crawl.AnalysisMode]matcher.Strategy,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		jobs:       jobs,
		frontier:   frontier,
		pages:      pages,
		mappings:   mappings,
		personas:   personas,
		fetcher:    fetcher,
		extractor:  extractor,
		hasher:     hasher,
		clock:      clock,
		ids:        ids,
		discoverer: discoverer,
		strategies: strategies,
		emitter:    emitter,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// Run executes the job until it reaches a terminal status, is paused, or the
// context ends. A paused job keeps its frontier; resuming enqueues it again
// and Run continues from the unclaimed entries.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	cfg := o.cfg
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.IsTerminal() {
		o.logger.Info("job already settled", zap.String("job_id", jobID), zap.String("status", string(job.Status)))
		return nil
	}

	scope, err := newScope(job.Parameters)
	if err != nil {
		o.settle(ctx, jobID, crawl.JobStatusFailed, err.Error(), job.Counters)
		return err
	}

	strategy, ok := o.strategies[job.Parameters.AnalysisMode]
	if !ok {
		err := fmt.Errorf("unknown analysis mode %q", job.Parameters.AnalysisMode)
		o.settle(ctx, jobID, crawl.JobStatusFailed, err.Error(), job.Counters)
		return err
	}

	if err := o.jobs.UpdateJobStatus(ctx, jobID, crawl.JobStatusRunning, "", job.Counters); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	o.emit(progress.Event{JobID: jobID, TS: o.clock.Now(), Stage: progress.StageJobStart})

	if job.Status == crawl.JobStatusPending {
		if err := o.seed(ctx, job, scope); err != nil {
			o.settle(ctx, jobID, crawl.JobStatusFailed, err.Error(), job.Counters)
			return err
		}
	}

	maxPages := job.Parameters.MaxPages
	if maxPages <= 0 {
		maxPages = cfg.DefaultMaxPages
	}
	concurrency := job.Parameters.Concurrency
	if concurrency <= 0 {
		concurrency = cfg.DefaultConcurrency
	}

	st := &runState{counters: job.Counters}

	for {
		if err := ctx.Err(); err != nil {
			o.settle(context.WithoutCancel(ctx), jobID, crawl.JobStatusCancelled, "context canceled", st.snapshot())
			return err
		}

		current, err := o.jobs.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("poll job %s: %w", jobID, err)
		}
		switch current.Status {
		case crawl.JobStatusCancelled:
			o.logger.Info("job cancelled", zap.String("job_id", jobID))
			o.settle(ctx, jobID, crawl.JobStatusCancelled, current.ErrorText, st.snapshot())
			return nil
		case crawl.JobStatusPaused:
			o.logger.Info("job paused", zap.String("job_id", jobID))
			if err := o.jobs.UpdateJobStatus(ctx, jobID, crawl.JobStatusPaused, "", st.snapshot()); err != nil {
				return fmt.Errorf("persist paused counters: %w", err)
			}
			o.emit(progress.Event{JobID: jobID, TS: o.clock.Now(), Stage: progress.StageJobPaused})
			return nil
		default:
			// Progress heartbeat. The store refuses to overwrite a
			// terminal status, so a cancel landing between the poll and
			// this write survives; the next poll observes it.
			if err := o.jobs.UpdateJobStatus(ctx, jobID, crawl.JobStatusRunning, "", st.snapshot()); err != nil {
				if errors.Is(err, crawl.ErrJobSettled) {
					continue
				}
				o.logger.Warn("persist progress failed", zap.String("job_id", jobID), zap.Error(err))
			}
		}

		remaining := maxPages - st.snapshot().PagesSucceeded
		if remaining <= 0 {
			break
		}

		limit := cfg.BatchSize
		if remaining < limit {
			limit = remaining
		}
		batch, err := o.frontier.Claim(ctx, jobID, limit)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		o.processBatch(ctx, job, strategy, scope, batch, concurrency, st)
	}

	counters := st.snapshot()
	status := crawl.JobStatusCompleted
	errText := ""
	if counters.PagesSucceeded == 0 && counters.PagesFailed > 0 {
		status = crawl.JobStatusFailed
		errText = st.lastError()
	}
	// A cancel that arrived while the final batch was in flight wins over
	// completion.
	if current, err := o.jobs.GetJob(ctx, jobID); err == nil && current.Status == crawl.JobStatusCancelled {
		status = crawl.JobStatusCancelled
		errText = current.ErrorText
	}
	o.settle(ctx, jobID, status, errText, counters)
	o.logger.Info("job finished",
		zap.String("job_id", jobID),
		zap.String("status", string(status)),
		zap.Int("succeeded", counters.PagesSucceeded),
		zap.Int("failed", counters.PagesFailed),
		zap.Int("mappings", counters.MappingsCreated))
	return nil
}

func (o *Orchestrator) settle(ctx context.Context, jobID string, status crawl.JobStatus, errText string, counters crawl.JobCounters) {
	if err := o.jobs.UpdateJobStatus(ctx, jobID, status, errText, counters); err != nil {
		if errors.Is(err, crawl.ErrJobSettled) {
			o.logger.Info("job settled externally", zap.String("job_id", jobID), zap.Error(err))
		} else {
			o.logger.Error("final job status update failed", zap.String("job_id", jobID), zap.Error(err))
		}
		return
	}
	metrics.ObserveJob(string(status))
	stage := progress.StageJobDone
	switch status {
	case crawl.JobStatusFailed:
		stage = progress.StageJobError
	case crawl.JobStatusCancelled:
		stage = progress.StageJobCancelled
	}
	o.emit(progress.Event{JobID: jobID, TS: o.clock.Now(), Stage: stage, Note: errText})
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(evt)
}

// seed fills the frontier from the root URL, any explicit seed URLs and the
// site's sitemaps, deduplicated through the store.
func (o *Orchestrator) seed(ctx context.Context, job crawl.Job, scope *urlScope) error {
	var entries []crawl.CrawlURL
	add := func(rawURL string, source crawl.DiscoverySource) {
		normalized, ok := scope.allow(rawURL)
		if !ok {
			return
		}
		entries = append(entries, crawl.CrawlURL{
			JobID:  job.ID,
			URL:    normalized,
			Source: source,
			Status: crawl.URLStatusPending,
		})
	}

	add(job.Parameters.RootURL, crawl.SourceSeed)
	for _, u := range job.Parameters.SeedURLs {
		add(u, crawl.SourceSeed)
	}

	if o.discoverer != nil {
		discovered, err := o.discoverer.Discover(ctx, job.Parameters.RootURL)
		if err != nil {
			o.logger.Warn("sitemap discovery failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		for _, u := range discovered {
			add(u, crawl.SourceSitemap)
		}
	}

	if len(entries) == 0 {
		return fmt.Errorf("no crawlable seed urls for %s", job.Parameters.RootURL)
	}
	added, err := o.frontier.Add(ctx, entries)
	if err != nil {
		return fmt.Errorf("seed frontier: %w", err)
	}
	o.logger.Info("frontier seeded", zap.String("job_id", job.ID), zap.Int("urls", added))
	return nil
}

func (o *Orchestrator) processBatch(
	ctx context.Context,
	job crawl.Job,
	strategy matcher.Strategy,
	scope *urlScope,
	batch []crawl.CrawlURL,
	concurrency int,
	st *runState,
) {
	work := make(chan crawl.CrawlURL)
	var wg sync.WaitGroup
	if concurrency > len(batch) {
		concurrency = len(batch)
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			for entry := range work {
				o.processURL(ctx, job, strategy, scope, entry, st)
			}
		}()
	}
	for _, entry := range batch {
		work <- entry
	}
	close(work)
	wg.Wait()
}

func (o *Orchestrator) processURL(
	ctx context.Context,
	job crawl.Job,
	strategy matcher.Strategy,
	scope *urlScope,
	entry crawl.CrawlURL,
	st *runState,
) {
	now := o.clock.Now()
	result, err := o.fetcher.Fetch(ctx, crawl.FetchRequest{JobID: job.ID, URL: entry.URL})
	if err != nil {
		// Context-level failure; leave the entry claimable for a rerun.
		o.resolve(ctx, entry, crawl.URLStatusRetrying, crawl.ErrKindConnection, now)
		st.recordError(err.Error())
		return
	}

	site := metrics.SanitizeSite(entry.URL)
	metrics.ObserveFetch(site, string(result.Status), len(result.Body))
	o.emit(progress.Event{
		JobID:       job.ID,
		TS:          now,
		Stage:       progress.StageURLDone,
		Site:        site,
		URL:         entry.URL,
		FetchStatus: string(result.Status),
		Bytes:       int64(len(result.Body)),
		Dur:         result.Duration,
	})

	if result.Status != crawl.FetchSuccess {
		kind := result.ErrorKind()
		if result.Retryable() && entry.Attempts < o.cfg.MaxURLAttempts {
			o.resolve(ctx, entry, crawl.URLStatusRetrying, kind, now)
			st.recordRetry(fmt.Sprintf("fetch %s: %s", entry.URL, result.Status))
			return
		}
		o.resolve(ctx, entry, crawl.URLStatusFailed, kind, now)
		st.recordFailure(fmt.Sprintf("fetch %s: %s", entry.URL, result.Status))
		return
	}

	doc, err := o.extractor.Extract(entry.URL, result.Body)
	if err != nil {
		o.resolve(ctx, entry, crawl.URLStatusFailed, crawl.ErrKindExtract, now)
		st.recordFailure(fmt.Sprintf("extract %s: %v", entry.URL, err))
		return
	}

	if err := o.storeAndAnalyze(ctx, job, strategy, entry, doc, result.Body, st); err != nil {
		o.resolve(ctx, entry, crawl.URLStatusFailed, crawl.ErrKindExtract, now)
		st.recordFailure(err.Error())
		return
	}

	o.discoverLinks(ctx, job, scope, entry.URL, result.Body)
	o.resolve(ctx, entry, crawl.URLStatusSucceeded, crawl.ErrKindNone, now)
	st.recordSuccess()
}

func (o *Orchestrator) storeAndAnalyze(
	ctx context.Context,
	job crawl.Job,
	strategy matcher.Strategy,
	entry crawl.CrawlURL,
	doc extract.Document,
	body []byte,
	st *runState,
) error {
	hash, err := o.hasher.Hash([]byte(doc.Text))
	if err != nil {
		return fmt.Errorf("hash %s: %w", entry.URL, err)
	}
	id, err := o.ids.NewID()
	if err != nil {
		return fmt.Errorf("page id: %w", err)
	}
	page, created, err := o.pages.RecordPage(ctx, crawl.Page{
		ID:          id,
		URL:         entry.URL,
		Title:       doc.Title,
		Text:        doc.Text,
		WordCount:   doc.WordCount,
		ContentHash: hash,
		ArchiveURI:  o.archivePage(ctx, job.ID, id, body),
		FetchedAt:   o.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("record page %s: %w", entry.URL, err)
	}
	if !created {
		o.logger.Debug("content unchanged", zap.String("url", entry.URL))
	}

	o.analyze(ctx, job, strategy, page, st)
	return nil
}

// archivePage stores the raw fetched document when an archive is
// configured. An archival failure leaves the page unarchived but crawled.
func (o *Orchestrator) archivePage(ctx context.Context, jobID, pageID string, body []byte) string {
	if o.cfg.Archive == nil {
		return ""
	}
	path := fmt.Sprintf("pages/%s/%s.html", jobID, pageID)
	uri, err := o.cfg.Archive.PutObject(ctx, path, "text/html", bytes.NewReader(body))
	if err != nil {
		o.logger.Warn("archive page failed",
			zap.String("page_id", pageID),
			zap.Error(err),
		)
		return ""
	}
	return uri
}

// analyze runs the job's strategy over the stored page and replaces its
// active mappings. Analysis errors degrade to an unscored page rather than
// failing the crawl of the URL.
func (o *Orchestrator) analyze(ctx context.Context, job crawl.Job, strategy matcher.Strategy, page crawl.Page, st *runState) {
	personas, err := o.personas.ListActive(ctx)
	if err != nil {
		o.logger.Warn("list personas failed", zap.String("url", page.URL), zap.Error(err))
		metrics.ObserveAnalysis(strategy.Name(), "error")
		return
	}
	if len(personas) == 0 {
		return
	}

	content := matcher.Content{
		URL:   page.URL,
		Title: page.Title,
		Text:  page.Text,
		OrgID: job.Parameters.OrgID,
	}
	matches, err := strategy.Analyze(ctx, content, personas)
	if err != nil {
		if errors.Is(err, matcher.ErrContentTooShort) {
			o.logger.Debug("content too short to analyze", zap.String("url", page.URL))
			metrics.ObserveAnalysis(strategy.Name(), "skipped")
			return
		}
		o.logger.Warn("analysis failed", zap.String("url", page.URL), zap.Error(err))
		metrics.ObserveAnalysis(strategy.Name(), "error")
		return
	}
	metrics.ObserveAnalysis(strategy.Name(), "success")

	now := o.clock.Now()
	mappings := make([]persona.ContentMapping, 0, len(matches))
	byMethod := map[string]int{}
	for _, m := range matches {
		mappings = append(mappings, persona.ContentMapping{
			PageID:     page.ID,
			PersonaID:  m.PersonaID,
			Confidence: m.Confidence,
			Method:     m.Method,
			Reason:     m.Reason,
			Active:     true,
			CreatedAt:  now,
		})
		byMethod[m.Method]++
	}
	if err := o.mappings.Replace(ctx, page.ID, mappings); err != nil {
		o.logger.Warn("replace mappings failed", zap.String("url", page.URL), zap.Error(err))
		return
	}
	for method, n := range byMethod {
		metrics.ObserveMappings(method, n)
	}
	st.recordMappings(len(mappings))
	o.emit(progress.Event{
		JobID:    job.ID,
		TS:       now,
		Stage:    progress.StageAnalysisDone,
		URL:      page.URL,
		Strategy: strategy.Name(),
		Mappings: len(mappings),
	})
}

// discoverLinks extracts in-scope links from a fetched body and feeds them
// back into the frontier. The store deduplicates against already known URLs.
func (o *Orchestrator) discoverLinks(ctx context.Context, job crawl.Job, scope *urlScope, pageURL string, body []byte) {
	links, err := o.extractor.Links(pageURL, body)
	if err != nil {
		o.logger.Debug("link extraction failed", zap.String("url", pageURL), zap.Error(err))
		return
	}
	var entries []crawl.CrawlURL
	for _, link := range links {
		normalized, ok := scope.allow(link)
		if !ok {
			continue
		}
		entries = append(entries, crawl.CrawlURL{
			JobID:  job.ID,
			URL:    normalized,
			Source: crawl.SourceLink,
			Status: crawl.URLStatusPending,
		})
	}
	if len(entries) == 0 {
		return
	}
	added, err := o.frontier.Add(ctx, entries)
	if err != nil {
		o.logger.Warn("frontier add failed", zap.String("url", pageURL), zap.Error(err))
		return
	}
	if added > 0 {
		o.logger.Debug("links discovered", zap.String("url", pageURL), zap.Int("added", added))
	}
}

func (o *Orchestrator) resolve(ctx context.Context, entry crawl.CrawlURL, status crawl.URLStatus, kind crawl.ErrorKind, at time.Time) {
	if err := o.frontier.Resolve(ctx, entry.JobID, entry.URL, status, kind, at); err != nil {
		o.logger.Error("frontier resolve failed",
			zap.String("job_id", entry.JobID),
			zap.String("url", entry.URL),
			zap.Error(err))
	}
}

// urlScope decides which URLs belong to a job's crawl.
type urlScope struct {
	rootURL string
	include []glob.Glob
	exclude []glob.Glob
}

func newScope(params crawl.JobParameters) (*urlScope, error) {
	root, err := crawl.NormalizeURL(params.RootURL)
	if err != nil {
		return nil, fmt.Errorf("root url: %w", err)
	}
	s := &urlScope{rootURL: root}
	for _, p := range params.IncludePatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("include pattern %q: %w", p, err)
		}
		s.include = append(s.include, g)
	}
	for _, p := range params.ExcludePatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		s.exclude = append(s.exclude, g)
	}
	return s, nil
}

// allow returns the normalized URL and whether it is in scope: same host as
// the root, looks like an HTML page, passes any include patterns and hits no
// exclude pattern.
func (s *urlScope) allow(rawURL string) (string, bool) {
	normalized, err := crawl.NormalizeURL(rawURL)
	if err != nil {
		return "", false
	}
	if !crawl.SameHost(s.rootURL, normalized) {
		return "", false
	}
	if !extract.IsHTMLContentURL(normalized) {
		return "", false
	}
	for _, g := range s.exclude {
		if g.Match(normalized) {
			return "", false
		}
	}
	if len(s.include) == 0 {
		return normalized, true
	}
	for _, g := range s.include {
		if g.Match(normalized) {
			return normalized, true
		}
	}
	return "", false
}

// runState accumulates counters across concurrent URL workers.
type runState struct {
	mu       sync.Mutex
	counters crawl.JobCounters
	errText  string
}

func (s *runState) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.PagesSucceeded++
}

func (s *runState) recordFailure(errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.PagesFailed++
	s.errText = errText
}

func (s *runState) recordRetry(errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Retries++
	s.errText = errText
}

func (s *runState) recordError(errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errText = errText
}

func (s *runState) recordMappings(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.MappingsCreated += n
}

func (s *runState) snapshot() crawl.JobCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *runState) lastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errText
}
