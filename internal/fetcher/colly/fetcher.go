// Package collyfetcher implements crawl.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
	"github.com/thehouseofbailey/personamapper/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	PerHostDelay  time.Duration
}

// SleepFunc waits for the given duration, honoring context cancellation.
// Tests inject a no-op implementation to avoid real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Fetcher implements crawl.Fetcher using cloned Colly collectors, with a
// per-host politeness limiter and a bounded retry policy for transient
// failures.
type Fetcher struct {
	cfg           Config
	retry         crawl.RetryPolicy
	sleep         SleepFunc
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Fetcher. A nil retry policy disables retries; a nil sleep
// function uses a real timer.
func New(cfg Config, retry crawl.RetryPolicy, sleep SleepFunc, logger *zap.Logger) *Fetcher {
	if sleep == nil {
		sleep = contextSleep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Revisit must stay allowed: clones share the visited store, and a
	// retried URL is a revisit from the collector's point of view.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	var transport http.RoundTripper = newHTTPTransport()
	if cfg.RespectRobots {
		transport = NewRobotsCacheTransport(transport)
	}
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		retry:         retry,
		sleep:         sleep,
		transport:     transport,
		baseCollector: c,
		logger:        logger,
		limiters:      make(map[string]*rate.Limiter),
	}
}

// Fetch executes one logical GET: a politeness wait, then up to the retry
// policy's attempt budget of physical requests. Failed outcomes come back
// as a classified FetchResult; the error return is reserved for context
// cancellation.
func (f *Fetcher) Fetch(ctx context.Context, request crawl.FetchRequest) (crawl.FetchResult, error) {
	if err := f.waitPoliteness(ctx, request.URL); err != nil {
		return crawl.FetchResult{}, err
	}

	attempt := 0
	for {
		result := f.fetchOnce(ctx, request)
		if ctx.Err() != nil {
			return crawl.FetchResult{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
		}
		if result.Status == crawl.FetchSuccess {
			return result, nil
		}
		attempt++
		if f.retry == nil || !f.retry.ShouldRetry(result, attempt) {
			return result, nil
		}
		backoff := f.retry.Backoff(attempt - 1)
		f.logger.Debug("retrying fetch",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.String("status", string(result.Status)),
			zap.Duration("backoff", backoff),
		)
		if err := f.sleep(ctx, backoff); err != nil {
			return crawl.FetchResult{}, fmt.Errorf("retry backoff: %w", err)
		}
	}
}

// waitPoliteness blocks until the per-host limiter grants a slot.
func (f *Fetcher) waitPoliteness(ctx context.Context, rawURL string) error {
	if f.cfg.PerHostDelay <= 0 {
		return nil
	}
	host := hostOf(rawURL)
	f.mu.Lock()
	limiter, ok := f.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(f.cfg.PerHostDelay), 1)
		f.limiters[host] = limiter
	}
	f.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("politeness wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, request crawl.FetchRequest) crawl.FetchResult {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	start := time.Now()
	var (
		result   crawl.FetchResult
		fetchErr error
		httpCode int
	)
	collector.OnResponse(func(r *colly.Response) {
		result = crawl.FetchResult{
			URL:        r.Request.URL.String(),
			Status:     crawl.FetchSuccess,
			HTTPStatus: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			httpCode = r.StatusCode
		}
		fetchErr = err
	})

	visitErr := f.runCollector(ctx, collector, request.URL)
	if result.Status == crawl.FetchSuccess {
		return result
	}
	if fetchErr == nil {
		fetchErr = visitErr
	}
	return crawl.FetchResult{
		URL:        request.URL,
		Status:     classify(fetchErr, httpCode),
		HTTPStatus: httpCode,
		Duration:   time.Since(start),
	}
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// classify maps a fetch error and optional HTTP status into the outcome
// taxonomy. Unknown errors count as connection errors so they stay
// retryable.
func classify(err error, httpCode int) crawl.FetchStatus {
	switch {
	case httpCode >= 500:
		return crawl.FetchServerError
	case httpCode >= 400:
		return crawl.FetchClientError
	}
	if err == nil {
		return crawl.FetchConnectionError
	}
	if errors.Is(err, colly.ErrRobotsTxtBlocked) {
		return crawl.FetchRobotsDenied
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return crawl.FetchTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawl.FetchTimeout
	}
	if strings.Contains(err.Error(), "Client.Timeout") {
		return crawl.FetchTimeout
	}
	return crawl.FetchConnectionError
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
