package collyfetcher

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const robotsCacheTTL = 15 * time.Minute

// robotsCacheTransport memoizes robots.txt responses per host so the
// collector's robots checks do not refetch the file for every page on
// the same site.
type robotsCacheTransport struct {
	base http.RoundTripper

	mu    sync.Mutex
	cache map[string]*robotsCacheEntry
}

type robotsCacheEntry struct {
	statusCode int
	header     http.Header
	body       []byte
	fetchedAt  time.Time
}

// NewRobotsCacheTransport wraps base with a per-host robots.txt cache.
func NewRobotsCacheTransport(base http.RoundTripper) http.RoundTripper {
	return &robotsCacheTransport{
		base:  base,
		cache: make(map[string]*robotsCacheEntry),
	}
}

func (t *robotsCacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}

	host := strings.ToLower(req.URL.Host)
	t.mu.Lock()
	entry, ok := t.cache[host]
	if ok && time.Since(entry.fetchedAt) < robotsCacheTTL {
		t.mu.Unlock()
		return entry.response(req), nil
	}
	t.mu.Unlock()

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("robots fetch: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("robots body read: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("robots body close: %w", closeErr)
	}

	entry = &robotsCacheEntry{
		statusCode: resp.StatusCode,
		header:     resp.Header.Clone(),
		body:       body,
		fetchedAt:  time.Now(),
	}
	t.mu.Lock()
	t.cache[host] = entry
	t.mu.Unlock()

	return entry.response(req), nil
}

func (e *robotsCacheEntry) response(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    e.statusCode,
		Status:        fmt.Sprintf("%d %s", e.statusCode, http.StatusText(e.statusCode)),
		Body:          io.NopCloser(bytes.NewReader(e.body)),
		ContentLength: int64(len(e.body)),
		Header:        e.header.Clone(),
		Request:       req,
	}
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}
