package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
	"github.com/thehouseofbailey/personamapper/internal/metrics"
)

func init() {
	metrics.Init()
}

func noSleep(_ context.Context, _ time.Duration) error {
	return nil
}

func fixedRetryPolicy(maxAttempts int) crawl.RetryPolicy {
	return crawl.NewExponentialRetryPolicy(maxAttempts, time.Millisecond, time.Millisecond)
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "test-agent", Timeout: 5 * time.Second}, fixedRetryPolicy(3), noSleep, nil)
	result, err := f.Fetch(context.Background(), crawl.FetchRequest{JobID: "job-1", URL: srv.URL + "/page"})
	require.NoError(t, err)
	require.Equal(t, crawl.FetchSuccess, result.Status)
	require.Equal(t, http.StatusOK, result.HTTPStatus)
	require.Contains(t, string(result.Body), "hello")
}

func TestFetchClientErrorIsTerminal(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second}, fixedRetryPolicy(3), noSleep, nil)
	result, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: srv.URL + "/missing"})
	require.NoError(t, err)
	require.Equal(t, crawl.FetchClientError, result.Status)
	require.Equal(t, http.StatusNotFound, result.HTTPStatus)
	require.Equal(t, int32(1), hits.Load(), "client errors must not be retried")
}

func TestFetchRetriesServerErrorToSuccess(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second}, fixedRetryPolicy(3), noSleep, nil)
	result, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: srv.URL + "/flaky"})
	require.NoError(t, err)
	require.Equal(t, crawl.FetchSuccess, result.Status)
	require.Equal(t, int32(3), hits.Load())
}

func TestFetchExhaustsRetries(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second}, fixedRetryPolicy(3), noSleep, nil)
	result, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: srv.URL + "/broken"})
	require.NoError(t, err)
	require.Equal(t, crawl.FetchServerError, result.Status)
	require.Equal(t, int32(3), hits.Load())
}

func TestFetchNoRetryPolicy(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second}, nil, noSleep, nil)
	result, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, crawl.FetchServerError, result.Status)
	require.Equal(t, int32(1), hits.Load())
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	f := New(Config{Timeout: 30 * time.Second}, fixedRetryPolicy(3), noSleep, nil)
	_, err := f.Fetch(ctx, crawl.FetchRequest{URL: srv.URL + "/slow"})
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	timeoutErr := &net.OpError{Op: "dial", Err: &timeoutError{}}

	tests := []struct {
		name     string
		err      error
		httpCode int
		want     crawl.FetchStatus
	}{
		{"server error", errors.New("http 503"), 503, crawl.FetchServerError},
		{"client error", errors.New("http 404"), 404, crawl.FetchClientError},
		{"deadline exceeded", fmt.Errorf("visit: %w", context.DeadlineExceeded), 0, crawl.FetchTimeout},
		{"net timeout", timeoutErr, 0, crawl.FetchTimeout},
		{"client timeout string", errors.New("Get \"x\": Client.Timeout exceeded"), 0, crawl.FetchTimeout},
		{"connection refused", errors.New("dial tcp: connection refused"), 0, crawl.FetchConnectionError},
		{"nil error no status", nil, 0, crawl.FetchConnectionError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, classify(tc.err, tc.httpCode))
		})
	}
}

func TestWaitPolitenessSpacesRequests(t *testing.T) {
	t.Parallel()

	f := New(Config{PerHostDelay: 40 * time.Millisecond}, nil, noSleep, nil)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, f.waitPoliteness(ctx, "https://example.com/a"))
	require.NoError(t, f.waitPoliteness(ctx, "https://example.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	// A different host must not be delayed by the first host's limiter.
	other := time.Now()
	require.NoError(t, f.waitPoliteness(ctx, "https://other.example.org/"))
	require.Less(t, time.Since(other), 30*time.Millisecond)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
