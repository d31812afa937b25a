package collyfetcher

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingRoundTripper struct {
	calls int
	body  string
}

func (c *countingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls++
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusOK)
	if _, err := rec.WriteString(c.body); err != nil {
		return nil, err
	}
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return string(body)
}

func TestRobotsCacheServesRepeatRequestsFromCache(t *testing.T) {
	t.Parallel()

	base := &countingRoundTripper{body: "User-agent: *\nDisallow: /private"}
	transport := NewRobotsCacheTransport(base)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
		resp, err := transport.RoundTrip(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, readBody(t, resp), "Disallow: /private")
	}
	require.Equal(t, 1, base.calls)
}

func TestRobotsCacheIsPerHost(t *testing.T) {
	t.Parallel()

	base := &countingRoundTripper{body: "User-agent: *\nAllow: /"}
	transport := NewRobotsCacheTransport(base)

	for _, target := range []string{
		"https://example.com/robots.txt",
		"https://example.org/robots.txt",
		"https://EXAMPLE.com/robots.txt",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		resp, err := transport.RoundTrip(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}
	// Host comparison is case insensitive, so only two distinct hosts hit
	// the network.
	require.Equal(t, 2, base.calls)
}

func TestRobotsCachePassesThroughOtherRequests(t *testing.T) {
	t.Parallel()

	base := &countingRoundTripper{body: "<html></html>"}
	transport := NewRobotsCacheTransport(base)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "https://example.com/docs", nil)
		resp, err := transport.RoundTrip(req)
		require.NoError(t, err)
		require.True(t, strings.Contains(readBody(t, resp), "<html>"))
	}
	require.Equal(t, 2, base.calls)
}
