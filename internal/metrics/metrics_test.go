package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := crawlPagesTotal
	Init()
	if crawlPagesTotal != first {
		t.Fatal("repeated Init() must not replace collectors")
	}
	if crawlPagesTotal == nil || crawlBytesTotal == nil || mappingsCreatedTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(crawlPagesTotal.WithLabelValues("test.com", "success"))
	ObserveFetch("https://test.com/page", "success", 128)
	after := testutil.ToFloat64(crawlPagesTotal.WithLabelValues("test.com", "success"))
	if after != before+1 {
		t.Errorf("ObserveFetch: got %f, want %f", after, before+1)
	}

	mapBefore := testutil.ToFloat64(mappingsCreatedTotal.WithLabelValues("keyword"))
	ObserveMappings("keyword", 3)
	mapAfter := testutil.ToFloat64(mappingsCreatedTotal.WithLabelValues("keyword"))
	if mapAfter != mapBefore+3 {
		t.Errorf("ObserveMappings: got %f, want %f", mapAfter, mapBefore+3)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
