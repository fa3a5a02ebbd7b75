package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://www.TEPCO.co.jp/ep/private/plan/", "www.tepco.co.jp"},
		{"no scheme", "www.kepco.co.jp/home", "www.kepco.co.jp"},
		{"host with port", "example.com:8080", "example.com"},
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
	Init()

	ObserveJob("partial")
	if val := testutil.ToFloat64(crawlJobsTotal.WithLabelValues("partial")); val < 1 {
		t.Errorf("expected partial job counter >= 1, got %f", val)
	}
}

func TestObserveHelpers(t *testing.T) {
	SetRunning(true)
	if val := testutil.ToFloat64(crawlRunning); val != 1 {
		t.Fatalf("expected running gauge 1, got %f", val)
	}
	SetRunning(false)
	if val := testutil.ToFloat64(crawlRunning); val != 0 {
		t.Fatalf("expected running gauge 0, got %f", val)
	}

	before := testutil.ToFloat64(priceChangesTotal.WithLabelValues("metrics-test", "minor"))
	ObservePriceChanges("metrics-test", 3, 1)
	if got := testutil.ToFloat64(priceChangesTotal.WithLabelValues("metrics-test", "minor")) - before; got != 2 {
		t.Fatalf("expected 2 minor changes, got %f", got)
	}

	ObserveSource("metrics-test", true, 3*time.Second)
	if val := testutil.ToFloat64(sourceOutcomesTotal.WithLabelValues("metrics-test", "success")); val != 1 {
		t.Fatalf("expected one success outcome, got %f", val)
	}

	ObservePageFetch("https://www.chuden.co.jp/home", 503)
	if val := testutil.ToFloat64(pageFetchesTotal.WithLabelValues("www.chuden.co.jp", "503")); val != 1 {
		t.Fatalf("expected one 503 fetch, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://www.energia.co.jp", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
