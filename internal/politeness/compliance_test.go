package politeness

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func robotsServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplianceCheckerHonoursDisallow(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := robotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /blocked\nCrawl-delay: 5\n", &hits)
	checker := NewComplianceChecker(ComplianceConfig{Respect: true, UserAgent: "jppc-test"}, zap.NewNop())
	ctx := context.Background()

	require.True(t, checker.Permits(ctx, srv.URL+"/allowed"))
	require.False(t, checker.Permits(ctx, srv.URL+"/blocked/page.html"))
	delay, ok := checker.CrawlDelay(ctx, srv.URL+"/allowed")
	require.True(t, ok)
	require.Equal(t, 5*time.Second, delay)
	require.Equal(t, int32(1), hits.Load(), "robots.txt should be fetched once per host")
}

func TestComplianceCheckerPermissiveWhenUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	checker := NewComplianceChecker(ComplianceConfig{Respect: true, UserAgent: "jppc-test"}, zap.NewNop())

	notFound := robotsServer(t, http.StatusNotFound, "", nil)
	require.True(t, checker.Permits(ctx, notFound.URL+"/anything"))

	broken := robotsServer(t, http.StatusServiceUnavailable, "User-agent: *\nDisallow: /", nil)
	require.True(t, checker.Permits(ctx, broken.URL+"/anything"))
	_, ok := checker.CrawlDelay(ctx, broken.URL+"/anything")
	require.False(t, ok)

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	require.True(t, checker.Permits(ctx, deadURL+"/anything"))
}

func TestComplianceCheckerCacheExpires(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := robotsServer(t, http.StatusOK, "User-agent: *\nAllow: /\n", &hits)
	checker := NewComplianceChecker(ComplianceConfig{Respect: true, CacheTTL: time.Minute}, zap.NewNop())
	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	checker.now = func() time.Time { return now }
	ctx := context.Background()

	require.True(t, checker.Permits(ctx, srv.URL+"/a"))
	require.True(t, checker.Permits(ctx, srv.URL+"/b"))
	require.Equal(t, int32(1), hits.Load())

	now = now.Add(2 * time.Minute)
	require.True(t, checker.Permits(ctx, srv.URL+"/c"))
	require.Equal(t, int32(2), hits.Load())
}

func TestComplianceCheckerDisabled(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := robotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /\n", &hits)
	checker := NewComplianceChecker(ComplianceConfig{Respect: false}, nil)
	require.True(t, checker.Permits(context.Background(), srv.URL+"/blocked"))
	require.Zero(t, hits.Load())
}

func TestComplianceCheckerRejectsBadURL(t *testing.T) {
	t.Parallel()

	checker := NewComplianceChecker(ComplianceConfig{Respect: true}, nil)
	require.False(t, checker.Permits(context.Background(), "not a url"))
}
