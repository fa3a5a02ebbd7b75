// Package collyfetcher implements crawler.PageLoader for static pages using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/nalpari/jppc/internal/crawler"
	"github.com/nalpari/jppc/internal/metrics"
)

// HostLimiter paces requests per host.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	HostLimiter HostLimiter
	Headers     http.Header
}

// Fetcher implements crawler.PageLoader using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// loadState collects what the collector callbacks observed for one visit.
type loadState struct {
	page   crawler.Page
	status int
	err    error
}

// New builds a Fetcher. Robots handling is left to the compliance checker,
// so the collector ignores robots.txt itself.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.DetectCharset = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Load executes a single GET and classifies failures for the retry policy.
func (f *Fetcher) Load(ctx context.Context, url string) (crawler.Page, error) {
	if f.cfg.HostLimiter != nil {
		if err := f.cfg.HostLimiter.Wait(ctx, url); err != nil {
			return crawler.Page{}, fmt.Errorf("colly host limiter: %w", err)
		}
	}
	state := &loadState{page: crawler.Page{URL: url}}
	collector := f.buildCollector(time.Now(), state)

	if err := runCollector(ctx, collector, url); err != nil {
		if ctx.Err() != nil {
			// The visit goroutine may still be writing state.
			metrics.ObservePageFetch(url, 0)
			return crawler.Page{}, err
		}
		if state.err == nil {
			state.err = err
		}
	}
	metrics.ObservePageFetch(url, state.status)

	if state.err != nil {
		return crawler.Page{}, classify(url, state.status, state.err)
	}
	return state.page, nil
}

func (f *Fetcher) buildCollector(start time.Time, state *loadState) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	f.configureCollectorHooks(collector, start, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, start time.Time, state *loadState) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range f.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.status = r.StatusCode
		state.page = crawler.Page{
			URL:        state.page.URL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			HTML:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			state.status = r.StatusCode
		}
		state.err = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// classify turns a collector failure into a crawler error. Responses with a
// status are judged by status; transport failures are transient.
func classify(url string, status int, err error) error {
	if status > 0 {
		if classified := crawler.ClassifyStatus(url, status); classified != nil {
			return classified
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || status == 0 {
		return crawler.NewError(crawler.KindTransientFetch, "", url, err)
	}
	return crawler.NewError(crawler.KindExtraction, "", url, err)
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
