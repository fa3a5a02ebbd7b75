// Package headless loads pricing pages through headless Chrome so tables
// built by client-side scripts are present in the captured DOM.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/nalpari/jppc/internal/crawler"
	"github.com/nalpari/jppc/internal/metrics"
)

const (
	defaultNavTimeout = 45 * time.Second
	defaultSettle     = 500 * time.Millisecond
)

// HostLimiter paces requests per host.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the behavior of the headless loader.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready before capturing.
	Settle      time.Duration
	HostLimiter HostLimiter
}

// Loader implements crawler.PageLoader using chromedp.
type Loader struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless loader backed by chromedp. The browser is
// started lazily on the first Load.
func NewChromedp(cfg Config) (*Loader, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = defaultSettle
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("lang", "ja-JP"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Loader{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (l *Loader) Close() {
	l.allocCancel()
}

// Load navigates to url and returns the rendered DOM. Navigation timeouts,
// network errors and 5xx/429 documents are reported as transient.
func (l *Loader) Load(ctx context.Context, url string) (crawler.Page, error) {
	if l.cfg.HostLimiter != nil {
		if err := l.cfg.HostLimiter.Wait(ctx, url); err != nil {
			return crawler.Page{}, fmt.Errorf("headless host limiter: %w", err)
		}
	}
	if err := l.acquire(ctx); err != nil {
		return crawler.Page{}, err
	}
	defer l.release()

	taskCtx, taskCancel := chromedp.NewContext(l.allocator)
	defer taskCancel()
	// Stop the tab when the caller gives up.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, l.cfg.NavigationTimeout)
	defer cancel()

	meta := &documentMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := l.render(taskCtx, url)
	status, _ := meta.snapshot()
	metrics.ObservePageFetch(url, status)
	if err != nil {
		return crawler.Page{}, l.classify(ctx, url, err)
	}
	if status == 0 {
		status = http.StatusOK
	}
	if classified := crawler.ClassifyStatus(url, status); classified != nil {
		return crawler.Page{}, classified
	}
	return crawler.Page{
		URL:        url,
		FinalURL:   finalURL,
		StatusCode: status,
		HTML:       []byte(html),
		Duration:   time.Since(start),
	}, nil
}

func (l *Loader) render(ctx context.Context, url string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		l.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(l.cfg.Settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

// classify labels a render failure. A cancelled caller context is passed
// through untouched so it is never retried.
func (l *Loader) classify(parent context.Context, url string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("headless load canceled: %w", parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return crawler.NewError(crawler.KindTransientFetch, "", url, fmt.Errorf("navigation timeout: %w", err))
	}
	return crawler.NewError(crawler.KindTransientFetch, "", url, err)
}

func (l *Loader) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if l.cfg.UserAgent != "" {
			override := emulation.SetUserAgentOverride(l.cfg.UserAgent).WithAcceptLanguage("ja-JP,ja;q=0.9")
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (l *Loader) acquire(ctx context.Context) error {
	if l.slots == nil {
		return nil
	}
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (l *Loader) release() {
	if l.slots == nil {
		return
	}
	select {
	case <-l.slots:
	default:
	}
}

// documentMeta records the status of the main document response.
type documentMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func (m *documentMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Keep the first document; later ones belong to iframes.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *documentMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *documentMeta) snapshot() (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.url
}
