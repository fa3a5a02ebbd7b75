package politeness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// Compliance defaults.
const (
	DefaultRobotsTimeout  = 10 * time.Second
	DefaultRobotsCacheTTL = time.Hour
)

// ComplianceConfig configures a ComplianceChecker.
type ComplianceConfig struct {
	// Respect false turns every check into an allow.
	Respect   bool
	UserAgent string
	Timeout   time.Duration
	CacheTTL  time.Duration
	Client    *http.Client
}

// ComplianceChecker answers robots.txt questions per host. Unreachable or
// unparsable robots files are treated as allow-all.
type ComplianceChecker struct {
	client    *http.Client
	respect   bool
	userAgent string
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]robotsEntry
}

type robotsEntry struct {
	// nil data means permissive.
	data    *robotstxt.RobotsData
	expires time.Time
}

// NewComplianceChecker builds a checker from cfg.
func NewComplianceChecker(cfg ComplianceConfig, logger *zap.Logger) *ComplianceChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRobotsTimeout
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultRobotsCacheTTL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &ComplianceChecker{
		client:    client,
		respect:   cfg.Respect,
		userAgent: cfg.UserAgent,
		ttl:       ttl,
		now:       time.Now,
		logger:    logger,
		cache:     make(map[string]robotsEntry),
	}
}

// Permits reports whether rawURL may be fetched.
func (c *ComplianceChecker) Permits(ctx context.Context, rawURL string) bool {
	if c == nil || !c.respect {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	group := c.group(ctx, parsed)
	if group == nil {
		return true
	}
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	return group.Test(target)
}

// CrawlDelay returns the Crawl-delay directive for rawURL's host, if any.
func (c *ComplianceChecker) CrawlDelay(ctx context.Context, rawURL string) (time.Duration, bool) {
	if c == nil || !c.respect {
		return 0, false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return 0, false
	}
	group := c.group(ctx, parsed)
	if group == nil || group.CrawlDelay <= 0 {
		return 0, false
	}
	return group.CrawlDelay, true
}

func (c *ComplianceChecker) group(ctx context.Context, parsed *url.URL) *robotstxt.Group {
	data := c.load(ctx, parsed)
	if data == nil {
		return nil
	}
	return data.FindGroup(c.userAgent)
}

func (c *ComplianceChecker) load(ctx context.Context, parsed *url.URL) *robotstxt.RobotsData {
	hostKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	now := c.now()

	c.mu.Lock()
	entry, ok := c.cache[hostKey]
	c.mu.Unlock()
	if ok && now.Before(entry.expires) {
		return entry.data
	}

	data, err := c.fetch(ctx, parsed)
	if err != nil {
		c.logger.Warn("robots unavailable; allowing access",
			zap.String("host", parsed.Host),
			zap.Error(err),
		)
	}
	c.mu.Lock()
	c.cache[hostKey] = robotsEntry{data: data, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return data
}

func (c *ComplianceChecker) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch robots: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}
