package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

// Error kinds.
const (
	KindComplianceDenied ErrorKind = "compliance_denied"
	KindTransientFetch   ErrorKind = "transient_fetch"
	KindExtraction       ErrorKind = "extraction"
	KindValidation       ErrorKind = "validation_rejected"
)

// Sentinel errors surfaced by the orchestrator.
var (
	ErrJobRunning     = errors.New("a crawl job is already running")
	ErrJobNotFound    = errors.New("crawl job not found")
	ErrJobFinished    = errors.New("crawl job already finished")
	ErrUnknownSource  = errors.New("unknown source")
	ErrPlanNotFound   = errors.New("plan not found")
	ErrNoSourcesGiven = errors.New("no sources to crawl")
)

// CrawlError carries the kind of a failure plus where it happened.
type CrawlError struct {
	Kind   ErrorKind
	Source string
	URL    string
	Err    error
}

// NewError builds a CrawlError.
func NewError(kind ErrorKind, source, url string, err error) *CrawlError {
	return &CrawlError{Kind: kind, Source: source, URL: url, Err: err}
}

func (e *CrawlError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first CrawlError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsRetryable reports whether err is a transient fetch problem worth another
// attempt. Cancellation is never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Kind == KindTransientFetch
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// ClassifyStatus maps a page response status to a pipeline error. 2xx and 3xx
// yield nil; 408, 429 and 5xx are transient; other 4xx mean the page is gone
// or moved and retrying will not help.
func ClassifyStatus(url string, status int) error {
	switch {
	case status < 400:
		return nil
	case status == 408 || status == 429 || status >= 500:
		return NewError(KindTransientFetch, "", url, fmt.Errorf("http status %d", status))
	default:
		return NewError(KindExtraction, "", url, fmt.Errorf("http status %d", status))
	}
}
