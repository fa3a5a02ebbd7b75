// Package extractor knows each utility's pricing pages and how to read plan
// prices out of them. Variants are plain rule tables run by one shared page
// loop and are looked up through a Registry keyed by source code.
package extractor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nalpari/jppc/internal/crawler"
)

// RenewableSurcharge is the national renewable energy levy in yen per kWh.
// It is set nationally each fiscal year, so it is not scraped per source.
const RenewableSurcharge = 1.40

// Waiter gates successive page loads of one session.
type Waiter interface {
	Wait(ctx context.Context) (time.Duration, error)
}

// Session carries the per-run collaborators of one source extraction.
type Session struct {
	Loader crawler.PageLoader
	// Limiter may be nil.
	Limiter Waiter
	// Archive may be nil; when set every loaded page is stored under
	// {ArchivePrefix}/{source}/{JobID}/{page key}.html.
	Archive       crawler.BlobStore
	ArchivePrefix string
	JobID         string
	Logger        *zap.Logger
	Now           func() time.Time
}

// Extractor is implemented by every source variant.
type Extractor interface {
	Source() crawler.Source
	PageDescriptors() []crawler.PageDescriptor
	// Extract walks the pages in order and stops at the first failure,
	// returning the plans gathered so far together with the error.
	Extract(ctx context.Context, s Session) (crawler.Extraction, error)
}

func (s Session) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s Session) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}
