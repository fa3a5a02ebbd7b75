package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nalpari/jppc/internal/crawler"
)

// siteExtractor walks a source's pages and applies the page's rules.
type siteExtractor struct {
	source crawler.Source
	rules  map[string]pageRules
}

func newSite(source crawler.Source, rules map[string]pageRules) *siteExtractor {
	return &siteExtractor{source: source, rules: rules}
}

func (e *siteExtractor) Source() crawler.Source {
	out := e.source
	out.Pages = e.PageDescriptors()
	return out
}

func (e *siteExtractor) PageDescriptors() []crawler.PageDescriptor {
	return append([]crawler.PageDescriptor(nil), e.source.Pages...)
}

// withSource returns a copy serving a different origin or name.
func (e *siteExtractor) withSource(source crawler.Source) *siteExtractor {
	return &siteExtractor{source: source, rules: maps.Clone(e.rules)}
}

func (e *siteExtractor) Extract(ctx context.Context, s Session) (crawler.Extraction, error) {
	var out crawler.Extraction
	logger := s.logger().With(zap.String("source", e.source.Code))
	for _, page := range e.source.Pages {
		if s.Limiter != nil {
			if _, err := s.Limiter.Wait(ctx); err != nil {
				return out, fmt.Errorf("wait before %s: %w", page.Key, err)
			}
		}
		url := e.source.PageURL(page)
		logger.Info("extracting plan page",
			zap.String("plan", page.PlanName),
			zap.String("url", url),
		)
		plan, err := e.extractPage(ctx, s, page, url)
		if err != nil {
			logger.Warn("plan page failed",
				zap.String("plan", page.PlanName),
				zap.Int("plans_so_far", len(out.Plans)),
				zap.Error(err),
			)
			return out, err
		}
		out.Plans = append(out.Plans, plan)
		out.PagesVisited++
	}
	return out, nil
}

func (e *siteExtractor) extractPage(
	ctx context.Context,
	s Session,
	page crawler.PageDescriptor,
	url string,
) (crawler.ExtractedPlan, error) {
	loaded, err := s.Loader.Load(ctx, url)
	if err != nil {
		return crawler.ExtractedPlan{}, e.tag(err, url)
	}
	crawledAt := s.now()
	snapshotURI := e.archive(ctx, s, page, loaded.HTML)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(loaded.HTML))
	if err != nil {
		return crawler.ExtractedPlan{}, crawler.NewError(crawler.KindExtraction, e.source.Code, url,
			eris.Wrap(err, "parse html"))
	}
	rules, ok := e.rules[page.Key]
	if !ok {
		return crawler.ExtractedPlan{}, crawler.NewError(crawler.KindExtraction, e.source.Code, url,
			eris.Errorf("no extraction rules for page %q", page.Key))
	}

	plan := crawler.ExtractedPlan{
		PlanName:     page.PlanName,
		PlanCode:     page.PlanCode,
		ContractType: page.ContractType,
		SourceURL:    url,
		RawData: map[string]any{
			"plan_type":  page.Key,
			"crawled_at": crawledAt.Format(time.RFC3339),
		},
	}
	if snapshotURI != "" {
		plan.RawData["snapshot_uri"] = snapshotURI
	}
	if rules.base != nil {
		plan.BaseCharge = rules.base.find(doc)
	}
	if rules.minimum != nil {
		plan.MinimumCharge = rules.minimum.find(doc)
	}
	plan.UnitPrices = rules.units.find(doc)
	if plan.BaseCharge == nil && plan.MinimumCharge == nil && len(plan.UnitPrices) == 0 {
		return crawler.ExtractedPlan{}, crawler.NewError(crawler.KindExtraction, e.source.Code, url,
			eris.New("expected price tables not found"))
	}
	// Fuel adjustment changes monthly and is published separately; unknown
	// is left nil rather than zero.
	plan.FuelAdjustment = nil
	plan.RenewableSurcharge = crawler.Float(RenewableSurcharge)
	plan.EffectiveDate = findEffectiveDate(doc)
	return plan, nil
}

// tag attaches the source code to loader errors. Untyped failures other
// than cancellation are treated as transient.
func (e *siteExtractor) tag(err error, url string) error {
	var ce *crawler.CrawlError
	if errors.As(err, &ce) {
		tagged := *ce
		tagged.Source = e.source.Code
		if tagged.URL == "" {
			tagged.URL = url
		}
		return &tagged
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return crawler.NewError(crawler.KindTransientFetch, e.source.Code, url, err)
}

func (e *siteExtractor) archive(ctx context.Context, s Session, page crawler.PageDescriptor, html []byte) string {
	if s.Archive == nil {
		return ""
	}
	prefix := s.ArchivePrefix
	if prefix == "" {
		prefix = "raw"
	}
	jobID := s.JobID
	if jobID == "" {
		jobID = "adhoc"
	}
	path := fmt.Sprintf("%s/%s/%s/%s.html", prefix, e.source.Code, jobID, page.Key)
	uri, err := s.Archive.PutObject(ctx, path, "text/html; charset=utf-8", html)
	if err != nil {
		s.logger().Warn("archive page failed",
			zap.String("source", e.source.Code),
			zap.String("path", path),
			zap.Error(err),
		)
		return ""
	}
	return uri
}
