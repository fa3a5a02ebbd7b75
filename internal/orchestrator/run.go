package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nalpari/jppc/internal/crawler"
	"github.com/nalpari/jppc/internal/extractor"
	"github.com/nalpari/jppc/internal/metrics"
	"github.com/nalpari/jppc/internal/politeness"
	"github.com/nalpari/jppc/internal/retry"
	"github.com/nalpari/jppc/internal/validation"
)

// run drives one job to a terminal status. Sources run sequentially and a
// cancel request is honoured between sources.
func (o *Orchestrator) run(entry *jobEntry, extractors []extractor.Extractor) {
	logger := o.log.With(zap.String("job_id", entry.id))
	defer o.wg.Done()
	defer close(entry.done)
	defer o.release(entry.id)
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("job panicked: %v", r)
			logger.Error("crawl job aborted", zap.String("panic", fmt.Sprint(r)))
			o.complete(entry, crawler.JobStatusFailed, msg, logger)
		}
	}()

	if !entry.markRunning(o.deps.Clock.Now()) {
		logger.Info("crawl job cancelled before start")
		o.complete(entry, crawler.JobStatusCancelled, "", logger)
		return
	}

	for _, ext := range extractors {
		if o.stopRequested(entry, logger) {
			return
		}
		entry.recordOutcome(o.runSource(o.ctx, entry.id, ext, logger))
	}
	if o.stopRequested(entry, logger) {
		return
	}

	status := aggregate(entry.snapshot().Results)
	o.complete(entry, status, "", logger)
}

// stopRequested finishes the job as CANCELLED when a cancel or shutdown is
// pending. It runs between sources, after the previous outcome is recorded.
func (o *Orchestrator) stopRequested(entry *jobEntry, logger *zap.Logger) bool {
	switch {
	case entry.cancelRequested.Load():
		logger.Info("stopping crawl job after cancel")
		o.complete(entry, crawler.JobStatusCancelled, "", logger)
		return true
	case o.ctx.Err() != nil:
		o.complete(entry, crawler.JobStatusCancelled, "orchestrator shutting down", logger)
		return true
	}
	return false
}

// complete finalizes the job, records metrics and writes the crawl log.
func (o *Orchestrator) complete(entry *jobEntry, status crawler.JobStatus, errText string, logger *zap.Logger) {
	job := entry.finish(status, errText, o.deps.Clock.Now())
	metrics.ObserveJob(string(job.Status))
	logger.Info("crawl job finished",
		zap.String("status", string(job.Status)),
		zap.Int("sources", len(job.Results)),
		zap.String("error", job.Error),
	)
	// The crawl log outlives shutdown, so it is written on a fresh context.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), 30*time.Second)
	defer cancel()
	if err := o.deps.Store.LogJobOutcome(ctx, job); err != nil {
		logger.Error("log job outcome failed", zap.Error(err))
	}
}

// runSource never returns an error: every failure becomes part of the
// outcome so one source cannot abort the others.
func (o *Orchestrator) runSource(
	ctx context.Context,
	jobID string,
	ext extractor.Extractor,
	logger *zap.Logger,
) crawler.SourceOutcome {
	src := ext.Source()
	logger = logger.With(zap.String("source", src.Code))
	started := o.deps.Clock.Now()
	out := crawler.SourceOutcome{
		SourceCode: src.Code,
		SourceName: src.Name,
		StartedAt:  started,
	}
	logger.Info("source crawl started", zap.Int("pages", len(src.Pages)))

	srcCtx := ctx
	if o.cfg.SourceTimeout > 0 {
		var cancel context.CancelFunc
		srcCtx, cancel = context.WithTimeout(ctx, o.cfg.SourceTimeout)
		defer cancel()
	}

	err := o.processSource(srcCtx, jobID, ext, &out, logger)
	out.FinishedAt = o.deps.Clock.Now()
	out.DurationMs = out.FinishedAt.Sub(started).Milliseconds()
	out.Success = err == nil
	if err != nil {
		out.Error = err.Error()
		logger.Error("source crawl failed",
			zap.String("kind", string(crawler.KindOf(err))),
			zap.Int("plans_found", out.PlansFound),
			zap.Error(err),
		)
		o.notifyFailure(ctx, src.Name, out.Error, out.FinishedAt, logger)
	} else {
		logger.Info("source crawl finished",
			zap.Int("plans_found", out.PlansFound),
			zap.Int("plans_rejected", out.PlansRejected),
			zap.Int("plans_created", out.PlansCreated),
			zap.Int("plans_updated", out.PlansUpdated),
			zap.Int("plans_unchanged", out.PlansUnchanged),
			zap.Int("significant_changes", out.SignificantChanges),
		)
	}
	metrics.ObserveSource(src.Code, out.Success, time.Duration(out.DurationMs)*time.Millisecond)
	return out
}

func (o *Orchestrator) processSource(
	ctx context.Context,
	jobID string,
	ext extractor.Extractor,
	out *crawler.SourceOutcome,
	logger *zap.Logger,
) error {
	src := ext.Source()
	limiter, err := o.politeLimiter(ctx, src)
	if err != nil {
		return err
	}

	policy := o.cfg.Retry
	policy.Retryable = crawler.IsRetryable
	policy.OnRetry = func(n int, err error, delay time.Duration) {
		metrics.ObserveRetry(src.Code)
		logger.Warn("retrying source extraction",
			zap.Int("retry", n),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
	extraction, err := retry.Run(ctx, policy, func(ctx context.Context) (crawler.Extraction, error) {
		return ext.Extract(ctx, extractor.Session{
			Loader:        o.deps.Loader,
			Limiter:       limiter,
			Archive:       o.deps.Archive,
			ArchivePrefix: o.cfg.ArchivePrefix,
			JobID:         jobID,
			Logger:        logger,
			Now:           o.deps.Clock.Now,
		})
	})
	out.PagesCrawled = extraction.PagesVisited
	out.PlansFound = len(extraction.Plans)
	if err != nil {
		if len(extraction.Plans) == 0 {
			return err
		}
		// Plans from the earlier pages are still reconciled below; the
		// source itself fails with the extraction error.
		logger.Warn("source extraction incomplete",
			zap.Int("pages_crawled", extraction.PagesVisited),
			zap.Error(err),
		)
	}
	incomplete := err

	var significant []crawler.PriceChange
	for _, plan := range extraction.Plans {
		verdict := o.deps.Validator.Validate(plan)
		for _, w := range verdict.Warnings {
			logger.Warn("plan validation warning",
				zap.String("plan_code", plan.PlanCode),
				zap.String("field", w.Field),
				zap.String("message", w.Message),
			)
		}
		if !verdict.Valid {
			out.PlansRejected++
			metrics.ObservePlan(src.Code, "rejected")
			rejected := crawler.NewError(crawler.KindValidation, src.Code, plan.SourceURL,
				eris.Errorf("plan %q rejected with %d errors", plan.PlanCode, len(verdict.Errors)))
			logger.Warn("plan rejected",
				zap.Any("errors", verdict.Errors),
				zap.Error(rejected),
			)
			continue
		}

		result, err := o.reconcile(ctx, src.Code, plan)
		if err != nil {
			return err
		}
		metrics.ObservePlan(src.Code, string(result.decision))
		switch result.decision {
		case decisionCreated:
			out.PlansCreated++
		case decisionUpdated:
			out.PlansUpdated++
		default:
			out.PlansUnchanged++
		}
		sig := validation.FilterSignificant(result.changes, o.cfg.SignificantPercent)
		metrics.ObservePriceChanges(src.Code, len(result.changes), len(sig))
		significant = append(significant, sig...)
	}

	out.SignificantChanges = len(significant)
	if len(significant) > 0 {
		o.notifyChange(ctx, src.Name, significant, logger)
	}
	if out.PlansFound > 0 && out.PlansFound == out.PlansRejected {
		logger.Warn("every extracted plan was rejected")
	}
	return incomplete
}

// politeLimiter checks robots.txt for every page and builds the source's
// rate limiter, raised to the largest crawl delay the site asks for.
func (o *Orchestrator) politeLimiter(ctx context.Context, src crawler.Source) (*politeness.RateLimiter, error) {
	limiter := politeness.NewRateLimiter(o.cfg.MinDelay, o.cfg.MaxDelay,
		politeness.WithObserver(func(d time.Duration) {
			metrics.ObserveRateLimitDelay(src.Code, d)
		}),
	)
	if o.deps.Compliance == nil {
		return limiter, nil
	}
	var crawlDelay time.Duration
	for _, url := range src.PageURLs() {
		if !o.deps.Compliance.Permits(ctx, url) {
			return nil, crawler.NewError(crawler.KindComplianceDenied, src.Code, url,
				eris.New("disallowed by robots.txt"))
		}
		if d, ok := o.deps.Compliance.CrawlDelay(ctx, url); ok && d > crawlDelay {
			crawlDelay = d
		}
	}
	if crawlDelay > 0 {
		limiter.RaiseMinimum(crawlDelay)
	}
	return limiter, nil
}

func (o *Orchestrator) notifyFailure(ctx context.Context, source, message string, at time.Time, logger *zap.Logger) {
	if o.deps.Notifier == nil {
		return
	}
	if err := o.deps.Notifier.NotifyCrawlFailure(context.WithoutCancel(ctx), source, message, at); err != nil {
		logger.Error("failure notification failed", zap.Error(err))
	}
}

func (o *Orchestrator) notifyChange(ctx context.Context, source string, changes []crawler.PriceChange, logger *zap.Logger) {
	if o.deps.Notifier == nil {
		return
	}
	if err := o.deps.Notifier.NotifyPriceChange(context.WithoutCancel(ctx), source, changes, o.deps.Clock.Now()); err != nil {
		logger.Error("price change notification failed", zap.Error(err))
	}
}
