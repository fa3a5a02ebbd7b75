// Package orchestrator owns the crawl job lifecycle: it drives each
// requested source through compliance, politeness, retried extraction,
// validation and reconciliation, then folds the per-source outcomes into a
// job status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nalpari/jppc/internal/crawler"
	"github.com/nalpari/jppc/internal/extractor"
	"github.com/nalpari/jppc/internal/metrics"
	"github.com/nalpari/jppc/internal/retry"
	"github.com/nalpari/jppc/internal/validation"
)

// DefaultHistoryLimit bounds how many jobs are retained for status queries.
const DefaultHistoryLimit = 50

// Resolver maps requested source codes to extractors. Empty codes select
// every source.
type Resolver interface {
	Resolve(codes []string) ([]extractor.Extractor, error)
}

// Compliance answers robots.txt questions.
type Compliance interface {
	Permits(ctx context.Context, rawURL string) bool
	CrawlDelay(ctx context.Context, rawURL string) (time.Duration, bool)
}

// PlanValidator checks one extracted plan.
type PlanValidator interface {
	Validate(plan crawler.ExtractedPlan) crawler.ValidationOutcome
}

// Config tunes a run.
type Config struct {
	MinDelay           time.Duration
	MaxDelay           time.Duration
	Retry              retry.Policy
	SourceTimeout      time.Duration
	SignificantPercent float64
	HistoryLimit       int
	ArchivePrefix      string
}

// Deps are the collaborators of an Orchestrator. Notifier, Archive and
// Compliance are optional.
type Deps struct {
	Sources    Resolver
	Loader     crawler.PageLoader
	Store      crawler.PlanStore
	Validator  PlanValidator
	Compliance Compliance
	Notifier   crawler.Notifier
	Archive    crawler.BlobStore
	Clock      crawler.Clock
	IDs        crawler.IDGenerator
	Logger     *zap.Logger
}

// Orchestrator runs crawl jobs one at a time and keeps a bounded registry
// of past jobs.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	// ctx is cancelled by Close; running jobs stop at the next boundary.
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	running atomic.Bool

	mu       sync.Mutex
	jobs     map[string]*jobEntry
	order    []string // creation order, oldest first
	activeID string
}

// New validates deps and returns an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Sources == nil:
		return nil, errors.New("orchestrator: sources resolver is required")
	case deps.Loader == nil:
		return nil, errors.New("orchestrator: page loader is required")
	case deps.Store == nil:
		return nil, errors.New("orchestrator: plan store is required")
	}
	if deps.Validator == nil {
		deps.Validator = validation.NewValidator(validation.DefaultBounds())
	}
	if deps.Clock == nil {
		deps.Clock = crawler.SystemClock{}
	}
	if deps.IDs == nil {
		deps.IDs = crawler.UUIDGenerator{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.SignificantPercent <= 0 {
		cfg.SignificantPercent = validation.DefaultSignificantPercent
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger,
		ctx:  ctx,
		stop: stop,
		jobs: make(map[string]*jobEntry),
	}, nil
}

// Start registers a job for codes (all sources when empty) and runs it in
// the background. It fails with crawler.ErrJobRunning while another job is
// active and with crawler.ErrUnknownSource for unknown codes.
func (o *Orchestrator) Start(ctx context.Context, codes []string, trigger crawler.Trigger) (crawler.CrawlJob, error) {
	if err := ctx.Err(); err != nil {
		return crawler.CrawlJob{}, err
	}
	if err := o.ctx.Err(); err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("orchestrator closed: %w", err)
	}
	extractors, err := o.deps.Sources.Resolve(codes)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	if len(extractors) == 0 {
		return crawler.CrawlJob{}, crawler.ErrNoSourcesGiven
	}
	if !o.running.CompareAndSwap(false, true) {
		return crawler.CrawlJob{}, crawler.ErrJobRunning
	}

	id, err := o.deps.IDs.NewID()
	if err != nil {
		o.running.Store(false)
		return crawler.CrawlJob{}, fmt.Errorf("generate job id: %w", err)
	}
	if trigger == "" {
		trigger = crawler.TriggerManual
	}
	sources := make([]string, 0, len(extractors))
	for _, ext := range extractors {
		sources = append(sources, ext.Source().Code)
	}
	entry := newJobEntry(crawler.CrawlJob{
		ID:         id,
		Trigger:    trigger,
		AllSources: len(codes) == 0,
		Sources:    sources,
		Status:     crawler.JobStatusPending,
		CreatedAt:  o.deps.Clock.Now(),
		Results:    map[string]crawler.SourceOutcome{},
	})
	o.register(entry)
	metrics.SetRunning(true)
	o.log.Info("crawl job created",
		zap.String("job_id", id),
		zap.String("trigger", string(trigger)),
		zap.Strings("sources", sources),
	)

	o.wg.Add(1)
	go o.run(entry, extractors)
	return entry.snapshot(), nil
}

// Status returns a snapshot of the job.
func (o *Orchestrator) Status(id string) (crawler.CrawlJob, error) {
	entry, err := o.lookup(id)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	return entry.snapshot(), nil
}

// Cancel asks a pending or running job to stop. The source in flight is
// allowed to finish and the job turns CANCELLED before the next source
// starts; the returned snapshot already shows CANCELLED.
func (o *Orchestrator) Cancel(id string) (crawler.CrawlJob, error) {
	entry, err := o.lookup(id)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	view, ok := entry.requestCancel()
	if !ok {
		return view, crawler.ErrJobFinished
	}
	o.log.Info("crawl job cancel requested", zap.String("job_id", id))
	return view, nil
}

// Wait blocks until the job's goroutine has exited or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (crawler.CrawlJob, error) {
	entry, err := o.lookup(id)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	select {
	case <-entry.done:
		return entry.snapshot(), nil
	case <-ctx.Done():
		return entry.snapshot(), ctx.Err()
	}
}

// ListActiveJobs returns jobs that have not reached a terminal status.
func (o *Orchestrator) ListActiveJobs() []crawler.CrawlJob {
	var out []crawler.CrawlJob
	for _, job := range o.List() {
		if !job.Status.Terminal() {
			out = append(out, job)
		}
	}
	return out
}

// List returns every retained job, newest first.
func (o *Orchestrator) List() []crawler.CrawlJob {
	o.mu.Lock()
	entries := make([]*jobEntry, 0, len(o.order))
	for i := len(o.order) - 1; i >= 0; i-- {
		entries = append(entries, o.jobs[o.order[i]])
	}
	o.mu.Unlock()

	out := make([]crawler.CrawlJob, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	return out
}

// Running reports whether a job is active and, if so, its id.
func (o *Orchestrator) Running() (bool, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running.Load() {
		return false, ""
	}
	return true, o.activeID
}

// Close stops accepting jobs, signals the active job to stop after its
// current source and waits for it to exit or ctx to expire.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.stop()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running job: %w", ctx.Err())
	}
}

func (o *Orchestrator) register(entry *jobEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs[entry.id] = entry
	o.order = append(o.order, entry.id)
	o.activeID = entry.id
	o.evictLocked()
}

// evictLocked drops the oldest terminal jobs beyond the history limit.
func (o *Orchestrator) evictLocked() {
	excess := len(o.order) - o.cfg.HistoryLimit
	if excess <= 0 {
		return
	}
	kept := o.order[:0]
	for _, id := range o.order {
		if excess > 0 && o.jobs[id].terminal() {
			delete(o.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	o.order = kept
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	if o.activeID == id {
		o.activeID = ""
	}
	o.running.Store(false)
	o.mu.Unlock()
	metrics.SetRunning(false)
}

func (o *Orchestrator) lookup(id string) (*jobEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", crawler.ErrJobNotFound, id)
	}
	return entry, nil
}
