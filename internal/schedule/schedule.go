// Package schedule fires crawl jobs on a cron schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // Asia/Tokyo must resolve on hosts without zoneinfo

	"github.com/robfig/cron"
	"go.uber.org/zap"

	"github.com/nalpari/jppc/internal/crawler"
)

// Defaults match the weekly Monday 02:00 JST crawl.
const (
	DefaultSpec     = "0 0 2 * * 1"
	DefaultTimezone = "Asia/Tokyo"
)

// Starter starts crawl jobs.
type Starter interface {
	Start(ctx context.Context, codes []string, trigger crawler.Trigger) (crawler.CrawlJob, error)
}

// Config holds the cron spec (with seconds field) and its timezone.
type Config struct {
	Spec     string
	Timezone string
	Sources  []string
}

// Scheduler triggers a crawl of the configured sources on each tick.
type Scheduler struct {
	cfg      Config
	location *time.Location
	schedule cron.Schedule
	starter  Starter
	logger   *zap.Logger
}

// New parses cfg and returns a scheduler.
func New(cfg Config, starter Starter, logger *zap.Logger) (*Scheduler, error) {
	if starter == nil {
		return nil, errors.New("starter is required")
	}
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	sched, err := cron.Parse(cfg.Spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", cfg.Spec, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:      cfg,
		location: loc,
		schedule: sched,
		starter:  starter,
		logger:   logger.Named("schedule"),
	}, nil
}

// Next reports the first activation after t, in the scheduler's timezone.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.location))
}

// Run blocks until ctx is done, starting a scheduled job on every tick.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.NewWithLocation(s.location)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.Trigger(ctx) }))
	c.Start()
	s.logger.Info("scheduler started",
		zap.String("spec", s.cfg.Spec),
		zap.String("timezone", s.cfg.Timezone),
		zap.Time("next_run", s.Next(time.Now())))

	<-ctx.Done()
	c.Stop()
	s.logger.Info("scheduler stopped")
	return nil
}

// Trigger starts one scheduled job. A job already in flight is not an error:
// the tick is skipped and logged.
func (s *Scheduler) Trigger(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	job, err := s.starter.Start(ctx, s.cfg.Sources, crawler.TriggerScheduled)
	switch {
	case errors.Is(err, crawler.ErrJobRunning):
		s.logger.Warn("scheduled crawl skipped, a job is already running")
	case err != nil:
		s.logger.Error("scheduled crawl failed to start", zap.Error(err))
	default:
		s.logger.Info("scheduled crawl started", zap.String("job_id", job.ID))
	}
}
