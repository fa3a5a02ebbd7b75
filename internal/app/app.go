// Package app builds the long-lived services from configuration and owns
// their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/nalpari/jppc/internal/config"
	"github.com/nalpari/jppc/internal/crawler"
	"github.com/nalpari/jppc/internal/extractor"
	collyfetcher "github.com/nalpari/jppc/internal/fetcher/colly"
	headlessfetcher "github.com/nalpari/jppc/internal/fetcher/headless"
	"github.com/nalpari/jppc/internal/metrics"
	"github.com/nalpari/jppc/internal/notify"
	"github.com/nalpari/jppc/internal/orchestrator"
	"github.com/nalpari/jppc/internal/policy/ratelimit"
	"github.com/nalpari/jppc/internal/politeness"
	"github.com/nalpari/jppc/internal/retry"
	"github.com/nalpari/jppc/internal/storage/gcs"
	"github.com/nalpari/jppc/internal/storage/local"
	"github.com/nalpari/jppc/internal/storage/memory"
	"github.com/nalpari/jppc/internal/storage/postgres"
	"github.com/nalpari/jppc/internal/storage/sqlite"
	"github.com/nalpari/jppc/internal/validation"
)

// App holds the shared services for one process.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Registry     *extractor.Registry
	Store        crawler.Store
	Orchestrator *orchestrator.Orchestrator

	closers []func(context.Context) error
}

// New wires every service described by cfg. On failure, whatever was already
// opened is closed before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a = &App{Config: cfg, Logger: logger}
	metrics.Init()
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	if a.Registry, err = buildRegistry(cfg.Crawler); err != nil {
		return nil, err
	}
	loader, err := a.buildLoader(cfg)
	if err != nil {
		return nil, err
	}
	if a.Store, err = a.buildStore(ctx, cfg.Storage); err != nil {
		return nil, err
	}
	archive, err := a.buildArchive(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}
	notifier, err := a.buildNotifier(ctx, cfg.Notify)
	if err != nil {
		return nil, err
	}

	compliance := politeness.NewComplianceChecker(politeness.ComplianceConfig{
		Respect:   cfg.Crawler.RespectRobots,
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Crawler.RobotsTimeout(),
		CacheTTL:  cfg.Crawler.RobotsCacheTTL(),
	}, logger.Named("robots"))

	a.Orchestrator, err = orchestrator.New(orchestrator.Config{
		MinDelay: cfg.Crawler.MinDelay(),
		MaxDelay: cfg.Crawler.MaxDelay(),
		Retry: retry.Policy{
			MaxRetries:      cfg.Retry.MaxRetries,
			BaseDelay:       cfg.Retry.BaseDelay(),
			MaxDelay:        cfg.Retry.MaxDelay(),
			ExponentialBase: cfg.Retry.ExponentialBase,
		},
		SourceTimeout:      cfg.Crawler.SourceTimeout(),
		SignificantPercent: cfg.Validation.SignificantChangePercent,
		HistoryLimit:       cfg.Crawler.HistoryLimit,
		ArchivePrefix:      cfg.Archive.Prefix,
	}, orchestrator.Deps{
		Sources:    a.Registry,
		Loader:     loader,
		Store:      a.Store,
		Validator:  validation.NewValidator(validation.DefaultBounds()),
		Compliance: compliance,
		Notifier:   notifier,
		Archive:    archive,
		Logger:     logger.Named("orchestrator"),
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	// Registered last so it closes first: running jobs finish before the
	// store and notifiers go away.
	a.onClose(a.Orchestrator.Close)
	return a, nil
}

// Close shuts services down in reverse order of construction.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func buildRegistry(cfg config.CrawlerConfig) (*extractor.Registry, error) {
	registry := extractor.Default()
	if cfg.CatalogPath == "" {
		return registry, nil
	}
	catalog, err := extractor.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	registry, err = catalog.Apply(registry)
	if err != nil {
		return nil, fmt.Errorf("apply catalog %s: %w", cfg.CatalogPath, err)
	}
	return registry, nil
}

func (a *App) buildLoader(cfg config.Config) (crawler.PageLoader, error) {
	hosts := ratelimit.New(ratelimit.Config{
		RPS:   cfg.Crawler.HostRequestsPerSecond,
		Burst: 1,
		Observe: func(host string, d time.Duration) {
			a.Logger.Debug("host rate limit wait", zap.String("host", host), zap.Duration("wait", d))
		},
	})
	switch cfg.Crawler.Loader {
	case "http":
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:   cfg.Crawler.UserAgent,
			Timeout:     time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
			HostLimiter: hosts,
		}), nil
	default:
		loader, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			HostLimiter:       hosts,
		})
		if err != nil {
			return nil, fmt.Errorf("start headless loader: %w", err)
		}
		a.onClose(func(context.Context) error {
			loader.Close()
			return nil
		})
		return loader, nil
	}
}

func (a *App) buildStore(ctx context.Context, cfg config.StorageConfig) (crawler.Store, error) {
	var store crawler.Store
	switch cfg.Backend {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        int32(cfg.MaxOpenConns), //nolint:gosec // validated config value
			MinConns:        int32(cfg.MaxIdleConns), //nolint:gosec // validated config value
			MaxConnLifetime: 30 * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		store = pg
	case "sqlite":
		lite, err := sqlite.Open(ctx, cfg.SQLitePath, nil)
		if err != nil {
			return nil, err
		}
		store = lite
	default:
		store = memory.NewPlanStore(nil)
	}
	a.Logger.Info("plan store ready", zap.String("backend", cfg.Backend))
	a.onClose(func(context.Context) error { return store.Close() })
	return store, nil
}

func (a *App) buildArchive(ctx context.Context, cfg config.ArchiveConfig) (crawler.BlobStore, error) {
	switch cfg.Backend {
	case "memory":
		return memory.NewBlobStore(), nil
	case "local":
		return local.New(local.Config{BaseDir: cfg.BaseDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		return gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
	default:
		return nil, nil
	}
}

func (a *App) buildNotifier(ctx context.Context, cfg config.NotifyConfig) (crawler.Notifier, error) {
	var multi notify.Multi
	if cfg.Log {
		multi = append(multi, notify.NewLog(a.Logger))
	}
	if cfg.Email.Enabled {
		mail, err := notify.NewEmail(notify.EmailConfig{
			Host:       cfg.Email.Host,
			Port:       cfg.Email.Port,
			Username:   cfg.Email.Username,
			Password:   cfg.Email.Password,
			From:       cfg.Email.From,
			Recipients: cfg.Email.Recipients,
		})
		if err != nil {
			return nil, fmt.Errorf("email notifier: %w", err)
		}
		multi = append(multi, mail)
	}
	if cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		publisher, err := notify.NewPubSub(client.Topic(cfg.PubSub.TopicName))
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error {
			publisher.Stop()
			return nil
		})
		multi = append(multi, publisher)
	}
	if len(multi) == 0 {
		return nil, nil
	}
	return multi, nil
}
