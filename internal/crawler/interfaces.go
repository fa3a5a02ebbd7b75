package crawler

import (
	"context"
	"time"
)

// PageLoader loads a URL and returns the rendered document.
type PageLoader interface {
	Load(ctx context.Context, url string) (Page, error)
}

// Page is a loaded document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       []byte
	Duration   time.Duration
}

// PlanStore applies reconcile decisions to persistent storage.
type PlanStore interface {
	// FindCurrentPlan returns nil with a nil error when no current plan exists.
	FindCurrentPlan(ctx context.Context, sourceCode, planCode string) (*PersistedPlanRef, error)
	RecordNewPlan(ctx context.Context, sourceCode string, plan ExtractedPlan) (int64, error)
	// RecordUpdatedPlan writes the new current fields and one history row
	// holding the pre-update snapshot, atomically.
	RecordUpdatedPlan(ctx context.Context, planID int64, plan ExtractedPlan, changes []PriceChange) error
	LogJobOutcome(ctx context.Context, job CrawlJob) error
}

// PlanReader serves stored plans to read-only callers.
type PlanReader interface {
	ListCurrentPlans(ctx context.Context, sourceCode string) ([]PersistedPlanRef, error)
	GetPlan(ctx context.Context, planID int64) (*PersistedPlanRef, error)
	ListHistory(ctx context.Context, planID int64, limit int) ([]PlanHistoryEntry, error)
}

// Store is a full storage backend.
type Store interface {
	PlanStore
	PlanReader
	Close() error
}

// Notifier delivers operator alerts.
type Notifier interface {
	NotifyCrawlFailure(ctx context.Context, sourceName, message string, at time.Time) error
	NotifyPriceChange(ctx context.Context, sourceName string, changes []PriceChange, at time.Time) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
