package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nalpari/jppc/internal/crawler"
)

// CrawlLog is one per-source row written when a job finishes.
type CrawlLog struct {
	JobID     string
	Trigger   crawler.Trigger
	JobStatus crawler.JobStatus
	Outcome   crawler.SourceOutcome
}

type planKey struct {
	source string
	code   string
}

// PlanStore is an in-memory crawler.Store.
type PlanStore struct {
	mu      sync.RWMutex
	clock   crawler.Clock
	nextID  int64
	plans   map[int64]crawler.PersistedPlanRef
	current map[planKey]int64
	history map[int64][]crawler.PlanHistoryEntry
	logs    []CrawlLog
}

// NewPlanStore constructs an empty store. A nil clock uses the system clock.
func NewPlanStore(clock crawler.Clock) *PlanStore {
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	return &PlanStore{
		clock:   clock,
		plans:   make(map[int64]crawler.PersistedPlanRef),
		current: make(map[planKey]int64),
		history: make(map[int64][]crawler.PlanHistoryEntry),
	}
}

// FindCurrentPlan returns the current plan or nil when none exists.
func (s *PlanStore) FindCurrentPlan(_ context.Context, sourceCode, planCode string) (*crawler.PersistedPlanRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.current[planKey{sourceCode, planCode}]
	if !ok {
		return nil, nil
	}
	ref := clonePlan(s.plans[id])
	return &ref, nil
}

// RecordNewPlan stores plan as the current plan for sourceCode.
func (s *PlanStore) RecordNewPlan(_ context.Context, sourceCode string, plan crawler.ExtractedPlan) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := planKey{sourceCode, plan.PlanCode}
	if _, exists := s.current[key]; exists {
		return 0, fmt.Errorf("plan %s/%s already exists", sourceCode, plan.PlanCode)
	}
	s.nextID++
	now := s.clock.Now()
	ref := crawler.PersistedPlanRef{
		ID:         s.nextID,
		SourceCode: sourceCode,
		CreatedAt:  now,
	}
	applyPlan(&ref, plan, now)
	s.plans[ref.ID] = ref
	s.current[key] = ref.ID
	return ref.ID, nil
}

// RecordUpdatedPlan snapshots the stored prices into history and overwrites
// them with plan.
func (s *PlanStore) RecordUpdatedPlan(
	_ context.Context,
	planID int64,
	plan crawler.ExtractedPlan,
	changes []crawler.PriceChange,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.plans[planID]
	if !ok {
		return fmt.Errorf("plan %d: %w", planID, crawler.ErrPlanNotFound)
	}
	now := s.clock.Now()
	entries := s.history[planID]
	s.history[planID] = append(entries, crawler.PlanHistoryEntry{
		ID:         int64(len(entries) + 1),
		PlanID:     planID,
		Previous:   ref.Prices.Clone(),
		Changes:    slices.Clone(changes),
		RecordedAt: now,
	})
	applyPlan(&ref, plan, now)
	s.plans[planID] = ref
	return nil
}

// LogJobOutcome appends one crawl log per attempted source.
func (s *PlanStore) LogJobOutcome(_ context.Context, job crawler.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, code := range job.Sources {
		out, ok := job.Results[code]
		if !ok {
			continue
		}
		s.logs = append(s.logs, CrawlLog{
			JobID:     job.ID,
			Trigger:   job.Trigger,
			JobStatus: job.Status,
			Outcome:   out,
		})
	}
	return nil
}

// ListCurrentPlans returns current plans ordered by source and plan code.
func (s *PlanStore) ListCurrentPlans(_ context.Context, sourceCode string) ([]crawler.PersistedPlanRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.PersistedPlanRef
	for key, id := range s.current {
		if sourceCode != "" && key.source != sourceCode {
			continue
		}
		out = append(out, clonePlan(s.plans[id]))
	}
	slices.SortFunc(out, func(a, b crawler.PersistedPlanRef) int {
		return cmp.Or(cmp.Compare(a.SourceCode, b.SourceCode), cmp.Compare(a.PlanCode, b.PlanCode))
	})
	return out, nil
}

// GetPlan returns one plan by id.
func (s *PlanStore) GetPlan(_ context.Context, planID int64) (*crawler.PersistedPlanRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.plans[planID]
	if !ok {
		return nil, fmt.Errorf("plan %d: %w", planID, crawler.ErrPlanNotFound)
	}
	ref = clonePlan(ref)
	return &ref, nil
}

// ListHistory returns history rows newest first. limit <= 0 means 50.
func (s *PlanStore) ListHistory(_ context.Context, planID int64, limit int) ([]crawler.PlanHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[planID]
	out := make([]crawler.PlanHistoryEntry, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

// CrawlLogs returns a copy of the logged per-source outcomes.
func (s *PlanStore) CrawlLogs() []CrawlLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.logs)
}

// Close is a no-op.
func (s *PlanStore) Close() error {
	return nil
}

func applyPlan(ref *crawler.PersistedPlanRef, plan crawler.ExtractedPlan, now time.Time) {
	ref.Prices = plan.Prices.Clone()
	ref.PlanCode = plan.PlanCode
	ref.PlanName = plan.PlanName
	ref.ContractType = plan.ContractType
	ref.EffectiveDate = plan.EffectiveDate
	ref.SourceURL = plan.SourceURL
	ref.UpdatedAt = now
}

func clonePlan(ref crawler.PersistedPlanRef) crawler.PersistedPlanRef {
	ref.Prices = ref.Prices.Clone()
	return ref
}
