package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nalpari/jppc/internal/crawler"
	"github.com/nalpari/jppc/internal/extractor"
)

type fakeExtractor struct {
	source  crawler.Source
	extract func(ctx context.Context, s extractor.Session) (crawler.Extraction, error)
	calls   atomic.Int32
}

func newFakeExtractor(code string, fn func(ctx context.Context, s extractor.Session) (crawler.Extraction, error)) *fakeExtractor {
	return &fakeExtractor{
		source: crawler.Source{
			Code:    code,
			Name:    code + " power",
			BaseURL: "https://" + code + ".example.jp",
			Pages:   []crawler.PageDescriptor{{Key: "metered_b", Path: "/b.html", PlanCode: code + "_b"}},
		},
		extract: fn,
	}
}

func (f *fakeExtractor) Source() crawler.Source                    { return f.source }
func (f *fakeExtractor) PageDescriptors() []crawler.PageDescriptor { return f.source.Pages }
func (f *fakeExtractor) Extract(ctx context.Context, s extractor.Session) (crawler.Extraction, error) {
	f.calls.Add(1)
	return f.extract(ctx, s)
}

func returnsPlans(plans ...crawler.ExtractedPlan) func(context.Context, extractor.Session) (crawler.Extraction, error) {
	return func(context.Context, extractor.Session) (crawler.Extraction, error) {
		return crawler.Extraction{Plans: plans, PagesVisited: len(plans)}, nil
	}
}

func failsWith(err error) func(context.Context, extractor.Session) (crawler.Extraction, error) {
	return func(context.Context, extractor.Session) (crawler.Extraction, error) {
		return crawler.Extraction{}, err
	}
}

func meteredPlan(code string, tier3 float64) crawler.ExtractedPlan {
	return crawler.ExtractedPlan{
		PlanName:     "従量電灯B",
		PlanCode:     code,
		ContractType: "従量電灯",
		Prices: crawler.Prices{
			BaseCharge: crawler.Float(885.72),
			UnitPrices: map[string]float64{
				"tier1_0_120":    29.80,
				"tier2_120_300":  36.40,
				"tier3_over_300": tier3,
			},
			RenewableSurcharge: crawler.Float(1.40),
		},
	}
}

type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	current map[string]*crawler.PersistedPlanRef
	created int
	updated []int64
	changes [][]crawler.PriceChange
	logged  []crawler.CrawlJob
	findErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{current: map[string]*crawler.PersistedPlanRef{}}
}

func (s *fakeStore) seed(source string, plan crawler.ExtractedPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.current[source+"/"+plan.PlanCode] = &crawler.PersistedPlanRef{
		ID: s.nextID, SourceCode: source, PlanCode: plan.PlanCode, Prices: plan.Prices.Clone(),
	}
}

func (s *fakeStore) FindCurrentPlan(_ context.Context, source, planCode string) (*crawler.PersistedPlanRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	ref, ok := s.current[source+"/"+planCode]
	if !ok {
		return nil, nil
	}
	out := *ref
	return &out, nil
}

func (s *fakeStore) RecordNewPlan(_ context.Context, source string, plan crawler.ExtractedPlan) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.created++
	s.current[source+"/"+plan.PlanCode] = &crawler.PersistedPlanRef{
		ID: s.nextID, SourceCode: source, PlanCode: plan.PlanCode, Prices: plan.Prices.Clone(),
	}
	return s.nextID, nil
}

func (s *fakeStore) RecordUpdatedPlan(_ context.Context, id int64, plan crawler.ExtractedPlan, changes []crawler.PriceChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range s.current {
		if ref.ID == id {
			ref.Prices = plan.Prices.Clone()
			s.updated = append(s.updated, id)
			s.changes = append(s.changes, changes)
			return nil
		}
	}
	return fmt.Errorf("plan %d: %w", id, crawler.ErrPlanNotFound)
}

func (s *fakeStore) LogJobOutcome(_ context.Context, job crawler.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logged = append(s.logged, job)
	return nil
}

type notification struct {
	kind    string
	source  string
	message string
	changes []crawler.PriceChange
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (n *fakeNotifier) NotifyCrawlFailure(_ context.Context, source, message string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: "failure", source: source, message: message})
	return n.err
}

func (n *fakeNotifier) NotifyPriceChange(_ context.Context, source string, changes []crawler.PriceChange, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: "change", source: source, changes: changes})
	return n.err
}

func (n *fakeNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.sent...)
}

type fakeCompliance struct {
	deny  string
	delay time.Duration
}

func (c fakeCompliance) Permits(_ context.Context, url string) bool { return url != c.deny }
func (c fakeCompliance) CrawlDelay(context.Context, string) (time.Duration, bool) {
	return c.delay, c.delay > 0
}

type nopLoader struct{}

func (nopLoader) Load(context.Context, string) (crawler.Page, error) { return crawler.Page{}, nil }

type harness struct {
	orch     *Orchestrator
	store    *fakeStore
	notifier *fakeNotifier
}

func newHarness(t *testing.T, cfg Config, compliance Compliance, exts ...extractor.Extractor) harness {
	t.Helper()
	reg := extractor.NewRegistry()
	for _, e := range exts {
		reg.Register(e)
	}
	store := newFakeStore()
	notifier := &fakeNotifier{}
	orch, err := New(cfg, Deps{
		Sources:    reg,
		Loader:     nopLoader{},
		Store:      store,
		Notifier:   notifier,
		Compliance: compliance,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Close(ctx)
	})
	return harness{orch: orch, store: store, notifier: notifier}
}

func fastRetry(retries int) Config {
	cfg := Config{}
	cfg.Retry.MaxRetries = retries
	return cfg
}

func waitJob(t *testing.T, o *Orchestrator, id string) crawler.CrawlJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := o.Wait(ctx, id)
	require.NoError(t, err)
	return job
}
