package crawler

import (
	"maps"
	"strings"
	"time"
)

// Trigger records what started a crawl job.
type Trigger string

// Trigger values.
const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// Source identifies one utility company and its known pricing pages.
type Source struct {
	Code    string           `json:"code"`
	Name    string           `json:"name"`
	BaseURL string           `json:"base_url"`
	Pages   []PageDescriptor `json:"pages"`
}

// PageDescriptor names one pricing page and the plan it carries.
type PageDescriptor struct {
	Key          string `json:"key"`
	Path         string `json:"path"`
	PlanName     string `json:"plan_name"`
	PlanCode     string `json:"plan_code"`
	ContractType string `json:"contract_type"`
}

// PageURL joins the source origin with the page path.
func (s Source) PageURL(page PageDescriptor) string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(page.Path, "/")
}

// PageURLs lists every page URL in descriptor order.
func (s Source) PageURLs() []string {
	urls := make([]string, 0, len(s.Pages))
	for _, page := range s.Pages {
		urls = append(urls, s.PageURL(page))
	}
	return urls
}

// Prices holds the monitored price fields of a plan. Nil pointers mean the
// value is unknown, which is distinct from zero.
type Prices struct {
	BaseCharge         *float64           `json:"base_charge,omitempty"`
	MinimumCharge      *float64           `json:"minimum_charge,omitempty"`
	UnitPrices         map[string]float64 `json:"unit_prices"`
	FuelAdjustment     *float64           `json:"fuel_adjustment,omitempty"`
	RenewableSurcharge *float64           `json:"renewable_surcharge,omitempty"`
}

// Clone returns a deep copy of the price fields.
func (p Prices) Clone() Prices {
	return Prices{
		BaseCharge:         clonePtr(p.BaseCharge),
		MinimumCharge:      clonePtr(p.MinimumCharge),
		UnitPrices:         maps.Clone(p.UnitPrices),
		FuelAdjustment:     clonePtr(p.FuelAdjustment),
		RenewableSurcharge: clonePtr(p.RenewableSurcharge),
	}
}

// ExtractedPlan is one candidate plan pulled from a page during a run.
type ExtractedPlan struct {
	Prices
	PlanName      string         `json:"plan_name"`
	PlanCode      string         `json:"plan_code"`
	ContractType  string         `json:"contract_type"`
	EffectiveDate *time.Time     `json:"effective_date,omitempty"`
	SourceURL     string         `json:"source_url"`
	RawData       map[string]any `json:"raw_data,omitempty"`
}

// Extraction is the result of walking a source's pages.
type Extraction struct {
	Plans        []ExtractedPlan
	PagesVisited int
}

// PersistedPlanRef is the stored view of the current plan for a source and
// plan code.
type PersistedPlanRef struct {
	Prices
	ID            int64      `json:"id"`
	SourceCode    string     `json:"source_code"`
	PlanCode      string     `json:"plan_code"`
	PlanName      string     `json:"plan_name"`
	ContractType  string     `json:"contract_type"`
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
	SourceURL     string     `json:"source_url"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// PlanHistoryEntry is the pre-update snapshot written alongside a plan update.
type PlanHistoryEntry struct {
	ID         int64         `json:"id"`
	PlanID     int64         `json:"plan_id"`
	Previous   Prices        `json:"previous"`
	Changes    []PriceChange `json:"changes"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// FieldIssue is one validation finding scoped to a field.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationOutcome lists hard errors and soft warnings for one plan.
type ValidationOutcome struct {
	Valid    bool         `json:"valid"`
	Errors   []FieldIssue `json:"errors,omitempty"`
	Warnings []FieldIssue `json:"warnings,omitempty"`
}

// PriceChange is one field-level delta between a stored and a new plan.
type PriceChange struct {
	PlanCode      string   `json:"plan_code"`
	PlanName      string   `json:"plan_name"`
	Field         string   `json:"field"`
	OldValue      *float64 `json:"old_value"`
	NewValue      *float64 `json:"new_value"`
	PercentChange *float64 `json:"percent_change,omitempty"`
}

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusPartial   JobStatus = "partial"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusPartial, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// SourceOutcome summarises one source's part of a job.
type SourceOutcome struct {
	SourceCode         string    `json:"source_code"`
	SourceName         string    `json:"source_name"`
	Success            bool      `json:"success"`
	PlansFound         int       `json:"plans_found"`
	PlansRejected      int       `json:"plans_rejected"`
	PlansCreated       int       `json:"plans_created"`
	PlansUpdated       int       `json:"plans_updated"`
	PlansUnchanged     int       `json:"plans_unchanged"`
	SignificantChanges int       `json:"significant_changes"`
	PagesCrawled       int       `json:"pages_crawled"`
	Error              string    `json:"error,omitempty"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	DurationMs         int64     `json:"duration_ms"`
}

// CrawlJob is one orchestration run across a set of sources.
type CrawlJob struct {
	ID         string                   `json:"id"`
	Trigger    Trigger                  `json:"trigger"`
	AllSources bool                     `json:"all_sources"`
	Sources    []string                 `json:"sources"`
	Status     JobStatus                `json:"status"`
	CreatedAt  time.Time                `json:"created_at"`
	StartedAt  *time.Time               `json:"started_at,omitempty"`
	FinishedAt *time.Time               `json:"finished_at,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Results    map[string]SourceOutcome `json:"results"`
}

// Clone returns a copy that shares no mutable state with the receiver.
func (j CrawlJob) Clone() CrawlJob {
	out := j
	out.Sources = append([]string(nil), j.Sources...)
	out.Results = maps.Clone(j.Results)
	if out.Results == nil {
		out.Results = map[string]SourceOutcome{}
	}
	out.StartedAt = clonePtr(j.StartedAt)
	out.FinishedAt = clonePtr(j.FinishedAt)
	return out
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
