// Package sqlite provides a single-file plan store for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/nalpari/jppc/internal/crawler"
)

const (
	timeLayout = time.RFC3339Nano
	dateLayout = time.DateOnly
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS price_plans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_code TEXT NOT NULL,
		plan_code TEXT NOT NULL,
		plan_name TEXT NOT NULL,
		contract_type TEXT NOT NULL DEFAULT '',
		base_charge REAL,
		minimum_charge REAL,
		unit_prices TEXT NOT NULL DEFAULT '{}',
		fuel_adjustment REAL,
		renewable_surcharge REAL,
		effective_date TEXT,
		source_url TEXT NOT NULL DEFAULT '',
		raw_data TEXT,
		is_current INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS price_plans_current_uniq
		ON price_plans (source_code, plan_code) WHERE is_current = 1`,
	`CREATE TABLE IF NOT EXISTS price_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plan_id INTEGER NOT NULL REFERENCES price_plans(id),
		base_charge REAL,
		minimum_charge REAL,
		unit_prices TEXT NOT NULL DEFAULT '{}',
		fuel_adjustment REAL,
		renewable_surcharge REAL,
		changes TEXT NOT NULL DEFAULT '[]',
		recorded_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS price_history_plan_idx ON price_history (plan_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS crawl_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		source_code TEXT NOT NULL,
		trigger TEXT NOT NULL,
		job_status TEXT NOT NULL,
		success INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		pages_crawled INTEGER NOT NULL,
		plans_found INTEGER NOT NULL,
		plans_created INTEGER NOT NULL,
		plans_updated INTEGER NOT NULL,
		error_message TEXT
	)`,
}

// PlanStore persists plans in a SQLite database file.
type PlanStore struct {
	db    *sql.DB
	clock crawler.Clock
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string, clock crawler.Clock) (*PlanStore, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &PlanStore{db: db, clock: clock}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PlanStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *PlanStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const planColumns = `id, source_code, plan_code, plan_name, contract_type,
	base_charge, minimum_charge, unit_prices, fuel_adjustment, renewable_surcharge,
	effective_date, source_url, created_at, updated_at`

// FindCurrentPlan returns the current plan or nil when none exists.
func (s *PlanStore) FindCurrentPlan(ctx context.Context, sourceCode, planCode string) (*crawler.PersistedPlanRef, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM price_plans
		WHERE source_code = ? AND plan_code = ? AND is_current = 1`, sourceCode, planCode)
	ref, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find current plan: %w", err)
	}
	return &ref, nil
}

// RecordNewPlan inserts plan as the current plan for sourceCode.
func (s *PlanStore) RecordNewPlan(ctx context.Context, sourceCode string, plan crawler.ExtractedPlan) (int64, error) {
	units, raw, err := encodePlan(plan)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO price_plans (
			source_code, plan_code, plan_name, contract_type,
			base_charge, minimum_charge, unit_prices, fuel_adjustment, renewable_surcharge,
			effective_date, source_url, raw_data, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sourceCode, plan.PlanCode, plan.PlanName, plan.ContractType,
		plan.BaseCharge, plan.MinimumCharge, units, plan.FuelAdjustment, plan.RenewableSurcharge,
		formatDate(plan.EffectiveDate), plan.SourceURL, raw, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert plan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert plan id: %w", err)
	}
	return id, nil
}

// RecordUpdatedPlan snapshots the stored prices into price_history and then
// overwrites them, in one transaction.
func (s *PlanStore) RecordUpdatedPlan(
	ctx context.Context,
	planID int64,
	plan crawler.ExtractedPlan,
	changes []crawler.PriceChange,
) error {
	units, raw, err := encodePlan(plan)
	if err != nil {
		return err
	}
	if changes == nil {
		changes = []crawler.PriceChange{}
	}
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	now := s.clock.Now().UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin plan update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		INSERT INTO price_history (
			plan_id, base_charge, minimum_charge, unit_prices,
			fuel_adjustment, renewable_surcharge, changes, recorded_at
		)
		SELECT id, base_charge, minimum_charge, unit_prices,
			fuel_adjustment, renewable_surcharge, ?, ?
		FROM price_plans WHERE id = ?`,
		string(changesJSON), now, planID)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("insert history: %w", err)
	} else if n == 0 {
		return fmt.Errorf("plan %d: %w", planID, crawler.ErrPlanNotFound)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE price_plans SET
			plan_name = ?, contract_type = ?,
			base_charge = ?, minimum_charge = ?, unit_prices = ?,
			fuel_adjustment = ?, renewable_surcharge = ?,
			effective_date = ?, source_url = ?, raw_data = ?, updated_at = ?
		WHERE id = ?`,
		plan.PlanName, plan.ContractType,
		plan.BaseCharge, plan.MinimumCharge, units,
		plan.FuelAdjustment, plan.RenewableSurcharge,
		formatDate(plan.EffectiveDate), plan.SourceURL, raw, now, planID,
	); err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit plan update: %w", err)
	}
	return nil
}

// LogJobOutcome writes one crawl_logs row per attempted source.
func (s *PlanStore) LogJobOutcome(ctx context.Context, job crawler.CrawlJob) error {
	for _, code := range job.Sources {
		out, ok := job.Results[code]
		if !ok {
			continue
		}
		var errText *string
		if out.Error != "" {
			errText = &out.Error
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO crawl_logs (
				job_id, source_code, trigger, job_status, success,
				started_at, finished_at, duration_ms, pages_crawled,
				plans_found, plans_created, plans_updated, error_message
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, code, string(job.Trigger), string(job.Status), out.Success,
			out.StartedAt.UTC().Format(timeLayout), out.FinishedAt.UTC().Format(timeLayout),
			out.DurationMs, out.PagesCrawled, out.PlansFound, out.PlansCreated, out.PlansUpdated, errText,
		); err != nil {
			return fmt.Errorf("insert crawl log for %s: %w", code, err)
		}
	}
	return nil
}

// CountCrawlLogs returns the number of crawl_logs rows for jobID.
func (s *PlanStore) CountCrawlLogs(ctx context.Context, jobID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crawl_logs WHERE job_id = ?`, jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count crawl logs: %w", err)
	}
	return n, nil
}

// ListCurrentPlans returns current plans, optionally for one source.
func (s *PlanStore) ListCurrentPlans(ctx context.Context, sourceCode string) ([]crawler.PersistedPlanRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+planColumns+` FROM price_plans
		WHERE is_current = 1 AND (? = '' OR source_code = ?)
		ORDER BY source_code, plan_code`, sourceCode, sourceCode)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []crawler.PersistedPlanRef
	for rows.Next() {
		ref, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, ref)
	}
	return plans, rows.Err()
}

// GetPlan returns one plan by id.
func (s *PlanStore) GetPlan(ctx context.Context, planID int64) (*crawler.PersistedPlanRef, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM price_plans WHERE id = ?`, planID)
	ref, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %d: %w", planID, crawler.ErrPlanNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return &ref, nil
}

// ListHistory returns the newest history rows for a plan.
func (s *PlanStore) ListHistory(ctx context.Context, planID int64, limit int) ([]crawler.PlanHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, base_charge, minimum_charge, unit_prices,
			fuel_adjustment, renewable_surcharge, changes, recorded_at
		FROM price_history
		WHERE plan_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`, planID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []crawler.PlanHistoryEntry
	for rows.Next() {
		var (
			e                        crawler.PlanHistoryEntry
			units, changes, recorded string
		)
		if err := rows.Scan(&e.ID, &e.PlanID, &e.Previous.BaseCharge, &e.Previous.MinimumCharge, &units,
			&e.Previous.FuelAdjustment, &e.Previous.RenewableSurcharge, &changes, &recorded); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if err := json.Unmarshal([]byte(units), &e.Previous.UnitPrices); err != nil {
			return nil, fmt.Errorf("decode history unit prices: %w", err)
		}
		if err := json.Unmarshal([]byte(changes), &e.Changes); err != nil {
			return nil, fmt.Errorf("decode history changes: %w", err)
		}
		if e.RecordedAt, err = time.Parse(timeLayout, recorded); err != nil {
			return nil, fmt.Errorf("decode recorded_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (crawler.PersistedPlanRef, error) {
	var (
		ref              crawler.PersistedPlanRef
		units            string
		effective        sql.NullString
		created, updated string
	)
	if err := row.Scan(&ref.ID, &ref.SourceCode, &ref.PlanCode, &ref.PlanName, &ref.ContractType,
		&ref.BaseCharge, &ref.MinimumCharge, &units, &ref.FuelAdjustment, &ref.RenewableSurcharge,
		&effective, &ref.SourceURL, &created, &updated); err != nil {
		return crawler.PersistedPlanRef{}, err
	}
	if err := json.Unmarshal([]byte(units), &ref.UnitPrices); err != nil {
		return crawler.PersistedPlanRef{}, fmt.Errorf("decode unit prices: %w", err)
	}
	if effective.Valid {
		d, err := time.Parse(dateLayout, effective.String)
		if err != nil {
			return crawler.PersistedPlanRef{}, fmt.Errorf("decode effective_date: %w", err)
		}
		ref.EffectiveDate = &d
	}
	var err error
	if ref.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return crawler.PersistedPlanRef{}, fmt.Errorf("decode created_at: %w", err)
	}
	if ref.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return crawler.PersistedPlanRef{}, fmt.Errorf("decode updated_at: %w", err)
	}
	return ref, nil
}

func encodePlan(plan crawler.ExtractedPlan) (units string, raw *string, err error) {
	unitPrices := plan.UnitPrices
	if unitPrices == nil {
		unitPrices = map[string]float64{}
	}
	b, err := json.Marshal(unitPrices)
	if err != nil {
		return "", nil, fmt.Errorf("marshal unit prices: %w", err)
	}
	if plan.RawData != nil {
		rb, err := json.Marshal(plan.RawData)
		if err != nil {
			return "", nil, fmt.Errorf("marshal raw data: %w", err)
		}
		s := string(rb)
		raw = &s
	}
	return string(b), raw, nil
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}
