// Package postgres provides the Postgres-backed plan store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nalpari/jppc/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool used by the store.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PlanStore persists plans, history rows and crawl logs in Postgres.
type PlanStore struct {
	pool  Pool
	clock crawler.Clock
}

// New connects a pool from cfg and returns a store.
func New(ctx context.Context, cfg Config) (*PlanStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PlanStore{pool: pool, clock: crawler.SystemClock{}}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool Pool, clock crawler.Clock) (*PlanStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	return &PlanStore{pool: pool, clock: clock}, nil
}

// Migrate creates the tables when missing.
func (s *PlanStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PlanStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

const planColumns = `id, source_code, plan_code, plan_name, contract_type,
	base_charge, minimum_charge, unit_prices, fuel_adjustment, renewable_surcharge,
	effective_date, source_url, created_at, updated_at`

// FindCurrentPlan returns the current plan or nil when none exists.
func (s *PlanStore) FindCurrentPlan(ctx context.Context, sourceCode, planCode string) (*crawler.PersistedPlanRef, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+planColumns+`
		FROM price_plans
		WHERE source_code = $1 AND plan_code = $2 AND is_current`, sourceCode, planCode)
	ref, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	now := s.clock.Now()
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO price_plans (
			source_code, plan_code, plan_name, contract_type,
			base_charge, minimum_charge, unit_prices, fuel_adjustment, renewable_surcharge,
			effective_date, source_url, raw_data, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
		RETURNING id`,
		sourceCode, plan.PlanCode, plan.PlanName, plan.ContractType,
		plan.BaseCharge, plan.MinimumCharge, units, plan.FuelAdjustment, plan.RenewableSurcharge,
		plan.EffectiveDate, plan.SourceURL, raw, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert plan: %w", err)
	}
	return id, nil
}

// RecordUpdatedPlan copies the current prices into price_history and then
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
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	now := s.clock.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin plan update: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		INSERT INTO price_history (
			plan_id, base_charge, minimum_charge, unit_prices,
			fuel_adjustment, renewable_surcharge, changes, recorded_at
		)
		SELECT id, base_charge, minimum_charge, unit_prices,
			fuel_adjustment, renewable_surcharge, $2, $3
		FROM price_plans WHERE id = $1`,
		planID, changesJSON, now)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("plan %d: %w", planID, crawler.ErrPlanNotFound)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE price_plans SET
			plan_name = $2, contract_type = $3,
			base_charge = $4, minimum_charge = $5, unit_prices = $6,
			fuel_adjustment = $7, renewable_surcharge = $8,
			effective_date = $9, source_url = $10, raw_data = $11, updated_at = $12
		WHERE id = $1`,
		planID, plan.PlanName, plan.ContractType,
		plan.BaseCharge, plan.MinimumCharge, units,
		plan.FuelAdjustment, plan.RenewableSurcharge,
		plan.EffectiveDate, plan.SourceURL, raw, now,
	); err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
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
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO crawl_logs (
				job_id, source_code, trigger, job_status, success,
				started_at, finished_at, duration_ms, pages_crawled,
				plans_found, plans_created, plans_updated, error_message
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			job.ID, code, string(job.Trigger), string(job.Status), out.Success,
			out.StartedAt, out.FinishedAt, out.DurationMs, out.PagesCrawled,
			out.PlansFound, out.PlansCreated, out.PlansUpdated, nullIfEmpty(out.Error),
		); err != nil {
			return fmt.Errorf("insert crawl log for %s: %w", code, err)
		}
	}
	return nil
}

// ListCurrentPlans returns current plans, optionally for one source.
func (s *PlanStore) ListCurrentPlans(ctx context.Context, sourceCode string) ([]crawler.PersistedPlanRef, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+planColumns+`
		FROM price_plans
		WHERE is_current AND ($1 = '' OR source_code = $1)
		ORDER BY source_code, plan_code`, sourceCode)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// GetPlan returns one plan by id.
func (s *PlanStore) GetPlan(ctx context.Context, planID int64) (*crawler.PersistedPlanRef, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM price_plans WHERE id = $1`, planID)
	ref, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	rows, err := s.pool.Query(ctx, `
		SELECT id, plan_id, base_charge, minimum_charge, unit_prices,
			fuel_adjustment, renewable_surcharge, changes, recorded_at
		FROM price_history
		WHERE plan_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2`, planID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []crawler.PlanHistoryEntry
	for rows.Next() {
		var (
			e              crawler.PlanHistoryEntry
			units, changes []byte
		)
		if err := rows.Scan(&e.ID, &e.PlanID, &e.Previous.BaseCharge, &e.Previous.MinimumCharge, &units,
			&e.Previous.FuelAdjustment, &e.Previous.RenewableSurcharge, &changes, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if err := json.Unmarshal(units, &e.Previous.UnitPrices); err != nil {
			return nil, fmt.Errorf("decode history unit prices: %w", err)
		}
		if err := json.Unmarshal(changes, &e.Changes); err != nil {
			return nil, fmt.Errorf("decode history changes: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return out, nil
}

func scanPlan(row pgx.Row) (crawler.PersistedPlanRef, error) {
	var (
		ref   crawler.PersistedPlanRef
		units []byte
	)
	if err := row.Scan(&ref.ID, &ref.SourceCode, &ref.PlanCode, &ref.PlanName, &ref.ContractType,
		&ref.BaseCharge, &ref.MinimumCharge, &units, &ref.FuelAdjustment, &ref.RenewableSurcharge,
		&ref.EffectiveDate, &ref.SourceURL, &ref.CreatedAt, &ref.UpdatedAt); err != nil {
		return crawler.PersistedPlanRef{}, err
	}
	if len(units) > 0 {
		if err := json.Unmarshal(units, &ref.UnitPrices); err != nil {
			return crawler.PersistedPlanRef{}, fmt.Errorf("decode unit prices: %w", err)
		}
	}
	return ref, nil
}

func encodePlan(plan crawler.ExtractedPlan) (units, raw []byte, err error) {
	unitPrices := plan.UnitPrices
	if unitPrices == nil {
		unitPrices = map[string]float64{}
	}
	if units, err = json.Marshal(unitPrices); err != nil {
		return nil, nil, fmt.Errorf("marshal unit prices: %w", err)
	}
	if plan.RawData != nil {
		if raw, err = json.Marshal(plan.RawData); err != nil {
			return nil, nil, fmt.Errorf("marshal raw data: %w", err)
		}
	}
	return units, raw, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
