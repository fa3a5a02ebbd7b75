package postgres

// schema creates the plan tables. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS price_plans (
		id                  BIGSERIAL PRIMARY KEY,
		source_code         TEXT NOT NULL,
		plan_code           TEXT NOT NULL,
		plan_name           TEXT NOT NULL,
		contract_type       TEXT NOT NULL DEFAULT '',
		base_charge         DOUBLE PRECISION,
		minimum_charge      DOUBLE PRECISION,
		unit_prices         JSONB NOT NULL DEFAULT '{}'::jsonb,
		fuel_adjustment     DOUBLE PRECISION,
		renewable_surcharge DOUBLE PRECISION,
		effective_date      DATE,
		source_url          TEXT NOT NULL DEFAULT '',
		raw_data            JSONB,
		is_current          BOOLEAN NOT NULL DEFAULT TRUE,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS price_plans_current_uniq
		ON price_plans (source_code, plan_code) WHERE is_current`,
	`CREATE TABLE IF NOT EXISTS price_history (
		id                  BIGSERIAL PRIMARY KEY,
		plan_id             BIGINT NOT NULL REFERENCES price_plans (id),
		base_charge         DOUBLE PRECISION,
		minimum_charge      DOUBLE PRECISION,
		unit_prices         JSONB NOT NULL DEFAULT '{}'::jsonb,
		fuel_adjustment     DOUBLE PRECISION,
		renewable_surcharge DOUBLE PRECISION,
		changes             JSONB NOT NULL,
		recorded_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS price_history_plan_idx ON price_history (plan_id, recorded_at DESC)`,
	`CREATE TABLE IF NOT EXISTS crawl_logs (
		id             BIGSERIAL PRIMARY KEY,
		job_id         TEXT NOT NULL,
		source_code    TEXT NOT NULL,
		trigger        TEXT NOT NULL,
		job_status     TEXT NOT NULL,
		success        BOOLEAN NOT NULL,
		started_at     TIMESTAMPTZ,
		finished_at    TIMESTAMPTZ,
		duration_ms    BIGINT NOT NULL DEFAULT 0,
		pages_crawled  INTEGER NOT NULL DEFAULT 0,
		plans_found    INTEGER NOT NULL DEFAULT 0,
		plans_created  INTEGER NOT NULL DEFAULT 0,
		plans_updated  INTEGER NOT NULL DEFAULT 0,
		error_message  TEXT
	)`,
}
