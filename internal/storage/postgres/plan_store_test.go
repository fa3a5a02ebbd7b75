package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/nalpari/jppc/internal/crawler"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2024, 4, 2, 2, 0, 0, 0, time.UTC)

var planColumnNames = []string{
	"id", "source_code", "plan_code", "plan_name", "contract_type",
	"base_charge", "minimum_charge", "unit_prices", "fuel_adjustment", "renewable_surcharge",
	"effective_date", "source_url", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*PlanStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, fixedClock{testNow})
	require.NoError(t, err)
	return store, mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func samplePlan() crawler.ExtractedPlan {
	return crawler.ExtractedPlan{
		PlanName:     "従量電灯B",
		PlanCode:     "tepco_metered_b",
		ContractType: "従量電灯",
		SourceURL:    "https://www.tepco.co.jp/ep/private/plan/standard/chargelist01.html",
		Prices: crawler.Prices{
			BaseCharge:         crawler.Float(885.72),
			UnitPrices:         map[string]float64{"tier1_0_120": 29.80},
			RenewableSurcharge: crawler.Float(1.40),
		},
	}
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, nil)
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestMigrateRunsEveryStatement(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCurrentPlan(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	effective := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM price_plans").
		WithArgs("tepco", "tepco_metered_b").
		WillReturnRows(pgxmock.NewRows(planColumnNames).AddRow(
			int64(7), "tepco", "tepco_metered_b", "従量電灯B", "従量電灯",
			crawler.Float(885.72), nil, []byte(`{"tier1_0_120":29.8}`), nil, crawler.Float(1.40),
			&effective, "https://www.tepco.co.jp/x", testNow, testNow,
		))

	ref, err := store.FindCurrentPlan(context.Background(), "tepco", "tepco_metered_b")
	require.NoError(t, err)
	require.NotNil(t, ref)
	require.EqualValues(t, 7, ref.ID)
	require.InDelta(t, 885.72, *ref.BaseCharge, 1e-9)
	require.Nil(t, ref.MinimumCharge)
	require.Equal(t, map[string]float64{"tier1_0_120": 29.8}, ref.UnitPrices)
	require.Equal(t, effective, *ref.EffectiveDate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCurrentPlanMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM price_plans").
		WithArgs("tepco", "nope").
		WillReturnError(pgx.ErrNoRows)

	ref, err := store.FindCurrentPlan(context.Background(), "tepco", "nope")
	require.NoError(t, err)
	require.Nil(t, ref)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordNewPlan(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	plan := samplePlan()
	mock.ExpectQuery("INSERT INTO price_plans").
		WithArgs(
			"tepco", plan.PlanCode, plan.PlanName, plan.ContractType,
			plan.BaseCharge, plan.MinimumCharge, []byte(`{"tier1_0_120":29.8}`), plan.FuelAdjustment, plan.RenewableSurcharge,
			plan.EffectiveDate, plan.SourceURL, []byte(nil), testNow,
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := store.RecordNewPlan(context.Background(), "tepco", plan)
	require.NoError(t, err)
	require.EqualValues(t, 42, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordUpdatedPlanWritesHistoryThenUpdates(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	plan := samplePlan()
	changes := []crawler.PriceChange{{
		PlanCode: plan.PlanCode, Field: "base_charge",
		OldValue: crawler.Float(800), NewValue: crawler.Float(885.72), PercentChange: crawler.Float(10.715),
	}}
	changesJSON, err := json.Marshal(changes)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO price_history").
		WithArgs(int64(7), changesJSON, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE price_plans").
		WithArgs(
			int64(7), plan.PlanName, plan.ContractType,
			plan.BaseCharge, plan.MinimumCharge, []byte(`{"tier1_0_120":29.8}`),
			plan.FuelAdjustment, plan.RenewableSurcharge,
			plan.EffectiveDate, plan.SourceURL, []byte(nil), testNow,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.RecordUpdatedPlan(context.Background(), 7, plan, changes))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordUpdatedPlanUnknownID(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO price_history").
		WithArgs(int64(99), pgxmock.AnyArg(), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	err := store.RecordUpdatedPlan(context.Background(), 99, samplePlan(), nil)
	require.ErrorIs(t, err, crawler.ErrPlanNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordUpdatedPlanRollsBackOnUpdateFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO price_history").
		WithArgs(anyArgs(3)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE price_plans").
		WithArgs(anyArgs(12)...).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := store.RecordUpdatedPlan(context.Background(), 7, samplePlan(), nil)
	require.ErrorContains(t, err, "deadlock detected")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogJobOutcomeWritesOneRowPerAttemptedSource(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	job := crawler.CrawlJob{
		ID:      "job-1",
		Trigger: crawler.TriggerScheduled,
		Status:  crawler.JobStatusPartial,
		Sources: []string{"tepco", "kepco", "chubu"},
		Results: map[string]crawler.SourceOutcome{
			"tepco": {SourceCode: "tepco", Success: true, PlansFound: 3, PlansCreated: 3, StartedAt: testNow, FinishedAt: testNow},
			"kepco": {SourceCode: "kepco", Error: "extraction: boom", StartedAt: testNow, FinishedAt: testNow},
		},
	}
	errText := "extraction: boom"
	mock.ExpectExec("INSERT INTO crawl_logs").
		WithArgs("job-1", "tepco", "scheduled", "partial", true, testNow, testNow, int64(0), 0, 3, 3, 0, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO crawl_logs").
		WithArgs("job-1", "kepco", "scheduled", "partial", false, testNow, testNow, int64(0), 0, 0, 0, 0, &errText).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.LogJobOutcome(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListCurrentPlans(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM price_plans").
		WithArgs("").
		WillReturnRows(pgxmock.NewRows(planColumnNames).
			AddRow(int64(1), "chubu", "chubu_metered_b", "従量電灯B", "従量電灯",
				crawler.Float(963.42), nil, []byte(`{"tier1_0_120":21.2}`), nil, crawler.Float(1.40),
				nil, "https://www.chuden.co.jp/b", testNow, testNow).
			AddRow(int64(2), "kepco", "kepco_metered_a", "従量電灯A", "従量電灯",
				nil, crawler.Float(522.58), []byte(`{"tier1_15_120":20.21}`), nil, crawler.Float(1.40),
				nil, "https://www.kepco.co.jp/a", testNow, testNow))

	plans, err := store.ListCurrentPlans(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, plans, 2)
	require.Equal(t, "kepco_metered_a", plans[1].PlanCode)
	require.Nil(t, plans[1].BaseCharge)
	require.InDelta(t, 522.58, *plans[1].MinimumCharge, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPlanNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM price_plans").WithArgs(int64(5)).WillReturnError(pgx.ErrNoRows)

	_, err := store.GetPlan(context.Background(), 5)
	require.ErrorIs(t, err, crawler.ErrPlanNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListHistory(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM price_history").
		WithArgs(int64(7), 10).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "plan_id", "base_charge", "minimum_charge", "unit_prices",
			"fuel_adjustment", "renewable_surcharge", "changes", "recorded_at",
		}).AddRow(int64(3), int64(7), crawler.Float(800.0), nil, []byte(`{"tier1_0_120":28}`),
			nil, crawler.Float(1.40), []byte(`[{"plan_code":"p","plan_name":"","field":"base_charge","old_value":800,"new_value":885.72}]`), testNow))

	entries, err := store.ListHistory(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.InDelta(t, 800, *entries[0].Previous.BaseCharge, 1e-9)
	require.Equal(t, map[string]float64{"tier1_0_120": 28}, entries[0].Previous.UnitPrices)
	require.Len(t, entries[0].Changes, 1)
	require.Equal(t, "base_charge", entries[0].Changes[0].Field)
	require.NoError(t, mock.ExpectationsWereMet())
}
