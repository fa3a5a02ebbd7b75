package orchestrator

import (
	"context"
	"fmt"

	"github.com/nalpari/jppc/internal/crawler"
	"github.com/nalpari/jppc/internal/validation"
)

type decision string

const (
	decisionCreated   decision = "created"
	decisionUpdated   decision = "updated"
	decisionUnchanged decision = "unchanged"
)

type reconcileResult struct {
	decision decision
	changes  []crawler.PriceChange
}

// reconcile compares plan with the stored current plan and applies the
// resulting create, update-with-history or no-op.
func (o *Orchestrator) reconcile(ctx context.Context, sourceCode string, plan crawler.ExtractedPlan) (reconcileResult, error) {
	current, err := o.deps.Store.FindCurrentPlan(ctx, sourceCode, plan.PlanCode)
	if err != nil {
		return reconcileResult{}, fmt.Errorf("find current plan %s: %w", plan.PlanCode, err)
	}
	if current == nil {
		if _, err := o.deps.Store.RecordNewPlan(ctx, sourceCode, plan); err != nil {
			return reconcileResult{}, fmt.Errorf("record new plan %s: %w", plan.PlanCode, err)
		}
		return reconcileResult{decision: decisionCreated}, nil
	}

	changes := validation.Diff(plan.PlanCode, plan.PlanName, current.Prices, plan.Prices)
	if len(changes) == 0 {
		return reconcileResult{decision: decisionUnchanged}, nil
	}
	if err := o.deps.Store.RecordUpdatedPlan(ctx, current.ID, plan, changes); err != nil {
		return reconcileResult{}, fmt.Errorf("record updated plan %s: %w", plan.PlanCode, err)
	}
	return reconcileResult{decision: decisionUpdated, changes: changes}, nil
}
