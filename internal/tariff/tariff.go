// Package tariff estimates monthly bills from stored plan prices.
package tariff

import (
	"cmp"
	"math"
	"slices"

	"github.com/nalpari/jppc/internal/crawler"
)

// Share of usage assumed to fall in the daytime period of time-of-use plans.
const daytimeShare = 0.6

// Comparison is one plan priced at a given monthly usage.
type Comparison struct {
	Plan                 crawler.PersistedPlanRef `json:"plan"`
	UsageKWh             float64                  `json:"usage_kwh"`
	EstimatedMonthlyCost *float64                 `json:"estimated_monthly_cost"`
}

// EstimateMonthlyCost prices usageKWh against p. It returns nil when the
// plan has no unit prices.
func EstimateMonthlyCost(p crawler.Prices, usageKWh float64) *float64 {
	if len(p.UnitPrices) == 0 {
		return nil
	}
	usageKWh = math.Max(usageKWh, 0)
	units := p.UnitPrices

	var total float64
	switch {
	case p.BaseCharge != nil && *p.BaseCharge != 0:
		total += *p.BaseCharge
	case p.MinimumCharge != nil:
		total += *p.MinimumCharge
	}

	switch {
	case has(units, "tier1_0_120"):
		total += banded(units, usageKWh, "tier1_0_120", 120)
	case has(units, "tier1_15_120"):
		// The first 15 kWh are covered by the minimum charge.
		total += banded(units, math.Max(usageKWh-15, 0), "tier1_15_120", 105)
	case has(units, "daytime") && has(units, "nighttime"):
		total += usageKWh * daytimeShare * units["daytime"]
		total += usageKWh * (1 - daytimeShare) * units["nighttime"]
	}

	if p.FuelAdjustment != nil {
		total += usageKWh * *p.FuelAdjustment
	}
	if p.RenewableSurcharge != nil {
		total += usageKWh * *p.RenewableSurcharge
	}
	rounded := math.Round(total*100) / 100
	return &rounded
}

// banded charges the first band at firstKey up to firstWidth kWh, the next
// 180 kWh at tier2_120_300 and the rest at tier3_over_300. Two-band plans
// charge everything past the first band at tier2_over_120.
func banded(units map[string]float64, kwh float64, firstKey string, firstWidth float64) float64 {
	first := math.Min(kwh, firstWidth)
	total := first * units[firstKey]
	remaining := kwh - first
	if remaining <= 0 {
		return total
	}
	if !has(units, "tier2_120_300") {
		if has(units, "tier2_over_120") {
			total += remaining * units["tier2_over_120"]
		}
		return total
	}
	second := math.Min(remaining, 180)
	total += second * units["tier2_120_300"]
	remaining -= second
	if remaining > 0 && has(units, "tier3_over_300") {
		total += remaining * units["tier3_over_300"]
	}
	return total
}

// Compare prices every plan at usageKWh and sorts cheapest first. Plans
// that cannot be priced sort last.
func Compare(plans []crawler.PersistedPlanRef, usageKWh float64) []Comparison {
	out := make([]Comparison, 0, len(plans))
	for _, plan := range plans {
		out = append(out, Comparison{
			Plan:                 plan,
			UsageKWh:             usageKWh,
			EstimatedMonthlyCost: EstimateMonthlyCost(plan.Prices, usageKWh),
		})
	}
	slices.SortStableFunc(out, func(a, b Comparison) int {
		switch {
		case a.EstimatedMonthlyCost == nil && b.EstimatedMonthlyCost == nil:
			return 0
		case a.EstimatedMonthlyCost == nil:
			return 1
		case b.EstimatedMonthlyCost == nil:
			return -1
		}
		return cmp.Compare(*a.EstimatedMonthlyCost, *b.EstimatedMonthlyCost)
	})
	return out
}

func has(m map[string]float64, key string) bool {
	_, ok := m[key]
	return ok
}
