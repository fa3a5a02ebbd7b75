package validation

import (
	"sort"

	"github.com/nalpari/jppc/internal/crawler"
)

// DefaultSignificantPercent is the alert threshold for a price change.
const DefaultSignificantPercent = 5.0

// Diff compares the stored prices of a plan with a fresh extraction and
// returns one PriceChange per differing field. Base and minimum charges are
// compared only when both sides are known. Unit prices are compared over
// the union of tier keys, so an added or removed tier is a change. Fuel
// adjustment and renewable surcharge treat unknown as a distinct value.
func Diff(planCode, planName string, previous, current crawler.Prices) []crawler.PriceChange {
	var changes []crawler.PriceChange
	add := func(field string, oldValue, newValue *float64) {
		changes = append(changes, crawler.PriceChange{
			PlanCode:      planCode,
			PlanName:      planName,
			Field:         field,
			OldValue:      oldValue,
			NewValue:      newValue,
			PercentChange: percentChange(oldValue, newValue),
		})
	}

	if bothKnownAndDiffer(previous.BaseCharge, current.BaseCharge) {
		add("base_charge", previous.BaseCharge, current.BaseCharge)
	}
	if bothKnownAndDiffer(previous.MinimumCharge, current.MinimumCharge) {
		add("minimum_charge", previous.MinimumCharge, current.MinimumCharge)
	}

	for _, key := range unionKeys(previous.UnitPrices, current.UnitPrices) {
		oldValue := lookup(previous.UnitPrices, key)
		newValue := lookup(current.UnitPrices, key)
		if !equalPtr(oldValue, newValue) {
			add(unitField(key), oldValue, newValue)
		}
	}

	if !equalPtr(previous.FuelAdjustment, current.FuelAdjustment) {
		add("fuel_adjustment", previous.FuelAdjustment, current.FuelAdjustment)
	}
	if !equalPtr(previous.RenewableSurcharge, current.RenewableSurcharge) {
		add("renewable_surcharge", previous.RenewableSurcharge, current.RenewableSurcharge)
	}
	return changes
}

// FilterSignificant keeps changes whose absolute percentage is at least
// threshold. Changes without a percentage are never significant.
func FilterSignificant(changes []crawler.PriceChange, threshold float64) []crawler.PriceChange {
	var out []crawler.PriceChange
	for _, c := range changes {
		if c.PercentChange == nil {
			continue
		}
		pct := *c.PercentChange
		if pct < 0 {
			pct = -pct
		}
		if pct >= threshold {
			out = append(out, c)
		}
	}
	return out
}

func percentChange(oldValue, newValue *float64) *float64 {
	if oldValue == nil || newValue == nil || *oldValue == 0 {
		return nil
	}
	pct := (*newValue - *oldValue) / *oldValue * 100
	return &pct
}

func bothKnownAndDiffer(a, b *float64) bool {
	return a != nil && b != nil && *a != *b
}

func equalPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func lookup(m map[string]float64, key string) *float64 {
	v, ok := m[key]
	if !ok {
		return nil
	}
	return &v
}

func unionKeys(a, b map[string]float64) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
