// Package validation checks extracted plans and diffs them against the
// stored baseline.
package validation

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"

	"github.com/nalpari/jppc/internal/crawler"
)

// Bounds holds the numeric limits applied by the Validator.
type Bounds struct {
	MinBaseCharge     float64 // warning below
	MaxBaseCharge     float64 // error above
	MinUnitPrice      float64 // warning below
	MaxUnitPrice      float64 // error above
	MaxRenewable      float64 // warning above
	TierDropTolerance float64 // warning when next tier < previous * tolerance
}

// DefaultBounds returns limits suited to Japanese residential tariffs in yen.
func DefaultBounds() Bounds {
	return Bounds{
		MinBaseCharge:     100,
		MaxBaseCharge:     10000,
		MinUnitPrice:      10,
		MaxUnitPrice:      100,
		MaxRenewable:      10,
		TierDropTolerance: 0.8,
	}
}

var tierIndexPattern = regexp.MustCompile(`tier(\d+)`)

// Validator runs range and consistency checks on one plan.
type Validator struct {
	bounds Bounds
}

// NewValidator returns a Validator using b.
func NewValidator(b Bounds) *Validator {
	return &Validator{bounds: b}
}

// Validate reports hard errors (reject) and soft warnings (keep but flag).
func (v *Validator) Validate(plan crawler.ExtractedPlan) crawler.ValidationOutcome {
	var out crawler.ValidationOutcome
	fail := func(field, format string, args ...any) {
		out.Errors = append(out.Errors, crawler.FieldIssue{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	warn := func(field, format string, args ...any) {
		out.Warnings = append(out.Warnings, crawler.FieldIssue{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	b := v.bounds

	if plan.PlanName == "" {
		fail("plan_name", "plan name is required")
	}
	if plan.PlanCode == "" {
		fail("plan_code", "plan code is required")
	}

	if base := plan.BaseCharge; base != nil {
		switch {
		case *base > b.MaxBaseCharge:
			fail("base_charge", "base charge %v exceeds maximum %v", *base, b.MaxBaseCharge)
		case *base < b.MinBaseCharge:
			warn("base_charge", "base charge %v is unusually low", *base)
		}
	}

	if minimum := plan.MinimumCharge; minimum != nil && *minimum < 0 {
		fail("minimum_charge", "minimum charge cannot be negative: %v", *minimum)
	}

	keys := make([]string, 0, len(plan.UnitPrices))
	for k := range plan.UnitPrices {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		price := plan.UnitPrices[k]
		switch {
		case price > b.MaxUnitPrice:
			fail(unitField(k), "unit price %v exceeds maximum %v", price, b.MaxUnitPrice)
		case price < b.MinUnitPrice:
			warn(unitField(k), "unit price %v is unusually low", price)
		}
	}
	out.Warnings = append(out.Warnings, v.tierOrdering(plan.UnitPrices)...)

	if r := plan.RenewableSurcharge; r != nil {
		switch {
		case *r < 0:
			fail("renewable_surcharge", "renewable surcharge cannot be negative: %v", *r)
		case *r > b.MaxRenewable:
			warn("renewable_surcharge", "renewable surcharge %v is unusually high", *r)
		}
	}

	out.Valid = len(out.Errors) == 0
	return out
}

type tierPrice struct {
	index int
	key   string
	price float64
}

// tierOrdering compares adjacent tiers by the index embedded in their keys.
// Keys without a tier index (time-of-use periods) are not ordered.
func (v *Validator) tierOrdering(prices map[string]float64) []crawler.FieldIssue {
	tiers := make([]tierPrice, 0, len(prices))
	for key, price := range prices {
		m := tierIndexPattern.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		tiers = append(tiers, tierPrice{index: idx, key: key, price: price})
	}
	slices.SortFunc(tiers, func(a, b tierPrice) int {
		if a.index != b.index {
			return cmp.Compare(a.index, b.index)
		}
		return cmp.Compare(a.key, b.key)
	})

	var issues []crawler.FieldIssue
	for i := 1; i < len(tiers); i++ {
		prev, cur := tiers[i-1], tiers[i]
		if cur.price < prev.price*v.bounds.TierDropTolerance {
			issues = append(issues, crawler.FieldIssue{
				Field: "unit_prices",
				Message: fmt.Sprintf("tier %d price (%v) is significantly lower than tier %d (%v)",
					cur.index, cur.price, prev.index, prev.price),
			})
		}
	}
	return issues
}

func unitField(key string) string {
	return "unit_prices." + key
}
