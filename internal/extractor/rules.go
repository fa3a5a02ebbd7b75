package extractor

import (
	"github.com/PuerkitoBio/goquery"
)

// chargeRule finds a flat charge: the first table whose text contains all
// of table, then the first row in it containing any of row.
type chargeRule struct {
	table []string
	row   []string
}

// unitRule maps a row to a unit price key. A row matches when it contains
// every marker in all and at least one marker in anyOf (when set).
type unitRule struct {
	key   string
	all   []string
	anyOf []string
}

// unitTable selects tables containing any of table and classifies their
// rows with the first matching rule.
type unitTable struct {
	table []string
	rules []unitRule
}

// pageRules describes how to read one plan page.
type pageRules struct {
	base    *chargeRule
	minimum *chargeRule
	units   unitTable
}

func (r chargeRule) find(doc *goquery.Document) *float64 {
	var found *float64
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		if !containsAll(normalizeText(table.Text()), r.table) {
			return true
		}
		table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
			if !containsAny(normalizeText(row.Text()), r.row) {
				return true
			}
			found = rowPrice(row)
			return found == nil
		})
		return found == nil
	})
	return found
}

// find returns the unit prices keyed by rule key. The first value seen for
// a key wins.
func (t unitTable) find(doc *goquery.Document) map[string]float64 {
	prices := make(map[string]float64)
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		if !containsAny(normalizeText(table.Text()), t.table) {
			return
		}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			text := normalizeText(row.Text())
			for _, rule := range t.rules {
				if !containsAll(text, rule.all) || !containsAny(text, rule.anyOf) {
					continue
				}
				if _, seen := prices[rule.key]; !seen {
					if p := rowPrice(row); p != nil {
						prices[rule.key] = *p
					}
				}
				return
			}
		})
	})
	return prices
}

// Shared unit price layouts.
var (
	// Three-band metered tariffs starting at 0 kWh. The 120-300 band is
	// tested first because its label also contains "120kWh ... まで".
	tieredFromZero = unitTable{
		table: []string{"電力量料金", "従量料金"},
		rules: []unitRule{
			{key: "tier2_120_300", all: []string{"120kWh", "300kWh"}},
			{key: "tier3_over_300", all: []string{"300kWh"}, anyOf: []string{"超過", "超え", "超", "こえ"}},
			{key: "tier1_0_120", all: []string{"120kWh"}, anyOf: []string{"まで", "以下"}},
		},
	}
	// Tariffs whose first 15 kWh are covered by a minimum charge.
	tieredFromFifteen = unitTable{
		table: []string{"電力量料金"},
		rules: []unitRule{
			{key: "tier1_15_120", all: []string{"15kWh", "120kWh"}},
			{key: "tier1_15_120", anyOf: []string{"第1段階"}},
			{key: "tier2_120_300", all: []string{"120kWh", "300kWh"}},
			{key: "tier3_over_300", all: []string{"300kWh"}, anyOf: []string{"超過", "超え", "超", "こえ"}},
		},
	}
)
