package extractor

import "github.com/nalpari/jppc/internal/crawler"

// NewTEPCO returns the extractor for TEPCO Energy Partner (Kanto).
func NewTEPCO() Extractor {
	// Period labels quote both boundaries ("午前6時～翌午前1時"), so the
	// explicit night label is tested before the hour markers.
	tou := unitTable{
		table: []string{"電力量料金"},
		rules: []unitRule{
			{key: "nighttime", anyOf: []string{"夜間"}},
			{key: "daytime", anyOf: []string{"昼間", "6時"}},
			{key: "nighttime", anyOf: []string{"1時"}},
		},
	}
	base30A := &chargeRule{table: []string{"基本料金", "30A"}, row: []string{"30A"}}

	return newSite(crawler.Source{
		Code:    "tepco",
		Name:    "東京電力エナジーパートナー",
		BaseURL: "https://www.tepco.co.jp",
		Pages: []crawler.PageDescriptor{
			{
				Key:          "metered_b",
				Path:         "/ep/private/plan/standard/chargelist01.html",
				PlanName:     "従量電灯B",
				PlanCode:     "tepco_metered_b",
				ContractType: "従量電灯",
			},
			{
				Key:          "metered_c",
				Path:         "/ep/private/plan/standard/chargelist02.html",
				PlanName:     "従量電灯C",
				PlanCode:     "tepco_metered_c",
				ContractType: "従量電灯",
			},
			{
				Key:          "smart_life",
				Path:         "/ep/private/plan/smartlife/chargelist.html",
				PlanName:     "スマートライフS",
				PlanCode:     "tepco_smart_life_s",
				ContractType: "時間帯別",
			},
		},
	}, map[string]pageRules{
		"metered_b":  {base: base30A, units: tieredFromZero},
		"metered_c":  {base: base30A, units: tieredFromZero},
		"smart_life": {base: base30A, units: tou},
	})
}
