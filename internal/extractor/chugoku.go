package extractor

import "github.com/nalpari/jppc/internal/crawler"

// NewChugoku returns the extractor for Chugoku Electric Power (Energia).
func NewChugoku() Extractor {
	minimum := &chargeRule{table: []string{"最低料金"}, row: []string{"最低料金"}}
	// Two bands split at 120 kWh.
	flatRate := unitTable{
		table: []string{"電力量料金", "従量料金"},
		rules: []unitRule{
			{key: "tier1_0_120", all: []string{"120kWh"}, anyOf: []string{"まで", "以下"}},
			{key: "tier2_over_120", all: []string{"120kWh"}},
		},
	}
	return newSite(crawler.Source{
		Code:    "chugoku",
		Name:    "中国電力",
		BaseURL: "https://www.energia.co.jp",
		Pages: []crawler.PageDescriptor{
			{
				Key:          "metered_a",
				Path:         "/elec/personal/menu/juryo-a/",
				PlanName:     "従量電灯A",
				PlanCode:     "chugoku_metered_a",
				ContractType: "従量電灯",
			},
			{
				Key:          "metered_b",
				Path:         "/elec/personal/menu/juryo-b/",
				PlanName:     "従量電灯B",
				PlanCode:     "chugoku_metered_b",
				ContractType: "従量電灯",
			},
			{
				Key:          "electric_delight",
				Path:         "/elec/personal/menu/electric-delight/",
				PlanName:     "ぐっとずっと。プラン スマートコース",
				PlanCode:     "chugoku_electric_delight_smart",
				ContractType: "定額",
			},
		},
	}, map[string]pageRules{
		"metered_a":        {minimum: minimum, units: tieredFromFifteen},
		"metered_b":        {base: &chargeRule{table: []string{"基本料金"}, row: []string{"1kVA"}}, units: tieredFromZero},
		"electric_delight": {minimum: minimum, units: flatRate},
	})
}
