package extractor

import "github.com/nalpari/jppc/internal/crawler"

// NewKEPCO returns the extractor for Kansai Electric Power.
func NewKEPCO() Extractor {
	base := &chargeRule{table: []string{"基本料金"}, row: []string{"基本料金", "1kVA"}}
	hapie := unitTable{
		table: []string{"電力量料金", "デイタイム"},
		rules: []unitRule{
			{key: "daytime", anyOf: []string{"デイタイム"}},
			{key: "living_time", anyOf: []string{"リビングタイム"}},
			{key: "nighttime", anyOf: []string{"ナイトタイム"}},
		},
	}

	return newSite(crawler.Source{
		Code:    "kepco",
		Name:    "関西電力",
		BaseURL: "https://www.kepco.co.jp",
		Pages: []crawler.PageDescriptor{
			{
				Key:          "metered_a",
				Path:         "/home/ryoukin/menu/dento_a.html",
				PlanName:     "従量電灯A",
				PlanCode:     "kepco_metered_a",
				ContractType: "従量電灯",
			},
			{
				Key:          "metered_b",
				Path:         "/home/ryoukin/menu/dento_b.html",
				PlanName:     "従量電灯B",
				PlanCode:     "kepco_metered_b",
				ContractType: "従量電灯",
			},
			{
				Key:          "hapie_time",
				Path:         "/home/ryoukin/menu/hapie.html",
				PlanName:     "はぴeタイム",
				PlanCode:     "kepco_hapie_time",
				ContractType: "時間帯別",
			},
		},
	}, map[string]pageRules{
		"metered_a": {
			minimum: &chargeRule{table: []string{"最低料金"}, row: []string{"最低料金", "15kWh"}},
			units:   tieredFromFifteen,
		},
		"metered_b":  {base: base, units: tieredFromZero},
		"hapie_time": {base: base, units: hapie},
	})
}
