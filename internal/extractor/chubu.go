package extractor

import "github.com/nalpari/jppc/internal/crawler"

// NewChubu returns the extractor for Chubu Electric Power Miraiz.
func NewChubu() Extractor {
	capacity := func(label string) *chargeRule {
		return &chargeRule{table: []string{"基本料金", label}, row: []string{label}}
	}
	// Home time labels spell out their hours relative to daytime and
	// nighttime, so they are matched before either.
	smartLife := unitTable{
		table: []string{"電力量料金", "デイタイム", "ナイトタイム"},
		rules: []unitRule{
			{key: "home_time", anyOf: []string{"@ホームタイム", "リビングタイム"}},
			{key: "nighttime", anyOf: []string{"ナイトタイム", "夜間"}},
			{key: "daytime", anyOf: []string{"デイタイム", "昼間"}},
		},
	}

	return newSite(crawler.Source{
		Code:    "chubu",
		Name:    "中部電力ミライズ",
		BaseURL: "https://www.chuden.co.jp",
		Pages: []crawler.PageDescriptor{
			{
				Key:          "metered_b",
				Path:         "/home/basic/charge/menu/meterb.html",
				PlanName:     "従量電灯B",
				PlanCode:     "chubu_metered_b",
				ContractType: "従量電灯",
			},
			{
				Key:          "metered_c",
				Path:         "/home/basic/charge/menu/meterc.html",
				PlanName:     "従量電灯C",
				PlanCode:     "chubu_metered_c",
				ContractType: "従量電灯",
			},
			{
				Key:          "smart_life",
				Path:         "/home/basic/charge/menu/smartlife.html",
				PlanName:     "スマートライフプラン",
				PlanCode:     "chubu_smart_life",
				ContractType: "時間帯別",
			},
		},
	}, map[string]pageRules{
		"metered_b":  {base: capacity("30A"), units: tieredFromZero},
		"metered_c":  {base: capacity("6kVA"), units: tieredFromZero},
		"smart_life": {base: capacity("10kVA"), units: smartLife},
	})
}
