package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/width"
)

var (
	yenSenPattern   = regexp.MustCompile(`(\d[\d,]*)円(\d{1,2})銭`)
	yenAmount       = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*円`)
	priceNoise      = regexp.MustCompile(`[円¥/kWh（）()\s]`)
	numberPattern   = regexp.MustCompile(`[\d.]+`)
	gregorianDate   = regexp.MustCompile(`(\d{4})年\s*(\d{1,2})月\s*(\d{1,2})日`)
	eraDate         = regexp.MustCompile(`(令和|平成|昭和)\s*(\d{1,2}|元)年\s*(\d{1,2})月\s*(\d{1,2})日`)
	abbrevEraDate   = regexp.MustCompile(`([RHS])\s*(\d{1,2})\.(\d{1,2})\.(\d{1,2})`)
	effectiveMarker = []string{"適用", "実施"}
)

// Year zero offsets for Japanese eras: era year N is offset+N.
var eraOffsets = map[string]int{
	"令和": 2018, "R": 2018,
	"平成": 1988, "H": 1988,
	"昭和": 1925, "S": 1925,
}

// ParsePrice extracts the first numeric token from a price label such as
// "1,234円", "29.80円/kWh" or "¥1,234". It returns nil when no number is
// present. "885円72銭" is read as 885.72.
func ParsePrice(text string) *float64 {
	if text == "" {
		return nil
	}
	cleaned := priceNoise.ReplaceAllString(foldPrice(text), "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	token := numberPattern.FindString(cleaned)
	if token == "" {
		return nil
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return nil
	}
	return &v
}

// foldPrice narrows full-width characters and rewrites "885円72銭" as
// "885.72円".
func foldPrice(text string) string {
	folded := width.Fold.String(text)
	return yenSenPattern.ReplaceAllStringFunc(folded, func(m string) string {
		parts := yenSenPattern.FindStringSubmatch(m)
		sen := parts[2]
		if len(sen) == 1 {
			sen = "0" + sen
		}
		return parts[1] + "." + sen + "円"
	})
}

// parseYenAmount returns the first number directly followed by 円.
func parseYenAmount(text string) *float64 {
	m := yenAmount.FindStringSubmatch(foldPrice(text))
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return nil
	}
	return &v
}

// CleanText collapses every run of whitespace, ideographic spaces
// included, into a single space.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ParseJapaneseDate reads "2024年4月1日", "令和6年4月1日" or "R6.4.1" style
// dates. Full-width digits are accepted. It returns nil when no valid date
// is found.
func ParseJapaneseDate(text string) *time.Time {
	folded := width.Fold.String(text)
	if m := gregorianDate.FindStringSubmatch(folded); m != nil {
		if d, ok := buildDate(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
			return &d
		}
	}
	if m := eraDate.FindStringSubmatch(folded); m != nil {
		year := 1
		if m[2] != "元" {
			year = atoi(m[2])
		}
		if d, ok := buildDate(eraOffsets[m[1]]+year, atoi(m[3]), atoi(m[4])); ok {
			return &d
		}
	}
	if m := abbrevEraDate.FindStringSubmatch(folded); m != nil {
		if d, ok := buildDate(eraOffsets[m[1]]+atoi(m[2]), atoi(m[3]), atoi(m[4])); ok {
			return &d
		}
	}
	return nil
}

func buildDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Month() != time.Month(month) {
		return time.Time{}, false
	}
	return d, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// findEffectiveDate returns the first date mentioned in a line that talks
// about when the rates apply.
func findEffectiveDate(doc *goquery.Document) *time.Time {
	text := doc.Find("body").Text()
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '。' }) {
		if !containsAny(line, effectiveMarker) {
			continue
		}
		if d := ParseJapaneseDate(line); d != nil {
			return d
		}
	}
	return nil
}

// normalizeText folds width and collapses whitespace so row markers match
// regardless of full-width digits.
func normalizeText(text string) string {
	return CleanText(width.Fold.String(text))
}

// rowPrice reads a price from a table row. Data cells are tried from the
// last one backwards so band labels like "30A" or "120kWh" in the leading
// cells are skipped. Rows without data cells fall back to the first yen
// amount in the row text.
func rowPrice(row *goquery.Selection) *float64 {
	cells := row.Find("td")
	for i := cells.Length() - 1; i >= 0; i-- {
		if p := ParsePrice(CleanText(cells.Eq(i).Text())); p != nil {
			return p
		}
	}
	return parseYenAmount(CleanText(row.Text()))
}

func containsAll(text string, markers []string) bool {
	for _, m := range markers {
		if !strings.Contains(text, m) {
			return false
		}
	}
	return true
}

func containsAny(text string, markers []string) bool {
	if len(markers) == 0 {
		return true
	}
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
