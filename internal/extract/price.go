package extract

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParsePrice normalizes scraped price text into a decimal. Currency
// symbols, thousands separators, and trailing text are tolerated; ranges
// ("$1,299 - $1,899") yield the first amount. Unparseable or negative
// values return nil: absent is safer than wrong.
func ParsePrice(raw string) *decimal.Decimal {
	start := -1
	for i, r := range raw {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}
	// A minus ahead of the first amount marks a negative price.
	if prefix := strings.TrimRight(raw[:start], "$€£  \t"); strings.HasSuffix(prefix, "-") {
		return nil
	}

	end := start
	for end < len(raw) {
		c := raw[end]
		if (c >= '0' && c <= '9') || c == ',' || c == '.' {
			end++
			continue
		}
		break
	}

	cleaned := strings.ReplaceAll(raw[start:end], ",", "")
	cleaned = strings.TrimRight(cleaned, ".")
	if cleaned == "" {
		return nil
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil || d.IsNegative() {
		return nil
	}
	return &d
}
