package cart

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	groupSeparator = "\u202f"
	currencySuffix = "\u00a0MAD"
)

// FormatMAD renders an amount the way the storefront shows prices:
// French grouping, a decimal comma and two decimals, e.g. "1 234,50 MAD".
func FormatMAD(d decimal.Decimal) string {
	fixed := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if d.Round(2).IsNegative() {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteString(groupSeparator)
		}
		b.WriteRune(r)
	}
	b.WriteByte(',')
	b.WriteString(frac)
	b.WriteString(currencySuffix)
	return b.String()
}
