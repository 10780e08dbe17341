package rates

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatPercent renders a percentage the way the simulation form expects it:
// decimal comma, two fraction digits, trailing " %". 13.6549 -> "13,65 %".
func FormatPercent(v decimal.Decimal) string {
	return strings.Replace(v.StringFixed(2), ".", ",", 1) + " %"
}
