package utils

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultQuotaRate is how many quota units the platform counts per US dollar.
const DefaultQuotaRate int64 = 500000

var rewardPattern = regexp.MustCompile(`\$(\d+(?:\.\d+)?)`)

// ParseRewardQuota finds the first dollar amount in msg and converts it to
// quota units, truncating toward zero. A message without an amount yields 0.
func ParseRewardQuota(msg string, rate int64) int64 {
	m := rewardPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	usd, err := decimal.NewFromString(m[1])
	if err != nil {
		return 0
	}
	return usd.Mul(decimal.NewFromInt(rate)).IntPart()
}

// FormatQuota renders quota units as dollars: four decimals below one cent,
// two decimals otherwise, with thousands separators from 1000 up.
func FormatQuota(quota, rate int64) string {
	if rate <= 0 {
		rate = DefaultQuotaRate
	}
	usd := decimal.NewFromInt(quota).Div(decimal.NewFromInt(rate))

	switch {
	case usd.LessThan(decimal.RequireFromString("0.01")):
		return "$" + usd.StringFixed(4)
	case usd.LessThan(decimal.NewFromInt(1000)):
		return "$" + usd.StringFixed(2)
	default:
		return "$" + groupThousands(usd.StringFixed(2))
	}
}

func groupThousands(fixed string) string {
	intPart, frac, _ := strings.Cut(fixed, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}
