package claims

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the precision of the reward token ($OPEN is a standard SPL token).
const DefaultDecimals = 9

// FormatAmount renders a base-unit amount in whole tokens with at most two
// fraction digits and comma grouping, e.g. 1234567890000 -> "1,234.57".
func FormatAmount(amount uint64, decimals int32) string {
	value := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals).Round(2)

	whole, frac, _ := strings.Cut(value.String(), ".")
	if frac == "" {
		return groupThousands(whole)
	}
	return groupThousands(whole) + "." + frac
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
