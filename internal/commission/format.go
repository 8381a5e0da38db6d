package commission

import "github.com/shopspring/decimal"

// Currency suffix used when rendering amounts.
const CurrencySuffix = "DA"

// FormatDA renders an amount in Algerian Dinar, rounded half away from zero to
// two decimals and without decimals when the result is whole:
// 300 -> "300 DA", 100.0/3 -> "33.33 DA".
func FormatDA(amount float64) string {
	return FormatAmount(amount, CurrencySuffix)
}

// FormatAmount is FormatDA with a configurable suffix.
func FormatAmount(amount float64, suffix string) string {
	d := decimal.NewFromFloat(amount).Round(2)
	s := d.StringFixed(2)
	if d.IsInteger() {
		s = d.StringFixed(0)
	}
	if suffix == "" {
		return s
	}
	return s + " " + suffix
}

// RoundShare rounds a stored share to centimes for reporting. Stored balances
// keep full precision.
func RoundShare(amount float64) float64 {
	f, _ := decimal.NewFromFloat(amount).Round(2).Float64()
	return f
}
