package coupon

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Multiplier returns 1 - pct/100, with the fraction rounded half-up to two
// decimal places.
func Multiplier(pct decimal.Decimal) decimal.Decimal {
	return one.Sub(pct.DivRound(hundred, 2))
}

// DiscountedUnitPrice applies pct to price and rounds the result half-up to
// two decimal places.
func DiscountedUnitPrice(price, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(Multiplier(pct)).Round(2)
}
