// Package pricing defines the minimum-increment rules that gate bid
// legality. All arithmetic is exact decimal; increments feed directly
// into bid validation, so rounding error is not tolerable here.
package pricing

import "github.com/shopspring/decimal"

// band is a half-open price range [previous upper, upper) mapped to a
// fixed increment. Bands are ordered and contiguous, so only the upper
// bound needs to be stored.
type band struct {
	upper     decimal.Decimal
	increment decimal.Decimal
}

var bands = []band{
	{upper: d("1"), increment: d("0.05")},
	{upper: d("5"), increment: d("0.25")},
	{upper: d("25"), increment: d("0.50")},
	{upper: d("100"), increment: d("1.00")},
	{upper: d("250"), increment: d("2.50")},
	{upper: d("500"), increment: d("5.00")},
	{upper: d("1000"), increment: d("10.00")},
}

// topIncrement applies to every price of 1000 and above.
var topIncrement = d("25.00")

// Increment returns the minimum legal increment for the given current
// price. It is total: any price below 1 (including a pathological
// negative) falls into the first band.
func Increment(currentPrice decimal.Decimal) decimal.Decimal {
	for _, b := range bands {
		if currentPrice.LessThan(b.upper) {
			return b.increment
		}
	}
	return topIncrement
}

// MinimumNextBid returns the smallest amount a new bid must reach to be
// accepted at the given current price.
func MinimumNextBid(currentPrice decimal.Decimal) decimal.Decimal {
	return currentPrice.Add(Increment(currentPrice))
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
