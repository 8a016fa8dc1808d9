package arbitrage

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// DefaultPricePrecision matches the market's minimum tick of 0.001.
const DefaultPricePrecision int32 = 3

// WalkVWAP returns the average price paid to buy target shares from an
// ascending ask ladder, rounded to DefaultPricePrecision. ok is false when
// the ladder cannot fill the target.
func WalkVWAP(asks []domain.PriceLevel, target decimal.Decimal) (decimal.Decimal, bool) {
	return walkVWAP(asks, target, DefaultPricePrecision)
}

func walkVWAP(asks []domain.PriceLevel, target decimal.Decimal, precision int32) (decimal.Decimal, bool) {
	if !target.IsPositive() {
		return decimal.Zero, false
	}
	remaining := target
	cost := decimal.Zero
	for _, lvl := range asks {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(lvl.Size, remaining)
		cost = cost.Add(take.Mul(lvl.Price))
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return decimal.Zero, false
	}
	return cost.Div(target).Round(precision), true
}
