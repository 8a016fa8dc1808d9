package arbitrage

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Params holds the detection thresholds and fee model. It is passed by value
// to each check and never changed after construction.
type Params struct {
	MinProfit         decimal.Decimal
	MaxSlippage       decimal.Decimal
	TakerFee          decimal.Decimal
	MakerFee          decimal.Decimal
	MispricingCeiling decimal.Decimal
	Payout            decimal.Decimal
	PricePrecision    int32
	SizePrecision     int32
}

// DefaultParams returns the production thresholds.
func DefaultParams() Params {
	return Params{
		MinProfit:         decimal.RequireFromString("0.04"),
		MaxSlippage:       decimal.RequireFromString("0.025"),
		TakerFee:          decimal.RequireFromString("0.015"),
		MakerFee:          decimal.Zero,
		MispricingCeiling: decimal.RequireFromString("0.85"),
		Payout:            decimal.NewFromInt(1),
		PricePrecision:    3,
		SizePrecision:     2,
	}
}

// Validate rejects parameter sets that would make every check meaningless.
func (p Params) Validate() error {
	switch {
	case !p.Payout.IsPositive():
		return fmt.Errorf("arbitrage: payout must be positive")
	case p.MinProfit.IsNegative():
		return fmt.Errorf("arbitrage: min_profit must not be negative")
	case p.MaxSlippage.IsNegative():
		return fmt.Errorf("arbitrage: max_slippage must not be negative")
	case p.TakerFee.IsNegative() || p.TakerFee.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return fmt.Errorf("arbitrage: taker_fee must be in [0,1)")
	case !p.MispricingCeiling.IsPositive() || p.MispricingCeiling.GreaterThan(p.Payout):
		return fmt.Errorf("arbitrage: mispricing_ceiling must be in (0,payout]")
	case p.PricePrecision < 0 || p.SizePrecision < 0:
		return fmt.Errorf("arbitrage: precisions must not be negative")
	}
	return nil
}

// takerFee is the fee paid on a notional of one share bought at price.
func (p Params) takerFee(price decimal.Decimal) decimal.Decimal {
	return price.Mul(p.TakerFee)
}

// profitFraction is (payout - cost - fee(cost)) / cost.
func (p Params) profitFraction(cost decimal.Decimal) (net, pf decimal.Decimal) {
	net = p.Payout.Sub(cost).Sub(p.takerFee(cost))
	return net, net.Div(cost)
}

// shares is the affordable share count at unitCost, truncated to the lot
// precision.
func (p Params) shares(budget, unitCost decimal.Decimal) decimal.Decimal {
	return budget.Div(unitCost).Truncate(p.SizePrecision)
}
