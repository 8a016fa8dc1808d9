package arbitrage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// SumToOne looks for a pair of asks that together cost less than the payout
// after fees and the slippage of walking both ladders.
type SumToOne struct {
	params Params
}

// NewSumToOne creates the check.
func NewSumToOne(p Params) *SumToOne {
	return &SumToOne{params: p}
}

func (c *SumToOne) Kind() domain.OpportunityKind { return domain.KindSumToOne }

// Evaluate implements Check. The reference quote is not used.
func (c *SumToOne) Evaluate(snap domain.PairedSnapshot, _ *domain.ReferenceQuote, budget decimal.Decimal) (domain.Opportunity, bool) {
	return c.Check(snap, budget)
}

// Check returns an opportunity when buying equal shares of both outcomes
// clears the profit floor and the slippage ceiling.
func (c *SumToOne) Check(snap domain.PairedSnapshot, budget decimal.Decimal) (domain.Opportunity, bool) {
	p := c.params
	bestUp, okUp := snap.Up.BestAsk()
	bestDown, okDown := snap.Down.BestAsk()
	if !okUp || !okDown || !budget.IsPositive() {
		return domain.Opportunity{}, false
	}

	raw := bestUp.Add(bestDown)
	if raw.GreaterThanOrEqual(p.Payout) {
		return domain.Opportunity{}, false
	}
	// Walking the book can only raise the cost, so a best-ask pair below
	// the floor cannot clear it after VWAP either.
	if _, pf := p.profitFraction(raw); pf.LessThan(p.MinProfit) {
		return domain.Opportunity{}, false
	}

	shares := p.shares(budget, raw)
	upVWAP, ok := walkVWAP(snap.Up.Asks, shares, p.PricePrecision)
	if !ok {
		return domain.Opportunity{}, false
	}
	downVWAP, ok := walkVWAP(snap.Down.Asks, shares, p.PricePrecision)
	if !ok {
		return domain.Opportunity{}, false
	}

	actual := upVWAP.Add(downVWAP)
	net, pf := p.profitFraction(actual)
	if pf.LessThan(p.MinProfit) {
		return domain.Opportunity{}, false
	}
	slip := actual.Sub(raw).Div(raw)
	if slip.GreaterThan(p.MaxSlippage) {
		return domain.Opportunity{}, false
	}

	return domain.Opportunity{
		Kind:           domain.KindSumToOne,
		MarketID:       snap.MarketID,
		ProfitFraction: pf,
		ExpectedProfit: shares.Mul(net),
		TotalCost:      shares.Mul(actual),
		Slippage:       slip,
		Legs: []domain.OpportunityLeg{
			{Outcome: domain.OutcomeUp, AssetID: snap.Up.AssetID, Price: upVWAP, Size: shares},
			{Outcome: domain.OutcomeDown, AssetID: snap.Down.AssetID, Price: downVWAP, Size: shares},
		},
		Confidence: domain.ConfidenceHigh,
		DetectedAt: time.Now().UTC(),
	}, true
}
