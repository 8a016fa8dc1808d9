package arbitrage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// ReferenceMismatch buys the outcome the reference price already favours
// when the market still quotes it well below the payout.
type ReferenceMismatch struct {
	params Params
}

// NewReferenceMismatch creates the check.
func NewReferenceMismatch(p Params) *ReferenceMismatch {
	return &ReferenceMismatch{params: p}
}

func (c *ReferenceMismatch) Kind() domain.OpportunityKind { return domain.KindReferenceMismatch }

// Evaluate implements Check. Without a reference quote there is nothing to
// compare against.
func (c *ReferenceMismatch) Evaluate(snap domain.PairedSnapshot, ref *domain.ReferenceQuote, budget decimal.Decimal) (domain.Opportunity, bool) {
	if ref == nil {
		return domain.Opportunity{}, false
	}
	return c.Check(snap, ref.Price, ref.Baseline, budget)
}

// Check compares the reference price against the interval baseline and
// prices a single leg on the favoured side.
func (c *ReferenceMismatch) Check(snap domain.PairedSnapshot, ref, baseline, budget decimal.Decimal) (domain.Opportunity, bool) {
	p := c.params
	if !budget.IsPositive() {
		return domain.Opportunity{}, false
	}

	outcome, book := domain.OutcomeUp, snap.Up
	if ref.LessThan(baseline) {
		outcome, book = domain.OutcomeDown, snap.Down
	}

	best, ok := book.BestAsk()
	if !ok || best.GreaterThanOrEqual(p.MispricingCeiling) {
		return domain.Opportunity{}, false
	}
	if _, pf := p.profitFraction(best); pf.LessThan(p.MinProfit) {
		return domain.Opportunity{}, false
	}

	shares := p.shares(budget, best)
	vwap, ok := walkVWAP(book.Asks, shares, p.PricePrecision)
	if !ok {
		return domain.Opportunity{}, false
	}
	net, pf := p.profitFraction(vwap)
	if pf.LessThan(p.MinProfit) {
		return domain.Opportunity{}, false
	}

	return domain.Opportunity{
		Kind:           domain.KindReferenceMismatch,
		MarketID:       snap.MarketID,
		ProfitFraction: pf,
		ExpectedProfit: shares.Mul(net),
		TotalCost:      shares.Mul(vwap),
		Slippage:       vwap.Sub(best).Div(best),
		Legs: []domain.OpportunityLeg{
			{Outcome: outcome, AssetID: book.AssetID, Price: vwap, Size: shares},
		},
		Confidence: domain.ConfidenceHigh,
		Direction:  outcome,
		DetectedAt: time.Now().UTC(),
	}, true
}
