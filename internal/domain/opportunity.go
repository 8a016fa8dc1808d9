package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpportunityKind names the detection check that produced an opportunity.
type OpportunityKind string

const (
	KindSumToOne          OpportunityKind = "sum_to_one"
	KindReferenceMismatch OpportunityKind = "reference_mismatch"
)

// Rank orders kinds for deterministic tie-breaks; lower sorts first.
func (k OpportunityKind) Rank() int {
	switch k {
	case KindSumToOne:
		return 0
	case KindReferenceMismatch:
		return 1
	default:
		return 2
	}
}

// Outcome identifies which instrument of the pair a leg trades.
type Outcome string

const (
	OutcomeUp   Outcome = "up"
	OutcomeDown Outcome = "down"
)

// Confidence is a coarse label attached to opportunities for operators.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
)

// OpportunityLeg is one order an opportunity asks the coordinator to place.
type OpportunityLeg struct {
	Outcome Outcome         `json:"outcome"`
	AssetID string          `json:"asset_id"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
}

// Opportunity is an immutable detection result. ProfitFraction is net of
// fees and of the slippage implied by walking the book.
type Opportunity struct {
	ID             string           `json:"id"`
	Kind           OpportunityKind  `json:"kind"`
	MarketID       string           `json:"market_id"`
	ProfitFraction decimal.Decimal  `json:"profit_fraction"`
	ExpectedProfit decimal.Decimal  `json:"expected_profit"`
	TotalCost      decimal.Decimal  `json:"total_cost"`
	Slippage       decimal.Decimal  `json:"slippage"`
	Legs           []OpportunityLeg `json:"legs"`
	Confidence     Confidence       `json:"confidence"`
	Direction      Outcome          `json:"direction,omitempty"`
	DetectedAt     time.Time        `json:"detected_at"`
}

// Fingerprint identifies an opportunity by what it would trade, so the same
// book state is not executed twice.
func (o Opportunity) Fingerprint() string {
	fp := o.MarketID + "|" + string(o.Kind)
	for _, l := range o.Legs {
		fp += "|" + l.AssetID + "@" + l.Price.String()
	}
	return fp
}
