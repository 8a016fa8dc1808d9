package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferenceQuote is the external reference price together with the baseline
// captured at the start of the current market interval.
type ReferenceQuote struct {
	Price    decimal.Decimal `json:"price"`
	Baseline decimal.Decimal `json:"baseline"`
	Source   string          `json:"source"`
	At       time.Time       `json:"at"`

	// Stale is set only on quotes served from cache to callers that accept
	// an old value. Detection rejects them.
	Stale bool `json:"stale,omitempty"`
}
