package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies one side of an instrument's book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// ParseSide maps wire values ("BUY"/"SELL", "bid"/"ask") to a Side.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "bid", "bids":
		return SideBid, nil
	case "sell", "ask", "asks":
		return SideAsk, nil
	default:
		return "", fmt.Errorf("%w: unknown side %q", ErrMalformedUpdate, s)
	}
}

// PriceLevel is a single price+size entry in a book side.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// LevelUpdate replaces the size at one price. A zero size removes the level.
type LevelUpdate struct {
	AssetID   string
	Side      Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	Timestamp time.Time
}

// BookUpdate is one feed message for an instrument. When Replace is set the
// message carries the full book and previous levels are discarded; otherwise
// each level is an absolute replacement for its price.
type BookUpdate struct {
	AssetID   string
	Market    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Replace   bool
	Timestamp time.Time
}

// BookSnapshot is a read-only copy of one instrument's book. Asks are sorted
// ascending by price, bids descending.
type BookSnapshot struct {
	AssetID   string       `json:"asset_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Seq       uint64       `json:"seq"`
	Timestamp time.Time    `json:"timestamp"`
}

// BestAsk returns the lowest ask, if any.
func (s BookSnapshot) BestAsk() (decimal.Decimal, bool) {
	if len(s.Asks) == 0 {
		return decimal.Zero, false
	}
	return s.Asks[0].Price, true
}

// BestBid returns the highest bid, if any.
func (s BookSnapshot) BestBid() (decimal.Decimal, bool) {
	if len(s.Bids) == 0 {
		return decimal.Zero, false
	}
	return s.Bids[0].Price, true
}

// PairedSnapshot holds both outcome books of a market captured together.
type PairedSnapshot struct {
	MarketID   string
	Up         BookSnapshot
	Down       BookSnapshot
	CapturedAt time.Time
}
