package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Position is a confirmed filled leg. Cost is fixed at creation.
type Position struct {
	ID         string          `json:"id"`
	MarketID   string          `json:"market_id"`
	AssetID    string          `json:"asset_id"`
	Outcome    Outcome         `json:"outcome"`
	Side       OrderSide       `json:"side"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Cost       decimal.Decimal `json:"cost"`
	OrderID    string          `json:"order_id"`
	EntryTime  time.Time       `json:"entry_time"`
}

// NewPosition builds a position with Cost = Size × EntryPrice.
func NewPosition(id, marketID, assetID string, outcome Outcome, size, price decimal.Decimal, orderID string, at time.Time) Position {
	return Position{
		ID:         id,
		MarketID:   marketID,
		AssetID:    assetID,
		Outcome:    outcome,
		Side:       OrderSideBuy,
		Size:       size,
		EntryPrice: price,
		Cost:       size.Mul(price),
		OrderID:    orderID,
		EntryTime:  at,
	}
}

// Validate checks the creation invariants.
func (p Position) Validate() error {
	if p.MarketID == "" || p.AssetID == "" {
		return fmt.Errorf("%w: market and asset are required", ErrInvalidPosition)
	}
	if !p.Size.IsPositive() {
		return fmt.Errorf("%w: size must be positive, got %s", ErrInvalidPosition, p.Size)
	}
	if !p.Cost.Equal(p.Size.Mul(p.EntryPrice)) {
		return fmt.Errorf("%w: cost %s != size %s x price %s", ErrInvalidPosition, p.Cost, p.Size, p.EntryPrice)
	}
	return nil
}
