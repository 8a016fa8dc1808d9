package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// TimeInForce represents the order lifetime policy.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderStatus is the normalised lifecycle state reported for an order.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

// OrderRequest is one leg submitted to the exchange.
type OrderRequest struct {
	MarketID    string
	AssetID     string
	Side        OrderSide
	Price       decimal.Decimal
	Size        decimal.Decimal
	TimeInForce TimeInForce
	NegRisk     bool
}

// OrderResult is the outcome of a submission.
type OrderResult struct {
	Accepted bool
	OrderID  string
	Status   OrderStatus
	Message  string
}

// OrderStatusReport is the answer to a status poll.
type OrderStatusReport struct {
	OrderID    string
	Status     OrderStatus
	FilledSize decimal.Decimal
	UpdatedAt  time.Time
}
