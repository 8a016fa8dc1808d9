package executor

import (
	"context"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// OrderGateway submits, inspects, and cancels orders on the exchange.
type OrderGateway interface {
	Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	Status(ctx context.Context, orderID string) (domain.OrderStatusReport, error)
	Cancel(ctx context.Context, orderID string) error
}

// PositionRecorder receives confirmed fills.
type PositionRecorder interface {
	Record(ctx context.Context, pos domain.Position) error
}
