package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// PaperBehavior scripts how the paper gateway treats orders for one asset.
type PaperBehavior int

const (
	// PaperFill accepts the order and fills it after the fill delay.
	PaperFill PaperBehavior = iota
	// PaperReject refuses the submission.
	PaperReject
	// PaperNeverFill accepts the order and leaves it pending forever.
	PaperNeverFill
	// PaperCancel accepts the order and reports it canceled.
	PaperCancel
	// PaperSubmitError fails the submission with a transport error.
	PaperSubmitError
)

type paperOrder struct {
	req      domain.OrderRequest
	placedAt time.Time
	behavior PaperBehavior
	canceled bool
}

// PaperGateway is an in-memory OrderGateway used in paper mode and tests.
type PaperGateway struct {
	mu        sync.Mutex
	orders    map[string]*paperOrder
	behaviors map[string]PaperBehavior
	cancelErr error
	fillDelay time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewPaperGateway creates a gateway that fills every order after fillDelay.
func NewPaperGateway(fillDelay time.Duration, logger *slog.Logger) *PaperGateway {
	return &PaperGateway{
		orders:    make(map[string]*paperOrder),
		behaviors: make(map[string]PaperBehavior),
		fillDelay: fillDelay,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "paper_gateway")),
	}
}

// Script sets the behavior for orders on assetID.
func (p *PaperGateway) Script(assetID string, b PaperBehavior) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.behaviors[assetID] = b
}

// FailCancels makes every subsequent Cancel return err.
func (p *PaperGateway) FailCancels(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelErr = err
}

func (p *PaperGateway) Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.behaviors[req.AssetID]
	switch b {
	case PaperSubmitError:
		return domain.OrderResult{}, fmt.Errorf("paper: submit %s: connection reset", req.AssetID)
	case PaperReject:
		return domain.OrderResult{Accepted: false, Status: domain.OrderStatusRejected, Message: "not enough balance"}, nil
	}

	id := "paper-" + uuid.NewString()
	p.orders[id] = &paperOrder{req: req, placedAt: p.now(), behavior: b}
	p.logger.Info("paper: order accepted",
		slog.String("order_id", id),
		slog.String("asset_id", req.AssetID),
		slog.String("price", req.Price.String()),
		slog.String("size", req.Size.String()),
	)
	return domain.OrderResult{Accepted: true, OrderID: id, Status: domain.OrderStatusPending}, nil
}

func (p *PaperGateway) Status(_ context.Context, orderID string) (domain.OrderStatusReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return domain.OrderStatusReport{}, fmt.Errorf("paper: order %s: %w", orderID, domain.ErrNotFound)
	}
	rep := domain.OrderStatusReport{OrderID: orderID, Status: domain.OrderStatusPending, FilledSize: decimal.Zero, UpdatedAt: p.now()}
	switch {
	case o.canceled || o.behavior == PaperCancel:
		rep.Status = domain.OrderStatusCanceled
	case o.behavior == PaperFill && p.now().Sub(o.placedAt) >= p.fillDelay:
		rep.Status = domain.OrderStatusFilled
		rep.FilledSize = o.req.Size
	}
	return rep, nil
}

func (p *PaperGateway) Cancel(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancelErr != nil {
		return p.cancelErr
	}
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: order %s: %w", orderID, domain.ErrNotFound)
	}
	o.canceled = true
	return nil
}

// Canceled reports whether orderID was canceled through Cancel.
func (p *PaperGateway) Canceled(orderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	return ok && o.canceled
}

// Orders returns the number of accepted orders.
func (p *PaperGateway) Orders() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}
