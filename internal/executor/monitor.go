package executor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// fillOutcome is the terminal result of monitoring one order.
type fillOutcome int

const (
	fillTimedOut fillOutcome = iota
	fillFilled
	fillCanceled
)

func (o fillOutcome) String() string {
	switch o {
	case fillFilled:
		return "filled"
	case fillCanceled:
		return "canceled"
	default:
		return "timed_out"
	}
}

// classifyStatus maps a raw exchange status onto a terminal outcome. ok is
// false when the order is still working.
func classifyStatus(rep domain.OrderStatusReport, size decimal.Decimal) (fillOutcome, bool) {
	if size.IsPositive() && rep.FilledSize.GreaterThanOrEqual(size) {
		return fillFilled, true
	}
	switch strings.ToLower(string(rep.Status)) {
	case "filled", "closed", "matched":
		return fillFilled, true
	case "canceled", "cancelled", "rejected":
		return fillCanceled, true
	}
	return fillTimedOut, false
}

// waitForFill polls the order until it reaches a terminal status or the
// fill timeout elapses. Status errors are logged and polling continues.
func (c *Coordinator) waitForFill(ctx context.Context, orderID string, size decimal.Decimal) fillOutcome {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FillTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	log := c.logger.With(slog.String("order_id", orderID))
	for {
		select {
		case <-ctx.Done():
			log.Warn("executor: fill wait timed out", slog.Duration("timeout", c.cfg.FillTimeout))
			return fillTimedOut
		case <-ticker.C:
		}

		rep, err := c.gateway.Status(ctx, orderID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Debug("executor: status poll failed", slog.String("error", err.Error()))
			continue
		}
		if out, done := classifyStatus(rep, size); done {
			log.Info("executor: order terminal",
				slog.String("outcome", out.String()),
				slog.String("filled_size", rep.FilledSize.String()),
			)
			return out
		}
	}
}
