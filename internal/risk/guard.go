// Package risk gates executions on a daily loss limit and per-trade limits.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Config holds the tunable parameters for pre-trade risk checks.
type Config struct {
	DailyLossLimit decimal.Decimal
	MaxTradeAmount decimal.Decimal
	MaxOpenLegs    int
}

// Guard tracks realized P&L for the current UTC day and trips once the loss
// reaches the configured limit. The counter resets at UTC midnight.
type Guard struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	day     time.Time
	pnl     decimal.Decimal
	tripped bool
}

// NewGuard creates a guard starting at zero P&L for today.
func NewGuard(cfg Config, logger *slog.Logger) *Guard {
	g := &Guard{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk")),
		now:    time.Now,
	}
	g.day = g.today()
	return g
}

func (g *Guard) today() time.Time {
	return g.now().UTC().Truncate(24 * time.Hour)
}

// rollLocked resets the counter when the UTC day has changed.
func (g *Guard) rollLocked() {
	today := g.today()
	if today.Equal(g.day) {
		return
	}
	if g.tripped {
		g.logger.Info("risk: daily loss counter reset", slog.String("day", today.Format("2006-01-02")))
	}
	g.day = today
	g.pnl = decimal.Zero
	g.tripped = false
}

// Allow reports whether new executions may start.
func (g *Guard) Allow() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()
	if g.tripped {
		return fmt.Errorf("risk: %w (pnl %s, limit %s)", domain.ErrKillSwitch, g.pnl.StringFixed(2), g.cfg.DailyLossLimit.StringFixed(2))
	}
	return nil
}

// Add books realized P&L for today and trips the guard when the loss
// reaches the limit.
func (g *Guard) Add(pnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()
	g.pnl = g.pnl.Add(pnl)
	if !g.tripped && g.cfg.DailyLossLimit.IsPositive() && g.pnl.Neg().GreaterThanOrEqual(g.cfg.DailyLossLimit) {
		g.tripped = true
		g.logger.Warn("risk: daily loss limit reached",
			slog.String("pnl", g.pnl.StringFixed(2)),
			slog.String("limit", g.cfg.DailyLossLimit.StringFixed(2)),
		)
	}
}

// DailyPnL returns today's realized P&L.
func (g *Guard) DailyPnL() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()
	return g.pnl
}

// PreTradeCheck validates an opportunity against the per-trade limits.
// openLegs is the number of positions already held in the market.
func (g *Guard) PreTradeCheck(opp domain.Opportunity, openLegs int) error {
	if err := g.Allow(); err != nil {
		return err
	}
	if g.cfg.MaxTradeAmount.IsPositive() && opp.TotalCost.GreaterThan(g.cfg.MaxTradeAmount) {
		g.logger.Warn("risk: trade amount exceeds limit",
			slog.String("opportunity_id", opp.ID),
			slog.String("amount", opp.TotalCost.StringFixed(2)),
			slog.String("max", g.cfg.MaxTradeAmount.StringFixed(2)),
		)
		return fmt.Errorf("risk: trade amount %s exceeds max %s", opp.TotalCost.StringFixed(2), g.cfg.MaxTradeAmount.StringFixed(2))
	}
	if g.cfg.MaxOpenLegs > 0 && openLegs+len(opp.Legs) > g.cfg.MaxOpenLegs {
		return fmt.Errorf("risk: max open legs reached (%d/%d)", openLegs, g.cfg.MaxOpenLegs)
	}
	return nil
}
