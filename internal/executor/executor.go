package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// RiskChecker gates executions and books their P&L.
type RiskChecker interface {
	PreTradeCheck(opp domain.Opportunity, openLegs int) error
	Add(pnl decimal.Decimal)
}

// PositionLister reports the positions already held in a market.
type PositionLister interface {
	PositionsFor(marketID string) []domain.Position
}

// ResultHandler is called once per finished execution.
type ResultHandler func(ctx context.Context, opp domain.Opportunity, res domain.ExecutionResult)

// Executor reads opportunities from a channel, applies risk checks, and
// runs each through the Coordinator one at a time.
type Executor struct {
	oppCh     <-chan domain.Opportunity
	coord     *Coordinator
	risk      RiskChecker
	positions PositionLister
	onResult  ResultHandler
	logger    *slog.Logger

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor. onResult may be nil.
func NewExecutor(
	oppCh <-chan domain.Opportunity,
	coord *Coordinator,
	risk RiskChecker,
	positions PositionLister,
	onResult ResultHandler,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		oppCh:           oppCh,
		coord:           coord,
		risk:            risk,
		positions:       positions,
		onResult:        onResult,
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
	}
}

// Run processes opportunities until the context is cancelled, then drops
// whatever is still queued and returns.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case opp, ok := <-e.oppCh:
			if !ok {
				return nil
			}
			e.process(ctx, opp)

		case <-cleanupTicker.C:
			e.coord.Dedup().Sweep()
		}
	}
}

func (e *Executor) process(ctx context.Context, opp domain.Opportunity) {
	log := e.logger.With(
		slog.String("opportunity_id", opp.ID),
		slog.String("market_id", opp.MarketID),
		slog.String("kind", string(opp.Kind)),
	)

	if !opp.DetectedAt.IsZero() && time.Since(opp.DetectedAt) > e.coord.cfg.FillTimeout {
		log.Warn("opportunity expired, skipping", slog.Time("detected_at", opp.DetectedAt))
		return
	}

	open := 0
	if e.positions != nil {
		open = len(e.positions.PositionsFor(opp.MarketID))
	}
	if err := e.risk.PreTradeCheck(opp, open); err != nil {
		log.Warn("risk check failed, skipping", slog.String("error", err.Error()))
		return
	}

	res := e.coord.Execute(ctx, opp)
	e.risk.Add(bookedPnL(res))

	if e.onResult != nil {
		e.onResult(ctx, opp, res)
	}
}

// bookedPnL is the P&L charged to the daily loss counter: the expected
// profit of a committed trade, or the cost of any leg left filled without
// its hedge.
func bookedPnL(res domain.ExecutionResult) decimal.Decimal {
	switch res.State {
	case domain.StateCommitted:
		return res.ExpectedProfit
	case domain.StateEscalated:
		exposed := decimal.Zero
		for _, l := range res.Legs {
			if l.Filled {
				exposed = exposed.Add(l.Size.Mul(l.Price))
			}
		}
		return exposed.Neg()
	}
	return decimal.Zero
}

// drain discards queued opportunities so none is executed after shutdown.
func (e *Executor) drain() {
	dropped := 0
	for {
		select {
		case _, ok := <-e.oppCh:
			if !ok {
				return
			}
			dropped++
		default:
			if dropped > 0 {
				e.logger.Info("drained pending opportunities", slog.Int("count", dropped))
			}
			return
		}
	}
}

// SetCleanupInterval changes how often the dedup map is garbage-collected.
// Must be called before Run.
func (e *Executor) SetCleanupInterval(d time.Duration) {
	e.cleanupInterval = d
}
