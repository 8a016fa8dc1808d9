// Package ledger records confirmed fills and computes realized P&L.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Ledger is an append-only record of positions. Entries are never changed
// or removed once recorded.
type Ledger struct {
	mu        sync.RWMutex
	positions []domain.Position
	journal   domain.PositionJournal
	logger    *slog.Logger
}

// New creates a ledger. journal may be nil for a purely in-memory ledger.
func New(journal domain.PositionJournal, logger *slog.Logger) *Ledger {
	return &Ledger{
		journal: journal,
		logger:  logger.With(slog.String("component", "ledger")),
	}
}

// Record appends a position after checking its invariants. When a journal is
// configured the position is persisted too; a journal error is returned but
// the in-memory entry stands.
func (l *Ledger) Record(ctx context.Context, pos domain.Position) error {
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	if err := pos.Validate(); err != nil {
		return fmt.Errorf("ledger: record: %w", err)
	}

	l.mu.Lock()
	l.positions = append(l.positions, pos)
	l.mu.Unlock()

	l.logger.Info("ledger: position recorded",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.String("asset_id", pos.AssetID),
		slog.String("size", pos.Size.String()),
		slog.String("entry_price", pos.EntryPrice.String()),
	)

	if l.journal != nil {
		if err := l.journal.Append(ctx, pos); err != nil {
			return fmt.Errorf("ledger: journal append %s: %w", pos.ID, err)
		}
	}
	return nil
}

// Restore loads journaled positions into an empty ledger.
func (l *Ledger) Restore(ctx context.Context) (int, error) {
	if l.journal == nil {
		return 0, nil
	}
	loaded, err := l.journal.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: restore: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.positions) > 0 {
		return 0, fmt.Errorf("ledger: restore: ledger already has %d positions", len(l.positions))
	}
	for _, p := range loaded {
		if err := p.Validate(); err != nil {
			l.logger.Warn("ledger: skipping invalid journaled position",
				slog.String("position_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		l.positions = append(l.positions, p)
	}
	return len(l.positions), nil
}

// PositionsFor returns copies of the positions in one market, in record order.
func (l *Ledger) PositionsFor(marketID string) []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.Position
	for _, p := range l.positions {
		if p.MarketID == marketID {
			out = append(out, p)
		}
	}
	return out
}

// All returns copies of every position.
func (l *Ledger) All() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Position, len(l.positions))
	copy(out, l.positions)
	return out
}

// PnL is Σ size×settlement − Σ cost over every position. Instruments absent
// from settlement are valued at zero.
func (l *Ledger) PnL(settlement map[string]decimal.Decimal) decimal.Decimal {
	return pnl(l.All(), settlement)
}

// MarketPnL is PnL restricted to one market.
func (l *Ledger) MarketPnL(marketID string, settlement map[string]decimal.Decimal) decimal.Decimal {
	return pnl(l.PositionsFor(marketID), settlement)
}

func pnl(positions []domain.Position, settlement map[string]decimal.Decimal) decimal.Decimal {
	value := decimal.Zero
	cost := decimal.Zero
	for _, p := range positions {
		cost = cost.Add(p.Cost)
		if v, ok := settlement[p.AssetID]; ok {
			value = value.Add(p.Size.Mul(v))
		}
	}
	return value.Sub(cost)
}
