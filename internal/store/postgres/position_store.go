package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// PositionJournal appends ledger positions to the positions table.
type PositionJournal struct {
	pool *pgxpool.Pool
}

// NewPositionJournal creates a PositionJournal.
func NewPositionJournal(pool *pgxpool.Pool) *PositionJournal {
	return &PositionJournal{pool: pool}
}

// Append inserts pos. Re-appending the same id is a no-op.
func (j *PositionJournal) Append(ctx context.Context, pos domain.Position) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO positions (id, market_id, asset_id, outcome, side, size, entry_price, cost, order_id, entry_time)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		pos.ID, pos.MarketID, pos.AssetID, string(pos.Outcome), string(pos.Side),
		pos.Size.String(), pos.EntryPrice.String(), pos.Cost.String(), pos.OrderID, pos.EntryTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: append position %s: %w", pos.ID, err)
	}
	return nil
}

// LoadAll returns every position in entry order.
func (j *PositionJournal) LoadAll(ctx context.Context) ([]domain.Position, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT id, market_id, asset_id, outcome, side, size::text, entry_price::text, cost::text, order_id, entry_time
		FROM positions ORDER BY entry_time, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load positions rows: %w", err)
	}
	return out, nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                 domain.Position
		outcome, side     string
		size, price, cost string
	)
	if err := row.Scan(&p.ID, &p.MarketID, &p.AssetID, &outcome, &side,
		&size, &price, &cost, &p.OrderID, &p.EntryTime); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: scan position: %w", err)
	}
	p.Outcome = domain.Outcome(outcome)
	p.Side = domain.OrderSide(side)

	var err error
	if p.Size, err = decimal.NewFromString(size); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: position %s size: %w", p.ID, err)
	}
	if p.EntryPrice, err = decimal.NewFromString(price); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: position %s price: %w", p.ID, err)
	}
	if p.Cost, err = decimal.NewFromString(cost); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: position %s cost: %w", p.ID, err)
	}
	p.EntryTime = p.EntryTime.UTC()
	return p, nil
}

var _ domain.PositionJournal = (*PositionJournal)(nil)
