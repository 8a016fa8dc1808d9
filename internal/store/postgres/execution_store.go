package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

const executionColumns = `id, opportunity_id, market_id, kind, state, expected_profit::text, error, started_at, finished_at`

// ExecutionStore records execution results and their legs.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Create writes res and its legs in one transaction.
func (s *ExecutionStore) Create(ctx context.Context, res domain.ExecutionResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin execution %s: %w", res.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO executions (id, opportunity_id, market_id, kind, state, expected_profit, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9)`,
		res.ID, res.OpportunityID, res.MarketID, string(res.Kind), string(res.State),
		res.ExpectedProfit.String(), res.ErrorString(), res.StartedAt, res.FinishedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", res.ID, err)
	}

	if len(res.Legs) > 0 {
		batch := &pgx.Batch{}
		for _, leg := range res.Legs {
			batch.Queue(`
				INSERT INTO execution_legs (execution_id, outcome, asset_id, order_id, price, size, accepted, filled, canceled, error)
				VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10)`,
				res.ID, string(leg.Outcome), leg.AssetID, leg.OrderID, leg.Price.String(), leg.Size.String(),
				leg.Accepted, leg.Filled, leg.Canceled, leg.Error)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: insert legs for %s: %w", res.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit execution %s: %w", res.ID, err)
	}
	return nil
}

// ListRecent returns the newest executions first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.list(ctx, `SELECT `+executionColumns+` FROM executions ORDER BY started_at DESC LIMIT $1`, limit)
}

// ListBetween returns executions started in [from, to), oldest first.
func (s *ExecutionStore) ListBetween(ctx context.Context, from, to time.Time) ([]domain.ExecutionResult, error) {
	return s.list(ctx, `SELECT `+executionColumns+` FROM executions
		WHERE started_at >= $1 AND started_at < $2 ORDER BY started_at`, from, to)
}

func (s *ExecutionStore) list(ctx context.Context, query string, args ...any) ([]domain.ExecutionResult, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	var (
		out   []domain.ExecutionResult
		index = map[string]int{}
	)
	for rows.Next() {
		res, err := scanExecution(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[res.ID] = len(out)
		out = append(out, res)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions rows: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(out))
	for _, r := range out {
		ids = append(ids, r.ID)
	}
	legRows, err := s.pool.Query(ctx, `
		SELECT execution_id, outcome, asset_id, order_id, price::text, size::text, accepted, filled, canceled, error
		FROM execution_legs WHERE execution_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: list legs: %w", err)
	}
	defer legRows.Close()
	for legRows.Next() {
		execID, leg, err := scanLeg(legRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[execID]; ok {
			out[i].Legs = append(out[i].Legs, leg)
		}
	}
	if err := legRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list legs rows: %w", err)
	}
	return out, nil
}

func scanExecution(row pgx.Row) (domain.ExecutionResult, error) {
	var (
		r                  domain.ExecutionResult
		kind, state, cause string
		profit             string
	)
	if err := row.Scan(&r.ID, &r.OpportunityID, &r.MarketID, &kind, &state,
		&profit, &cause, &r.StartedAt, &r.FinishedAt); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("postgres: scan execution: %w", err)
	}
	r.Kind = domain.OpportunityKind(kind)
	r.State = domain.ExecutionState(state)
	if cause != "" {
		r.Err = errors.New(cause)
	}
	p, err := decimal.NewFromString(profit)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("postgres: execution %s profit: %w", r.ID, err)
	}
	r.ExpectedProfit = p
	r.StartedAt, r.FinishedAt = r.StartedAt.UTC(), r.FinishedAt.UTC()
	return r, nil
}

func scanLeg(row pgx.Row) (string, domain.LegOutcome, error) {
	var (
		execID, outcome string
		price, size     string
		leg             domain.LegOutcome
	)
	if err := row.Scan(&execID, &outcome, &leg.AssetID, &leg.OrderID, &price, &size,
		&leg.Accepted, &leg.Filled, &leg.Canceled, &leg.Error); err != nil {
		return "", domain.LegOutcome{}, fmt.Errorf("postgres: scan leg: %w", err)
	}
	leg.Outcome = domain.Outcome(outcome)
	var err error
	if leg.Price, err = decimal.NewFromString(price); err != nil {
		return "", domain.LegOutcome{}, fmt.Errorf("postgres: leg price: %w", err)
	}
	if leg.Size, err = decimal.NewFromString(size); err != nil {
		return "", domain.LegOutcome{}, fmt.Errorf("postgres: leg size: %w", err)
	}
	return execID, leg, nil
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
