package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Config bounds every remote call the coordinator makes.
type Config struct {
	SubmitTimeout time.Duration
	CancelTimeout time.Duration
	FillTimeout   time.Duration
	PollInterval  time.Duration
	DedupTTL      time.Duration
	LockTTL       time.Duration
	NegRisk       bool
}

// DefaultConfig returns the production timeouts.
func DefaultConfig() Config {
	return Config{
		SubmitTimeout: 5 * time.Second,
		CancelTimeout: 5 * time.Second,
		FillTimeout:   30 * time.Second,
		PollInterval:  100 * time.Millisecond,
		DedupTTL:      2 * time.Minute,
		LockTTL:       time.Minute,
	}
}

// Coordinator places the legs of one opportunity, waits for fills, and
// either commits positions, rolls back accepted legs, or escalates.
type Coordinator struct {
	gateway OrderGateway
	ledger  PositionRecorder
	locks   domain.LockManager
	dedup   *Dedup
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewCoordinator creates a coordinator. locks may be nil.
func NewCoordinator(gateway OrderGateway, ledger PositionRecorder, locks domain.LockManager, cfg Config, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		gateway: gateway,
		ledger:  ledger,
		locks:   locks,
		dedup:   NewDedup(cfg.DedupTTL),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "coordinator")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Dedup exposes the fingerprint guard so the run loop can clean it up.
func (c *Coordinator) Dedup() *Dedup { return c.dedup }

// Execute runs one opportunity to a terminal state. The returned result
// always has a terminal State; Err carries the cause of any non-committed
// outcome.
func (c *Coordinator) Execute(ctx context.Context, opp domain.Opportunity) domain.ExecutionResult {
	res := domain.ExecutionResult{
		ID:             uuid.NewString(),
		OpportunityID:  opp.ID,
		MarketID:       opp.MarketID,
		Kind:           opp.Kind,
		State:          domain.StateSubmitting,
		ExpectedProfit: opp.ExpectedProfit,
		StartedAt:      c.now(),
	}

	log := c.logger.With(
		slog.String("execution_id", res.ID),
		slog.String("opportunity_id", opp.ID),
		slog.String("kind", string(opp.Kind)),
	)

	fp := opp.Fingerprint()
	if !c.dedup.Claim(fp) {
		log.Debug("executor: duplicate opportunity, skipping")
		return c.fail(res, domain.ErrDuplicate)
	}

	dual := opp.Kind == domain.KindSumToOne && len(opp.Legs) == 2
	if !dual && len(opp.Legs) != 1 {
		c.dedup.Release(fp)
		return c.fail(res, fmt.Errorf("executor: %s opportunity with %d legs", opp.Kind, len(opp.Legs)))
	}

	if c.locks != nil {
		unlock, err := c.locks.Acquire(ctx, "polyarb:exec:"+opp.MarketID, c.cfg.LockTTL)
		if err != nil {
			c.dedup.Release(fp)
			log.Warn("executor: execution lock not acquired", slog.String("error", err.Error()))
			return c.fail(res, fmt.Errorf("executor: lock market %s: %w", opp.MarketID, err))
		}
		defer unlock()
	}

	if dual {
		res = c.executeDual(ctx, opp, res, log)
	} else {
		res = c.executeSingle(ctx, opp, res, log)
	}

	res.FinishedAt = c.now()
	log.Info("executor: execution finished",
		slog.String("state", string(res.State)),
		slog.Int("positions", len(res.Positions)),
		slog.String("error", res.ErrorString()),
	)
	return res
}

// transition moves res to state and logs the step.
func transition(res *domain.ExecutionResult, state domain.ExecutionState, log *slog.Logger) {
	log.Debug("executor: state transition",
		slog.String("from", string(res.State)),
		slog.String("to", string(state)),
	)
	res.State = state
}

func (c *Coordinator) fail(res domain.ExecutionResult, err error) domain.ExecutionResult {
	res.State = domain.StateFailed
	res.Err = err
	res.FinishedAt = c.now()
	return res
}

func (c *Coordinator) request(opp domain.Opportunity, leg domain.OpportunityLeg) domain.OrderRequest {
	return domain.OrderRequest{
		MarketID:    opp.MarketID,
		AssetID:     leg.AssetID,
		Side:        domain.OrderSideBuy,
		Price:       leg.Price,
		Size:        leg.Size,
		TimeInForce: domain.TimeInForceGTC,
		NegRisk:     c.cfg.NegRisk,
	}
}

// submit places one leg within SubmitTimeout. A non-accepted result is
// returned as an error wrapping ErrOrderRejected.
func (c *Coordinator) submit(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	out, err := c.gateway.Submit(ctx, req)
	if err != nil {
		return out, fmt.Errorf("executor: submit %s: %w", req.AssetID, err)
	}
	if !out.Accepted || out.OrderID == "" {
		return out, fmt.Errorf("executor: submit %s: %w: %s", req.AssetID, domain.ErrOrderRejected, out.Message)
	}
	return out, nil
}

// cancel issues a best-effort cancel. It is not bound to the caller's
// context so shutdown does not skip compensation.
func (c *Coordinator) cancel(ctx context.Context, orderID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CancelTimeout)
	defer cancel()
	if err := c.gateway.Cancel(ctx, orderID); err != nil {
		return fmt.Errorf("executor: cancel %s: %w", orderID, err)
	}
	return nil
}

func (c *Coordinator) executeDual(ctx context.Context, opp domain.Opportunity, res domain.ExecutionResult, log *slog.Logger) domain.ExecutionResult {
	legs := make([]domain.LegOutcome, len(opp.Legs))
	errs := make([]error, len(opp.Legs))

	// Each leg runs to completion regardless of its sibling, so the group
	// never cancels and the goroutines always return nil.
	var g errgroup.Group
	for i, leg := range opp.Legs {
		legs[i] = domain.LegOutcome{Outcome: leg.Outcome, AssetID: leg.AssetID, Price: leg.Price, Size: leg.Size}
		g.Go(func() error {
			out, err := c.submit(ctx, c.request(opp, leg))
			if err != nil {
				errs[i] = err
				legs[i].Error = err.Error()
				return nil
			}
			legs[i].OrderID = out.OrderID
			legs[i].Accepted = true
			return nil
		})
	}
	_ = g.Wait()
	res.Legs = legs

	if err := errors.Join(errs...); err != nil {
		transition(&res, domain.StatePartialOrFullReject, log)
		log.Warn("executor: leg submission failed, rolling back", slog.String("error", err.Error()))
		for i := range legs {
			if !legs[i].Accepted {
				continue
			}
			if cerr := c.cancel(ctx, legs[i].OrderID); cerr != nil {
				log.Error("executor: compensating cancel failed",
					slog.String("order_id", legs[i].OrderID),
					slog.String("error", cerr.Error()),
				)
				res.CancelErrors = append(res.CancelErrors, cerr)
				continue
			}
			legs[i].Canceled = true
		}
		transition(&res, domain.StateRolledBack, log)
		res.Err = err
		return res
	}

	transition(&res, domain.StateAllAccepted, log)
	transition(&res, domain.StateMonitoring, log)

	outcomes := make([]fillOutcome, len(legs))
	var mon errgroup.Group
	for i := range legs {
		mon.Go(func() error {
			outcomes[i] = c.waitForFill(ctx, legs[i].OrderID, legs[i].Size)
			return nil
		})
	}
	_ = mon.Wait()

	filled := 0
	for i, out := range outcomes {
		legs[i].Filled = out == fillFilled
		legs[i].Canceled = out == fillCanceled
		if legs[i].Filled {
			filled++
		}
	}

	switch filled {
	case len(legs):
		transition(&res, domain.StateAllFilled, log)
	case 0:
		transition(&res, domain.StateTimedOut, log)
	default:
		transition(&res, domain.StatePartialFill, log)
	}

	if res.State != domain.StateAllFilled {
		transition(&res, domain.StateEscalated, log)
		res.Err = fmt.Errorf("executor: %d of %d legs filled (up=%s, down=%s); manual intervention required",
			filled, len(legs), outcomes[0], outcomes[1])
		log.Error("executor: paired fill incomplete, escalating",
			slog.Int("filled", filled),
			slog.String("up_order_id", legs[0].OrderID),
			slog.String("down_order_id", legs[1].OrderID),
		)
		return res
	}

	return c.commit(ctx, opp, res)
}

func (c *Coordinator) executeSingle(ctx context.Context, opp domain.Opportunity, res domain.ExecutionResult, log *slog.Logger) domain.ExecutionResult {
	leg := opp.Legs[0]
	res.Legs = []domain.LegOutcome{{Outcome: leg.Outcome, AssetID: leg.AssetID, Price: leg.Price, Size: leg.Size}}

	out, err := c.submit(ctx, c.request(opp, leg))
	if err != nil {
		res.Legs[0].Error = err.Error()
		transition(&res, domain.StatePartialOrFullReject, log)
		return c.fail(res, err)
	}
	res.Legs[0].OrderID = out.OrderID
	res.Legs[0].Accepted = true
	transition(&res, domain.StateAllAccepted, log)
	transition(&res, domain.StateMonitoring, log)

	switch c.waitForFill(ctx, out.OrderID, leg.Size) {
	case fillFilled:
		res.Legs[0].Filled = true
		transition(&res, domain.StateAllFilled, log)
	case fillCanceled:
		res.Legs[0].Canceled = true
		log.Warn("executor: single leg canceled", slog.String("order_id", out.OrderID))
		return c.fail(res, fmt.Errorf("executor: order %s canceled before fill", out.OrderID))
	default:
		transition(&res, domain.StateTimedOut, log)
		return c.fail(res, fmt.Errorf("executor: order %s not filled within %s", out.OrderID, c.cfg.FillTimeout))
	}

	return c.commit(ctx, opp, res)
}

// commit records one position per leg. Positions are built first so that a
// leg is either recorded with all its siblings or the error is reported.
func (c *Coordinator) commit(ctx context.Context, opp domain.Opportunity, res domain.ExecutionResult) domain.ExecutionResult {
	at := c.now()
	positions := make([]domain.Position, 0, len(res.Legs))
	for _, leg := range res.Legs {
		positions = append(positions, domain.NewPosition(
			uuid.NewString(), opp.MarketID, leg.AssetID, leg.Outcome, leg.Size, leg.Price, leg.OrderID, at,
		))
	}

	var errs []error
	for _, p := range positions {
		if err := c.ledger.Record(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	res.Positions = positions
	res.State = domain.StateCommitted
	if len(errs) > 0 {
		res.Err = errors.Join(errs...)
		c.logger.Error("executor: position record failed",
			slog.String("execution_id", res.ID),
			slog.String("error", res.Err.Error()),
		)
	}
	return res
}
