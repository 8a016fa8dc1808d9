package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/ledger"
)

type recordingRisk struct {
	mu      sync.Mutex
	blocked bool
	booked  []decimal.Decimal
}

func (r *recordingRisk) PreTradeCheck(domain.Opportunity, int) error {
	if r.blocked {
		return domain.ErrKillSwitch
	}
	return nil
}

func (r *recordingRisk) Add(pnl decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.booked = append(r.booked, pnl)
}

func TestExecutor_RunsQueuedOpportunities(t *testing.T) {
	gw := NewPaperGateway(0, discard())
	led := ledger.New(nil, discard())
	coord := NewCoordinator(gw, led, nil, testConfig(), discard())
	risk := &recordingRisk{}

	results := make(chan domain.ExecutionResult, 1)
	ch := make(chan domain.Opportunity, 1)
	ex := NewExecutor(ch, coord, risk, led, func(_ context.Context, _ domain.Opportunity, res domain.ExecutionResult) {
		results <- res
	}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ex.Run(ctx) }()

	opp := dualOpp()
	opp.DetectedAt = time.Now()
	ch <- opp

	select {
	case res := <-results:
		assert.Equal(t, domain.StateCommitted, res.State)
	case <-time.After(2 * time.Second):
		t.Fatal("no execution result")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	risk.mu.Lock()
	defer risk.mu.Unlock()
	require.Len(t, risk.booked, 1)
	assert.True(t, risk.booked[0].Equal(d("0.18")))
}

func TestExecutor_RiskBlocks(t *testing.T) {
	gw := NewPaperGateway(0, discard())
	led := ledger.New(nil, discard())
	coord := NewCoordinator(gw, led, nil, testConfig(), discard())
	ch := make(chan domain.Opportunity, 1)
	ex := NewExecutor(ch, coord, &recordingRisk{blocked: true}, led, nil, discard())

	ch <- dualOpp()
	close(ch)
	require.NoError(t, ex.Run(context.Background()))
	assert.Zero(t, gw.Orders())
}

func TestBookedPnL_EscalatedChargesExposedLeg(t *testing.T) {
	res := domain.ExecutionResult{
		State: domain.StateEscalated,
		Legs: []domain.LegOutcome{
			{Price: d("0.45"), Size: d("10"), Filled: true},
			{Price: d("0.48"), Size: d("10")},
		},
	}
	assert.True(t, bookedPnL(res).Equal(d("-4.5")))
	assert.True(t, bookedPnL(domain.ExecutionResult{State: domain.StateRolledBack}).IsZero())
}
