package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/ledger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FillTimeout = 150 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.SubmitTimeout = time.Second
	cfg.CancelTimeout = time.Second
	return cfg
}

func dualOpp() domain.Opportunity {
	return domain.Opportunity{
		ID:             "opp-1",
		Kind:           domain.KindSumToOne,
		MarketID:       "m1",
		ExpectedProfit: d("0.18"),
		Legs: []domain.OpportunityLeg{
			{Outcome: domain.OutcomeUp, AssetID: "up", Price: d("0.45"), Size: d("3.22")},
			{Outcome: domain.OutcomeDown, AssetID: "down", Price: d("0.48"), Size: d("3.22")},
		},
	}
}

func singleOpp() domain.Opportunity {
	return domain.Opportunity{
		ID:       "opp-2",
		Kind:     domain.KindReferenceMismatch,
		MarketID: "m1",
		Legs: []domain.OpportunityLeg{
			{Outcome: domain.OutcomeUp, AssetID: "up", Price: d("0.80"), Size: d("3.75")},
		},
	}
}

func setup(t *testing.T) (*Coordinator, *PaperGateway, *ledger.Ledger) {
	t.Helper()
	gw := NewPaperGateway(0, discard())
	led := ledger.New(nil, discard())
	return NewCoordinator(gw, led, nil, testConfig(), discard()), gw, led
}

func TestExecuteDual_Commits(t *testing.T) {
	c, gw, led := setup(t)

	res := c.Execute(context.Background(), dualOpp())
	require.NoError(t, res.Err)
	assert.Equal(t, domain.StateCommitted, res.State)
	assert.Equal(t, 2, gw.Orders())
	require.Len(t, led.PositionsFor("m1"), 2)
	for _, p := range led.All() {
		assert.True(t, p.Cost.Equal(p.Size.Mul(p.EntryPrice)))
	}
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestExecuteDual_RollsBackAcceptedLeg(t *testing.T) {
	c, gw, led := setup(t)
	gw.Script("down", PaperReject)

	res := c.Execute(context.Background(), dualOpp())
	assert.Equal(t, domain.StateRolledBack, res.State)
	require.ErrorIs(t, res.Err, domain.ErrOrderRejected)
	assert.Empty(t, res.CancelErrors)
	assert.Empty(t, led.All())

	require.Len(t, res.Legs, 2)
	assert.True(t, res.Legs[0].Accepted)
	assert.True(t, res.Legs[0].Canceled)
	assert.True(t, gw.Canceled(res.Legs[0].OrderID))
	assert.False(t, res.Legs[1].Accepted)
}

func TestExecuteDual_CancelFailureKeepsSubmissionCause(t *testing.T) {
	c, gw, led := setup(t)
	gw.Script("up", PaperSubmitError)
	gw.FailCancels(errors.New("cancel endpoint down"))

	res := c.Execute(context.Background(), dualOpp())
	assert.Equal(t, domain.StateRolledBack, res.State)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "connection reset")
	require.Len(t, res.CancelErrors, 1)
	assert.Empty(t, led.All())
}

func TestExecuteDual_PartialFillEscalates(t *testing.T) {
	c, gw, led := setup(t)
	gw.Script("down", PaperNeverFill)

	res := c.Execute(context.Background(), dualOpp())
	assert.Equal(t, domain.StateEscalated, res.State)
	require.Error(t, res.Err)
	assert.Empty(t, res.Positions)
	assert.Empty(t, led.All())
	assert.True(t, res.Legs[0].Filled)
	assert.False(t, res.Legs[1].Filled)
}

func TestExecuteDual_NeitherFillsEscalates(t *testing.T) {
	c, gw, led := setup(t)
	gw.Script("up", PaperNeverFill)
	gw.Script("down", PaperCancel)

	res := c.Execute(context.Background(), dualOpp())
	assert.Equal(t, domain.StateEscalated, res.State)
	assert.Empty(t, led.All())
	assert.True(t, res.Legs[1].Canceled)
}

func TestExecuteSingle(t *testing.T) {
	cases := []struct {
		name      string
		behavior  PaperBehavior
		wantState domain.ExecutionState
		positions int
	}{
		{"fills", PaperFill, domain.StateCommitted, 1},
		{"rejected", PaperReject, domain.StateFailed, 0},
		{"canceled", PaperCancel, domain.StateFailed, 0},
		{"times out", PaperNeverFill, domain.StateFailed, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, gw, led := setup(t)
			gw.Script("up", tc.behavior)

			res := c.Execute(context.Background(), singleOpp())
			assert.Equal(t, tc.wantState, res.State)
			assert.Len(t, led.All(), tc.positions)
			if tc.positions == 0 {
				assert.Error(t, res.Err)
			}
		})
	}
}

func TestExecute_DedupsSameFingerprint(t *testing.T) {
	c, _, led := setup(t)

	first := c.Execute(context.Background(), dualOpp())
	require.Equal(t, domain.StateCommitted, first.State)

	second := c.Execute(context.Background(), dualOpp())
	assert.Equal(t, domain.StateFailed, second.State)
	assert.ErrorIs(t, second.Err, domain.ErrDuplicate)
	assert.Len(t, led.All(), 2)
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

// busyOnce reports the lock as held on the first attempt only.
type busyOnce struct{ calls atomic.Int32 }

func (b *busyOnce) Acquire(context.Context, string, time.Duration) (func(), error) {
	if b.calls.Add(1) == 1 {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

func TestExecute_LockHeldDoesNotBlockRetry(t *testing.T) {
	gw := NewPaperGateway(0, discard())
	led := ledger.New(nil, discard())
	c := NewCoordinator(gw, led, &busyOnce{}, testConfig(), discard())

	first := c.Execute(context.Background(), dualOpp())
	require.ErrorIs(t, first.Err, domain.ErrLockHeld)
	assert.Zero(t, c.Dedup().Len())

	second := c.Execute(context.Background(), dualOpp())
	assert.Equal(t, domain.StateCommitted, second.State)
	assert.Len(t, led.All(), 2)
}

func TestExecute_LockHeld(t *testing.T) {
	gw := NewPaperGateway(0, discard())
	c := NewCoordinator(gw, ledger.New(nil, discard()), heldLocks{}, testConfig(), discard())

	res := c.Execute(context.Background(), dualOpp())
	assert.Equal(t, domain.StateFailed, res.State)
	assert.ErrorIs(t, res.Err, domain.ErrLockHeld)
	assert.Zero(t, gw.Orders())
}

// flakyGateway fails the first few status polls.
type flakyGateway struct {
	*PaperGateway
	failures atomic.Int32
}

func (f *flakyGateway) Status(ctx context.Context, id string) (domain.OrderStatusReport, error) {
	if f.failures.Add(-1) >= 0 {
		return domain.OrderStatusReport{}, errors.New("502 bad gateway")
	}
	return f.PaperGateway.Status(ctx, id)
}

func TestWaitForFill_ToleratesStatusErrors(t *testing.T) {
	gw := &flakyGateway{PaperGateway: NewPaperGateway(0, discard())}
	gw.failures.Store(5)
	led := ledger.New(nil, discard())
	c := NewCoordinator(gw, led, nil, testConfig(), discard())

	res := c.Execute(context.Background(), singleOpp())
	assert.Equal(t, domain.StateCommitted, res.State)
	assert.Len(t, led.All(), 1)
}

func TestClassifyStatus(t *testing.T) {
	size := d("10")
	cases := []struct {
		status domain.OrderStatus
		filled string
		want   fillOutcome
		done   bool
	}{
		{"live", "0", fillTimedOut, false},
		{"live", "10", fillFilled, true},
		{"MATCHED", "0", fillFilled, true},
		{"closed", "0", fillFilled, true},
		{"cancelled", "0", fillCanceled, true},
		{"rejected", "0", fillCanceled, true},
		{"live", "9.99", fillTimedOut, false},
	}
	for _, tc := range cases {
		out, done := classifyStatus(domain.OrderStatusReport{Status: tc.status, FilledSize: d(tc.filled)}, size)
		assert.Equal(t, tc.done, done, "%s/%s", tc.status, tc.filled)
		if done {
			assert.Equal(t, tc.want, out, "%s/%s", tc.status, tc.filled)
		}
	}
}

func TestDedup_ClaimReleaseSweep(t *testing.T) {
	dd := NewDedup(time.Minute)
	now := time.Now()
	dd.now = func() time.Time { return now }

	assert.True(t, dd.Claim("a"))
	assert.False(t, dd.Claim("a"))

	dd.Release("a")
	assert.True(t, dd.Claim("a"))

	now = now.Add(2 * time.Minute)
	dd.Sweep()
	assert.Zero(t, dd.Len())
	assert.True(t, dd.Claim("a"))
}
