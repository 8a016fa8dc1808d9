package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newGuard(cfg Config, now *time.Time) *Guard {
	g := NewGuard(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	g.now = func() time.Time { return *now }
	g.day = g.today()
	return g
}

func TestGuard_TripsAndResetsAtUTCMidnight(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	g := newGuard(Config{DailyLossLimit: d("5")}, &now)

	g.Add(d("-3"))
	require.NoError(t, g.Allow())
	g.Add(d("1"))
	g.Add(d("-2.99"))
	require.NoError(t, g.Allow())
	g.Add(d("-0.01"))
	assert.ErrorIs(t, g.Allow(), domain.ErrKillSwitch)

	now = now.Add(2 * time.Hour)
	assert.NoError(t, g.Allow())
	assert.True(t, g.DailyPnL().IsZero())
}

func TestGuard_PreTradeCheck(t *testing.T) {
	now := time.Now()
	g := newGuard(Config{DailyLossLimit: d("5"), MaxTradeAmount: d("10"), MaxOpenLegs: 2}, &now)

	opp := domain.Opportunity{TotalCost: d("3"), Legs: make([]domain.OpportunityLeg, 2)}
	require.NoError(t, g.PreTradeCheck(opp, 0))
	assert.Error(t, g.PreTradeCheck(opp, 1))

	opp.TotalCost = d("10.01")
	assert.Error(t, g.PreTradeCheck(opp, 0))
}
