package oracle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type stubSource struct {
	name   string
	prices []string
	err    error
	calls  int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Price(context.Context) (decimal.Decimal, time.Time, error) {
	s.calls++
	if s.err != nil {
		return decimal.Zero, time.Time{}, s.err
	}
	p := s.prices[0]
	if len(s.prices) > 1 {
		s.prices = s.prices[1:]
	}
	return decimal.RequireFromString(p), time.Now(), nil
}

func newTestFeed(primary, backup PriceSource, cfg FeedConfig, now *time.Time) *Feed {
	f := NewFeed(primary, backup, cfg, discard())
	f.now = func() time.Time { return *now }
	return f
}

func TestFeed_BaselineIsFirstPriceOfInterval(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC)
	src := &stubSource{name: "chainlink", prices: []string{"64000", "64100", "63900"}}
	f := newTestFeed(src, nil, FeedConfig{CacheTTL: time.Second}, &now)
	f.ResetBaseline(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	q, err := f.Quote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "64000", q.Baseline.String())
	assert.Equal(t, "chainlink", q.Source)

	now = now.Add(2 * time.Second)
	q, err = f.Quote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "64100", q.Price.String())
	assert.Equal(t, "64000", q.Baseline.String())
}

func TestFeed_CachesWithinTTL(t *testing.T) {
	now := time.Now()
	src := &stubSource{name: "chainlink", prices: []string{"1", "2"}}
	f := newTestFeed(src, nil, FeedConfig{CacheTTL: time.Second}, &now)

	_, err := f.Quote(context.Background())
	require.NoError(t, err)
	_, err = f.Quote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestFeed_FallsBackToBackup(t *testing.T) {
	now := time.Now()
	primary := &stubSource{name: "chainlink", err: errors.New("rpc down")}
	backup := &stubSource{name: "binance", prices: []string{"64050.5"}}
	f := newTestFeed(primary, backup, FeedConfig{}, &now)

	q, err := f.Quote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "binance", q.Source)
}

func TestFeed_StaleValueNotSubstituted(t *testing.T) {
	now := time.Now()
	primary := &stubSource{name: "chainlink", prices: []string{"64000"}}
	backup := &stubSource{name: "binance", err: errors.New("banned")}
	f := newTestFeed(primary, backup, FeedConfig{CacheTTL: time.Second, MaxStaleness: 10 * time.Second}, &now)

	_, err := f.Quote(context.Background())
	require.NoError(t, err)

	primary.err = errors.New("rpc down")
	now = now.Add(3 * time.Second)
	_, err = f.Quote(context.Background())
	require.ErrorIs(t, err, domain.ErrReferenceUnavailable)

	now = now.Add(5 * time.Second)
	_, err = f.Quote(context.Background())
	require.ErrorIs(t, err, domain.ErrReferenceUnavailable)
}

func TestFeed_LastKnown(t *testing.T) {
	now := time.Now()
	src := &stubSource{name: "chainlink", prices: []string{"64000"}}
	f := newTestFeed(src, nil, FeedConfig{CacheTTL: time.Second, MaxStaleness: 10 * time.Second}, &now)

	_, ok := f.LastKnown()
	assert.False(t, ok)

	_, err := f.Quote(context.Background())
	require.NoError(t, err)

	q, ok := f.LastKnown()
	require.True(t, ok)
	assert.False(t, q.Stale)
	assert.Equal(t, "64000", q.Price.String())

	now = now.Add(4 * time.Second)
	q, ok = f.LastKnown()
	require.True(t, ok)
	assert.True(t, q.Stale)
	assert.Equal(t, "chainlink", q.Source)

	now = now.Add(7 * time.Second)
	_, ok = f.LastKnown()
	assert.False(t, ok)
}

func TestBinance_Price(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"64123.45000000"}`))
	}))
	defer srv.Close()

	p, _, err := NewBinance(srv.URL, "BTCUSDT", time.Second).Price(context.Background())
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("64123.45")))
}

func TestBinance_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "banned", http.StatusTeapot)
	}))
	defer srv.Close()

	_, _, err := NewBinance(srv.URL, "BTCUSDT", time.Second).Price(context.Background())
	assert.Error(t, err)
}

// fakeAggregator answers decimals and latestRoundData from packed outputs.
type fakeAggregator struct {
	c    *Chainlink
	fail bool
}

func (f *fakeAggregator) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.fail {
		return nil, errors.New("connection refused")
	}
	method, err := f.c.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "decimals":
		return method.Outputs.Pack(uint8(8))
	default:
		return method.Outputs.Pack(
			big.NewInt(42),
			big.NewInt(6412345000000),
			big.NewInt(1_700_000_000),
			big.NewInt(1_700_000_010),
			big.NewInt(42),
		)
	}
}

func TestChainlink_PriceAndRotation(t *testing.T) {
	var dialed []string
	agg := &fakeAggregator{fail: true}
	c, err := NewChainlink(BTCUSDPolygon, []string{"rpc-a", "rpc-b"}, func(_ context.Context, url string) (ContractCaller, error) {
		dialed = append(dialed, url)
		return agg, nil
	}, discard())
	require.NoError(t, err)
	agg.c = c

	_, _, err = c.Price(context.Background())
	require.Error(t, err)

	agg.fail = false
	p, at, err := c.Price(context.Background())
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("64123.45")), "price %s", p)
	assert.Equal(t, int64(1_700_000_010), at.Unix())
	assert.Equal(t, []string{"rpc-a", "rpc-b"}, dialed)
}

func TestNewChainlink_BadAddress(t *testing.T) {
	_, err := NewChainlink("not-an-address", nil, nil, discard())
	assert.Error(t, err)
}
